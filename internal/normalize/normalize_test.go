package normalize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/shopify"
)

func intPtr(v int) *int { return &v }

func TestOrderNormalizeRendersEachFieldOnce(t *testing.T) {
	order := shopify.Order{
		ID:        "gid://shopify/Order/555",
		Name:      "#1001",
		CreatedAt: "2024-05-02T09:30:00Z",
		Total:     shopify.Money{Amount: "1000", CurrencyCode: "JPY"},
		Customer: &shopify.Customer{
			ID:          "gid://shopify/Customer/77",
			DisplayName: "Hanako Yamada",
			Email:       "test@example.com",
			Tags:        []string{"wholesale", "repeat"},
		},
		Tags: []string{"gift"},
		LineItems: []shopify.LineItem{
			{Title: "Sencha", Quantity: 2, Total: shopify.Money{Amount: "600"}},
			{Title: "Matcha", Quantity: 1, Total: shopify.Money{Amount: "400"}},
		},
	}

	text := Order{}.Normalize(order)

	for _, want := range []string{"#1001", "1000", "JPY", "test@example.com", "wholesale", "gift"} {
		assert.Equal(t, 1, strings.Count(text, want), "expected %q exactly once in:\n%s", want, text)
	}
	assert.Contains(t, text, "Order ID: 555")
	assert.Contains(t, text, "Customer ID: 77")
	assert.Contains(t, text, "Items: Sencha x 2 (600円), Matcha x 1 (400円)")
	assert.Contains(t, text, "Customer phone: unknown")
	assert.Contains(t, text, "Order note: none")
	assert.Contains(t, text, "Customer tags: wholesale, repeat")
	assert.Contains(t, text, "Order tags: gift")
}

func TestOrderNoteIsRenderedVerbatim(t *testing.T) {
	note := "Leave at the door.\nRing twice <b>please</b>"
	text := Order{}.Normalize(shopify.Order{ID: "gid://shopify/Order/9", Note: note})
	assert.Contains(t, text, "Order note: "+note)
	assert.Contains(t, text, "Customer tags: unknown")
}

func TestOrderNormalizeWithoutCustomer(t *testing.T) {
	text := Order{}.Normalize(shopify.Order{ID: "gid://shopify/Order/1"})
	assert.Contains(t, text, "Order number: unknown")
	assert.Contains(t, text, "Customer email: unknown")
	assert.Contains(t, text, "Items: none")
}

func TestNormalizeIsDeterministic(t *testing.T) {
	p := shopify.Product{ID: "gid://shopify/Product/1", Title: "Tea", Tags: []string{"a", "b"}}
	n := Product{ShopDomain: "demo.myshopify.com"}
	assert.Equal(t, n.Normalize(p), n.Normalize(p))
}

func TestProductNormalize(t *testing.T) {
	p := shopify.Product{
		ID:               "gid://shopify/Product/42",
		Title:            "Green Tea",
		Handle:           "green-tea",
		Status:           "ACTIVE",
		Description:      "<p>Fresh\nleaves</p>",
		CategoryFullName: "Food > Tea",
		Collections:      []string{"Drinks", "Gifts"},
		Options:          []shopify.ProductOption{{Name: "Size", Values: []string{"50g", "100g"}}},
		MinPrice:         shopify.Money{Amount: "500", CurrencyCode: "JPY"},
		MaxPrice:         shopify.Money{Amount: "900", CurrencyCode: "JPY"},
		Variants: []shopify.Variant{{
			Title:             "50g",
			SKU:               "GT-50-A",
			Price:             "500",
			InventoryQuantity: intPtr(3),
			SelectedOptions:   []shopify.SelectedOption{{Name: "Size", Value: "50g"}},
		}},
		Metafields: []shopify.Metafield{
			{Key: "origin", Value: `["Shizuoka","Uji"]`},
			{Key: "notes", Value: "[not json"},
			{Key: "care", Value: "<b>Keep dry</b>"},
			{Key: "badge", Value: "NEW"},
		},
	}

	text := Product{ShopDomain: "demo.myshopify.com"}.Normalize(p)

	assert.Contains(t, text, "Product: Green Tea")
	assert.Contains(t, text, "Product ID: 42")
	assert.Contains(t, text, "URL: https://demo.myshopify.com/products/green-tea")
	assert.Contains(t, text, "Description: Fresh leaves")
	assert.Contains(t, text, "Collections: Drinks, Gifts")
	assert.Contains(t, text, "Price range: 500 JPY ~ 900 JPY")
	assert.Contains(t, text, "  - Size: 50g, 100g")
	assert.Contains(t, text, "50g | options: Size: 50g | price: 500 JPY | SKU: GT50A | inventory: 3")
	assert.Contains(t, text, "  - origin: Shizuoka, Uji")
	assert.Contains(t, text, "  - notes: [not json")
	assert.Contains(t, text, "  - care: Keep dry")
	assert.NotContains(t, text, "badge")
	assert.NotContains(t, text, "<p>")
}

func TestProductDefaultTitleIsOmitted(t *testing.T) {
	text := Product{ShopDomain: "s"}.Normalize(shopify.Product{ID: "gid://shopify/Product/1", Title: "Default Title"})
	assert.NotContains(t, text, "Default Title")
}

func TestPolicyNormalizeStripsMarkup(t *testing.T) {
	p := shopify.Policy{
		Title: "Refund policy",
		Body:  "<p>Returns&nbsp;accepted {% if customer %}for members{% endif %}within {{ shop.days }}30 days.</p>",
	}
	assert.Equal(t, "Refund policy\n\nReturns accepted within 30 days.", Policy{}.Normalize(p))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "a b c", StripHTML("<div>a</div>\nb\r\n<br/>c"))
}

func TestBatchJoinsWithSeparator(t *testing.T) {
	text := Batch[string](Text{}, []string{" first ", "", "second"}, "###")
	assert.Equal(t, "first###second", text)
}

func TestJoinDropsBlankBlocks(t *testing.T) {
	require.Empty(t, Join(nil, "###"))
	assert.Equal(t, "a\n###\nb", Join([]string{"a", "  ", "b"}, "\n###\n"))
}
