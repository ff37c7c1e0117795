package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/shopify"
)

const defaultCurrency = "JPY"

// Metafields with these keys hold theme widgets, not product facts.
var skippedMetafieldKeys = map[string]bool{"badge": true, "widget": true}

// Product renders a product, its variants and metafields. ShopDomain is used
// to build the storefront URL.
type Product struct {
	ShopDomain string
}

func (n Product) Normalize(p shopify.Product) string {
	var l lines
	if p.Title != "" && p.Title != "Default Title" {
		l.add("Product", p.Title)
	}
	l.add("Product ID", orDefault(gidTail(p.ID), Unknown))
	l.add("URL", fmt.Sprintf("https://%s/products/%s", n.ShopDomain, p.Handle))
	l.add("Status", orDefault(p.Status, Unknown))
	l.add("Product type", p.ProductType)
	l.add("Vendor", p.Vendor)
	l.add("Total inventory", strconv.Itoa(p.TotalInventory))
	l.add("Created at", orDefault(p.CreatedAt, Unknown))
	l.add("Updated at", orDefault(p.UpdatedAt, Unknown))
	l.add("Category", orDefault(p.CategoryFullName, None))
	l.add("Collections", orDefault(strings.Join(p.Collections, ", "), None))
	l.add("Tags", orDefault(strings.Join(p.Tags, ", "), None))
	if p.FeaturedImageURL != "" {
		l.add("Image", p.FeaturedImageURL)
	}
	l.add("Description", StripHTML(p.Description))
	l.add("Price range", fmt.Sprintf("%s %s ~ %s %s",
		orDefault(p.MinPrice.Amount, Unknown), orDefault(p.MinPrice.CurrencyCode, defaultCurrency),
		orDefault(p.MaxPrice.Amount, Unknown), orDefault(p.MaxPrice.CurrencyCode, defaultCurrency)))

	if len(p.Options) > 0 {
		l.raw("Options:")
		for _, o := range p.Options {
			l.raw(fmt.Sprintf("  - %s: %s", o.Name, strings.Join(o.Values, ", ")))
		}
	}

	currency := orDefault(p.MinPrice.CurrencyCode, defaultCurrency)
	if len(p.Variants) > 0 {
		l.raw("Variants:")
		for _, v := range p.Variants {
			l.raw("  - " + variantLine(v, currency))
		}
	}

	var metas []string
	for _, m := range p.Metafields {
		if skippedMetafieldKeys[m.Key] {
			continue
		}
		metas = append(metas, fmt.Sprintf("  - %s: %s", m.Key, metafieldValue(m.Value)))
	}
	if len(metas) > 0 {
		l.raw("Metafields:")
		for _, m := range metas {
			l.raw(m)
		}
	}
	return l.String()
}

func variantLine(v shopify.Variant, currency string) string {
	opts := make([]string, 0, len(v.SelectedOptions))
	for _, o := range v.SelectedOptions {
		opts = append(opts, o.Name+": "+o.Value)
	}
	inventory := 0
	if v.InventoryQuantity != nil {
		inventory = *v.InventoryQuantity
	}
	return fmt.Sprintf("%s | options: %s | price: %s %s | SKU: %s | inventory: %d",
		v.Title,
		orDefault(strings.Join(opts, ", "), None),
		orDefault(v.Price, Unknown), currency,
		orDefault(strings.ReplaceAll(v.SKU, "-", ""), None),
		inventory,
	)
}

// metafieldValue flattens list-typed metafields, which Shopify serialises as
// JSON arrays, and strips markup from rich text.
func metafieldValue(raw string) string {
	value := raw
	if strings.HasPrefix(strings.TrimSpace(raw), "[") {
		var items []any
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			parts := make([]string, 0, len(items))
			for _, it := range items {
				parts = append(parts, fmt.Sprint(it))
			}
			value = strings.Join(parts, ", ")
		}
	}
	return StripHTML(value)
}
