package shopify

// Money is an amount as Shopify returns it: a decimal string plus an ISO
// currency code.
type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type Product struct {
	ID               string
	Title            string
	Handle           string
	Description      string
	ProductType      string
	Vendor           string
	Status           string
	TotalInventory   int
	CreatedAt        string
	UpdatedAt        string
	CategoryFullName string
	Collections      []string
	Tags             []string
	FeaturedImageURL string
	Options          []ProductOption
	MinPrice         Money
	MaxPrice         Money
	Metafields       []Metafield
	Variants         []Variant

	// Set when the product has more metafields or variants than one
	// products page carries.
	MetafieldsTruncated bool
	VariantsTruncated   bool
}

type ProductOption struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

type Metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type"`
}

type Variant struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	SKU               string           `json:"sku"`
	InventoryQuantity *int             `json:"inventoryQuantity"`
	Price             string           `json:"price"`
	SelectedOptions   []SelectedOption `json:"selectedOptions"`
}

type SelectedOption struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Order struct {
	ID        string
	Name      string
	CreatedAt string
	Note      string
	Tags      []string
	Customer  *Customer
	Total     Money
	LineItems []LineItem
}

type Customer struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Email       string   `json:"email"`
	Phone       string   `json:"phone"`
	Tags        []string `json:"tags"`
}

type LineItem struct {
	Title    string
	Quantity int
	Total    Money
}

type Policy struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Type  string `json:"type"`
	URL   string `json:"url"`
}

// Wire shapes. Shopify wraps every list in a connection with edges.

type connection[T any] struct {
	Edges []struct {
		Node T `json:"node"`
	} `json:"edges"`
	PageInfo pageInfo `json:"pageInfo"`
}

func (c connection[T]) nodes() []T {
	out := make([]T, 0, len(c.Edges))
	for _, e := range c.Edges {
		out = append(out, e.Node)
	}
	return out
}

type pageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

type moneyBag struct {
	PresentmentMoney Money `json:"presentmentMoney"`
}

type productNode struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Handle         string `json:"handle"`
	Description    string `json:"description"`
	ProductType    string `json:"productType"`
	Vendor         string `json:"vendor"`
	Status         string `json:"status"`
	TotalInventory int    `json:"totalInventory"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
	Category       *struct {
		Name     string `json:"name"`
		FullName string `json:"fullName"`
	} `json:"category"`
	Collections connection[struct {
		Title  string `json:"title"`
		Handle string `json:"handle"`
	}] `json:"collections"`
	Tags          []string `json:"tags"`
	FeaturedMedia *struct {
		Preview struct {
			Image *struct {
				URL string `json:"url"`
			} `json:"image"`
		} `json:"preview"`
	} `json:"featuredMedia"`
	Options      []ProductOption `json:"options"`
	PriceRangeV2 struct {
		MinVariantPrice Money `json:"minVariantPrice"`
		MaxVariantPrice Money `json:"maxVariantPrice"`
	} `json:"priceRangeV2"`
	Metafields connection[Metafield] `json:"metafields"`
	Variants   connection[Variant]   `json:"variants"`
}

func (n productNode) toProduct() Product {
	p := Product{
		ID:             n.ID,
		Title:          n.Title,
		Handle:         n.Handle,
		Description:    n.Description,
		ProductType:    n.ProductType,
		Vendor:         n.Vendor,
		Status:         n.Status,
		TotalInventory: n.TotalInventory,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
		Tags:           n.Tags,
		Options:        n.Options,
		MinPrice:       n.PriceRangeV2.MinVariantPrice,
		MaxPrice:       n.PriceRangeV2.MaxVariantPrice,
		Metafields:     n.Metafields.nodes(),
		Variants:       n.Variants.nodes(),

		MetafieldsTruncated: n.Metafields.PageInfo.HasNextPage,
		VariantsTruncated:   n.Variants.PageInfo.HasNextPage,
	}
	if n.Category != nil {
		p.CategoryFullName = n.Category.FullName
	}
	for _, c := range n.Collections.nodes() {
		p.Collections = append(p.Collections, c.Title)
	}
	if n.FeaturedMedia != nil && n.FeaturedMedia.Preview.Image != nil {
		p.FeaturedImageURL = n.FeaturedMedia.Preview.Image.URL
	}
	return p
}

type orderNode struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	CreatedAt            string    `json:"createdAt"`
	Note                 *string   `json:"note"`
	Tags                 []string  `json:"tags"`
	Customer             *Customer `json:"customer"`
	CurrentTotalPriceSet *moneyBag `json:"currentTotalPriceSet"`
	LineItems            connection[struct {
		Title            string    `json:"title"`
		Quantity         int       `json:"quantity"`
		OriginalTotalSet *moneyBag `json:"originalTotalSet"`
	}] `json:"lineItems"`
}

func (n orderNode) toOrder() Order {
	o := Order{
		ID:        n.ID,
		Name:      n.Name,
		CreatedAt: n.CreatedAt,
		Tags:      n.Tags,
		Customer:  n.Customer,
	}
	if n.Note != nil {
		o.Note = *n.Note
	}
	if n.CurrentTotalPriceSet != nil {
		o.Total = n.CurrentTotalPriceSet.PresentmentMoney
	}
	for _, li := range n.LineItems.nodes() {
		item := LineItem{Title: li.Title, Quantity: li.Quantity}
		if li.OriginalTotalSet != nil {
			item.Total = li.OriginalTotalSet.PresentmentMoney
		}
		o.LineItems = append(o.LineItems, item)
	}
	return o
}
