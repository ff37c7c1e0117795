package normalize

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/shopify"
)

// Order renders an order with its customer and line items.
type Order struct{}

func (Order) Normalize(o shopify.Order) string {
	var l lines
	l.add("Order date", orDefault(o.CreatedAt, Unknown))
	l.add("Order number", orDefault(o.Name, Unknown))
	l.add("Order ID", orDefault(gidTail(o.ID), Unknown))
	l.add("Order total", fmt.Sprintf("%s %s", orDefault(o.Total.Amount, Unknown), orDefault(o.Total.CurrencyCode, Unknown)))

	c := o.Customer
	if c == nil {
		c = &shopify.Customer{}
	}
	l.add("Customer", orDefault(c.DisplayName, Unknown))
	l.add("Customer email", orDefault(c.Email, Unknown))
	l.add("Customer ID", orDefault(gidTail(c.ID), Unknown))
	l.add("Customer phone", orDefault(c.Phone, Unknown))
	l.add("Customer tags", orDefault(strings.Join(c.Tags, ", "), Unknown))

	l.add("Order tags", orDefault(strings.Join(o.Tags, ", "), None))
	l.add("Order note", orDefault(o.Note, None))

	items := make([]string, 0, len(o.LineItems))
	for _, li := range o.LineItems {
		items = append(items, fmt.Sprintf("%s x %d (%s円)", li.Title, li.Quantity, orDefault(li.Total.Amount, Unknown)))
	}
	l.add("Items", orDefault(strings.Join(items, ", "), None))
	return l.String()
}
