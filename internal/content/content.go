// Package content defines the closed set of content types a store can sync
// into the knowledge base.
package content

import (
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/pkg/errors"
)

// Type names a kind of store content. The zero value is invalid.
type Type string

const (
	Products          Type = "products"
	Orders            Type = "orders"
	Policies          Type = "policies"
	FAQ               Type = "faq"
	ProductMetaFields Type = "product_meta_fields"
	SystemPrompt      Type = "system_prompt"
)

// All lists every supported type in a stable order.
var All = []Type{Products, Orders, Policies, FAQ, ProductMetaFields, SystemPrompt}

// Parse validates s against the closed set.
func Parse(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", apperrors.ErrUnsupportedType, s)
	}
	return t, nil
}

func (t Type) Valid() bool {
	switch t {
	case Products, Orders, Policies, FAQ, ProductMetaFields, SystemPrompt:
		return true
	}
	return false
}

// FromStore reports whether records of this type are pulled from the store
// API. The others are merchant-supplied text passed in with the request.
func (t Type) FromStore() bool {
	switch t {
	case Products, Orders, Policies:
		return true
	}
	return false
}

func (t Type) String() string {
	return string(t)
}
