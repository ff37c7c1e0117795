package normalize

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/shopify"
)

// Policy renders a shop policy as its title followed by the cleaned body.
type Policy struct{}

func (Policy) Normalize(p shopify.Policy) string {
	body := StripHTML(StripLiquid(p.Body))
	return strings.TrimSpace(p.Title) + "\n\n" + body
}

// Text passes merchant-supplied text (FAQ, metafield notes, system prompts)
// through with surrounding whitespace trimmed.
type Text struct{}

func (Text) Normalize(s string) string {
	return strings.TrimSpace(s)
}
