// Package validator checks trigger requests before a run is queued and
// returns per-field error details.
package validator

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Shopify-Knowledge-Sync/internal/ingestion"
)

const (
	maxStoreIDLength = 255
	maxTextLength    = 1048576
	maxExcludeEmails = 100
	maxPageSize      = 250
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		keys = append(keys, field)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, field := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", field, e.Fields[field]))
	}
	return strings.Join(parts, "; ")
}

// ValidateTrigger checks the store id and body of a trigger request and
// returns the parsed content type.
func ValidateTrigger(storeID string, req *ingestion.TriggerRequest) (content.Type, error) {
	errs := make(map[string]string)

	if err := ValidateStoreID(storeID); err != nil {
		errs["store"] = err.Error()
	}
	ct, err := content.Parse(strings.TrimSpace(req.ContentType))
	if err != nil {
		errs["content_type"] = fmt.Sprintf("must be one of %s", supported())
	}

	if err == nil {
		text := strings.TrimSpace(req.Text)
		switch {
		case ct.FromStore() && text != "":
			errs["text"] = fmt.Sprintf("text is not accepted for %s", ct)
		case !ct.FromStore() && text == "":
			errs["text"] = fmt.Sprintf("text is required for %s", ct)
		case len(text) > maxTextLength:
			errs["text"] = fmt.Sprintf("text must be at most %d characters", maxTextLength)
		}
		if len(req.ExcludeEmails) > 0 && ct != content.Orders {
			errs["exclude_emails"] = "only applies to orders"
		}
	}

	if len(req.ExcludeEmails) > maxExcludeEmails {
		errs["exclude_emails"] = fmt.Sprintf("at most %d addresses", maxExcludeEmails)
	} else {
		for _, e := range req.ExcludeEmails {
			if _, err := mail.ParseAddress(e); err != nil {
				errs["exclude_emails"] = fmt.Sprintf("%q is not an email address", e)
				break
			}
		}
	}
	if req.PageSize < 0 || req.PageSize > maxPageSize {
		errs["page_size"] = fmt.Sprintf("must be between 1 and %d when set", maxPageSize)
	}

	if len(errs) > 0 {
		return "", &ValidationError{Fields: errs}
	}
	return ct, nil
}

// ValidateStoreID accepts a bare shop domain such as "example.myshopify.com".
func ValidateStoreID(storeID string) error {
	switch {
	case strings.TrimSpace(storeID) == "":
		return fmt.Errorf("store is required")
	case len(storeID) > maxStoreIDLength:
		return fmt.Errorf("store must be at most %d characters", maxStoreIDLength)
	case strings.ContainsAny(storeID, "/ \t\n") || !strings.Contains(storeID, "."):
		return fmt.Errorf("store must be a shop domain")
	}
	return nil
}

func supported() string {
	names := make([]string, 0, len(content.All))
	for _, ct := range content.All {
		names = append(names, string(ct))
	}
	return strings.Join(names, ", ")
}
