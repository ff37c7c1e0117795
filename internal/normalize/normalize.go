// Package normalize turns store records into the plain-text blocks uploaded
// to the knowledge base. Every normaliser is pure and deterministic.
package normalize

import (
	"regexp"
	"strings"
)

// Unknown and None are the placeholders rendered for absent values.
const (
	Unknown = "unknown"
	None    = "none"
)

// Normalizer renders one record of type T as a text block.
type Normalizer[T any] interface {
	Normalize(record T) string
}

var (
	htmlTag        = regexp.MustCompile(`<[^>]*>`)
	liquidBlock    = regexp.MustCompile(`{%.*?%}.*?{%.*?%}`)
	liquidTag      = regexp.MustCompile(`{%.*?%}`)
	liquidVariable = regexp.MustCompile(`{{.*?}}`)
	newlines       = regexp.MustCompile(`\r?\n`)
)

// StripHTML removes anything that looks like a tag and folds line breaks
// into spaces. It is not an HTML parser; entities are left alone.
func StripHTML(s string) string {
	s = htmlTag.ReplaceAllString(s, "")
	s = newlines.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// StripLiquid removes Liquid template blocks, tags and output expressions
// and turns non-breaking space entities into plain spaces.
func StripLiquid(s string) string {
	s = liquidBlock.ReplaceAllString(s, "")
	s = liquidTag.ReplaceAllString(s, "")
	s = liquidVariable.ReplaceAllString(s, "")
	return strings.ReplaceAll(s, "&nbsp;", " ")
}

// Join concatenates blocks with sep between them, dropping empty blocks.
// The indexing service splits parent segments on the same separator.
func Join(blocks []string, sep string) string {
	kept := blocks[:0:0]
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			kept = append(kept, b)
		}
	}
	return strings.Join(kept, sep)
}

// Batch normalises records in order and joins the result.
func Batch[T any](n Normalizer[T], records []T, sep string) string {
	blocks := make([]string, 0, len(records))
	for _, r := range records {
		blocks = append(blocks, n.Normalize(r))
	}
	return Join(blocks, sep)
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// gidTail returns the numeric part of a Shopify global id such as
// "gid://shopify/Order/123".
func gidTail(gid string) string {
	if i := strings.LastIndexByte(gid, '/'); i >= 0 {
		return gid[i+1:]
	}
	return gid
}

// lines builds a block of "label: value" lines.
type lines struct {
	b strings.Builder
}

func (l *lines) add(label, value string) {
	if l.b.Len() > 0 {
		l.b.WriteByte('\n')
	}
	l.b.WriteString(label)
	l.b.WriteString(": ")
	l.b.WriteString(value)
}

func (l *lines) raw(s string) {
	if l.b.Len() > 0 {
		l.b.WriteByte('\n')
	}
	l.b.WriteString(s)
}

func (l *lines) String() string {
	return l.b.String()
}
