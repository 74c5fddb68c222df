// Package textutil cleans free-text input before it is stored or echoed back.
package textutil

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

var strict = bluemonday.StrictPolicy()

// PlainText strips markup, normalises to NFC, collapses whitespace and truncates
// to max runes (max <= 0 means unbounded).
func PlainText(s string, max int) string {
	if s == "" {
		return ""
	}
	cleaned := strict.Sanitize(s)
	cleaned = unescape(cleaned)
	cleaned = norm.NFC.String(cleaned)
	cleaned = strings.Join(strings.FieldsFunc(cleaned, unicode.IsSpace), " ")
	return truncate(cleaned, max)
}

// ReferenceNumber canonicalises a payment reference: full-width characters are
// folded to ASCII, compatibility forms are decomposed, separators dropped and
// letters upper-cased.
func ReferenceNumber(s string) string {
	folded := width.Fold.String(strict.Sanitize(s))
	folded = norm.NFKC.String(folded)
	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
		case r == '-' || r == '/' || r == '_':
			b.WriteRune(r)
		}
	}
	return truncate(b.String(), 64)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max]))
}

// bluemonday escapes the characters it keeps; stored text is re-escaped by
// whatever renders it.
var entityReplacer = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&#34;", `"`, "&#39;", "'")

func unescape(s string) string {
	return entityReplacer.Replace(s)
}
