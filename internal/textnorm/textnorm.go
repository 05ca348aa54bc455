// Package textnorm normalizes names, addresses and identifiers before they
// are compared.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold removes diacritics and applies Unicode case folding.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// Normalize folds s, replaces punctuation and symbols with spaces and
// collapses runs of whitespace.
func Normalize(s string) string {
	s = Fold(s)
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Compact is Normalize without any spaces, for identifiers such as invoice
// numbers and IBANs.
func Compact(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "")
}

// Tokens splits the normalized text into words.
func Tokens(s string) []string {
	return strings.Fields(Normalize(s))
}

// Digits keeps only the decimal digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsDigits reports whether s is non-empty and made of decimal digits only.
func IsDigits(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

var legalForms = map[string]bool{
	"inc": true, "incorporated": true, "corp": true, "corporation": true,
	"co": true, "company": true, "llc": true, "llp": true, "lp": true,
	"ltd": true, "limited": true, "plc": true, "gmbh": true, "ag": true,
	"sa": true, "sas": true, "sarl": true, "srl": true, "spa": true,
	"bv": true, "nv": true, "oy": true, "ab": true, "as": true,
	"pvt": true, "pte": true, "pty": true, "kk": true, "ltda": true,
	"the": true, "and": true,
}

// StripLegalForms normalizes a party name and drops company-form words
// ("Inc", "GmbH", "Ltda") so that names compare on their distinctive part.
func StripLegalForms(name string) string {
	var kept []string
	for _, tok := range Tokens(name) {
		if !legalForms[tok] {
			kept = append(kept, tok)
		}
	}
	return strings.Join(kept, " ")
}

// ContainsFold reports whether needle occurs in haystack after both are
// folded and their whitespace collapsed.
func ContainsFold(haystack, needle string) bool {
	n := strings.Join(strings.Fields(Fold(needle)), " ")
	if n == "" {
		return false
	}
	return strings.Contains(strings.Join(strings.Fields(Fold(haystack)), " "), n)
}
