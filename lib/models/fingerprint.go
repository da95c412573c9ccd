package models

import (
	"crypto/sha1"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var currencyAliases = strings.NewReplacer(
	`ש"ח`, "₪",
	"ש״ח", "₪",
	"nis", "₪",
	"ils", "₪",
)

// NormalizePrice folds formatting differences out of a price string: unicode
// compatibility forms, case, whitespace, thousands separators and currency
// spellings.
func NormalizePrice(price string) string {
	s := norm.NFKC.String(price)
	s = strings.ToLower(s)
	s = currencyAliases.Replace(s)

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsSpace(r), r == ',', r == '\'', r == '\u200e', r == '\u200f':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// PriceFingerprint is a comparison-stable digest of a price string.
func PriceFingerprint(price string) string {
	return DigestContent(NormalizePrice(price))
}

func DigestContent(content string) string {
	return fmt.Sprintf("%x", sha1.Sum([]byte(content)))
}
