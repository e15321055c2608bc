package persistence

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NamingPolicy maps logical collection names from request paths to physical
// collection names. It is fixed when the mapper is built.
type NamingPolicy struct {
	// Prefix is prepended verbatim to every physical name.
	Prefix string
}

// Resolve returns Prefix followed by the camel-cased logical name: words are
// split on runs of anything that is not a letter or digit, the first word is
// lower-cased and every later word is title-cased.
//
//	"user-accounts" -> "userAccounts"
//	"USER_accounts" -> "userAccounts"
func (p NamingPolicy) Resolve(logical string) (string, error) {
	words := strings.FieldsFunc(logical, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCollectionName, logical)
	}

	// Casers keep state between calls and must not be shared across goroutines.
	lower := cases.Lower(language.Und)
	title := cases.Title(language.Und)

	var b strings.Builder
	b.WriteString(p.Prefix)
	b.WriteString(lower.String(words[0]))
	for _, w := range words[1:] {
		b.WriteString(title.String(w))
	}
	return b.String(), nil
}
