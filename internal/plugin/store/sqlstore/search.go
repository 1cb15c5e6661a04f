package sqlstore

import (
	"strings"
	"unicode"
)

// SearchTerms splits free text into lower-cased letter/digit runs.
func SearchTerms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	return fields
}

// toPrefixTsQuery builds a tsquery that requires every term, matching the
// last one as a prefix so partially typed words still hit.
func toPrefixTsQuery(terms []string) string {
	parts := make([]string, len(terms))
	for i, term := range terms {
		parts[i] = term
		if i == len(terms)-1 {
			parts[i] += ":*"
		}
	}
	return strings.Join(parts, " & ")
}
