package towns

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/alpenmeteo/townpick/internal/model"
)

// Lookup returns the towns whose name contains the query as a substring,
// ignoring case and diacritics, in registry order. "muri" matches both
// "Muri (AG)" and "Müri" spellings a user might not type exactly.
func Lookup(towns []model.Town, query string) []model.Town {
	q := foldName(query)
	if q == "" {
		return nil
	}
	var out []model.Town
	for _, t := range towns {
		if strings.Contains(foldName(t.Name), q) {
			out = append(out, t)
		}
	}
	return out
}

// foldName lowercases and strips combining marks, so "Zürich" and
// "zurich" compare equal.
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return strings.ToLower(s)
	}
	return strings.ToLower(folded)
}
