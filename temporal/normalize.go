package temporal

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Hebrew punctuation folded to its ASCII look-alike so one lexicon entry
// covers both spellings.
var punctuationFold = strings.NewReplacer(
	"־", "-", // maqaf
	"׳", "'", // geresh
	"״", `"`, // gershayim
	"’", "'",
	"‘", "'",
	"“", `"`,
	"”", `"`,
	"‏", "", // RLM
	"‎", "", // LRM
)

// Normalize strips niqqud and other combining marks, folds case and
// punctuation variants and collapses whitespace. Both the parser and the
// resolver cache key use it, so equal phrasings share one cache entry.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = punctuationFold.Replace(strings.ToLower(out))
	return strings.Join(strings.Fields(out), " ")
}
