package services

import (
	"regexp"
	"strings"

	"github.com/manthysbr/censord/internal/core/domain"
)

// wordPattern matches a word token. Everything between matches is a delimiter
// and is copied through untouched.
var wordPattern = regexp.MustCompile(`[\p{L}\p{M}\p{N}_]+`)

// FilterText replaces every word whose folded form is in insults with
// domain.Censored. Delimiters, spacing and the casing of kept words are preserved.
func FilterText(text string, insults domain.InsultSet) string {
	if text == "" || insults.Len() == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	last := 0
	for _, loc := range wordPattern.FindAllStringIndex(text, -1) {
		b.WriteString(text[last:loc[0]])
		word := text[loc[0]:loc[1]]
		if insults.Contains(domain.Fold(word)) {
			b.WriteString(domain.Censored)
		} else {
			b.WriteString(word)
		}
		last = loc[1]
	}
	b.WriteString(text[last:])

	return b.String()
}
