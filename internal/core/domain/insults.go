package domain

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// Censored replaces every redacted word.
const Censored = "CENSORED"

// DefaultInsults is the trigger list every component starts from when the
// configuration does not provide one.
var DefaultInsults = []string{"stupid", "idiot", "dummy", "moron", "lame", "darn", "heck"}

// Fold returns the case-folded form used for insult lookups.
func Fold(word string) string {
	// A Caser keeps state between calls, so each call gets its own.
	return cases.Fold().String(word)
}

// InsultSet is an immutable set of case-folded trigger words.
// The zero value is an empty set and safe to use.
type InsultSet struct {
	words map[string]struct{}
}

// NewInsultSet folds and deduplicates words. Blank entries are dropped.
func NewInsultSet(words ...string) InsultSet {
	set := InsultSet{words: make(map[string]struct{}, len(words))}
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		set.words[Fold(w)] = struct{}{}
	}
	return set
}

// DefaultInsultSet returns the set built from DefaultInsults.
func DefaultInsultSet() InsultSet {
	return NewInsultSet(DefaultInsults...)
}

// Contains reports whether folded is in the set. Callers pass the Fold()ed token.
func (s InsultSet) Contains(folded string) bool {
	_, ok := s.words[folded]
	return ok
}

func (s InsultSet) Len() int { return len(s.words) }

// Words returns the set as a sorted slice.
func (s InsultSet) Words() []string {
	out := make([]string, 0, len(s.words))
	for w := range s.words {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}
