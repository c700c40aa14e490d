package answering

import (
	"strings"
	"unicode"
)

// FixedTable is a small set of canonical question/answer pairs matched
// by normalized transcript. A hit lets the pipeline skip retrieval and
// generation entirely.
type FixedTable struct {
	entries map[string]string
}

func NewFixedTable(pairs map[string]string) *FixedTable {
	entries := make(map[string]string, len(pairs))
	for question, answer := range pairs {
		entries[NormalizeQuestion(question)] = answer
	}
	return &FixedTable{entries: entries}
}

// Lookup returns the canned answer for a transcript, if any.
func (t *FixedTable) Lookup(transcript string) (string, bool) {
	if t == nil || len(t.entries) == 0 {
		return "", false
	}
	answer, ok := t.entries[NormalizeQuestion(transcript)]
	return answer, ok
}

// NormalizeQuestion lowercases, strips punctuation, and collapses
// whitespace so spoken variants of the same question compare equal.
func NormalizeQuestion(question string) string {
	var b strings.Builder
	b.Grow(len(question))

	lastSpace := true
	for _, r := range strings.ToLower(question) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimRight(b.String(), " ")
}
