package answering

import "testing"

func TestFixedTableLookupMatchesSpokenVariants(t *testing.T) {
	table := NewFixedTable(map[string]string{
		"What are your opening hours?": "We are open 9 to 5.",
	})

	variants := []string{
		"what are your opening hours",
		"What are your opening hours?",
		"  WHAT are  your opening hours?! ",
	}
	for _, variant := range variants {
		answer, ok := table.Lookup(variant)
		if !ok {
			t.Fatalf("expected a hit for %q", variant)
		}
		if answer != "We are open 9 to 5." {
			t.Fatalf("expected the canned answer, got %q", answer)
		}
	}
}

func TestFixedTableLookupMiss(t *testing.T) {
	table := NewFixedTable(map[string]string{"known question": "answer"})

	if _, ok := table.Lookup("unknown question"); ok {
		t.Fatalf("expected a miss for an unknown question")
	}
}

func TestNilFixedTableNeverHits(t *testing.T) {
	var table *FixedTable
	if _, ok := table.Lookup("anything"); ok {
		t.Fatalf("expected a nil table to miss")
	}
}

func TestNormalizeQuestion(t *testing.T) {
	cases := []struct{ in, want string }{
		{"What's up?", "whats up"},
		{"  Hello,   world!  ", "hello world"},
		{"ABC 123", "abc 123"},
	}
	for _, c := range cases {
		if got := NormalizeQuestion(c.in); got != c.want {
			t.Fatalf("expected %q, got %q", c.want, got)
		}
	}
}
