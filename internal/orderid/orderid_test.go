package orderid

import (
	"strings"
	"testing"
)

func TestNewShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := New()
		if len(id) != Length {
			t.Fatalf("expected %d symbols, got %d (%q)", Length, len(id), id)
		}
		for _, c := range id {
			if !strings.ContainsRune(alphabet, c) {
				t.Fatalf("id %q contains symbol %q outside the alphabet", id, c)
			}
		}
		if !Valid(id) {
			t.Fatalf("Valid rejected generated id %q", id)
		}
	}
}

func TestNewExcludesAmbiguousSymbols(t *testing.T) {
	for _, banned := range []string{"0", "I", "O"} {
		if strings.Contains(alphabet, banned) {
			t.Fatalf("alphabet must not contain %q", banned)
		}
	}
}

func TestNewUniqueness(t *testing.T) {
	const n = 10000
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("duplicate id %q after %d generations", id, i)
		}
		seen[id] = true
	}
}

func TestValidRejectsBadInput(t *testing.T) {
	cases := []string{"", "SHORT", "123456789ABCX!", "0AAAAAAAAAAA", "IAAAAAAAAAAA", "abcdefghjklm"}
	for _, c := range cases {
		if Valid(c) {
			t.Errorf("Valid(%q) = true, want false", c)
		}
	}
}
