// Package orderid generates short, URL-safe, visually unambiguous order
// identifiers.
package orderid

import (
	"crypto/rand"
	"fmt"
)

// alphabet excludes 0, I, and O to reduce visual ambiguity. 33 symbols over
// 12 positions gives just over 60 bits of entropy per identifier.
const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Length is the number of symbols in a generated identifier.
const Length = 12

// maxUnbiased is the largest byte value usable without modulo bias:
// floor(256/33)*33 - 1 = 230.
const maxUnbiased = byte(len(alphabet) * (256 / len(alphabet)))

// New returns a fresh 12-symbol identifier drawn uniformly from the alphabet
// using the crypto-grade random source.
func New() string {
	out := make([]byte, 0, Length)
	buf := make([]byte, Length*2)
	for len(out) < Length {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand never fails on supported platforms; treat a
			// failure as unrecoverable rather than degrade to weak IDs.
			panic(fmt.Sprintf("orderid: random source unavailable: %v", err))
		}
		for _, b := range buf {
			if b >= maxUnbiased {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == Length {
				break
			}
		}
	}
	return string(out)
}

// Valid reports whether s has the shape of a generated identifier.
func Valid(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		found := false
		for j := 0; j < len(alphabet); j++ {
			if s[i] == alphabet[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
