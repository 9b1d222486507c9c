// Package shortid generates compact public identifiers that stand in for
// internal object keys.
package shortid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// Alphabet is the 62-symbol alphanumeric set identifiers are drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Bytes at or above this bound are rejected so every symbol is equally likely
// (248 = 4 * 62).
const rejectionBound = 256 - (256 % len(Alphabet))

// Generator draws identifiers from a cryptographically strong source.
type Generator struct {
	rand io.Reader
}

// New returns a Generator reading from crypto/rand.
func New() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewWithReader returns a Generator reading from r. Intended for tests.
func NewWithReader(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate returns length characters drawn uniformly from Alphabet.
func (g *Generator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length+length/4+1)
	for len(out) < length {
		if _, err := io.ReadFull(g.rand, buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= rejectionBound {
				continue
			}
			out = append(out, Alphabet[int(b)%len(Alphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}

// Generate is a convenience wrapper around New().Generate.
func Generate(length int) (string, error) {
	return New().Generate(length)
}
