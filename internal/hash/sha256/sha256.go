// Package sha256 names export objects by the digest of their encoded body.
package sha256

import (
	"crypto/sha256"
	"fmt"
)

// Hasher is the crawler.Hasher behind content-addressed export paths.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex SHA-256 of data. It never fails.
func (*Hasher) Hash(data []byte) (string, error) {
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}
