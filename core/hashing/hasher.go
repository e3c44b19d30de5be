package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Hash returns the hex SHA-256 digest of the RFC 8785 canonical JSON form of v.
// Canonicalization (sorted keys, fixed number formatting) is load-bearing: every
// hash comparison in the chain assumes two nodes serialize the same value to the
// same bytes.
func Hash(v interface{}) (string, error) {
	canonical, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	return HashBytes(canonical), nil
}

// Canonicalize returns the RFC 8785 canonical JSON encoding of v.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: jcs transform failed: %w", err)
	}
	return canonical, nil
}

// HashBytes returns the hex SHA-256 digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex SHA-256 digest of a string.
func HashString(s string) string {
	return HashBytes([]byte(s))
}

// Verify recomputes the canonical hash of v and compares it to expected.
func Verify(v interface{}, expected string) (bool, error) {
	got, err := Hash(v)
	if err != nil {
		return false, err
	}
	return got == expected, nil
}
