package hashing

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
)

const shortCodeAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// ShortCode returns a random lowercase alphanumeric string of the given
// length, suitable for URL path segments.
func ShortCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid short code length %d", length)
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	for i, b := range buf {
		buf[i] = shortCodeAlphabet[int(b)%len(shortCodeAlphabet)]
	}
	return string(buf), nil
}

// WeightedOption is one candidate in a weighted deterministic assignment.
type WeightedOption struct {
	Key    string
	Weight int
}

// Bucket maps a key deterministically into [0, 100). The same key and
// namespace always land in the same bucket, across processes and restarts.
func Bucket(key, namespace string) int {
	sum := sha256.Sum256([]byte(key + ":" + namespace))
	digest := hex.EncodeToString(sum[:])

	n, err := strconv.ParseUint(digest[:8], 16, 64)
	if err != nil {
		// unreachable: the input is always 8 hex characters
		return 0
	}
	return int(n % 100)
}

// Assign picks the weighted option owning the key's bucket. Weights are
// cumulative percentages and must cover the full [0, 100) range.
func Assign(key, namespace string, options []WeightedOption) (string, error) {
	if len(options) == 0 {
		return "", fmt.Errorf("no options to assign")
	}

	bucket := Bucket(key, namespace)
	cumulative := 0
	for _, opt := range options {
		cumulative += opt.Weight
		if bucket < cumulative {
			return opt.Key, nil
		}
	}
	return "", fmt.Errorf("bucket %d not covered by option weights (total %d)", bucket, cumulative)
}
