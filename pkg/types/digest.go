package types

import (
	"encoding/hex"
	"fmt"
)

// ExactDigest is the SHA-256 digest of a file's raw content
type ExactDigest [32]byte

// String returns the lowercase hex encoding of the digest
func (d ExactDigest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset
func (d ExactDigest) IsZero() bool {
	return d == ExactDigest{}
}

// MarshalText encodes the digest as hex
func (d ExactDigest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText decodes a hex digest
func (d *ExactDigest) UnmarshalText(text []byte) error {
	parsed, err := ParseExactDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseExactDigest parses a 64-character hex SHA-256 digest
func ParseExactDigest(s string) (ExactDigest, error) {
	var digest ExactDigest
	if len(s) != hex.EncodedLen(len(digest)) {
		return digest, fmt.Errorf("%w: want %d hex characters, got %d", ErrInvalidDigest, hex.EncodedLen(len(digest)), len(s))
	}
	if _, err := hex.Decode(digest[:], []byte(s)); err != nil {
		return ExactDigest{}, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return digest, nil
}

// MetricName identifies an approximate-similarity metric
type MetricName string

const (
	MetricTLSH   MetricName = "tlsh"
	MetricSsdeep MetricName = "ssdeep"
)

// Family describes how a metric's score is read
type Family int

const (
	// FamilyDistance scores are non-negative; lower means more similar
	FamilyDistance Family = iota
	// FamilySimilarity scores are percentages in [0, 100]; higher means more similar
	FamilySimilarity
)

func (f Family) String() string {
	switch f {
	case FamilyDistance:
		return "distance"
	case FamilySimilarity:
		return "similarity"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// MarshalText encodes the family by name
func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// FingerprintSet is the full set of digests computed for one piece of content
type FingerprintSet struct {
	Exact     ExactDigest
	Secondary string // MD5 hex, display only
	Approx    map[MetricName]string
}

// Approximate returns the digest for metric and whether it is present
func (f FingerprintSet) Approximate(metric MetricName) (string, bool) {
	v, ok := f.Approx[metric]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Clone returns a deep copy of the set
func (f FingerprintSet) Clone() FingerprintSet {
	out := FingerprintSet{Exact: f.Exact, Secondary: f.Secondary}
	if f.Approx != nil {
		out.Approx = make(map[MetricName]string, len(f.Approx))
		for k, v := range f.Approx {
			if v != "" {
				out.Approx[k] = v
			}
		}
	}
	return out
}
