package fingerprint

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/glaslos/ssdeep"
	"github.com/glaslos/tlsh"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dshills/filecorr/pkg/types"
)

const (
	// TLSHMinSize is the smallest input TLSH will digest
	TLSHMinSize = 50
	// SsdeepMinSize is the smallest input ssdeep will digest
	SsdeepMinSize = 4096

	// Parsed TLSH digests kept in memory
	tlshCacheSize = 4096

	tlshVersionPrefix = "T1"
	// Checksum, length, quartile ratios and 32 body bytes
	tlshDigestBytes = 35
)

// ErrMalformedDigest reports a stored digest a metric cannot interpret
var ErrMalformedDigest = errors.New("malformed digest")

// Metric is one approximate-similarity algorithm
type Metric interface {
	Name() types.MetricName
	Family() types.Family

	// Fingerprint returns the digest of content, or false if the metric
	// refuses this input
	Fingerprint(content []byte) (string, bool)

	// Compare scores two digests produced by this metric
	Compare(a, b string) (int, error)
}

// DefaultMetrics returns the TLSH and ssdeep metrics
func DefaultMetrics() []Metric {
	return []Metric{NewTLSH(), NewSsdeep()}
}

// TLSH is the TLSH distance metric
type TLSH struct {
	cache *lru.Cache[string, *tlsh.Tlsh]
}

// NewTLSH creates a TLSH metric with a parsed-digest cache
func NewTLSH() *TLSH {
	cache, err := lru.New[string, *tlsh.Tlsh](tlshCacheSize)
	if err != nil {
		panic(fmt.Sprintf("failed to create TLSH cache: %v", err))
	}
	return &TLSH{cache: cache}
}

func (m *TLSH) Name() types.MetricName { return types.MetricTLSH }

func (m *TLSH) Family() types.Family { return types.FamilyDistance }

func (m *TLSH) Fingerprint(content []byte) (string, bool) {
	if len(content) < TLSHMinSize {
		return "", false
	}

	h, err := tlsh.HashBytes(content)
	if err != nil || h == nil {
		return "", false
	}

	s := h.String()
	if s == "" || strings.Trim(s, "0") == "" {
		return "", false
	}
	return s, true
}

func (m *TLSH) Compare(a, b string) (int, error) {
	ha, err := m.parse(a)
	if err != nil {
		return 0, err
	}
	hb, err := m.parse(b)
	if err != nil {
		return 0, err
	}
	return ha.Diff(hb), nil
}

// parse decodes a digest, accepting it with or without the version prefix
func (m *TLSH) parse(s string) (*tlsh.Tlsh, error) {
	if h, ok := m.cache.Get(s); ok {
		return h, nil
	}

	body, err := tlshBody(s)
	if err != nil {
		return nil, err
	}
	h, err := tlsh.ParseStringToTlsh(body)
	if err != nil {
		return nil, fmt.Errorf("%w: tlsh %q: %w", ErrMalformedDigest, s, err)
	}

	m.cache.Add(s, h)
	return h, nil
}

// tlshBody strips the version prefix and checks the digest decodes to a
// full-length hash. The library indexes the decoded bytes unchecked.
func tlshBody(s string) (string, error) {
	body := s
	if len(body) >= len(tlshVersionPrefix) && strings.EqualFold(body[:len(tlshVersionPrefix)], tlshVersionPrefix) {
		body = body[len(tlshVersionPrefix):]
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("%w: tlsh %q: %w", ErrMalformedDigest, s, err)
	}
	if len(raw) != tlshDigestBytes {
		return "", fmt.Errorf("%w: tlsh %q: %d bytes, want %d", ErrMalformedDigest, s, len(raw), tlshDigestBytes)
	}
	return body, nil
}

// ValidateDigest reports whether digest is well formed for the named metric.
// Unknown metrics are not checked.
func ValidateDigest(name types.MetricName, digest string) error {
	switch name {
	case types.MetricTLSH:
		_, err := tlshBody(digest)
		return err
	case types.MetricSsdeep:
		return validateSsdeep(digest)
	}
	return nil
}

// validateSsdeep checks the blocksize:hash:hash layout
func validateSsdeep(s string) error {
	parts := strings.Split(s, ":")
	if len(parts) != 3 || parts[1] == "" {
		return fmt.Errorf("%w: ssdeep %q", ErrMalformedDigest, s)
	}
	if bs, err := strconv.Atoi(parts[0]); err != nil || bs <= 0 {
		return fmt.Errorf("%w: ssdeep %q: bad block size", ErrMalformedDigest, s)
	}
	return nil
}

// Ssdeep is the ssdeep similarity metric
type Ssdeep struct{}

// NewSsdeep creates an ssdeep metric
func NewSsdeep() *Ssdeep {
	return &Ssdeep{}
}

func (m *Ssdeep) Name() types.MetricName { return types.MetricSsdeep }

func (m *Ssdeep) Family() types.Family { return types.FamilySimilarity }

func (m *Ssdeep) Fingerprint(content []byte) (string, bool) {
	if len(content) < SsdeepMinSize {
		return "", false
	}

	h, err := ssdeep.FuzzyBytes(content)
	if err != nil || h == "" {
		return "", false
	}
	return h, true
}

func (m *Ssdeep) Compare(a, b string) (int, error) {
	if err := validateSsdeep(a); err != nil {
		return 0, err
	}
	if err := validateSsdeep(b); err != nil {
		return 0, err
	}
	score, err := ssdeep.Distance(a, b)
	if err != nil {
		return 0, fmt.Errorf("ssdeep compare: %w", err)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}
