package fingerprint

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dshills/filecorr/pkg/types"
)

// Computer produces fingerprint samples from raw content
type Computer struct {
	metrics   []Metric
	extractor Extractor
	logger    *slog.Logger
}

// Option configures a Computer
type Option func(*Computer)

// WithMetrics replaces the default metrics
func WithMetrics(metrics ...Metric) Option {
	return func(c *Computer) {
		c.metrics = metrics
	}
}

// WithExtractor replaces the document extractor
func WithExtractor(e Extractor) Option {
	return func(c *Computer) {
		c.extractor = e
	}
}

// WithLogger sets the logger used for extraction warnings
func WithLogger(l *slog.Logger) Option {
	return func(c *Computer) {
		c.logger = l
	}
}

// NewComputer creates a Computer with TLSH, ssdeep and document extraction
func NewComputer(opts ...Option) *Computer {
	c := &Computer{
		metrics:   DefaultMetrics(),
		extractor: DocumentExtractor{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "fingerprint")
	return c
}

// Metrics returns the configured metrics in ranking order
func (c *Computer) Metrics() []Metric {
	out := make([]Metric, len(c.metrics))
	copy(out, c.metrics)
	return out
}

// Metric returns the metric with the given name
func (c *Computer) Metric(name types.MetricName) (Metric, bool) {
	for _, m := range c.metrics {
		if m.Name() == name {
			return m, true
		}
	}
	return nil, false
}

// Compute reads r to the end and fingerprints its content
func (c *Computer) Compute(r io.Reader) (types.Sample, error) {
	if r == nil {
		return types.Sample{}, fmt.Errorf("%w: no content", types.ErrUnreadableInput)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return types.Sample{}, fmt.Errorf("%w: %v", types.ErrUnreadableInput, err)
	}
	return c.ComputeBytes(raw), nil
}

// ComputeBytes fingerprints raw. Empty content is valid and yields no
// approximate digests.
func (c *Computer) ComputeBytes(raw []byte) types.Sample {
	exact := sha256.Sum256(raw)
	secondary := md5.Sum(raw)

	fileType := mimetype.Detect(raw).String()
	content := c.extract(fileType, raw)

	approx := make(map[types.MetricName]string, len(c.metrics))
	for _, m := range c.metrics {
		if digest, ok := m.Fingerprint(content); ok && digest != "" {
			approx[m.Name()] = digest
		}
	}

	return types.Sample{
		Fingerprints: types.FingerprintSet{
			Exact:     exact,
			Secondary: hex.EncodeToString(secondary[:]),
			Approx:    approx,
		},
		Size:        int64(len(raw)),
		FileType:    fileType,
		ContentSize: len(content),
	}
}

func (c *Computer) extract(fileType string, raw []byte) []byte {
	if c.extractor == nil || len(raw) == 0 {
		return raw
	}

	content, handled, err := c.extractor.Extract(fileType, raw)
	if !handled {
		return raw
	}
	if err != nil || len(bytes.TrimSpace(content)) == 0 {
		c.logger.Warn("extraction failed, hashing raw bytes",
			"file_type", fileType,
			"size", len(raw),
			"error", err)
		return raw
	}
	return content
}
