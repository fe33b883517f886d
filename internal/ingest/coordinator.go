package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dshills/filecorr/internal/corpus"
	"github.com/dshills/filecorr/internal/fingerprint"
	"github.com/dshills/filecorr/internal/matcher"
	"github.com/dshills/filecorr/pkg/types"
)

// State is a step of the comparison workflow
type State string

const (
	StateReceived   State = "RECEIVED"
	StateHashed     State = "HASHED"
	StateExactMatch State = "EXACT_MATCH"
	StateNotFound   State = "NOT_FOUND"
	StateRanked     State = "RANKED"
	StatePersisted  State = "PERSISTED"
	StateDiscarded  State = "DISCARDED"
)

// Config holds coordinator policy
type Config struct {
	// SaveByDefault applies when a request does not say whether to save
	SaveByDefault bool
	// TopMatches is the default ranking size, capped at types.MaxMatches
	TopMatches int
}

// DefaultConfig returns the default coordinator policy
func DefaultConfig() Config {
	return Config{
		SaveByDefault: false,
		TopMatches:    types.MaxMatches,
	}
}

// CompareRequest is one submitted file
type CompareRequest struct {
	Content  io.Reader
	Filename string
	Save     *bool // nil uses Config.SaveByDefault
	Limit    int   // 0 uses Config.TopMatches
}

// Coordinator runs comparisons against a corpus
type Coordinator struct {
	computer *fingerprint.Computer
	store    *corpus.Store
	engine   *matcher.Engine
	metrics  []matcher.Comparator
	config   Config
	logger   *slog.Logger
}

// NewCoordinator creates a Coordinator. A nil logger uses slog.Default.
func NewCoordinator(computer *fingerprint.Computer, store *corpus.Store, config Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if config.TopMatches <= 0 || config.TopMatches > types.MaxMatches {
		config.TopMatches = types.MaxMatches
	}

	metrics := make([]matcher.Comparator, 0, len(computer.Metrics()))
	for _, m := range computer.Metrics() {
		metrics = append(metrics, m)
	}

	return &Coordinator{
		computer: computer,
		store:    store,
		engine:   matcher.NewEngine(logger),
		metrics:  metrics,
		config:   config,
		logger:   logger.With("component", "ingest"),
	}
}

// MetricOrder returns metric names in ranking order
func (c *Coordinator) MetricOrder() []types.MetricName {
	out := make([]types.MetricName, len(c.metrics))
	for i, m := range c.metrics {
		out[i] = m.Name()
	}
	return out
}

// Store returns the corpus store
func (c *Coordinator) Store() *corpus.Store {
	return c.store
}

// Config returns the coordinator policy
func (c *Coordinator) Config() Config {
	return c.config
}

func (c *Coordinator) limit(requested int) int {
	if requested <= 0 {
		return c.config.TopMatches
	}
	return min(requested, types.MaxMatches)
}

// Compare runs the workflow for one file. The only error returned is
// types.ErrUnreadableInput; storage failures are reported on the result.
func (c *Coordinator) Compare(ctx context.Context, req CompareRequest) (*types.ComparisonResult, error) {
	start := time.Now()
	state := StateReceived

	sample, err := c.computer.Compute(req.Content)
	if err != nil {
		c.logger.Warn("rejected unreadable input",
			"filename", req.Filename,
			"error", err)
		return nil, err
	}
	state = StateHashed

	upload := &types.UploadedFile{
		Filename:     req.Filename,
		Digest:       sample.Fingerprints.Exact,
		Size:         sample.Size,
		FileType:     sample.FileType,
		ContentSize:  sample.ContentSize,
		Fingerprints: sample.Fingerprints,
	}
	result := &types.ComparisonResult{UploadedFile: upload}

	defer func() {
		result.State = string(state)
		comparisonsTotal.WithLabelValues(string(state)).Inc()
		comparisonDuration.Observe(time.Since(start).Seconds())
		c.logger.Info("comparison complete",
			"filename", req.Filename,
			"sha256", upload.Digest,
			"state", state,
			"exists", upload.ExistsInDatabase,
			"saved", upload.SavedToDatabase,
			"duration", time.Since(start))
	}()

	if existing, ok := c.store.Lookup(sample.Fingerprints.Exact); ok {
		state = StateExactMatch
		upload.ExistsInDatabase = true
		result.Record = &existing

		// The upload is a new observation of the known file
		rec, err := c.persist(ctx, sample.Observe(req.Filename))
		if err != nil {
			c.markPersistenceFailed(upload, err)
			return result, nil
		}
		upload.SavedToDatabase = true
		result.Record = &rec
		return result, nil
	}
	state = StateNotFound

	snap := c.store.Snapshot()
	result.Rankings = c.engine.RankAll(sample.Fingerprints, snap, c.metrics, c.limit(req.Limit))
	state = StateRanked

	save := c.config.SaveByDefault
	if req.Save != nil {
		save = *req.Save
	}
	if !save {
		state = StateDiscarded
		return result, nil
	}

	rec, err := c.persist(ctx, sample.Observe(req.Filename))
	if err != nil {
		c.markPersistenceFailed(upload, err)
		return result, nil
	}
	state = StatePersisted
	upload.SavedToDatabase = true
	upload.ExistsInDatabase = true
	result.Record = &rec
	return result, nil
}

// persist commits obs. A write that has started is never abandoned because
// the caller went away.
func (c *Coordinator) persist(ctx context.Context, obs types.Observation) (types.FileRecord, error) {
	rec, _, err := c.store.InsertOrMerge(context.WithoutCancel(ctx), obs)
	return rec, err
}

func (c *Coordinator) markPersistenceFailed(upload *types.UploadedFile, err error) {
	persistenceFailures.Inc()
	upload.PersistenceFailed = true
	upload.PersistenceError = err.Error()
	c.logger.Error("failed to persist observation",
		"filename", upload.Filename,
		"sha256", upload.Digest,
		"error", err)
}

// GetFileBySHA returns the stored record for hexDigest ranked fresh against
// the current corpus. The record itself appears in its own rankings.
func (c *Coordinator) GetFileBySHA(ctx context.Context, hexDigest string, limit int) (*types.FileView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := types.ParseExactDigest(hexDigest)
	if err != nil {
		return nil, err
	}

	snap := c.store.Snapshot()
	rec, ok := snap.Get(digest)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrNotFound, digest)
	}

	return &types.FileView{
		Record:   rec,
		Rankings: c.engine.RankAll(rec.Fingerprints, snap, c.metrics, c.limit(limit)),
	}, nil
}

// IsClientError reports whether err was caused by the request itself
func IsClientError(err error) bool {
	return errors.Is(err, types.ErrUnreadableInput) ||
		errors.Is(err, types.ErrInvalidDigest) ||
		errors.Is(err, types.ErrNotFound)
}
