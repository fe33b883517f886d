package corpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/filecorr/internal/storage"
	"github.com/dshills/filecorr/pkg/types"
)

// Store owns the corpus
type Store struct {
	backend storage.Backend
	current atomic.Pointer[Snapshot]

	// Serialises check, persist and publish
	writeMu sync.Mutex

	now    func() time.Time
	retry  RetryConfig
	check  DigestCheck
	logger *slog.Logger
}

// DigestCheck reports whether a stored approximate digest is usable
type DigestCheck func(name types.MetricName, digest string) error

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source for upload dates
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithRetry overrides the conflict backoff
func WithRetry(cfg RetryConfig) Option {
	return func(s *Store) {
		s.retry = cfg
	}
}

// WithDigestCheck drops stored approximate digests that fail check when the
// corpus is loaded
func WithDigestCheck(check DigestCheck) Option {
	return func(s *Store) {
		s.check = check
	}
}

// WithLogger sets the store logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New loads the corpus from backend
func New(ctx context.Context, backend storage.Backend, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		now:     time.Now,
		retry:   DefaultRetryConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "corpus")

	records, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: load: %w", types.ErrCorpusIO, err)
	}
	s.sanitize(records)
	s.publish(newSnapshot(records, 1))

	s.logger.Info("corpus loaded",
		"backend", backend.Kind(),
		"records", len(records))
	return s, nil
}

// sanitize removes malformed approximate digests in place so the record
// stops taking part in that metric. The backend copy is left alone until the
// record is next merged.
func (s *Store) sanitize(records []types.FileRecord) {
	if s.check == nil {
		return
	}
	dropped := 0
	for i := range records {
		rec := &records[i]
		for name, digest := range rec.Fingerprints.Approx {
			if digest == "" {
				continue
			}
			if err := s.check(name, digest); err != nil {
				delete(rec.Fingerprints.Approx, name)
				dropped++
				s.logger.Warn("dropping malformed stored digest",
					"sha256", rec.Digest,
					"metric", name,
					"error", err)
			}
		}
	}
	if dropped > 0 {
		corpusMalformedDigests.Add(float64(dropped))
	}
}

func (s *Store) publish(snap *Snapshot) {
	s.current.Store(snap)
	corpusRecords.Set(float64(snap.Len()))
}

// Snapshot returns the current immutable view
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Lookup returns the latest committed record for d
func (s *Store) Lookup(d types.ExactDigest) (types.FileRecord, bool) {
	return s.current.Load().Get(d)
}

// InsertOrMerge records one observation. A new digest creates a record; a
// known digest gains the name if unseen and has its last upload date moved
// forward. Content fields of an existing record are never changed.
//
// The returned record is the committed state. On error nothing changed.
func (s *Store) InsertOrMerge(ctx context.Context, obs types.Observation) (types.FileRecord, bool, error) {
	digest := obs.Fingerprints.Exact
	if digest.IsZero() {
		return types.FileRecord{}, false, fmt.Errorf("%w: observation has no exact digest", types.ErrInvalidDigest)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.current.Load()
	now := s.now().UTC()

	rec, created := merge(cur, obs, now)

	_, err := retryWithBackoff(ctx, s.retry, func() (struct{}, error) {
		err := s.backend.Put(ctx, rec)
		if errors.Is(err, storage.ErrConflict) {
			corpusConflicts.Inc()
			s.logger.Debug("storage conflict, retrying", "sha256", digest)
			return struct{}{}, err
		}
		return struct{}{}, permanent(err)
	})
	if err != nil {
		corpusWrites.WithLabelValues("failed").Inc()
		s.logger.Error("failed to persist record",
			"sha256", digest,
			"error", err)
		return types.FileRecord{}, false, fmt.Errorf("%w: %w", types.ErrCorpusIO, err)
	}

	s.publish(cur.with(rec))

	outcome := "merged"
	if created {
		outcome = "created"
	}
	corpusWrites.WithLabelValues(outcome).Inc()

	return rec.Clone(), created, nil
}

func merge(cur *Snapshot, obs types.Observation, now time.Time) (types.FileRecord, bool) {
	digest := obs.Fingerprints.Exact

	if existing, ok := cur.Get(digest); ok {
		if obs.Name != "" && !existing.HasName(obs.Name) {
			existing.Names = append(existing.Names, obs.Name)
		}
		if now.After(existing.LastUploadDate) {
			existing.LastUploadDate = now
		}
		return existing, false
	}

	names := []string{}
	if obs.Name != "" {
		names = append(names, obs.Name)
	}
	return types.FileRecord{
		Digest:          digest,
		Names:           names,
		FirstUploadDate: now,
		LastUploadDate:  now,
		Size:            obs.Size,
		FileType:        obs.FileType,
		Fingerprints:    obs.Fingerprints.Clone(),
		Tags:            []string{},
	}, true
}

// Reload replaces the in-memory corpus with the backend's current contents
func (s *Store) Reload(ctx context.Context) (*Snapshot, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	records, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: reload: %w", types.ErrCorpusIO, err)
	}
	s.sanitize(records)

	next := newSnapshot(records, s.current.Load().Version()+1)
	s.publish(next)

	s.logger.Info("corpus reloaded", "records", next.Len())
	return next, nil
}

// Status summarises the current snapshot
func (s *Store) Status() types.CorpusStatus {
	snap := s.current.Load()
	status := types.CorpusStatus{
		Records:    snap.Len(),
		WithApprox: make(map[types.MetricName]int),
		Version:    snap.Version(),
	}
	snap.Range(func(rec *types.FileRecord) bool {
		for name := range rec.Fingerprints.Approx {
			if _, ok := rec.Fingerprints.Approximate(name); ok {
				status.WithApprox[name]++
			}
		}
		return true
	})
	return status
}

// Backend returns the durable backend
func (s *Store) Backend() storage.Backend {
	return s.backend
}

// Close closes the backend after any in-flight write completes
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.backend.Close()
}
