package corpus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/filecorr/internal/storage"
	"github.com/dshills/filecorr/pkg/types"
)

// memBackend is an in-memory storage.Backend with failure injection
type memBackend struct {
	mu        sync.Mutex
	records   []types.FileRecord
	puts      int
	failPut   error
	conflicts int // Number of Puts to reject with ErrConflict
	failLoad  error
}

func (m *memBackend) Load(context.Context) ([]types.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad != nil {
		return nil, m.failLoad
	}
	out := make([]types.FileRecord, len(m.records))
	for i, r := range m.records {
		out[i] = r.Clone()
	}
	return out, nil
}

func (m *memBackend) Put(_ context.Context, rec types.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.conflicts > 0 {
		m.conflicts--
		return fmt.Errorf("%w: database is locked", storage.ErrConflict)
	}
	if m.failPut != nil {
		return m.failPut
	}
	for i := range m.records {
		if m.records[i].Digest == rec.Digest {
			m.records[i] = rec.Clone()
			return nil
		}
	}
	m.records = append(m.records, rec.Clone())
	return nil
}

func (m *memBackend) Kind() string { return "memory" }
func (m *memBackend) Close() error { return nil }

func (m *memBackend) stored() []types.FileRecord {
	out, _ := m.Load(context.Background())
	return out
}

var fastRetry = RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func observation(b byte, name string) types.Observation {
	var d types.ExactDigest
	d[0] = b
	d[31] = 0xff
	return types.Observation{
		Name:     name,
		Size:     100,
		FileType: "application/pdf",
		Fingerprints: types.FingerprintSet{
			Exact:     d,
			Secondary: "md5",
			Approx:    map[types.MetricName]string{types.MetricTLSH: "T1AA"},
		},
	}
}

func newTestStore(t *testing.T, backend *memBackend, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithRetry(fastRetry)}, opts...)
	s, err := New(context.Background(), backend, opts...)
	require.NoError(t, err)
	return s
}

func TestInsertOrMerge_Create(t *testing.T) {
	backend := &memBackend{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, backend, WithClock(fixedClock(now)))

	rec, created, err := s.InsertOrMerge(context.Background(), observation(1, "a.pdf"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, []string{"a.pdf"}, rec.Names)
	assert.Equal(t, now, rec.FirstUploadDate)
	assert.Equal(t, now, rec.LastUploadDate)

	got, ok := s.Lookup(rec.Digest)
	require.True(t, ok)
	assert.Equal(t, rec, got)
	assert.Len(t, backend.stored(), 1)
}

func TestInsertOrMerge_MergeNewName(t *testing.T) {
	backend := &memBackend{}
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newTestStore(t, backend, WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	first, _, err := s.InsertOrMerge(ctx, observation(1, "a.pdf"))
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	obs := observation(1, "b.pdf")
	obs.Size = 999 // Ignored for an existing record
	merged, created, err := s.InsertOrMerge(ctx, obs)
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, merged.Names)
	assert.Equal(t, first.FirstUploadDate, merged.FirstUploadDate)
	assert.Equal(t, clock, merged.LastUploadDate)
	assert.Equal(t, int64(100), merged.Size)
	assert.Equal(t, 1, s.Snapshot().Len())
}

func TestInsertOrMerge_Idempotent(t *testing.T) {
	s := newTestStore(t, &memBackend{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := s.InsertOrMerge(ctx, observation(1, "a.pdf"))
		require.NoError(t, err)
	}

	rec, ok := s.Lookup(observation(1, "").Fingerprints.Exact)
	require.True(t, ok)
	assert.Equal(t, []string{"a.pdf"}, rec.Names)
	assert.Equal(t, 1, s.Snapshot().Len())
}

func TestInsertOrMerge_PersistFailureLeavesCorpusUnchanged(t *testing.T) {
	backend := &memBackend{}
	s := newTestStore(t, backend)
	ctx := context.Background()

	_, _, err := s.InsertOrMerge(ctx, observation(1, "a.pdf"))
	require.NoError(t, err)
	before := s.Snapshot()

	backend.failPut = errors.New("disk full")

	_, _, err = s.InsertOrMerge(ctx, observation(2, "new.pdf"))
	assert.ErrorIs(t, err, types.ErrCorpusIO)
	_, _, err = s.InsertOrMerge(ctx, observation(1, "b.pdf"))
	assert.ErrorIs(t, err, types.ErrCorpusIO)

	assert.Same(t, before, s.Snapshot(), "no snapshot published on failure")
	rec, _ := s.Lookup(observation(1, "").Fingerprints.Exact)
	assert.Equal(t, []string{"a.pdf"}, rec.Names)
	_, ok := s.Lookup(observation(2, "").Fingerprints.Exact)
	assert.False(t, ok)
	assert.Equal(t, backend.stored()[0].Names, rec.Names, "memory matches disk")
}

func TestInsertOrMerge_RetriesConflicts(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		backend := &memBackend{conflicts: 2}
		s := newTestStore(t, backend)

		_, created, err := s.InsertOrMerge(context.Background(), observation(1, "a"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 3, backend.puts)
	})

	t.Run("exhausted", func(t *testing.T) {
		backend := &memBackend{conflicts: 10}
		s := newTestStore(t, backend)

		_, _, err := s.InsertOrMerge(context.Background(), observation(1, "a"))
		assert.ErrorIs(t, err, types.ErrCorpusIO)
		assert.ErrorIs(t, err, storage.ErrConflict)
		assert.Equal(t, fastRetry.MaxRetries, backend.puts)
		assert.Equal(t, 0, s.Snapshot().Len())
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		backend := &memBackend{failPut: errors.New("constraint")}
		s := newTestStore(t, backend)

		_, _, err := s.InsertOrMerge(context.Background(), observation(1, "a"))
		assert.Error(t, err)
		assert.Equal(t, 1, backend.puts)
	})
}

func TestInsertOrMerge_ZeroDigest(t *testing.T) {
	s := newTestStore(t, &memBackend{})
	_, _, err := s.InsertOrMerge(context.Background(), types.Observation{Name: "x"})
	assert.ErrorIs(t, err, types.ErrInvalidDigest)
}

func TestInsertOrMerge_ConcurrentSameDigest(t *testing.T) {
	backend := &memBackend{}
	s := newTestStore(t, backend)
	ctx := context.Background()

	const workers = 20
	var wg sync.WaitGroup
	createdCount := make(chan bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := s.InsertOrMerge(ctx, observation(7, fmt.Sprintf("name-%02d", i)))
			assert.NoError(t, err)
			createdCount <- created
		}(i)
	}
	wg.Wait()
	close(createdCount)

	creates := 0
	for c := range createdCount {
		if c {
			creates++
		}
	}
	assert.Equal(t, 1, creates, "exactly one observation creates the record")
	assert.Equal(t, 1, s.Snapshot().Len())

	rec, _ := s.Lookup(observation(7, "").Fingerprints.Exact)
	assert.Len(t, rec.Names, workers)
	assert.Len(t, backend.stored(), 1)
}

func TestSnapshot_Isolation(t *testing.T) {
	s := newTestStore(t, &memBackend{})
	ctx := context.Background()

	_, _, err := s.InsertOrMerge(ctx, observation(1, "a"))
	require.NoError(t, err)
	old := s.Snapshot()

	_, _, err = s.InsertOrMerge(ctx, observation(2, "b"))
	require.NoError(t, err)
	_, _, err = s.InsertOrMerge(ctx, observation(1, "c"))
	require.NoError(t, err)

	assert.Equal(t, 1, old.Len())
	rec, _ := old.Get(observation(1, "").Fingerprints.Exact)
	assert.Equal(t, []string{"a"}, rec.Names)
	assert.Greater(t, s.Snapshot().Version(), old.Version())

	var order []byte
	s.Snapshot().Range(func(rec *types.FileRecord) bool {
		order = append(order, rec.Digest[0])
		return true
	})
	assert.Equal(t, []byte{1, 2}, order)
}

func TestNew_LoadFailure(t *testing.T) {
	_, err := New(context.Background(), &memBackend{failLoad: errors.New("corrupt")})
	assert.ErrorIs(t, err, types.ErrCorpusIO)
}

func TestReload(t *testing.T) {
	backend := &memBackend{}
	s := newTestStore(t, backend)
	ctx := context.Background()

	// Written behind the store's back
	require.NoError(t, backend.Put(ctx, types.FileRecord{Digest: observation(9, "").Fingerprints.Exact}))
	assert.Equal(t, 0, s.Snapshot().Len())

	snap, err := s.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
	assert.Same(t, snap, s.Snapshot())

	backend.failLoad = errors.New("gone")
	_, err = s.Reload(ctx)
	assert.ErrorIs(t, err, types.ErrCorpusIO)
	assert.Same(t, snap, s.Snapshot())
}

func TestDigestCheck_DropsMalformedOnLoad(t *testing.T) {
	errMalformed := errors.New("malformed")
	check := func(name types.MetricName, digest string) error {
		if name == types.MetricTLSH && digest == "T1AB" {
			return errMalformed
		}
		return nil
	}

	rec := func(b byte, tlsh string) types.FileRecord {
		obs := observation(b, "")
		obs.Fingerprints.Approx = map[types.MetricName]string{
			types.MetricTLSH:   tlsh,
			types.MetricSsdeep: "3:abc:def",
		}
		return types.FileRecord{Digest: obs.Fingerprints.Exact, Fingerprints: obs.Fingerprints}
	}

	backend := &memBackend{records: []types.FileRecord{rec(1, "T1AB"), rec(2, "T1CD")}}
	s := newTestStore(t, backend, WithDigestCheck(check))

	bad, ok := s.Lookup(backend.records[0].Digest)
	require.True(t, ok)
	_, ok = bad.Fingerprints.Approximate(types.MetricTLSH)
	assert.False(t, ok, "malformed digest dropped")
	_, ok = bad.Fingerprints.Approximate(types.MetricSsdeep)
	assert.True(t, ok, "other metrics kept")

	good, ok := s.Lookup(backend.records[1].Digest)
	require.True(t, ok)
	v, _ := good.Fingerprints.Approximate(types.MetricTLSH)
	assert.Equal(t, "T1CD", v)

	assert.Equal(t, "T1AB", backend.stored()[0].Fingerprints.Approx[types.MetricTLSH], "backend copy untouched")
	assert.Equal(t, 1, s.Status().WithApprox[types.MetricTLSH])

	t.Run("reload", func(t *testing.T) {
		require.NoError(t, backend.Put(context.Background(), rec(3, "T1AB")))
		snap, err := s.Reload(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, snap.Len())
		assert.Equal(t, 1, s.Status().WithApprox[types.MetricTLSH])
	})
}

func TestStatus(t *testing.T) {
	s := newTestStore(t, &memBackend{})
	ctx := context.Background()

	_, _, err := s.InsertOrMerge(ctx, observation(1, "a"))
	require.NoError(t, err)
	bare := observation(2, "b")
	bare.Fingerprints.Approx = nil
	_, _, err = s.InsertOrMerge(ctx, bare)
	require.NoError(t, err)

	status := s.Status()
	assert.Equal(t, 2, status.Records)
	assert.Equal(t, 1, status.WithApprox[types.MetricTLSH])
	assert.Equal(t, 0, status.WithApprox[types.MetricSsdeep])
}

func TestStore_WithSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	backend, err := storage.NewSQLiteBackend(ctx, ":memory:")
	require.NoError(t, err)

	s, err := New(ctx, backend)
	require.NoError(t, err)
	defer s.Close()

	_, _, err = s.InsertOrMerge(ctx, observation(1, "a.pdf"))
	require.NoError(t, err)
	_, _, err = s.InsertOrMerge(ctx, observation(1, "b.pdf"))
	require.NoError(t, err)

	snap, err := s.Reload(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())
	rec, _ := snap.Get(observation(1, "").Fingerprints.Exact)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, rec.Names)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := retryWithBackoff(ctx, fastRetry, func() (int, error) {
		calls++
		return 0, errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
