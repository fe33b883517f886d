package ingest

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/filecorr/internal/corpus"
	"github.com/dshills/filecorr/internal/fingerprint"
	"github.com/dshills/filecorr/pkg/types"
)

// lengthMetric fingerprints content by its length; distance is the length difference
type lengthMetric struct{}

func (lengthMetric) Name() types.MetricName { return types.MetricTLSH }
func (lengthMetric) Family() types.Family   { return types.FamilyDistance }

func (lengthMetric) Fingerprint(content []byte) (string, bool) {
	if len(content) < 4 {
		return "", false
	}
	return strconv.Itoa(len(content)), true
}

func (lengthMetric) Compare(a, b string) (int, error) {
	x, err := strconv.Atoi(a)
	if err != nil {
		return 0, err
	}
	y, err := strconv.Atoi(b)
	if err != nil {
		return 0, err
	}
	if x > y {
		return x - y, nil
	}
	return y - x, nil
}

// memBackend is an in-memory storage.Backend with failure injection
type memBackend struct {
	mu      sync.Mutex
	records []types.FileRecord
	failPut error
	puts    int
}

func (m *memBackend) Load(context.Context) ([]types.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
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

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("broken pipe") }

func boolPtr(b bool) *bool { return &b }

func setup(t *testing.T, config Config) (*Coordinator, *memBackend) {
	t.Helper()
	backend := &memBackend{}
	store, err := corpus.New(context.Background(), backend,
		corpus.WithRetry(corpus.RetryConfig{MaxRetries: 1}))
	require.NoError(t, err)
	computer := fingerprint.NewComputer(fingerprint.WithMetrics(lengthMetric{}))
	return NewCoordinator(computer, store, config, nil), backend
}

func content(n int, fill byte) *bytes.Reader {
	return bytes.NewReader(bytes.Repeat([]byte{fill}, n))
}

func TestCompare_EmptyCorpus(t *testing.T) {
	c, backend := setup(t, DefaultConfig())

	result, err := c.Compare(context.Background(), CompareRequest{Content: content(100, 'x'), Filename: "x.bin"})
	require.NoError(t, err)

	assert.Equal(t, string(StateDiscarded), result.State)
	assert.False(t, result.UploadedFile.ExistsInDatabase)
	assert.False(t, result.UploadedFile.SavedToDatabase)
	assert.Nil(t, result.Record)
	require.Contains(t, result.Rankings, types.MetricTLSH)
	assert.Empty(t, result.Rankings[types.MetricTLSH].Matches)
	assert.Equal(t, 0, backend.puts)
	assert.NoError(t, result.Validate())
}

func TestCompare_ExactMatchMergesName(t *testing.T) {
	c, backend := setup(t, DefaultConfig())
	ctx := context.Background()

	_, err := c.Compare(ctx, CompareRequest{Content: content(100, 'd'), Filename: "a.pdf", Save: boolPtr(true)})
	require.NoError(t, err)

	// Save flag is irrelevant on the exact-match path
	result, err := c.Compare(ctx, CompareRequest{Content: content(100, 'd'), Filename: "b.pdf", Save: boolPtr(false)})
	require.NoError(t, err)

	assert.Equal(t, string(StateExactMatch), result.State)
	assert.True(t, result.UploadedFile.ExistsInDatabase)
	assert.Nil(t, result.Rankings, "no ranking on exact match")
	require.NotNil(t, result.Record)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, result.Record.Names)

	assert.Equal(t, 1, c.Store().Snapshot().Len())
	stored, _ := backend.Load(ctx)
	require.Len(t, stored, 1)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, stored[0].Names)
}

func TestCompare_IdempotentReobservation(t *testing.T) {
	clock := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	backend := &memBackend{}
	store, err := corpus.New(context.Background(), backend, corpus.WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	c := NewCoordinator(fingerprint.NewComputer(fingerprint.WithMetrics(lengthMetric{})), store, DefaultConfig(), nil)
	ctx := context.Background()

	first, err := c.Compare(ctx, CompareRequest{Content: content(64, 'z'), Filename: "z.bin", Save: boolPtr(true)})
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	second, err := c.Compare(ctx, CompareRequest{Content: content(64, 'z'), Filename: "z.bin"})
	require.NoError(t, err)

	assert.Equal(t, string(StateExactMatch), second.State)
	assert.Equal(t, []string{"z.bin"}, second.Record.Names)
	assert.Equal(t, first.Record.FirstUploadDate, second.Record.FirstUploadDate)
	assert.Equal(t, clock, second.Record.LastUploadDate)
	assert.Equal(t, first.Record.Fingerprints, second.Record.Fingerprints)
	assert.Equal(t, 1, store.Snapshot().Len())
}

func TestCompare_RankAndPersist(t *testing.T) {
	c, backend := setup(t, DefaultConfig())
	ctx := context.Background()

	for _, n := range []int{600, 102, 150} {
		_, err := c.Compare(ctx, CompareRequest{Content: content(n, 'a'), Filename: strconv.Itoa(n), Save: boolPtr(true)})
		require.NoError(t, err)
	}

	result, err := c.Compare(ctx, CompareRequest{Content: content(100, 'a'), Filename: "new", Save: boolPtr(true)})
	require.NoError(t, err)

	assert.Equal(t, string(StatePersisted), result.State)
	assert.True(t, result.UploadedFile.SavedToDatabase)
	assert.True(t, result.UploadedFile.ExistsInDatabase)

	ranking := result.Rankings[types.MetricTLSH]
	require.Len(t, ranking.Matches, 3)
	assert.Equal(t, []int{2, 50, 500}, []int{ranking.Matches[0].Score, ranking.Matches[1].Score, ranking.Matches[2].Score})
	assert.Equal(t, 3, ranking.Compared, "ranking uses the snapshot from before the commit")
	assert.Equal(t, 4, backend.puts)
}

func TestCompare_DiscardLeavesCorpusUnchanged(t *testing.T) {
	c, backend := setup(t, DefaultConfig())
	ctx := context.Background()

	_, err := c.Compare(ctx, CompareRequest{Content: content(50, 'q'), Filename: "q", Save: boolPtr(true)})
	require.NoError(t, err)
	before := c.Store().Snapshot()

	result, err := c.Compare(ctx, CompareRequest{Content: content(70, 'q'), Filename: "r", Save: boolPtr(false)})
	require.NoError(t, err)

	assert.Equal(t, string(StateDiscarded), result.State)
	assert.Same(t, before, c.Store().Snapshot())
	assert.Equal(t, 1, backend.puts)
}

func TestCompare_SaveDefault(t *testing.T) {
	t.Run("default off", func(t *testing.T) {
		c, _ := setup(t, Config{})
		result, err := c.Compare(context.Background(), CompareRequest{Content: content(20, 's'), Filename: "s"})
		require.NoError(t, err)
		assert.Equal(t, string(StateDiscarded), result.State)
	})

	t.Run("configured on", func(t *testing.T) {
		c, _ := setup(t, Config{SaveByDefault: true})
		result, err := c.Compare(context.Background(), CompareRequest{Content: content(20, 's'), Filename: "s"})
		require.NoError(t, err)
		assert.Equal(t, string(StatePersisted), result.State)
	})

	t.Run("explicit false wins", func(t *testing.T) {
		c, _ := setup(t, Config{SaveByDefault: true})
		result, err := c.Compare(context.Background(), CompareRequest{Content: content(20, 's'), Filename: "s", Save: boolPtr(false)})
		require.NoError(t, err)
		assert.Equal(t, string(StateDiscarded), result.State)
	})
}

func TestCompare_PersistenceFailureKeepsRankings(t *testing.T) {
	c, backend := setup(t, DefaultConfig())
	ctx := context.Background()

	_, err := c.Compare(ctx, CompareRequest{Content: content(40, 'p'), Filename: "p", Save: boolPtr(true)})
	require.NoError(t, err)
	before := c.Store().Snapshot()

	backend.failPut = errors.New("disk full")
	result, err := c.Compare(ctx, CompareRequest{Content: content(45, 'p'), Filename: "p2", Save: boolPtr(true)})
	require.NoError(t, err)

	assert.Equal(t, string(StateRanked), result.State)
	assert.True(t, result.UploadedFile.PersistenceFailed)
	assert.Contains(t, result.UploadedFile.PersistenceError, "disk full")
	assert.False(t, result.UploadedFile.SavedToDatabase)
	assert.False(t, result.UploadedFile.ExistsInDatabase)
	require.Len(t, result.Rankings[types.MetricTLSH].Matches, 1)
	assert.Equal(t, 5, result.Rankings[types.MetricTLSH].Matches[0].Score)
	assert.Same(t, before, c.Store().Snapshot())

	t.Run("exact match merge failure", func(t *testing.T) {
		result, err := c.Compare(ctx, CompareRequest{Content: content(40, 'p'), Filename: "again"})
		require.NoError(t, err)
		assert.Equal(t, string(StateExactMatch), result.State)
		assert.True(t, result.UploadedFile.ExistsInDatabase)
		assert.True(t, result.UploadedFile.PersistenceFailed)
		require.NotNil(t, result.Record)
		assert.Equal(t, []string{"p"}, result.Record.Names)
	})
}

func TestCompare_CancelledContextStillPersists(t *testing.T) {
	c, _ := setup(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := c.Compare(ctx, CompareRequest{Content: content(30, 'c'), Filename: "c", Save: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, string(StatePersisted), result.State)
	assert.Equal(t, 1, c.Store().Snapshot().Len())
}

func TestCompare_UnreadableInput(t *testing.T) {
	c, backend := setup(t, DefaultConfig())

	_, err := c.Compare(context.Background(), CompareRequest{Content: failingReader{}, Filename: "bad", Save: boolPtr(true)})
	assert.ErrorIs(t, err, types.ErrUnreadableInput)
	assert.True(t, IsClientError(err))
	assert.Equal(t, 0, backend.puts)
}

func TestCompare_RefusedMetric(t *testing.T) {
	c, _ := setup(t, DefaultConfig())

	result, err := c.Compare(context.Background(), CompareRequest{Content: content(2, 't'), Filename: "tiny"})
	require.NoError(t, err)
	assert.True(t, result.Rankings[types.MetricTLSH].QueryAbsent)
	_, ok := result.UploadedFile.Fingerprints.Approximate(types.MetricTLSH)
	assert.False(t, ok)
}

func TestCompare_Limit(t *testing.T) {
	c, _ := setup(t, DefaultConfig())
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		_, err := c.Compare(ctx, CompareRequest{Content: content(10+i, 'l'), Filename: strconv.Itoa(i), Save: boolPtr(true)})
		require.NoError(t, err)
	}

	result, err := c.Compare(ctx, CompareRequest{Content: content(100, 'l'), Filename: "q", Limit: 3})
	require.NoError(t, err)
	assert.Len(t, result.Rankings[types.MetricTLSH].Matches, 3)

	result, err = c.Compare(ctx, CompareRequest{Content: content(100, 'l'), Filename: "q"})
	require.NoError(t, err)
	assert.Len(t, result.Rankings[types.MetricTLSH].Matches, types.MaxMatches)
}

func TestGetFileBySHA(t *testing.T) {
	c, _ := setup(t, DefaultConfig())
	ctx := context.Background()

	saved, err := c.Compare(ctx, CompareRequest{Content: content(80, 'g'), Filename: "g", Save: boolPtr(true)})
	require.NoError(t, err)
	_, err = c.Compare(ctx, CompareRequest{Content: content(90, 'g'), Filename: "h", Save: boolPtr(true)})
	require.NoError(t, err)

	view, err := c.GetFileBySHA(ctx, saved.UploadedFile.Digest.String(), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"g"}, view.Record.Names)

	matches := view.Rankings[types.MetricTLSH].Matches
	require.Len(t, matches, 2)
	assert.Equal(t, saved.UploadedFile.Digest, matches[0].Digest, "self is ranked first")
	assert.Equal(t, 0, matches[0].Score)

	t.Run("not found", func(t *testing.T) {
		_, err := c.GetFileBySHA(ctx, strings.Repeat("0", 64), 0)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("invalid digest", func(t *testing.T) {
		_, err := c.GetFileBySHA(ctx, "xyz", 0)
		assert.ErrorIs(t, err, types.ErrInvalidDigest)
	})
}

func TestCompare_MalformedStoredDigest(t *testing.T) {
	var bad types.ExactDigest
	bad[0] = 0xbd
	backend := &memBackend{records: []types.FileRecord{{
		Digest: bad,
		Names:  []string{"legacy.bin"},
		Fingerprints: types.FingerprintSet{
			Exact: bad,
			Approx: map[types.MetricName]string{
				types.MetricTLSH:   "T1abcd",
				types.MetricSsdeep: "garbage",
			},
		},
	}}}
	store, err := corpus.New(context.Background(), backend)
	require.NoError(t, err)
	c := NewCoordinator(fingerprint.NewComputer(), store, DefaultConfig(), nil)
	ctx := context.Background()

	data := make([]byte, 8192)
	rand.New(rand.NewSource(11)).Read(data)

	var result *types.ComparisonResult
	require.NotPanics(t, func() {
		result, err = c.Compare(ctx, CompareRequest{Content: bytes.NewReader(data), Filename: "new.bin"})
	})
	require.NoError(t, err)
	for _, name := range []types.MetricName{types.MetricTLSH, types.MetricSsdeep} {
		require.Contains(t, result.Rankings, name)
		assert.Empty(t, result.Rankings[name].Matches, name)
		assert.Equal(t, 0, result.Rankings[name].Compared, name)
	}

	require.NotPanics(t, func() {
		_, err = c.GetFileBySHA(ctx, bad.String(), 0)
	})
	assert.NoError(t, err)
}

func TestCompare_ConcurrentIdenticalUploads(t *testing.T) {
	c, backend := setup(t, Config{SaveByDefault: true})
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Compare(ctx, CompareRequest{Content: content(500, 'k'), Filename: "k" + strconv.Itoa(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, c.Store().Snapshot().Len())
	stored, _ := backend.Load(ctx)
	require.Len(t, stored, 1)
	assert.Len(t, stored[0].Names, workers)
}
