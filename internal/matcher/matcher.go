package matcher

import (
	"log/slog"
	"slices"
	"sort"

	"github.com/dshills/filecorr/pkg/types"
)

// Comparator scores two digests of one metric
type Comparator interface {
	Name() types.MetricName
	Family() types.Family
	Compare(a, b string) (int, error)
}

// Corpus is a read-only view of stored records in insertion order.
// Records passed to fn must not be modified.
type Corpus interface {
	Range(fn func(rec *types.FileRecord) bool)
}

// Engine ranks corpora
type Engine struct {
	logger *slog.Logger
}

// NewEngine creates an Engine. A nil logger uses slog.Default.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger.With("component", "matcher")}
}

type candidate struct {
	rec   *types.FileRecord
	score int
}

// Rank returns the top matches of query in corpus under metric. limit <= 0
// or above types.MaxMatches is clamped to types.MaxMatches.
func (e *Engine) Rank(query types.FingerprintSet, corpus Corpus, metric Comparator, limit int) types.Ranking {
	ranking := types.Ranking{
		Metric:  metric.Name(),
		Family:  metric.Family(),
		Matches: []types.MatchRecord{},
	}

	q, ok := query.Approximate(metric.Name())
	if !ok {
		ranking.QueryAbsent = true
		return ranking
	}

	var candidates []candidate
	failed := 0
	corpus.Range(func(rec *types.FileRecord) bool {
		d, ok := rec.Fingerprints.Approximate(metric.Name())
		if !ok {
			return true
		}

		score, err := metric.Compare(q, d)
		if err != nil {
			failed++
			return true
		}
		ranking.Compared++

		if metric.Family() == types.FamilySimilarity && score == 0 {
			return true
		}
		candidates = append(candidates, candidate{rec: rec, score: score})
		return true
	})

	if failed > 0 {
		e.logger.Warn("skipped uncomparable digests",
			"metric", metric.Name(),
			"count", failed)
	}

	sortCandidates(candidates, metric.Family())

	limit = clampLimit(limit)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	for _, c := range candidates {
		ranking.Matches = append(ranking.Matches, types.MatchRecord{
			Digest:    c.rec.Digest,
			Names:     slices.Clone(c.rec.Names),
			Family:    c.rec.Family,
			FileType:  c.rec.FileType,
			Tags:      slices.Clone(c.rec.Tags),
			Score:     c.score,
			Closeness: Closeness(metric.Family(), c.score),
		})
	}

	return ranking
}

// RankAll ranks query under every metric against the same corpus view
func (e *Engine) RankAll(query types.FingerprintSet, corpus Corpus, metrics []Comparator, limit int) map[types.MetricName]types.Ranking {
	out := make(map[types.MetricName]types.Ranking, len(metrics))
	for _, m := range metrics {
		out[m.Name()] = e.Rank(query, corpus, m, limit)
	}
	return out
}

func sortCandidates(candidates []candidate, family types.Family) {
	if family == types.FamilySimilarity {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].score > candidates[j].score
		})
		return
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score < candidates[j].score
	})
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > types.MaxMatches {
		return types.MaxMatches
	}
	return limit
}

// Closeness maps a raw score onto 0-100 where higher is closer
func Closeness(family types.Family, score int) int {
	if family == types.FamilySimilarity {
		return score
	}
	return max(0, 100-score)
}
