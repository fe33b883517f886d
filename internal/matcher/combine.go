package matcher

import (
	"github.com/dshills/filecorr/pkg/types"
)

// CombinedMatch joins the rankings of every metric by digest for display
type CombinedMatch struct {
	Digest   types.ExactDigest
	Names    []string
	Family   string
	FileType string
	Tags     []string

	// Closeness per metric; zero where the entry did not rank
	Scores map[types.MetricName]int
}

// Combine merges rankings in metric order. An entry keeps the position of
// its first appearance.
func Combine(order []types.MetricName, rankings map[types.MetricName]types.Ranking) []CombinedMatch {
	var out []CombinedMatch
	index := make(map[types.ExactDigest]int)

	for _, name := range order {
		r, ok := rankings[name]
		if !ok {
			continue
		}
		for _, m := range r.Matches {
			i, seen := index[m.Digest]
			if !seen {
				i = len(out)
				index[m.Digest] = i
				scores := make(map[types.MetricName]int, len(order))
				for _, n := range order {
					scores[n] = 0
				}
				out = append(out, CombinedMatch{
					Digest:   m.Digest,
					Names:    m.Names,
					Family:   m.Family,
					FileType: m.FileType,
					Tags:     m.Tags,
					Scores:   scores,
				})
			}
			out[i].Scores[name] = m.Closeness
		}
	}

	return out
}
