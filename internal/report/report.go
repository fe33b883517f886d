// Package report renders engine results as the JSON documents returned by
// the MCP tools and the HTTP API. Both transports share these shapes.
package report

import (
	"time"

	"github.com/dshills/filecorr/internal/ingest"
	"github.com/dshills/filecorr/internal/matcher"
	"github.com/dshills/filecorr/pkg/types"
)

// MaxErrors is how many per-file import errors are listed in full
const MaxErrors = 5

// Hashes renders every digest of a fingerprint set. Absent approximate
// digests render as empty strings.
func Hashes(fp types.FingerprintSet) map[string]interface{} {
	out := map[string]interface{}{
		"sha256": fp.Exact.String(),
		"md5":    fp.Secondary,
	}
	for _, name := range []types.MetricName{types.MetricTLSH, types.MetricSsdeep} {
		out[string(name)] = ""
	}
	for name := range fp.Approx {
		v, _ := fp.Approximate(name)
		out[string(name)] = v
	}
	return out
}

// Comparison renders the outcome of one compare request
func Comparison(res *types.ComparisonResult, order []types.MetricName) map[string]interface{} {
	up := res.UploadedFile
	uploaded := map[string]interface{}{
		"filename":           up.Filename,
		"file_type":          up.FileType,
		"size_bytes":         up.Size,
		"content_size_bytes": up.ContentSize,
		"sha256":             up.Digest.String(),
		"exists_in_database": up.ExistsInDatabase,
		"saved_to_database":  up.SavedToDatabase,
		"hashes":             Hashes(up.Fingerprints),
	}
	if up.PersistenceFailed {
		uploaded["persistence_failed"] = true
		uploaded["persistence_error"] = up.PersistenceError
	}

	response := map[string]interface{}{
		"uploaded_file": uploaded,
		"state":         res.State,
	}
	if res.Record != nil {
		response["record"] = Record(*res.Record)
	}
	for _, name := range order {
		if r, ok := res.Rankings[name]; ok {
			response[string(name)] = Ranking(r)
		}
	}
	return response
}

// Ranking renders one metric's ranking
func Ranking(r types.Ranking) map[string]interface{} {
	matches := make([]map[string]interface{}, 0, len(r.Matches))
	for _, m := range r.Matches {
		matches = append(matches, Match(m))
	}

	out := map[string]interface{}{
		"family":            r.Family.String(),
		"best_match":        nil,
		"similarity_score":  nil,
		"top_matches":       matches,
		"total_comparisons": r.Compared,
	}
	if r.QueryAbsent {
		out["query_absent"] = true
	}
	if best, ok := r.Best(); ok {
		out["best_match"] = Match(best)
		out["similarity_score"] = best.Score
	}
	return out
}

// Match renders one ranked entry
func Match(m types.MatchRecord) map[string]interface{} {
	return map[string]interface{}{
		"sha256":    m.Digest.String(),
		"name":      nonNil(m.Names),
		"family":    orUnknown(m.Family),
		"file_type": orUnknown(m.FileType),
		"tags":      nonNil(m.Tags),
		"score":     m.Score,
		"closeness": m.Closeness,
	}
}

// Record renders a stored corpus entry
func Record(rec types.FileRecord) map[string]interface{} {
	return map[string]interface{}{
		"sha256":            rec.Digest.String(),
		"name":              nonNil(rec.Names),
		"size":              rec.Size,
		"file_type":         rec.FileType,
		"first_upload_date": formatTime(rec.FirstUploadDate),
		"last_upload_date":  formatTime(rec.LastUploadDate),
		"description":       rec.Description,
		"family":            rec.Family,
		"tags":              nonNil(rec.Tags),
		"hashes":            Hashes(rec.Fingerprints),
	}
}

// File renders a stored record with its combined similar entries. Each
// similar entry carries a "<metric>_score" closeness for every metric.
func File(view *types.FileView, order []types.MetricName) map[string]interface{} {
	combined := matcher.Combine(order, view.Rankings)

	similar := make([]map[string]interface{}, 0, len(combined))
	for _, c := range combined {
		entry := map[string]interface{}{
			"sha256":    c.Digest.String(),
			"name":      nonNil(c.Names),
			"family":    orUnknown(c.Family),
			"file_type": orUnknown(c.FileType),
			"tags":      nonNil(c.Tags),
		}
		for _, name := range order {
			entry[string(name)+"_score"] = c.Scores[name]
		}
		similar = append(similar, entry)
	}

	response := Record(view.Record)
	response["similar"] = similar
	return response
}

// Status renders corpus counters
func Status(status types.CorpusStatus) map[string]interface{} {
	return map[string]interface{}{
		"database_size":     status.Records,
		"tlsh_index_size":   status.WithApprox[types.MetricTLSH],
		"ssdeep_index_size": status.WithApprox[types.MetricSsdeep],
		"corpus_version":    status.Version,
	}
}

// Import renders bulk import statistics
func Import(stats *ingest.ImportStatistics) map[string]interface{} {
	response := map[string]interface{}{
		"files_processed": stats.FilesProcessed,
		"files_created":   stats.FilesCreated,
		"files_merged":    stats.FilesMerged,
		"files_skipped":   stats.FilesSkipped,
		"files_failed":    stats.FilesFailed,
		"duration_ms":     stats.Duration.Milliseconds(),
	}

	if n := len(stats.ErrorMessages); n > 0 {
		if n > MaxErrors {
			response["errors"] = stats.ErrorMessages[:MaxErrors]
			response["error_count"] = n
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}
	return response
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
