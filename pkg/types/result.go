package types

// MaxMatches is the hard cap on entries in a single ranking
const MaxMatches = 10

// MatchRecord is one ranked corpus entry
type MatchRecord struct {
	Digest   ExactDigest `json:"sha256"`
	Names    []string    `json:"name"`
	Family   string      `json:"family"`
	FileType string      `json:"file_type"`
	Tags     []string    `json:"tags"`

	// Scoring
	Score     int `json:"score"`     // Raw metric output
	Closeness int `json:"closeness"` // 0-100 display value, not used for ordering
}

// Ranking is the ordered top-K result for one metric
type Ranking struct {
	Metric      MetricName    `json:"metric"`
	Family      Family        `json:"family"`
	Matches     []MatchRecord `json:"matches"`
	Compared    int           `json:"total_comparisons"` // Corpus entries actually scored
	QueryAbsent bool          `json:"query_absent"`      // Query digest refused for this metric
}

// Best returns the top match, if any
func (r Ranking) Best() (MatchRecord, bool) {
	if len(r.Matches) == 0 {
		return MatchRecord{}, false
	}
	return r.Matches[0], true
}

// Validate checks the ranking's structural invariants
func (r Ranking) Validate() error {
	if r.Metric == "" {
		return ErrMissingMetric
	}

	if len(r.Matches) > MaxMatches {
		return ErrTooManyMatches
	}

	for i, m := range r.Matches {
		if r.Family == FamilySimilarity && m.Score == 0 {
			return ErrZeroSimilarity
		}
		if i == 0 {
			continue
		}
		prev := r.Matches[i-1].Score
		if r.Family == FamilyDistance && prev > m.Score {
			return ErrRankingOrder
		}
		if r.Family == FamilySimilarity && prev < m.Score {
			return ErrRankingOrder
		}
	}

	return nil
}

// UploadedFile describes the submitted content in a comparison result
type UploadedFile struct {
	Filename     string
	Digest       ExactDigest
	Size         int64
	FileType     string
	ContentSize  int
	Fingerprints FingerprintSet

	ExistsInDatabase  bool
	SavedToDatabase   bool
	PersistenceFailed bool
	PersistenceError  string
}

// ComparisonResult is the outcome of one ingestion workflow
type ComparisonResult struct {
	UploadedFile *UploadedFile
	Record       *FileRecord // Committed record, nil when nothing is stored
	Rankings     map[MetricName]Ranking
	State        string // Terminal state reached
}

// Validate checks that the result is complete and every ranking is well formed
func (c *ComparisonResult) Validate() error {
	if c.UploadedFile == nil {
		return ErrMissingFileInfo
	}
	for _, r := range c.Rankings {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// FileView is a stored record together with fresh rankings against the corpus
type FileView struct {
	Record   FileRecord
	Rankings map[MetricName]Ranking
}

// CorpusStatus summarises the current corpus snapshot
type CorpusStatus struct {
	Records    int
	WithApprox map[MetricName]int
	Version    uint64
}
