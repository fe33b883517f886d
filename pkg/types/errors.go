package types

import "errors"

// Domain errors shared across the engine
var (
	// ErrUnreadableInput is returned when submitted content cannot be read at all
	ErrUnreadableInput = errors.New("unreadable input")
	// ErrNotFound is returned when an exact digest is not in the corpus
	ErrNotFound = errors.New("file not found")
	// ErrCorpusIO is returned when durable corpus storage fails
	ErrCorpusIO = errors.New("corpus storage failure")
	// ErrInvalidDigest is returned for malformed digest strings
	ErrInvalidDigest = errors.New("invalid digest")
	// ErrImportInProgress is returned when a bulk import is already running
	ErrImportInProgress = errors.New("import already in progress")

	// Result validation errors
	ErrMissingMetric   = errors.New("ranking metric is required")
	ErrTooManyMatches  = errors.New("ranking exceeds maximum match count")
	ErrRankingOrder    = errors.New("ranking is not ordered by score")
	ErrZeroSimilarity  = errors.New("similarity ranking contains a zero score")
	ErrMissingFileInfo = errors.New("uploaded file info is required")
)
