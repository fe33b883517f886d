// Package ingest drives a submitted file through the comparison workflow.
//
// Each Compare call moves through these states:
//
//	RECEIVED --> HASHED --> EXACT_MATCH
//	                    \-> NOT_FOUND --> RANKED --> PERSISTED
//	                                             \-> DISCARDED
//
// An exact digest already in the corpus short-circuits ranking; the upload
// is still recorded as a new observation of the known file. New files are
// ranked against one corpus snapshot under every metric and are persisted
// only when saving is requested, or when the configured default says so.
//
// A persistence failure never discards a ranking: the result carries the
// rankings with PersistenceFailed set.
//
// Importer loads files from disk in bulk using a bounded worker pool. Only
// one import runs at a time.
package ingest
