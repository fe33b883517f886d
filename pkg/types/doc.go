// Package types provides shared type definitions for the filecorr engine.
//
// This package defines the domain types used across the fingerprinting,
// corpus, matching and ingestion components: digests, corpus records,
// match rankings and comparison results.
//
// # Digests
//
// ExactDigest is the SHA-256 of a file's raw bytes and is the only key used
// to address the corpus:
//
//	digest, err := types.ParseExactDigest("e3b0c442...")
//	record, ok := store.Lookup(digest)
//
// Approximate digests (TLSH, ssdeep) live in FingerprintSet.Approx, keyed by
// MetricName. A metric missing from the map is absent: its algorithm refused
// the input. Absence is never encoded as an empty string.
//
//	if tlshDigest, ok := set.Approximate(types.MetricTLSH); ok {
//	    // rank by TLSH distance
//	}
//
// # Rankings
//
// A Ranking holds at most MaxMatches MatchRecords for one metric. Score is
// the raw metric output (distance or similarity percentage); Closeness is a
// 0-100 display value derived from it and never used for ordering.
package types
