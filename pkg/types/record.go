package types

import (
	"slices"
	"time"
)

// FileRecord is a persisted corpus entry keyed by its exact digest
type FileRecord struct {
	Digest ExactDigest

	// Observations
	Names           []string // Ordered, duplicate-free, append-only
	FirstUploadDate time.Time
	LastUploadDate  time.Time

	// Content metadata, fixed at first insert
	Size         int64
	FileType     string
	Fingerprints FingerprintSet

	// Analyst metadata
	Description string
	Family      string
	Tags        []string
}

// Clone returns a deep copy that shares no slices or maps with r
func (r FileRecord) Clone() FileRecord {
	out := r
	out.Names = slices.Clone(r.Names)
	out.Tags = slices.Clone(r.Tags)
	out.Fingerprints = r.Fingerprints.Clone()
	return out
}

// HasName reports whether name has already been observed for this record
func (r FileRecord) HasName(name string) bool {
	return slices.Contains(r.Names, name)
}

// Observation is one sighting of a file, the input to an insert-or-merge
type Observation struct {
	Name         string
	Size         int64
	FileType     string
	Fingerprints FingerprintSet
}

// Sample is the per-request output of fingerprinting
type Sample struct {
	Fingerprints FingerprintSet
	Size         int64  // Raw byte length
	FileType     string // Detected MIME type
	ContentSize  int    // Bytes fed to the approximate hashes after extraction
}

// Observe builds the observation of this sample under the given filename
func (s Sample) Observe(name string) Observation {
	return Observation{
		Name:         name,
		Size:         s.Size,
		FileType:     s.FileType,
		Fingerprints: s.Fingerprints,
	}
}
