package corpus

import (
	"github.com/dshills/filecorr/pkg/types"
)

// Snapshot is an immutable point-in-time view of the corpus
type Snapshot struct {
	records []types.FileRecord
	index   map[types.ExactDigest]int
	version uint64
}

func newSnapshot(records []types.FileRecord, version uint64) *Snapshot {
	index := make(map[types.ExactDigest]int, len(records))
	for i, rec := range records {
		index[rec.Digest] = i
	}
	return &Snapshot{records: records, index: index, version: version}
}

// Len returns the number of records
func (s *Snapshot) Len() int {
	return len(s.records)
}

// Version increases with every published write
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Get returns a copy of the record with digest d
func (s *Snapshot) Get(d types.ExactDigest) (types.FileRecord, bool) {
	i, ok := s.index[d]
	if !ok {
		return types.FileRecord{}, false
	}
	return s.records[i].Clone(), true
}

// Range calls fn for each record in insertion order until fn returns false.
// fn must not modify the record.
func (s *Snapshot) Range(fn func(rec *types.FileRecord) bool) {
	for i := range s.records {
		if !fn(&s.records[i]) {
			return
		}
	}
}

// Records returns copies of all records in insertion order
func (s *Snapshot) Records() []types.FileRecord {
	out := make([]types.FileRecord, len(s.records))
	for i, rec := range s.records {
		out[i] = rec.Clone()
	}
	return out
}

// with returns a new snapshot with rec inserted or replaced
func (s *Snapshot) with(rec types.FileRecord) *Snapshot {
	next := &Snapshot{
		records: make([]types.FileRecord, len(s.records), len(s.records)+1),
		index:   make(map[types.ExactDigest]int, len(s.index)+1),
		version: s.version + 1,
	}
	copy(next.records, s.records)
	for k, v := range s.index {
		next.index[k] = v
	}

	if i, ok := next.index[rec.Digest]; ok {
		next.records[i] = rec
		return next
	}
	next.index[rec.Digest] = len(next.records)
	next.records = append(next.records, rec)
	return next
}
