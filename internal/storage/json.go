package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/dshills/filecorr/pkg/types"
)

// JSONBackend stores the corpus as a single legacy-format JSON document.
// Every Put rewrites the whole file through a temp file and rename, so a
// reader of the path sees either the old or the new corpus.
type JSONBackend struct {
	path string

	mu      sync.Mutex
	records []types.FileRecord
	index   map[types.ExactDigest]int
	closed  bool
}

// NewJSONBackend opens the document at path. A missing file is an empty corpus.
func NewJSONBackend(path string) (*JSONBackend, error) {
	b := &JSONBackend{path: path}
	if err := b.read(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *JSONBackend) Kind() string { return KindJSON }

func (b *JSONBackend) read() error {
	f, err := os.Open(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		b.records = nil
		b.index = make(map[types.ExactDigest]int)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open corpus file: %w", err)
	}
	defer f.Close()

	records, err := ImportJSON(f)
	if err != nil {
		return fmt.Errorf("failed to read corpus file %s: %w", b.path, err)
	}

	b.records = records
	b.index = make(map[types.ExactDigest]int, len(records))
	for i, rec := range records {
		b.index[rec.Digest] = i
	}
	return nil
}

// Load re-reads the document from disk
func (b *JSONBackend) Load(ctx context.Context) ([]types.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	if err := b.read(); err != nil {
		return nil, err
	}

	out := make([]types.FileRecord, len(b.records))
	for i, rec := range b.records {
		out[i] = rec.Clone()
	}
	return out, nil
}

// Put writes the corpus with rec inserted or replaced
func (b *JSONBackend) Put(ctx context.Context, rec types.FileRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	next := make([]types.FileRecord, len(b.records), len(b.records)+1)
	copy(next, b.records)

	i, exists := b.index[rec.Digest]
	if exists {
		next[i] = rec.Clone()
	} else {
		next = append(next, rec.Clone())
	}

	if err := b.write(next); err != nil {
		return err
	}

	b.records = next
	if !exists {
		b.index[rec.Digest] = len(next) - 1
	}
	return nil
}

func (b *JSONBackend) write(records []types.FileRecord) error {
	var buf bytes.Buffer
	if err := ExportJSON(&buf, records); err != nil {
		return fmt.Errorf("failed to encode corpus: %w", err)
	}

	dir := filepath.Dir(b.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write corpus: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync corpus: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close corpus: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return fmt.Errorf("failed to replace corpus: %w", err)
	}
	committed = true

	// Persist the rename itself
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// Close marks the backend closed
func (b *JSONBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
