package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/filecorr/internal/corpus"
	"github.com/dshills/filecorr/internal/fingerprint"
	"github.com/dshills/filecorr/pkg/types"
)

// ImportConfig controls a bulk import
type ImportConfig struct {
	Workers     int   // Concurrent workers (default: runtime.NumCPU())
	Recursive   bool  // Descend into subdirectories (default: top level only)
	MaxFileSize int64 // Larger files are skipped; 0 means no limit
}

// ImportStatistics summarises a bulk import
type ImportStatistics struct {
	FilesProcessed int
	FilesCreated   int
	FilesMerged    int
	FilesSkipped   int
	FilesFailed    int
	Duration       time.Duration
	ErrorMessages  []string
}

// Importer adds files from disk to the corpus
type Importer struct {
	computer *fingerprint.Computer
	store    *corpus.Store
	lock     ImportLock
	logger   *slog.Logger
}

// NewImporter creates an Importer
func NewImporter(computer *fingerprint.Computer, store *corpus.Store, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{
		computer: computer,
		store:    store,
		logger:   logger.With("component", "importer"),
	}
}

// Running reports whether an import is in progress
func (im *Importer) Running() bool {
	return im.lock.Held()
}

// RunningSince returns when the current import started, or the zero time
func (im *Importer) RunningSince() time.Time {
	return im.lock.Since()
}

// Import expands paths and records every file found. Per-file failures are
// counted and reported in the statistics; the returned error is reserved for
// cancellation and for a concurrent import (types.ErrImportInProgress).
func (im *Importer) Import(ctx context.Context, paths []string, config *ImportConfig) (*ImportStatistics, error) {
	if !im.lock.TryAcquire() {
		return nil, types.ErrImportInProgress
	}
	defer im.lock.Release()

	if config == nil {
		config = &ImportConfig{}
	}
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	startTime := time.Now()
	stats := &ImportStatistics{
		ErrorMessages: make([]string, 0),
	}

	files, skipped := im.expandPaths(paths, config.Recursive)
	stats.ErrorMessages = append(stats.ErrorMessages, skipped...)
	stats.FilesSkipped = len(skipped)

	im.logger.Info("import started",
		"files", len(files),
		"workers", workers)

	semaphore := make(chan struct{}, workers)
	var (
		created, merged, skippedLarge, failed, processed int32
		mu                                               sync.Mutex // Protect stats.ErrorMessages
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, path := range files {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case semaphore <- struct{}{}:
			}
			defer func() { <-semaphore }()

			outcome, err := im.importFile(gctx, path, config.MaxFileSize)
			atomic.AddInt32(&processed, 1)
			importedFiles.WithLabelValues(outcome).Inc()

			switch outcome {
			case "created":
				atomic.AddInt32(&created, 1)
			case "merged":
				atomic.AddInt32(&merged, 1)
			case "skipped":
				atomic.AddInt32(&skippedLarge, 1)
			default:
				atomic.AddInt32(&failed, 1)
			}
			if err != nil {
				mu.Lock()
				stats.ErrorMessages = append(stats.ErrorMessages, fmt.Sprintf("%s: %v", path, err))
				mu.Unlock()
			}
			// Continue with other files
			return nil
		})
	}

	waitErr := g.Wait()

	stats.FilesProcessed = int(processed)
	stats.FilesCreated = int(created)
	stats.FilesMerged = int(merged)
	stats.FilesSkipped += int(skippedLarge)
	stats.FilesFailed = int(failed)
	stats.Duration = time.Since(startTime)
	sort.Strings(stats.ErrorMessages)

	im.logger.Info("import finished",
		"processed", stats.FilesProcessed,
		"created", stats.FilesCreated,
		"merged", stats.FilesMerged,
		"skipped", stats.FilesSkipped,
		"failed", stats.FilesFailed,
		"duration", stats.Duration)

	if waitErr != nil {
		return stats, waitErr
	}
	return stats, nil
}

func (im *Importer) importFile(ctx context.Context, path string, maxSize int64) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "failed", err
	}
	if maxSize > 0 && info.Size() > maxSize {
		return "skipped", fmt.Errorf("file too large (%d > %d bytes)", info.Size(), maxSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return "failed", err
	}
	defer f.Close()

	sample, err := im.computer.Compute(f)
	if err != nil {
		return "failed", err
	}

	_, created, err := im.store.InsertOrMerge(context.WithoutCancel(ctx), sample.Observe(filepath.Base(path)))
	if err != nil {
		return "failed", err
	}
	if created {
		im.logger.Debug("created entry", "path", path, "sha256", sample.Fingerprints.Exact)
		return "created", nil
	}
	im.logger.Debug("merged entry", "path", path, "sha256", sample.Fingerprints.Exact)
	return "merged", nil
}

// expandPaths turns file and directory arguments into a list of regular
// files. Directories contribute their direct entries unless recursive is set;
// hidden directories are never descended into. Unusable arguments are returned
// as messages.
func (im *Importer) expandPaths(paths []string, recursive bool) ([]string, []string) {
	var (
		files   []string
		skipped []string
	)
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, arg := range paths {
		info, err := os.Stat(arg)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", arg, err))
			continue
		}

		if info.Mode().IsRegular() {
			add(arg)
			continue
		}
		if !info.IsDir() {
			skipped = append(skipped, fmt.Sprintf("%s: not a regular file or directory", arg))
			continue
		}

		if !recursive {
			entries, err := os.ReadDir(arg)
			if err != nil {
				skipped = append(skipped, fmt.Sprintf("%s: %v", arg, err))
				continue
			}
			for _, e := range entries {
				if e.Type().IsRegular() {
					add(filepath.Join(arg, e.Name()))
				}
			}
			continue
		}

		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				skipped = append(skipped, fmt.Sprintf("%s: %v", path, err))
				return nil
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() {
				add(path)
			}
			return nil
		})
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("%s: %v", arg, err))
		}
	}

	return files, skipped
}
