// Package storage provides durable persistence for corpus records.
//
// Two backends implement Backend:
//
//   - SQLiteBackend, the default, stores records in a migrated SQLite database
//   - JSONBackend reads and writes the legacy single-file corpus document
//
// Both return records in insertion order and both make Put all-or-nothing:
// when Put returns an error the stored corpus is exactly as it was before.
//
// # Database Schema
//
// Tables:
//   - files: one row per exact digest, content columns plus analyst metadata
//   - file_names: every observed filename, ordered by position
//   - schema_version: applied migrations
//
// Migrations are versioned with semver and applied on open.
//
// # Basic Usage
//
//	backend, err := storage.Open(ctx, storage.KindSQLite, "corpus.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	records, err := backend.Load(ctx)
//
// # Build Modes
//
// The SQLite driver is selected at build time. The default build uses
// modernc.org/sqlite (pure Go); building with -tags sqlite_cgo switches to
// github.com/mattn/go-sqlite3.
//
// # Conflicts
//
// Writes that fail because another connection holds the database lock are
// reported wrapped in ErrConflict. Such a write had no effect and the caller
// may retry it.
//
// # Interchange
//
// ExportJSON and ImportJSON read and write the legacy document format and
// are used to move a corpus between backends.
package storage
