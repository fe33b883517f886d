package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dshills/filecorr/pkg/types"
)

const sqliteTimeLayout = time.RFC3339Nano

// SQLiteBackend stores the corpus in a SQLite database
type SQLiteBackend struct {
	db     *sql.DB
	closed atomic.Bool
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL", // Commit means on disk
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// NewSQLiteBackend opens or creates the database at dbPath and migrates it
func NewSQLiteBackend(ctx context.Context, dbPath string) (*SQLiteBackend, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

func (s *SQLiteBackend) Kind() string { return KindSQLite }

// Close closes the database connection
func (s *SQLiteBackend) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle for maintenance tasks
func (s *SQLiteBackend) DB() *sql.DB {
	return s.db
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Load returns all records ordered by insertion
func (s *SQLiteBackend) Load(ctx context.Context) ([]types.FileRecord, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	records, ids, err := s.loadFiles(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := s.loadNames(ctx, tx, records, ids); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, classify(err)
	}
	return records, nil
}

func (s *SQLiteBackend) loadFiles(ctx context.Context, q querier) ([]types.FileRecord, map[int64]int, error) {
	query := `
		SELECT id, sha256, md5, tlsh, ssdeep, size, file_type,
		       first_upload_date, last_upload_date, description, family, tags
		FROM files
		ORDER BY id
	`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, nil, classify(err)
	}
	defer rows.Close()

	var records []types.FileRecord
	ids := make(map[int64]int)

	for rows.Next() {
		var (
			id                int64
			sha, md5, ftype   string
			tlshD, ssdeepD    sql.NullString
			size              int64
			first, last, desc string
			family, tagsJSON  string
		)
		if err := rows.Scan(&id, &sha, &md5, &tlshD, &ssdeepD, &size, &ftype,
			&first, &last, &desc, &family, &tagsJSON); err != nil {
			return nil, nil, fmt.Errorf("failed to scan file row: %w", err)
		}

		digest, err := types.ParseExactDigest(sha)
		if err != nil {
			return nil, nil, fmt.Errorf("file %d: %w", id, err)
		}

		rec := types.FileRecord{
			Digest:      digest,
			Names:       []string{},
			Size:        size,
			FileType:    ftype,
			Description: desc,
			Family:      family,
			Fingerprints: types.FingerprintSet{
				Exact:     digest,
				Secondary: md5,
				Approx:    make(map[types.MetricName]string, 2),
			},
		}
		if tlshD.Valid && tlshD.String != "" {
			rec.Fingerprints.Approx[types.MetricTLSH] = tlshD.String
		}
		if ssdeepD.Valid && ssdeepD.String != "" {
			rec.Fingerprints.Approx[types.MetricSsdeep] = ssdeepD.String
		}
		if rec.FirstUploadDate, err = time.Parse(sqliteTimeLayout, first); err != nil {
			return nil, nil, fmt.Errorf("file %d: invalid first_upload_date: %w", id, err)
		}
		if rec.LastUploadDate, err = time.Parse(sqliteTimeLayout, last); err != nil {
			return nil, nil, fmt.Errorf("file %d: invalid last_upload_date: %w", id, err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
			return nil, nil, fmt.Errorf("file %d: invalid tags: %w", id, err)
		}

		ids[id] = len(records)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, classify(err)
	}

	return records, ids, nil
}

func (s *SQLiteBackend) loadNames(ctx context.Context, q querier, records []types.FileRecord, ids map[int64]int) error {
	rows, err := q.QueryContext(ctx, "SELECT file_id, name FROM file_names ORDER BY file_id, position")
	if err != nil {
		return classify(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fileID int64
			name   string
		)
		if err := rows.Scan(&fileID, &name); err != nil {
			return fmt.Errorf("failed to scan file name: %w", err)
		}
		i, ok := ids[fileID]
		if !ok {
			continue
		}
		records[i].Names = append(records[i].Names, name)
	}
	return classify(rows.Err())
}

// Put upserts rec and its names in one transaction
func (s *SQLiteBackend) Put(ctx context.Context, rec types.FileRecord) error {
	if s.closed.Load() {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	fileID, err := s.upsertFileWithQuerier(ctx, tx, rec)
	if err != nil {
		return err
	}
	if err := s.upsertNamesWithQuerier(ctx, tx, fileID, rec.Names); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

// upsertFileWithQuerier inserts the file row or updates its mutable columns.
// Content columns are never rewritten once stored.
func (s *SQLiteBackend) upsertFileWithQuerier(ctx context.Context, q querier, rec types.FileRecord) (int64, error) {
	query := `
		INSERT INTO files (sha256, md5, tlsh, ssdeep, size, file_type,
		                   first_upload_date, last_upload_date, description, family, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sha256) DO UPDATE SET
			last_upload_date = excluded.last_upload_date,
			description = excluded.description,
			family = excluded.family,
			tags = excluded.tags
		RETURNING id
	`

	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("failed to encode tags: %w", err)
	}

	var id int64
	err = q.QueryRowContext(ctx, query,
		rec.Digest.String(),
		rec.Fingerprints.Secondary,
		nullable(rec.Fingerprints, types.MetricTLSH),
		nullable(rec.Fingerprints, types.MetricSsdeep),
		rec.Size,
		rec.FileType,
		rec.FirstUploadDate.UTC().Format(sqliteTimeLayout),
		rec.LastUploadDate.UTC().Format(sqliteTimeLayout),
		rec.Description,
		rec.Family,
		string(tagsJSON),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert file: %w", classify(err))
	}
	return id, nil
}

func (s *SQLiteBackend) upsertNamesWithQuerier(ctx context.Context, q querier, fileID int64, names []string) error {
	query := `
		INSERT INTO file_names (file_id, position, name)
		VALUES (?, ?, ?)
		ON CONFLICT(file_id, name) DO NOTHING
	`
	for i, name := range names {
		if _, err := q.ExecContext(ctx, query, fileID, i, name); err != nil {
			return fmt.Errorf("failed to insert file name: %w", classify(err))
		}
	}
	return nil
}

// Count returns the number of stored files
func (s *SQLiteBackend) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM files").Scan(&n); err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func nullable(set types.FingerprintSet, metric types.MetricName) sql.NullString {
	v, ok := set.Approximate(metric)
	return sql.NullString{String: v, Valid: ok}
}

// classify maps lock contention onto ErrConflict
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
