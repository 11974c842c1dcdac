// Package storage provides the SQLite metadata store for chunk records.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fieldwise/kura/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY,
		doc_uuid TEXT NOT NULL,
		text TEXT NOT NULL,
		source TEXT,
		rep_type TEXT,
		full_path TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_full_path ON chunks(full_path);
	`
	_, err := db.Exec(schema)
	return err
}

// NextID returns one plus the current maximum chunk id, or 0 for an empty
// table. Computed from the table at call time so the allocator can never
// drift from persisted truth; callers serialize allocation through the
// ingest engine's write lock.
func (s *SQLiteStorage) NextID(ctx context.Context) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(id) + 1, 0) FROM chunks`,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next id: %w", err)
	}
	return next, nil
}

// Count returns the total number of chunk records.
func (s *SQLiteStorage) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// ListSources returns the set of distinct full_path values. This is the
// authoritative "already processed" set.
func (s *SQLiteStorage) ListSources(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT full_path FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	sources := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		sources[p] = struct{}{}
	}
	return sources, rows.Err()
}

// InsertBatch inserts records in one transaction. Every record must carry a
// pre-assigned id; an id collision fails the whole batch with ErrIDConflict.
func (s *SQLiteStorage) InsertBatch(ctx context.Context, records []models.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, doc_uuid, text, source, rep_type, full_path)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.DocUUID, rec.Text, rec.Source, rec.RepType, rec.FullPath); err != nil {
			if isConstraintErr(err) {
				return fmt.Errorf("insert chunk %d: %w", rec.ID, models.ErrIDConflict)
			}
			return fmt.Errorf("insert chunk %d: %w", rec.ID, err)
		}
	}
	return tx.Commit()
}

// FetchByIDs returns the records for the given ids in the caller's order.
// Ids with no record are omitted; duplicate requested ids each yield the
// record once per occurrence.
func (s *SQLiteStorage) FetchByIDs(ctx context.Context, ids []int64) ([]models.ChunkRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	unique := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		unique[id] = struct{}{}
	}
	placeholders := make([]string, 0, len(unique))
	args := make([]any, 0, len(unique))
	for id := range unique {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}

	query := fmt.Sprintf(
		`SELECT id, doc_uuid, text, source, rep_type, full_path
		 FROM chunks WHERE id IN (%s)`,
		strings.Join(placeholders, ","),
	)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]models.ChunkRecord, len(unique))
	for rows.Next() {
		var rec models.ChunkRecord
		if err := rows.Scan(&rec.ID, &rec.DocUUID, &rec.Text, &rec.Source, &rec.RepType, &rec.FullPath); err != nil {
			return nil, err
		}
		byID[rec.ID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Re-expand to the caller's order, dropping unknown ids.
	out := make([]models.ChunkRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// DeleteBySource removes every record whose full_path matches and returns the
// removed ids so the caller can purge the same ids from the vector index.
// A source with no records yields an empty slice, not an error.
func (s *SQLiteStorage) DeleteBySource(ctx context.Context, fullPath string) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE full_path = ?`, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunks for delete: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return []int64{}, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE full_path = ?`, fullPath); err != nil {
		return nil, fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListIDs returns every chunk id currently stored. Used by the drift sweep.
func (s *SQLiteStorage) ListIDs(ctx context.Context) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("failed to list ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
