// Package storage defines the persistence interface for chunk records.
package storage

import (
	"context"

	"github.com/fieldwise/kura/internal/models"
)

// Storage defines chunk metadata persistence operations. Ids are engine
// assigned surrogates shared with the vector index.
type Storage interface {
	// NextID derives the next free id (max stored id + 1, 0 when empty)
	// from current table state.
	NextID(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)

	// ListSources returns the distinct source identifiers present, the
	// processed-set consulted before re-embedding unchanged sources.
	ListSources(ctx context.Context) (map[string]struct{}, error)
	ListIDs(ctx context.Context) (map[int64]struct{}, error)

	// InsertBatch bulk-inserts pre-identified records; the whole batch
	// fails with models.ErrIDConflict on any id collision.
	InsertBatch(ctx context.Context, records []models.ChunkRecord) error

	// FetchByIDs hydrates records in the caller's order, omitting ids not
	// found.
	FetchByIDs(ctx context.Context, ids []int64) ([]models.ChunkRecord, error)

	// DeleteBySource removes all records for one source identifier and
	// returns the removed ids.
	DeleteBySource(ctx context.Context, fullPath string) ([]int64, error)

	Close() error
}
