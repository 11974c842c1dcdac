// Package vector provides id-addressed vector indexes with similarity search.
package vector

import "context"

// VectorIndex defines vector storage and similarity search. Ids are the
// engine-assigned chunk surrogates shared with the metadata store; an id
// present here without a metadata row is drift and is dropped by callers
// at search time.
type VectorIndex interface {
	// Add associates each vector with its caller-supplied id. Adding an id
	// already in the index is a precondition violation and returns an error.
	Add(ctx context.Context, ids []int64, vectors [][]float32) error
	// Remove deletes vectors by id. Unknown ids are ignored.
	Remove(ctx context.Context, ids []int64) error
	// Search returns up to k ids with their inner-product scores,
	// descending. Fewer than k are returned when the index is smaller.
	Search(ctx context.Context, query []float32, k int) ([]int64, []float32, error)
	// Save serializes the index to path.
	Save(path string) error
	// Load replaces the in-memory contents with the persisted index at
	// path. This is the hot-reload primitive: a serving process picks up
	// writes made elsewhere without restarting. A missing file yields
	// models.ErrIndexUnavailable.
	Load(path string) error
	Size() int
	Dimensions() int
	// IDs returns a snapshot of every id present. Used by the drift sweep.
	IDs() []int64
	Close() error
}
