// Package ingest provides the synchronization engine that keeps the vector
// index and the metadata store consistent across ingest, re-ingest, and
// delete.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldwise/kura/internal/chunker"
	"github.com/fieldwise/kura/internal/embedding"
	"github.com/fieldwise/kura/internal/keyword"
	"github.com/fieldwise/kura/internal/models"
	"github.com/fieldwise/kura/internal/storage"
	"github.com/fieldwise/kura/internal/vector"
)

// Engine orchestrates writes across the vector index and the metadata store.
// The two stores share surrogate ids but have no common transaction, so the
// engine serializes every mutation (and index reload) behind one mutex and
// relies on write ordering for consistency: vectors first, then metadata. A
// stray vector without a metadata row is harmless drift, silently dropped at
// search time; a metadata row without a vector would never be found by
// similarity search, which is the failure mode this ordering avoids.
type Engine struct {
	store        storage.Storage
	embedder     embedding.Embedder
	index        vector.VectorIndex
	keywordIndex *keyword.BleveIndex
	chunker      *chunker.Chunker
	indexPath    string
	logger       *zap.Logger

	// mu is the single-writer lock covering allocator read, vector
	// add/remove, index persistence, metadata write, and reload.
	mu        sync.Mutex
	processed map[string]struct{}
	// nextID is the allocator's high-water mark. It only ever grows, so
	// ids freed by a deletion are never handed out again even when the
	// deleted rows held the table maximum.
	nextID int64
	drift  atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithKeywordIndex attaches a BM25 side index kept in step with the stores.
func WithKeywordIndex(kw *keyword.BleveIndex) Option {
	return func(e *Engine) { e.keywordIndex = kw }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates the engine and loads the processed-set from the store.
// indexPath is where the vector index is persisted after every mutating batch.
func NewEngine(
	store storage.Storage,
	embedder embedding.Embedder,
	index vector.VectorIndex,
	ch *chunker.Chunker,
	indexPath string,
	opts ...Option,
) (*Engine, error) {
	processed, err := store.ListSources(context.Background())
	if err != nil {
		return nil, fmt.Errorf("load processed set: %w", err)
	}
	nextID, err := store.NextID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("seed id allocator: %w", err)
	}
	e := &Engine{
		store:     store,
		embedder:  embedder,
		index:     index,
		chunker:   ch,
		indexPath: indexPath,
		logger:    zap.NewNop(),
		processed: processed,
		nextID:    nextID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// HasSource reports whether fullPath is in the processed-set.
func (e *Engine) HasSource(fullPath string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.processed[fullPath]
	return ok
}

// SourceCount returns the size of the processed-set.
func (e *Engine) SourceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.processed)
}

// DriftCount returns the number of write-side drift events observed (vector
// entries whose metadata write failed).
func (e *Engine) DriftCount() int64 {
	return e.drift.Load()
}

// IndexSize returns the number of vectors currently in the index.
func (e *Engine) IndexSize() int {
	return e.index.Size()
}

// Ingest chunks, embeds, and stores src. When force is false and the source
// is already processed, nothing happens. Returns the number of chunks stored.
func (e *Engine) Ingest(ctx context.Context, src models.SourceDoc, force bool) (int, error) {
	if !force && e.HasSource(src.FullPath) {
		return 0, nil
	}
	batch, err := e.prepare(ctx, src)
	if err != nil {
		return 0, err
	}
	if batch == nil {
		return 0, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !force {
		if _, ok := e.processed[src.FullPath]; ok {
			return 0, nil
		}
	}
	return e.commitLocked(ctx, src.FullPath, batch)
}

// Reingest replaces every chunk of src.FullPath with chunks freshly derived
// from src.Text. Deletion and insertion run under one lock acquisition, so no
// reader of the processed-set ever observes the source as absent in between.
func (e *Engine) Reingest(ctx context.Context, src models.SourceDoc) (int, error) {
	batch, err := e.prepare(ctx, src)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.deleteLocked(ctx, src.FullPath); err != nil {
		return 0, err
	}
	if batch == nil {
		return 0, nil
	}
	return e.commitLocked(ctx, src.FullPath, batch)
}

// Delete removes every chunk of fullPath from both stores and returns the
// removed ids. Deleting an unseen source is a no-op.
func (e *Engine) Delete(ctx context.Context, fullPath string) ([]int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deleteLocked(ctx, fullPath)
}

// Reload replaces the in-memory vector index with the persisted one and
// refreshes the processed-set. Mutually exclusive with every mutation so a
// half-written file is never read.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.index.Load(e.indexPath); err != nil {
		return err
	}
	processed, err := e.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("refresh processed set: %w", err)
	}
	e.processed = processed
	if next, err := e.store.NextID(ctx); err == nil && next > e.nextID {
		e.nextID = next
	}
	e.logger.Info("vector index reloaded",
		zap.String("path", e.indexPath),
		zap.Int("vectors", e.index.Size()),
		zap.Int("sources", len(processed)))
	return nil
}

// Sweep removes vector index entries that have no metadata row. Drift
// reconciliation is out-of-band maintenance, not part of any write path.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stored, err := e.store.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stored ids: %w", err)
	}
	var orphans []int64
	for _, id := range e.index.IDs() {
		if _, ok := stored[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	if err := e.index.Remove(ctx, orphans); err != nil {
		return 0, fmt.Errorf("remove orphan vectors: %w", err)
	}
	if err := e.index.Save(e.indexPath); err != nil {
		return 0, fmt.Errorf("persist index after sweep: %w", err)
	}
	e.logger.Info("drift sweep removed orphan vectors", zap.Int("count", len(orphans)))
	return len(orphans), nil
}

// batch is a fully embedded set of records awaiting ids.
type batch struct {
	records []models.ChunkRecord
	vectors [][]float32
}

// prepare chunks and embeds src outside the write lock. Embedding is the slow
// network call; any failure here aborts the batch before anything is written.
// A nil batch means empty input.
func (e *Engine) prepare(ctx context.Context, src models.SourceDoc) (*batch, error) {
	chunks := e.chunker.Split(src.Text)
	if len(chunks) == 0 {
		return nil, nil
	}
	if e.embedder == nil {
		return nil, fmt.Errorf("%w: no embedder configured", models.ErrEmbedding)
	}
	vectors, err := e.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrEmbedding, err)
	}

	records := make([]models.ChunkRecord, len(chunks))
	for i, text := range chunks {
		source := src.DisplayName
		if len(chunks) > 1 {
			source = fmt.Sprintf("%s (part %d/%d)", src.DisplayName, i+1, len(chunks))
		}
		records[i] = models.ChunkRecord{
			// Deterministic per (source, ordinal, content): re-ingesting
			// identical text yields the same doc_uuid, and the ordinal
			// keeps repeated chunk texts within one source distinct.
			DocUUID:  uuid.NewSHA1(uuid.NameSpaceURL, fmt.Appendf(nil, "%s\x00%d\x00%s", src.FullPath, i, text)).String(),
			Text:     text,
			Source:   source,
			RepType:  src.RepType,
			FullPath: src.FullPath,
		}
	}
	return &batch{records: records, vectors: vectors}, nil
}

// commitLocked allocates ids and writes the batch: vector add, index persist,
// then metadata insert. Caller holds e.mu.
func (e *Engine) commitLocked(ctx context.Context, fullPath string, b *batch) (int, error) {
	startID, err := e.store.NextID(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate ids: %w", err)
	}
	// The high-water mark wins over the table maximum, so a re-ingest
	// (or any delete) never rolls the sequence back onto freed ids.
	if startID < e.nextID {
		startID = e.nextID
	}
	e.nextID = startID + int64(len(b.records))
	ids := make([]int64, len(b.records))
	for i := range b.records {
		ids[i] = startID + int64(i)
		b.records[i].ID = ids[i]
	}

	if err := e.index.Add(ctx, ids, b.vectors); err != nil {
		return 0, fmt.Errorf("add vectors: %w", err)
	}
	if err := e.index.Save(e.indexPath); err != nil {
		// Vectors are live in memory but not durable; metadata is not
		// written. Surfaced, not auto-corrected.
		e.noteDrift(len(ids), fullPath, "index persist failed", err)
		return 0, fmt.Errorf("persist index: %w", err)
	}
	if err := e.store.InsertBatch(ctx, b.records); err != nil {
		// The vector write already succeeded: orphaned vector entries
		// remain until the next sweep.
		e.noteDrift(len(ids), fullPath, "metadata insert failed after vector write", err)
		return 0, fmt.Errorf("insert metadata: %w", err)
	}

	if e.keywordIndex != nil {
		for _, rec := range b.records {
			if err := e.keywordIndex.Index(ctx, rec.ID, rec.Text, rec.Source); err != nil {
				e.logger.Warn("keyword index add failed",
					zap.Int64("id", rec.ID), zap.Error(err))
			}
		}
	}

	e.processed[fullPath] = struct{}{}
	e.logger.Info("source ingested",
		zap.String("full_path", fullPath),
		zap.Int("chunks", len(ids)),
		zap.Int64("first_id", startID))
	return len(ids), nil
}

// deleteLocked removes fullPath's records from the metadata store, then the
// same ids from the vector index. When delete is explicit, vector entries must
// not outlive their metadata rows, so a failed index removal is retried once
// before the error is surfaced. Caller holds e.mu.
func (e *Engine) deleteLocked(ctx context.Context, fullPath string) ([]int64, error) {
	ids, err := e.store.DeleteBySource(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("delete metadata: %w", err)
	}
	if len(ids) == 0 {
		delete(e.processed, fullPath)
		return ids, nil
	}

	if err := e.index.Remove(ctx, ids); err != nil {
		e.logger.Warn("vector removal failed, retrying", zap.Error(err))
		if err := e.index.Remove(ctx, ids); err != nil {
			e.noteDrift(len(ids), fullPath, "vector removal failed after delete", err)
			return nil, fmt.Errorf("remove vectors: %w", err)
		}
	}
	if err := e.index.Save(e.indexPath); err != nil {
		return nil, fmt.Errorf("persist index: %w", err)
	}

	if e.keywordIndex != nil {
		if err := e.keywordIndex.Delete(ctx, ids); err != nil {
			e.logger.Warn("keyword index delete failed", zap.Error(err))
		}
	}

	delete(e.processed, fullPath)
	e.logger.Info("source deleted",
		zap.String("full_path", fullPath),
		zap.Int("chunks", len(ids)))
	return ids, nil
}

func (e *Engine) noteDrift(n int, fullPath, msg string, err error) {
	e.drift.Add(int64(n))
	e.logger.Error("store drift: "+msg,
		zap.String("full_path", fullPath),
		zap.Int("ids", n),
		zap.Error(err))
}
