// Package keyword provides a BM25 side index over chunk text. It serves as
// the retrieval fallback when no embedder is configured or available.
package keyword

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

// Result is a single keyword search hit.
type Result struct {
	ID    int64
	Score float64
}

// chunkDoc is the shape indexed per chunk.
type chunkDoc struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// BleveIndex indexes chunk text keyed by the chunk's surrogate id.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is
// reused; remove the directory to force a rebuild after mapping changes.
func NewBleveIndex(path string) (*BleveIndex, error) {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer: lowercase + tokenize without stemming, so exact
	// words match across languages.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("text", textFieldMapping)
	docMapping.AddFieldMappingsAt("source", textFieldMapping)
	im.DefaultMapping = docMapping

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open keyword index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, im)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds one chunk's text under its id.
func (b *BleveIndex) Index(ctx context.Context, id int64, text, source string) error {
	return b.index.Index(strconv.FormatInt(id, 10), chunkDoc{Text: text, Source: source})
}

// Delete removes chunks by id. Unknown ids are ignored by bleve.
func (b *BleveIndex) Delete(ctx context.Context, ids []int64) error {
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(strconv.FormatInt(id, 10))
	}
	return b.index.Batch(batch)
}

// Search runs a match query over chunk text and returns up to limit hits by
// descending BM25 score.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	q := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := b.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Result{ID: id, Score: hit.Score})
	}
	return out, nil
}

// DocCount returns the number of chunks indexed.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the underlying index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
