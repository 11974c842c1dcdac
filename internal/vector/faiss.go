//go:build faiss && cgo
// +build faiss,cgo

// Package vector provides a FAISS-backed index for larger corpora.
package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"

	"github.com/fieldwise/kura/internal/models"
)

// FAISSIndex wraps a FAISS IndexFlatIP (inner product over normalized vectors,
// i.e. cosine). Chunk ids are mapped to FAISS insertion labels; removal only
// drops the mapping, the slot is never handed out again.
type FAISSIndex struct {
	index      *C.FaissIndexFlatIP
	dimensions int
	idToLabel  map[int64]int64
	labelToID  map[int64]int64
	nextLabel  int64
	mu         sync.RWMutex
}

// NewFAISSIndex creates a FAISS inner-product index with the given dimension.
func NewFAISSIndex(dimensions int) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}

	var index *C.FaissIndexFlatIP
	ret := C.faiss_IndexFlatIP_new_with(&index, C.idx_t(dimensions))
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}

	return &FAISSIndex{
		index:      index,
		dimensions: dimensions,
		idToLabel:  make(map[int64]int64),
		labelToID:  make(map[int64]int64),
	}, nil
}

func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Add appends vectors under the given chunk ids. Duplicate ids are rejected
// before anything is written.
func (f *FAISSIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := len(vectors)
	flatVectors := make([]float32, n*f.dimensions)
	for i, vec := range vectors {
		if len(vec) != f.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), f.dimensions)
		}
		if _, exists := f.idToLabel[ids[i]]; exists {
			return fmt.Errorf("id %d already in index", ids[i])
		}
		copy(flatVectors[i*f.dimensions:(i+1)*f.dimensions], vec)
	}

	ret := C.faiss_Index_add(
		f.index,
		C.idx_t(n),
		(*C.float)(unsafe.Pointer(&flatVectors[0])),
	)
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}

	for _, id := range ids {
		f.idToLabel[id] = f.nextLabel
		f.labelToID[f.nextLabel] = id
		f.nextLabel++
	}

	return nil
}

// Search returns the top-k chunk ids by inner product, descending. Labels
// whose mapping was removed are skipped, so fewer than k hits may come back.
func (f *FAISSIndex) Search(ctx context.Context, query []float32, k int) ([]int64, []float32, error) {
	if len(query) != f.dimensions {
		return nil, nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if k <= 0 {
		return nil, nil, nil
	}
	ntotal := int(C.faiss_Index_ntotal(f.index))
	if ntotal == 0 {
		return nil, nil, nil
	}
	if k > ntotal {
		k = ntotal
	}

	distances := make([]float32, k)
	labels := make([]int64, k)

	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	type scored struct {
		id    int64
		score float32
	}
	results := make([]scored, 0, k)
	for i := 0; i < k; i++ {
		label := labels[i]
		if label < 0 {
			continue
		}
		id, ok := f.labelToID[label]
		if !ok {
			continue
		}
		results = append(results, scored{id: id, score: distances[i]})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].score > results[j].score })

	ids := make([]int64, len(results))
	scores := make([]float32, len(results))
	for i, r := range results {
		ids[i] = r.id
		scores[i] = r.score
	}
	return ids, scores, nil
}

// Remove drops ids from the mapping. FAISS IndexFlat has no efficient
// removal, so the vectors stay in the index but can never match again.
// Periodic rebuilds reclaim the space.
func (f *FAISSIndex) Remove(ctx context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, id := range ids {
		if label, ok := f.idToLabel[id]; ok {
			delete(f.labelToID, label)
			delete(f.idToLabel, id)
		}
	}
	return nil
}

type faissIDMapping struct {
	IDToLabel map[int64]int64
	LabelToID map[int64]int64
	NextLabel int64
}

// Save persists the FAISS index and the id mapping next to it.
func (f *FAISSIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	cPath := C.CString(path + ".faiss")
	defer C.free(unsafe.Pointer(cPath))

	ret := C.faiss_write_index_fname(f.index, cPath)
	if ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}

	mapping := faissIDMapping{
		IDToLabel: f.idToLabel,
		LabelToID: f.labelToID,
		NextLabel: f.nextLabel,
	}
	mapFile, err := os.Create(path + ".idmap")
	if err != nil {
		return fmt.Errorf("create id map file: %w", err)
	}
	defer mapFile.Close()

	if err := gob.NewEncoder(mapFile).Encode(mapping); err != nil {
		return fmt.Errorf("encode id map: %w", err)
	}
	return nil
}

// Load replaces the in-memory index with the persisted one. A missing index
// file yields models.ErrIndexUnavailable.
func (f *FAISSIndex) Load(path string) error {
	if path == "" {
		return nil
	}

	faissPath := path + ".faiss"
	mapPath := path + ".idmap"

	if _, err := os.Stat(faissPath); os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", faissPath, models.ErrIndexUnavailable)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	cPath := C.CString(faissPath)
	defer C.free(unsafe.Pointer(cPath))

	var newIndex *C.FaissIndex
	ret := C.faiss_read_index_fname(cPath, 0, &newIndex)
	if ret != 0 {
		return fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}

	if f.index != nil {
		C.faiss_Index_free(f.index)
	}
	f.index = newIndex

	mapFile, err := os.Open(mapPath)
	if err != nil {
		if os.IsNotExist(err) {
			f.idToLabel = make(map[int64]int64)
			f.labelToID = make(map[int64]int64)
			f.nextLabel = 0
			return nil
		}
		return fmt.Errorf("open id map file: %w", err)
	}
	defer mapFile.Close()

	var mapping faissIDMapping
	if err := gob.NewDecoder(mapFile).Decode(&mapping); err != nil {
		return fmt.Errorf("decode id map: %w", err)
	}

	f.idToLabel = mapping.IDToLabel
	f.labelToID = mapping.LabelToID
	f.nextLabel = mapping.NextLabel
	return nil
}

// Size returns the number of live ids (removed mappings excluded).
func (f *FAISSIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.idToLabel)
}

// Dimensions returns the vector dimension the index was created with.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// IDs returns a snapshot of every live id.
func (f *FAISSIndex) IDs() []int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]int64, 0, len(f.idToLabel))
	for id := range f.idToLabel {
		out = append(out, id)
	}
	return out
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}

// Type returns the index type identifier.
func (f *FAISSIndex) Type() string {
	return string(IndexTypeFAISS)
}
