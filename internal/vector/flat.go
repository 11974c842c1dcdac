// Package vector provides an exact inner-product index, the default backend.
package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fieldwise/kura/internal/models"
)

// Persistence format: magic, version, dimensions, count, then per entry an
// int64 id followed by dimensions*4 bytes of little-endian float32.
const (
	indexMagic   uint32 = 0x4b565849 // "IXVK"
	indexVersion uint32 = 1
)

// FlatIndex is a brute-force inner-product index. Exact, not approximate;
// fine up to the scale a single QA corpus reaches.
type FlatIndex struct {
	dimensions int
	ids        []int64
	vectors    [][]float32
	pos        map[int64]int
	mu         sync.RWMutex
}

// NewFlatIndex creates an empty flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		pos:        make(map[int64]int),
	}, nil
}

// Type returns the index type identifier.
func (m *FlatIndex) Type() string {
	return string(IndexTypeFlat)
}

// Add appends vectors under the given ids. Duplicate ids are rejected before
// anything is written so a failed batch leaves the index unchanged.
func (m *FlatIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		if _, exists := m.pos[id]; exists {
			return fmt.Errorf("id %d already in index", id)
		}
		if len(vectors[i]) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), m.dimensions)
		}
	}
	for i, id := range ids {
		vec := make([]float32, m.dimensions)
		copy(vec, vectors[i])
		m.pos[id] = len(m.ids)
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
	}
	return nil
}

// Search returns the top-k ids by inner product, descending. Vectors are
// unit-normalized upstream, so this is cosine similarity.
func (m *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]int64, []float32, error) {
	if len(query) != m.dimensions {
		return nil, nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return nil, nil, nil
	}
	type scored struct {
		id    int64
		score float32
	}
	scores := make([]scored, len(m.ids))
	for i, vec := range m.vectors {
		var dot float32
		for j := 0; j < m.dimensions; j++ {
			dot += query[j] * vec[j]
		}
		scores[i] = scored{id: m.ids[i], score: dot}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if k > len(scores) {
		k = len(scores)
	}
	ids := make([]int64, k)
	out := make([]float32, k)
	for i := 0; i < k; i++ {
		ids[i] = scores[i].id
		out[i] = scores[i].score
	}
	return ids, out, nil
}

// Remove deletes vectors by id, rebuilding the backing slices. Unknown ids
// are ignored.
func (m *FlatIndex) Remove(ctx context.Context, ids []int64) error {
	removeSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		removeSet[id] = true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	newIDs := make([]int64, 0, len(m.ids))
	newVectors := make([][]float32, 0, len(m.vectors))
	for i, id := range m.ids {
		if !removeSet[id] {
			newIDs = append(newIDs, id)
			newVectors = append(newVectors, m.vectors[i])
		}
	}
	m.ids = newIDs
	m.vectors = newVectors
	m.pos = make(map[int64]int, len(newIDs))
	for i, id := range newIDs {
		m.pos[id] = i
	}
	return nil
}

// Save writes the index to path. The write goes to a temp file first and is
// renamed into place, so a reader never sees a half-written index.
func (m *FlatIndex) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vectors-*")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	defer os.Remove(tmp.Name())

	header := []uint32{indexMagic, indexVersion, uint32(m.dimensions), uint32(len(m.ids))}
	for _, v := range header {
		if err := binary.Write(tmp, binary.LittleEndian, v); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write index header: %w", err)
		}
	}
	for i, id := range m.ids {
		if err := binary.Write(tmp, binary.LittleEndian, id); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write id: %w", err)
		}
		if _, err := tmp.Write(float32SliceToBytes(m.vectors[i])); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write vector: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace index file: %w", err)
	}
	return nil
}

// Load reads the index at path and replaces the in-memory contents.
// Dimensions must match. A missing file yields models.ErrIndexUnavailable:
// serving processes treat that as fatal, ingest paths start fresh.
func (m *FlatIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, models.ErrIndexUnavailable)
		}
		return fmt.Errorf("open index file: %w", err)
	}
	defer f.Close()

	var magic, version, dim, n uint32
	for _, p := range []*uint32{&magic, &version, &dim, &n} {
		if err := binary.Read(f, binary.LittleEndian, p); err != nil {
			return fmt.Errorf("read index header: %w", err)
		}
	}
	if magic != indexMagic {
		return fmt.Errorf("not a vector index file: %s", path)
	}
	if version != indexVersion {
		return fmt.Errorf("unsupported index version %d", version)
	}
	if int(dim) != m.dimensions {
		return fmt.Errorf("dimension mismatch: file has %d, index expects %d", dim, m.dimensions)
	}

	ids := make([]int64, 0, n)
	vectors := make([][]float32, 0, n)
	buf := make([]byte, m.dimensions*4)
	for i := uint32(0); i < n; i++ {
		var id int64
		if err := binary.Read(f, binary.LittleEndian, &id); err != nil {
			return fmt.Errorf("read id: %w", err)
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("read vector: %w", err)
		}
		ids = append(ids, id)
		vectors = append(vectors, bytesToFloat32Slice(buf))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = ids
	m.vectors = vectors
	m.pos = make(map[int64]int, len(ids))
	for i, id := range ids {
		m.pos[id] = i
	}
	return nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}

// Size returns the number of vectors in the index.
func (m *FlatIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Dimensions returns the vector dimension the index was created with.
func (m *FlatIndex) Dimensions() int {
	return m.dimensions
}

// Close is a no-op for FlatIndex.
func (m *FlatIndex) Close() error {
	return nil
}

// IDs returns a snapshot of every id in the index. Used by the drift sweep.
func (m *FlatIndex) IDs() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, len(m.ids))
	copy(out, m.ids)
	return out
}
