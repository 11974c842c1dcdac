// Package vector provides vector index implementations and a factory for creating them.
package vector

import "fmt"

// IndexType selects a vector index backend.
type IndexType string

const (
	// IndexTypeFlat uses exact brute-force inner-product search. The default.
	IndexTypeFlat IndexType = "flat"
	// IndexTypeFAISS uses FAISS for ANN search at larger scale.
	// Requires the FAISS library and build tag -tags=faiss.
	IndexTypeFAISS IndexType = "faiss"
)

// New creates a vector index of the given type. Supported: "flat" (default),
// "faiss" (needs -tags=faiss and the FAISS C library installed).
func New(indexType string, dimensions int) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeFlat, "":
		return NewFlatIndex(dimensions)
	case IndexTypeFAISS:
		return NewFAISSIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: flat, faiss)", indexType)
	}
}

// IsFAISSAvailable reports whether FAISS support is compiled in.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1)
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
