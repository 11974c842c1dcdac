// Package models defines core data structures for chunks, requests, and retrieval results.
package models

// ChunkRecord is the unit of storage: one embedded slice of a source document.
// The same ID addresses the chunk's vector in the vector index and its row in
// the metadata store. IDs are assigned once, monotonically, and never reused
// after deletion.
type ChunkRecord struct {
	ID      int64  `json:"id"`
	DocUUID string `json:"doc_uuid"`
	Text    string `json:"text"`
	// Source is a human-readable display label. When a document was split,
	// it carries a segment suffix, e.g. "Rice farming (part 2/4)".
	Source  string `json:"source"`
	RepType string `json:"rep_type"`
	// FullPath is the source identifier: the stable key (file path or
	// canonical URL) shared by every chunk of one logical document.
	FullPath string `json:"full_path"`
}

// Provenance tags for RepType.
const (
	RepTypeFile = "file_content"
	RepTypeWiki = "wiki_content"
)

// SourceDoc is a logical document handed to the ingest engine before chunking.
type SourceDoc struct {
	// FullPath is the source identifier (see ChunkRecord.FullPath).
	FullPath string
	// DisplayName is the base label for the Source field of produced chunks.
	DisplayName string
	Text        string
	RepType     string
}
