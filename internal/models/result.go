package models

// RetrievedChunk is a single retrieval hit, hydrated from the metadata store.
// Score is the rerank score when reranking ran, otherwise the raw inner-product
// similarity from the vector search. Rank is 1-based.
type RetrievedChunk struct {
	Rank     int     `json:"rank"`
	ID       int64   `json:"id"`
	Score    float64 `json:"score"`
	Text     string  `json:"text"`
	Source   string  `json:"source"`
	RepType  string  `json:"rep_type"`
	FullPath string  `json:"full_path"`
}

// IngestResponse reports the outcome of an ingest call.
type IngestResponse struct {
	Status string `json:"status"`
	Chunks int    `json:"chunks"`
}

// AskResponse carries the generated answer and the chunks it was grounded on.
type AskResponse struct {
	Answer  string           `json:"answer"`
	Sources []RetrievedChunk `json:"sources"`
}

// StatusResponse reports store and index state for the status endpoint.
type StatusResponse struct {
	ChunkCount  int64 `json:"chunk_count"`
	SourceCount int   `json:"source_count"`
	IndexSize   int   `json:"index_size"`
	DriftCount  int64 `json:"drift_count"`
}
