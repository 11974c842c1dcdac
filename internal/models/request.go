package models

import "strings"

// IngestRequest is the payload for the ingest endpoint. URL is the source
// identifier; re-sending the same URL replaces all chunks derived from it.
type IngestRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Validate checks the ingest payload. Content may legitimately be empty
// (the engine treats it as a no-op), but the identifying fields may not.
func (r *IngestRequest) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return ErrInvalidPayload
	}
	if strings.TrimSpace(r.Title) == "" {
		r.Title = r.URL
	}
	return nil
}

// AskRequest is the payload for the ask endpoint.
type AskRequest struct {
	Query string `json:"query"`
}

// Validate rejects empty or whitespace-only queries.
func (r *AskRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return ErrEmptyQuery
	}
	return nil
}
