package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/fieldwise/kura/internal/models"
	"github.com/fieldwise/kura/internal/search"
)

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.ask == nil {
		s.respondError(w, http.StatusNotImplemented, "no answer model configured")
		return
	}
	var req models.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("ask request", zap.String("query", req.Query))
	resp, err := s.ask.Ask(r.Context(), req.Query)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	chunks, err := s.retriever.Retrieve(r.Context(), req.Query, search.Options{TopK: req.TopK})
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"results": chunks})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("ingest request", zap.String("url", req.URL), zap.String("title", req.Title))
	n, err := s.engine.Reingest(r.Context(), models.SourceDoc{
		FullPath:    req.URL,
		DisplayName: "Wiki: " + req.Title,
		Text:        req.Content,
		RepType:     models.RepTypeWiki,
	})
	if err != nil {
		s.logger.Error("ingest failed", zap.String("url", req.URL), zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.IngestResponse{Status: "ok", Chunks: n})
}

// handleReload makes writes from another process visible to this one by
// hot-loading the persisted vector index and processed set.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Reload(r.Context()); err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	s.logger.Debug("delete request", zap.String("path", path))
	ids, err := s.engine.Delete(r.Context(), path)
	if err != nil {
		s.logger.Error("delete failed", zap.String("path", path), zap.Error(err))
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "deleted", "chunks": len(ids)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	chunks, err := s.store.Count(r.Context())
	if err != nil {
		s.logger.Error("status: chunk count failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, models.StatusResponse{
		ChunkCount:  chunks,
		SourceCount: s.engine.SourceCount(),
		IndexSize:   s.engine.IndexSize(),
		DriftCount:  s.engine.DriftCount() + s.retriever.DriftCount(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// respondFailure maps sentinel errors to HTTP status codes.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrEmptyQuery), errors.Is(err, models.ErrInvalidPayload):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrIndexUnavailable):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, models.ErrEmbedding), errors.Is(err, models.ErrGeneration):
		s.respondError(w, http.StatusBadGateway, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
