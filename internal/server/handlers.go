package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/passagehq/passage/internal/errdefs"
	"github.com/passagehq/passage/internal/models"
	"github.com/passagehq/passage/internal/rag"
	"github.com/passagehq/passage/internal/registry"
)

type queryRequest struct {
	Query     string `json:"query"`
	K         int    `json:"k"`
	Generate  *bool  `json:"generate,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	generate := true
	if req.Generate != nil {
		generate = *req.Generate
	}
	s.logger.Debug("query request",
		zap.String("query", req.Query),
		zap.Int("k", req.K),
		zap.Bool("generate", generate))

	result, err := s.service.Answer(r.Context(), req.Query, rag.QueryOptions{
		K:         req.K,
		Generate:  generate,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		s.logger.Error("query failed", zap.Error(err))
		// A non-nil result means retrieval succeeded and only the generation
		// phase failed (adapter error or timeout); keep the sources.
		if result != nil {
			code := http.StatusBadGateway
			if errors.Is(err, errdefs.ErrTimeout) {
				code = http.StatusGatewayTimeout
			}
			s.respondJSON(w, code, map[string]interface{}{
				"error":  err.Error(),
				"result": result,
			})
			return
		}
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleIngestDocument(w http.ResponseWriter, r *http.Request) {
	var input models.DocumentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if input.ID == "" {
		s.respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	s.logger.Debug("ingest document request", zap.String("id", input.ID), zap.String("title", input.Title))
	result, err := s.pipeline.Ingest(r.Context(), input.ID, input.Title, input.Content)
	if err != nil {
		s.logger.Error("ingestion failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)
	docs, err := s.registry.List(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("list documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.registry.Count(r.Context())
	if err != nil {
		s.logger.Error("count documents failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"documents": docs,
		"total":     total,
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	doc, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "document not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete document request", zap.String("id", id))
	if err := s.pipeline.DeleteDocument(r.Context(), id); err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("clear request")
	result, err := s.service.Clear(r.Context())
	if err != nil {
		s.logger.Error("clear failed", zap.Error(err))
		s.respondError(w, statusForError(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.service.Health(r.Context())
	code := http.StatusOK
	if !status.Alive {
		code = http.StatusServiceUnavailable
	}
	s.respondJSON(w, code, status)
}

// statusForError maps the error taxonomy to HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, errdefs.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, errdefs.ErrBackendUnavailable), errors.Is(err, errdefs.ErrTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, errdefs.ErrEmbeddingFailure), errors.Is(err, errdefs.ErrGenerationFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
