// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/leseb/storybridge/pkg/core/engine"
	"github.com/leseb/storybridge/pkg/core/services"
	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/observability/logging"
)

const requestIDHeader = "X-Request-ID"

// Handler implements the HTTP adapter
type Handler struct {
	engine    *engine.Engine
	ingestion *services.IngestionService
	exports   *services.ExportService
	logger    *logging.Logger
	mux       *http.ServeMux
}

// New creates a new HTTP handler
func New(eng *engine.Engine, ingestion *services.IngestionService, exports *services.ExportService, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	h := &Handler{
		engine:    eng,
		ingestion: ingestion,
		exports:   exports,
		logger:    logger,
		mux:       http.NewServeMux(),
	}

	// Register routes
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /openapi.json", h.handleOpenAPI)

	// Stories API
	h.mux.HandleFunc("GET /v1/stories", h.handleListStories)
	h.mux.HandleFunc("POST /v1/stories", h.handleCreateStory)
	h.mux.HandleFunc("POST /v1/stories/documents", h.handleUploadDocument)
	h.mux.HandleFunc("GET /v1/stories/{id}", h.handleGetStory)
	h.mux.HandleFunc("GET /v1/stories/{id}/test_cases", h.handleGetTestCases)
	h.mux.HandleFunc("POST /v1/stories/{id}/test_cases", h.handleAddTestCases)
	h.mux.HandleFunc("GET /v1/stories/{id}/search", h.handleSearchStory)
	h.mux.HandleFunc("GET /v1/stories/{id}/download", h.handleDownload)

	// Catalog-wide similarity search
	h.mux.HandleFunc("GET /v1/search", h.handleSearchCatalog)

	return h
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// ServeHTTP implements http.Handler. Every request carries a request id,
// taken from the X-Request-ID header or generated.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, requestID)

	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)

	h.logger.Info("Request",
		"request_id", requestID,
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration_ms", time.Since(start).Milliseconds(),
		"remote_addr", r.RemoteAddr)
}

// handleHealth handles health check requests
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// apiError is the body of every error response. StoryIDs lists stories
// that were committed before a multi-story request failed.
type apiError struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Stage    string   `json:"stage,omitempty"`
	StoryID  string   `json:"story_id,omitempty"`
	StoryIDs []string `json:"story_ids,omitempty"`
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, errType, message string) {
	h.writeJSON(w, status, map[string]apiError{
		"error": {Type: errType, Message: message},
	})
}

// writeServiceError maps an engine or service error onto a status code.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	h.writePartialError(w, r, err, nil)
}

// writePartialError is writeServiceError for requests that may have
// committed some stories before failing.
func (h *Handler) writePartialError(w http.ResponseWriter, r *http.Request, err error, committed []string) {
	status, body := h.classify(r, err)
	if len(committed) > 0 {
		body.StoryIDs = committed
		h.logger.Warn("Request failed after partial commit", "path", r.URL.Path, "story_ids", committed)
	}
	h.writeJSON(w, status, map[string]apiError{"error": body})
}

func (h *Handler) classify(r *http.Request, err error) (int, apiError) {
	var ingestErr *services.IngestionError
	switch {
	case errors.Is(err, state.ErrNotFound):
		h.logger.Debug("Not found", "path", r.URL.Path, "error", err)
		return http.StatusNotFound, apiError{Type: "not_found", Message: err.Error()}
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, engine.ErrLimitExceeded):
		return http.StatusBadRequest, apiError{Type: "invalid_request", Message: err.Error()}
	case errors.As(err, &ingestErr):
		h.logger.Error("Ingestion failed", "stage", ingestErr.Stage, "story_id", ingestErr.StoryID, "error", ingestErr.Err)
		return http.StatusBadGateway, apiError{
			Type:    "ingestion_error",
			Message: err.Error(),
			Stage:   string(ingestErr.Stage),
			StoryID: ingestErr.StoryID,
		}
	default:
		h.logger.Error("Request failed", "path", r.URL.Path, "error", err)
		return http.StatusInternalServerError, apiError{Type: "internal_error", Message: err.Error()}
	}
}
