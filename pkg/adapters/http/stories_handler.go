// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/leseb/storybridge/pkg/core/state"
)

const (
	maxDocumentSize = 32 * 1024 * 1024 // 32 MB
	maxBodySize     = 4 * 1024 * 1024  // 4 MB
)

// CreateStoryRequest is the body of POST /v1/stories.
type CreateStoryRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// AddTestCasesRequest is the body of POST /v1/stories/{id}/test_cases.
// StartTime defaults to the time of the request.
type AddTestCasesRequest struct {
	TestCases []state.TestCase `json:"test_cases"`
	StartTime *time.Time       `json:"start_time,omitempty"`
	EndTime   *time.Time       `json:"end_time,omitempty"`
}

// SearchResponse is returned by the similarity search endpoints.
type SearchResponse struct {
	Query   string               `json:"query"`
	Scope   string               `json:"scope,omitempty"`
	Results []state.SearchResult `json:"results"`
}

// handleListStories handles GET /v1/stories
func (h *Handler) handleListStories(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	// Unparseable values fall through to the engine's clamping.
	page, _ := strconv.Atoi(query.Get("page"))
	perPage, _ := strconv.Atoi(query.Get("per_page"))

	h.writeJSON(w, http.StatusOK, h.engine.ListStories(r.Context(), page, perPage))
}

// handleCreateStory handles POST /v1/stories
func (h *Handler) handleCreateStory(w http.ResponseWriter, r *http.Request) {
	var req CreateStoryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse request body")
		return
	}

	id, err := h.ingestion.AddStory(r.Context(), req.Title, req.Description)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	view, err := h.engine.GetStory(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, view)
}

// handleUploadDocument handles POST /v1/stories/documents
func (h *Handler) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxDocumentSize)
	if err := r.ParseMultipartForm(maxDocumentSize); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "File is required")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read document", "error", err)
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to read file content")
		return
	}

	ids, err := h.ingestion.AddStoryFromDocument(r.Context(), header.Filename, content)
	if err != nil {
		h.writePartialError(w, r, err, ids)
		return
	}

	h.logger.Info("Document ingested", "filename", header.Filename, "bytes", len(content), "num_stories", len(ids))
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"filename":  header.Filename,
		"story_ids": ids,
	})
}

// handleGetStory handles GET /v1/stories/{id}
func (h *Handler) handleGetStory(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.GetStory(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// handleGetTestCases handles GET /v1/stories/{id}/test_cases
func (h *Handler) handleGetTestCases(w http.ResponseWriter, r *http.Request) {
	tc, err := h.engine.GetTestCases(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tc)
}

// handleAddTestCases handles POST /v1/stories/{id}/test_cases
func (h *Handler) handleAddTestCases(w http.ResponseWriter, r *http.Request) {
	storyID := r.PathValue("id")

	var req AddTestCasesRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Failed to parse request body")
		return
	}
	if len(req.TestCases) == 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "test_cases must not be empty")
		return
	}

	start := time.Now()
	if req.StartTime != nil {
		start = *req.StartTime
	}

	artifactID, err := h.ingestion.AddTestCases(r.Context(), storyID, req.TestCases, start, req.EndTime)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"artifact_id":    artifactID,
		"story_id":       storyID,
		"num_test_cases": len(req.TestCases),
	})
}

// handleSearchStory handles GET /v1/stories/{id}/search
func (h *Handler) handleSearchStory(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, r.PathValue("id"))
}

// handleSearchCatalog handles GET /v1/search
func (h *Handler) handleSearchCatalog(w http.ResponseWriter, r *http.Request) {
	h.search(w, r, "")
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, scope string) {
	query := r.URL.Query()
	q := strings.TrimSpace(query.Get("q"))
	if q == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "q is required")
		return
	}

	k := 0
	if v := query.Get("k"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "k must be an integer")
			return
		}
		k = parsed
	}

	results, err := h.engine.SearchSimilar(r.Context(), q, scope, k)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SearchResponse{Query: q, Scope: scope, Results: results})
}

// handleDownload handles GET /v1/stories/{id}/download
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	obj, err := h.exports.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Content)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(obj.Key)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(obj.Content); err != nil {
		h.logger.Error("Failed to write download", "key", obj.Key, "error", err)
	}
}
