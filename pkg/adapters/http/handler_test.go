// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/leseb/storybridge/pkg/core/config"
	"github.com/leseb/storybridge/pkg/core/engine"
	"github.com/leseb/storybridge/pkg/core/services"
	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/embedding"
	filememory "github.com/leseb/storybridge/pkg/filestore/memory"
	"github.com/leseb/storybridge/pkg/storage/memory"
	"github.com/leseb/storybridge/pkg/vectorstore"
)

// brokenStories fails every vector insert.
type brokenStories struct {
	*vectorstore.MemoryBackend
}

func (brokenStories) InsertStory(context.Context, state.Story) error {
	return errors.New("vector store offline")
}

// flakyStories accepts the first ok inserts and fails the rest.
type flakyStories struct {
	*vectorstore.MemoryBackend
	ok      int
	inserts int
}

func (f *flakyStories) InsertStory(ctx context.Context, s state.Story) error {
	f.inserts++
	if f.inserts > f.ok {
		return errors.New("vector store offline")
	}
	return f.MemoryBackend.InsertStory(ctx, s)
}

func newTestHandler(t *testing.T, stories vectorstore.Backend) *Handler {
	t.Helper()
	artifacts := memory.New()
	embedder := embedding.NewHashClient(64)

	cfg := config.Default().Engine
	eng, err := engine.New(&cfg, stories, artifacts, embedder, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	ingestion, err := services.NewIngestionService(artifacts, stories, embedder, nil)
	if err != nil {
		t.Fatalf("NewIngestionService: %v", err)
	}
	exports, err := services.NewExportService(eng, filememory.New(), nil)
	if err != nil {
		t.Fatalf("NewExportService: %v", err)
	}
	return New(eng, ingestion, exports, nil)
}

func do(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

type errorBody struct {
	Error apiError `json:"error"`
}

func createStory(t *testing.T, h http.Handler, title, description string) state.StoryView {
	t.Helper()
	rec := do(t, h, http.MethodPost, "/v1/stories", CreateStoryRequest{Title: title, Description: description})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create story: status %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[state.StoryView](t, rec)
}

func TestHealth(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())
	rec := do(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["status"]; got != "healthy" {
		t.Errorf("status = %q", got)
	}
}

func TestRequestID(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())

	rec := do(t, h, http.MethodGet, "/health", nil)
	if rec.Header().Get(requestIDHeader) == "" {
		t.Error("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}
}

func TestCreateAndGetStory(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())
	created := createStory(t, h, "Login", "As a user, I want to log in")

	if created.DownloadLink != "/v1/stories/"+created.StoryID+"/download" {
		t.Errorf("download link = %q", created.DownloadLink)
	}

	rec := do(t, h, http.MethodGet, "/v1/stories/"+created.StoryID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decode[state.StoryView](t, rec)
	if got.Title != "Login" || got.NumTestCases != 0 || got.ProcessEndTime != nil {
		t.Errorf("story = %+v", got)
	}
}

func TestGetStory_NotFound(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())
	for _, target := range []string{"/v1/stories/42", "/v1/stories/42/test_cases", "/v1/stories/42/download"} {
		rec := do(t, h, http.MethodGet, target, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", target, rec.Code)
			continue
		}
		if body := decode[errorBody](t, rec); body.Error.Type != "not_found" {
			t.Errorf("%s: error type = %q", target, body.Error.Type)
		}
	}
}

func TestCreateStory_BadRequest(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", "{"},
		{"missing description", `{"title":"Only a title"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/stories", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestCreateStory_VectorFailureIsBadGateway(t *testing.T) {
	h := newTestHandler(t, brokenStories{vectorstore.NewMemoryBackend()})

	rec := do(t, h, http.MethodPost, "/v1/stories", CreateStoryRequest{Title: "Login", Description: "As a user, I want to log in"})
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	body := decode[errorBody](t, rec)
	if body.Error.Stage != "vector" || body.Error.StoryID != "1" {
		t.Errorf("error = %+v", body.Error)
	}
}

func TestListStories(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())
	for i := 0; i < 3; i++ {
		createStory(t, h, "Story", "As a user, I want feature number "+string(rune('a'+i)))
	}

	tests := []struct {
		target      string
		wantLen     int
		wantPage    int
		wantPerPage int
	}{
		{"/v1/stories", 3, 1, 10},
		{"/v1/stories?page=2&per_page=2", 1, 2, 2},
		{"/v1/stories?page=0&per_page=500", 3, 1, 10},
		{"/v1/stories?page=abc", 3, 1, 10},
		{"/v1/stories?page=9", 0, 9, 10},
		{"/v1/stories?page=1844674407370955161&per_page=10", 0, 1844674407370955161, 10},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			page := decode[state.StoryPage](t, rec)
			if len(page.Stories) != tt.wantLen || page.CurrentPage != tt.wantPage || page.PerPage != tt.wantPerPage {
				t.Errorf("got %d stories, page %d, per_page %d", len(page.Stories), page.CurrentPage, page.PerPage)
			}
			if page.Total != 3 {
				t.Errorf("total = %d, want 3", page.Total)
			}
		})
	}
}

func TestTestCasesAndDownload(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())
	story := createStory(t, h, "Login", "As a user, I want to log in")
	base := "/v1/stories/" + story.StoryID

	req := AddTestCasesRequest{TestCases: []state.TestCase{
		{ID: "TC1", Description: "Valid login", Steps: []string{"Enter email", "Submit"}, ExpectedResult: "Dashboard"},
		{ID: "TC2", Description: "Wrong password", Steps: []string{"Enter bad password"}, ExpectedResult: "Error"},
	}}
	rec := do(t, h, http.MethodPost, base+"/test_cases", req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add test cases: status %d, body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, base+"/test_cases", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	tc := decode[state.StoryTestCases](t, rec)
	if len(tc.TestCases) != 2 || tc.Story.NumTestCases != 2 || !tc.Story.Processed {
		t.Errorf("test cases = %+v", tc)
	}

	rec = do(t, h, http.MethodGet, base+"/download", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "test_cases_story_"+story.StoryID+".xlsx") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()
	steps, err := wb.GetCellValue("Test Cases", "E4")
	if err != nil {
		t.Fatalf("GetCellValue: %v", err)
	}
	if steps != "1. Enter email\n2. Submit" {
		t.Errorf("steps = %q", steps)
	}
}

func TestAddTestCases_Empty(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())
	rec := do(t, h, http.MethodPost, "/v1/stories/1/test_cases", AddTestCasesRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestSearch(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())
	login := createStory(t, h, "Login", "log in with email and password")
	createStory(t, h, "Cart", "add items to the shopping cart")

	rec := do(t, h, http.MethodGet, "/v1/stories/"+login.StoryID+"/search?q=email+password&k=3", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decode[SearchResponse](t, rec)
	if len(resp.Results) != 1 || resp.Results[0].StoryID != login.StoryID {
		t.Errorf("scoped results = %+v", resp.Results)
	}

	rec = do(t, h, http.MethodGet, "/v1/search?q=shopping+cart", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp = decode[SearchResponse](t, rec)
	if len(resp.Results) != 2 {
		t.Fatalf("catalog results = %d, want 2", len(resp.Results))
	}
	if resp.Results[0].Title != "Cart" {
		t.Errorf("nearest = %q, want Cart", resp.Results[0].Title)
	}
	if resp.Results[0].Distance > resp.Results[1].Distance {
		t.Error("results must be in ascending distance")
	}
}

func TestSearch_BadRequest(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())
	targets := []string{
		"/v1/search",
		"/v1/search?q=cart&k=many",
		"/v1/stories/1/search?q=%20",
		"/v1/search?q=cart&k=101",
		"/v1/search?q=cart&k=1000000",
		"/v1/stories/1/search?q=cart&k=9223372036854775807",
	}
	for _, target := range targets {
		rec := do(t, h, http.MethodGet, target, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
		if got := decode[errorBody](t, rec).Error.Type; got != "invalid_request" {
			t.Errorf("%s: error type = %q", target, got)
		}
	}
}

func upload(t *testing.T, h http.Handler, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/stories/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUploadDocument(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())

	rec := upload(t, h, "wishlist.txt", "As a user, I want to save products to my wishlist.")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decode[struct {
		StoryIDs []string `json:"story_ids"`
	}](t, rec)
	if len(resp.StoryIDs) != 1 {
		t.Fatalf("story ids = %v", resp.StoryIDs)
	}

	rec = do(t, h, http.MethodGet, "/v1/stories/"+resp.StoryIDs[0], nil)
	story := decode[state.StoryView](t, rec)
	if story.Title != "wishlist" {
		t.Errorf("title = %q, want wishlist", story.Title)
	}
}

func TestUploadDocument_PartialFailureReportsCommittedIDs(t *testing.T) {
	stories := &flakyStories{MemoryBackend: vectorstore.NewMemoryBackend(), ok: 1}
	h := newTestHandler(t, stories)

	rec := upload(t, h, "backlog.csv", "title,description\nCart,As a user I want a cart\nCheckout,As a user I want to pay\n")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := decode[errorBody](t, rec).Error
	if body.Stage != "vector" || body.StoryID != "2" {
		t.Errorf("stage/story = %s/%s, want vector/2", body.Stage, body.StoryID)
	}
	if len(body.StoryIDs) != 2 || body.StoryIDs[0] != "1" || body.StoryIDs[1] != "2" {
		t.Errorf("story_ids = %v, want [1 2]", body.StoryIDs)
	}

	if rec := do(t, h, http.MethodGet, "/v1/stories/1", nil); rec.Code != http.StatusOK {
		t.Errorf("first story: status = %d, want 200", rec.Code)
	}
}

func TestUploadDocument_MissingFile(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("note", "no file here")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/stories/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestOpenAPI(t *testing.T) {
	h := newTestHandler(t, vectorstore.NewMemoryBackend())
	rec := do(t, h, http.MethodGet, "/openapi.json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	doc := decode[map[string]interface{}](t, rec)
	paths, ok := doc["paths"].(map[string]interface{})
	if !ok {
		t.Fatalf("paths missing: %v", doc)
	}
	if _, ok := paths["/v1/stories/{id}/download"]; !ok {
		t.Error("download path missing from OpenAPI document")
	}
}
