// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leseb/storybridge/pkg/core/config"
	"github.com/leseb/storybridge/pkg/core/engine"
	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/embedding"
	"github.com/leseb/storybridge/pkg/storage/memory"
	"github.com/leseb/storybridge/pkg/storage/storagetest"
	"github.com/leseb/storybridge/pkg/vectorstore"
)

var (
	base       = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	errBackend = errors.New("backend down")
)

type failingArtifacts struct {
	*memory.Store
	createErr error
	insertErr error
	creates   int
}

func (f *failingArtifacts) CreateStory(ctx context.Context, title, description string) (string, error) {
	f.creates++
	if f.createErr != nil {
		return "", f.createErr
	}
	return f.Store.CreateStory(ctx, title, description)
}

func (f *failingArtifacts) InsertArtifact(ctx context.Context, a *state.Artifact) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	return f.Store.InsertArtifact(ctx, a)
}

// failingStories lets the first okInserts inserts through before insertErr
// applies.
type failingStories struct {
	*vectorstore.MemoryBackend
	insertErr error
	updateErr error
	okInserts int
	inserts   int
}

func (f *failingStories) InsertStory(ctx context.Context, s state.Story) error {
	f.inserts++
	if f.insertErr != nil && f.inserts > f.okInserts {
		return f.insertErr
	}
	return f.MemoryBackend.InsertStory(ctx, s)
}

func (f *failingStories) UpdateProcessed(ctx context.Context, id string, processed bool) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	return f.MemoryBackend.UpdateProcessed(ctx, id, processed)
}

type failingEmbedder struct {
	embedding.Client
	err error
}

func (f failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, f.err
}

type fixture struct {
	artifacts *failingArtifacts
	stories   *failingStories
	embedder  embedding.Client
	svc       *IngestionService
	engine    *engine.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		artifacts: &failingArtifacts{Store: memory.New()},
		stories:   &failingStories{MemoryBackend: vectorstore.NewMemoryBackend()},
		embedder:  embedding.NewHashClient(32),
	}
	f.rebuild(t)
	return f
}

// rebuild recreates the services after a dependency was swapped.
func (f *fixture) rebuild(t *testing.T) {
	t.Helper()
	svc, err := NewIngestionService(f.artifacts, f.stories, f.embedder, nil)
	if err != nil {
		t.Fatalf("NewIngestionService: %v", err)
	}
	svc.now = func() time.Time { return base }
	f.svc = svc

	cfg := config.EngineConfig{
		DefaultPerPage:      10,
		MaxPerPage:          100,
		DefaultSearchK:      5,
		SearchOversample:    4,
		SearchMinCandidates: 50,
		MaxSearchK:          100,
		DownloadBasePath:    "/v1/stories",
	}
	eng, err := engine.New(&cfg, f.stories, f.artifacts, f.embedder, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	f.engine = eng
}

func TestNewIngestionService_RequiresDependencies(t *testing.T) {
	if _, err := NewIngestionService(nil, vectorstore.NewMemoryBackend(), embedding.NewHashClient(8), nil); err == nil {
		t.Error("expected error for nil artifact store")
	}
	if _, err := NewIngestionService(memory.New(), nil, embedding.NewHashClient(8), nil); err == nil {
		t.Error("expected error for nil vector store")
	}
	if _, err := NewIngestionService(memory.New(), vectorstore.NewMemoryBackend(), nil, nil); err == nil {
		t.Error("expected error for nil embedder")
	}
}

func TestAddStory_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.svc.AddStory(ctx, "Wishlist", "As a user, I want to save products to my wishlist")
	if err != nil {
		t.Fatalf("AddStory: %v", err)
	}

	view, err := f.engine.GetStory(ctx, id)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if view.Title != "Wishlist" || view.Description != "As a user, I want to save products to my wishlist" {
		t.Errorf("view = %+v", view)
	}
	if view.NumTestCases != 0 || view.ProcessEndTime != nil || view.Processed {
		t.Errorf("fresh story should be unprocessed with no test cases: %+v", view)
	}
	if !view.Timestamp.Equal(base) {
		t.Errorf("Timestamp = %v, want %v", view.Timestamp, base)
	}

	end := base.Add(2 * time.Minute)
	if _, err := f.svc.AddTestCases(ctx, id, storagetest.SampleCases(4), base, &end); err != nil {
		t.Fatalf("AddTestCases: %v", err)
	}

	view, err = f.engine.GetStory(ctx, id)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if view.NumTestCases != 4 {
		t.Errorf("NumTestCases = %d, want 4", view.NumTestCases)
	}
	if !view.Processed {
		t.Error("story should be marked processed")
	}
	if view.ProcessEndTime == nil || !view.ProcessEndTime.Equal(end) {
		t.Errorf("ProcessEndTime = %v, want %v", view.ProcessEndTime, end)
	}
}

func TestAddStory_Validation(t *testing.T) {
	tests := []struct {
		name        string
		title       string
		description string
	}{
		{"blank description", "Empty", "   "},
		{"title too long", strings.Repeat("é", MaxTitleBytes/2+1), "As a user, I want a title"},
		{"description too long", "Long", strings.Repeat("日", MaxDescriptionBytes/3+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.AddStory(context.Background(), tt.title, tt.description)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if f.artifacts.creates != 0 {
				t.Errorf("CreateStory called %d times, want 0", f.artifacts.creates)
			}
		})
	}
}

func TestAddStory_MultiByteTextKeptWhole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	description := strings.Repeat("日", MaxDescriptionBytes/3)
	id, err := f.svc.AddStory(ctx, "Unicode", description)
	if err != nil {
		t.Fatalf("AddStory: %v", err)
	}
	view, err := f.engine.GetStory(ctx, id)
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if view.Description != description {
		t.Errorf("description changed: %d bytes stored, want %d", len(view.Description), len(description))
	}
}

func TestAddStory_StageErrors(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fixture)
		wantStage Stage
		wantID    string
	}{
		{
			name:      "relational insert fails",
			setup:     func(f *fixture) { f.artifacts.createErr = errBackend },
			wantStage: StageRelational,
			wantID:    "",
		},
		{
			name:      "vector insert fails",
			setup:     func(f *fixture) { f.stories.insertErr = errBackend },
			wantStage: StageVector,
			wantID:    "1",
		},
		{
			name:      "embedding fails",
			setup:     func(f *fixture) { f.embedder = failingEmbedder{Client: f.embedder, err: errBackend} },
			wantStage: StageVector,
			wantID:    "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			f.rebuild(t)

			id, err := f.svc.AddStory(context.Background(), "Login", "As a user, I want to log in")
			var ie *IngestionError
			if !errors.As(err, &ie) {
				t.Fatalf("expected *IngestionError, got %v", err)
			}
			if ie.Stage != tt.wantStage {
				t.Errorf("Stage = %s, want %s", ie.Stage, tt.wantStage)
			}
			if ie.StoryID != tt.wantID || id != tt.wantID {
				t.Errorf("StoryID = %q (returned %q), want %q", ie.StoryID, id, tt.wantID)
			}
			if !errors.Is(err, errBackend) {
				t.Errorf("expected error chain to include the backend error, got %v", err)
			}
		})
	}
}

func TestAddStory_VectorFailureKeepsRelationalRow(t *testing.T) {
	f := newFixture(t)
	f.stories.insertErr = errBackend
	ctx := context.Background()

	id, err := f.svc.AddStory(ctx, "Login", "As a user, I want to log in")
	if err == nil {
		t.Fatal("expected error")
	}

	// The relational id was consumed; the next story gets the following one.
	f.stories.insertErr = nil
	next, err := f.svc.AddStory(ctx, "Logout", "As a user, I want to log out")
	if err != nil {
		t.Fatalf("AddStory: %v", err)
	}
	if id != "1" || next != "2" {
		t.Errorf("ids = %q, %q; want 1, 2", id, next)
	}
	if _, err := f.engine.GetStory(ctx, id); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("story without vector row should be NotFound, got %v", err)
	}
}

func TestAddTestCases_StageErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("relational", func(t *testing.T) {
		f := newFixture(t)
		f.artifacts.insertErr = errBackend
		_, err := f.svc.AddTestCases(ctx, "7", storagetest.SampleCases(1), base, nil)
		var ie *IngestionError
		if !errors.As(err, &ie) || ie.Stage != StageRelational || ie.StoryID != "7" {
			t.Fatalf("unexpected error: %#v", err)
		}
	})

	t.Run("vector", func(t *testing.T) {
		f := newFixture(t)
		id, err := f.svc.AddStory(ctx, "Login", "As a user, I want to log in")
		if err != nil {
			t.Fatalf("AddStory: %v", err)
		}
		f.stories.updateErr = errBackend

		artifactID, err := f.svc.AddTestCases(ctx, id, storagetest.SampleCases(2), base, nil)
		var ie *IngestionError
		if !errors.As(err, &ie) || ie.Stage != StageVector {
			t.Fatalf("expected vector stage error, got %v", err)
		}
		if artifactID == 0 {
			t.Error("artifact id should be returned alongside a vector stage error")
		}
		// The artifact stays committed.
		a, err := f.artifacts.GetArtifact(ctx, id)
		if err != nil {
			t.Fatalf("GetArtifact: %v", err)
		}
		if a.NumTestCases() != 2 {
			t.Errorf("NumTestCases = %d, want 2", a.NumTestCases())
		}
	})
}

func TestAddTestCases_WithoutStory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.AddTestCases(ctx, "99", storagetest.SampleCases(3), base, nil); err != nil {
		t.Fatalf("AddTestCases: %v", err)
	}
	if _, err := f.artifacts.GetArtifact(ctx, "99"); err != nil {
		t.Errorf("GetArtifact: %v", err)
	}
	if _, err := f.engine.GetStory(ctx, "99"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("GetStory should be NotFound without a story row, got %v", err)
	}
}

func TestAddTestCases_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := base.Add(-time.Minute)

	tests := []struct {
		name    string
		storyID string
		end     *time.Time
	}{
		{"missing story id", "", nil},
		{"end before start", "1", &before},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddTestCases(ctx, tt.storyID, nil, base, tt.end)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestAddStoryFromDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := []byte("title,description\nCart,As a user I want a cart\nCheckout,As a user I want to pay\n")
	ids, err := f.svc.AddStoryFromDocument(ctx, "backlog.csv", content)
	if err != nil {
		t.Fatalf("AddStoryFromDocument: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2", len(ids))
	}

	view, err := f.engine.GetStory(ctx, ids[1])
	if err != nil {
		t.Fatalf("GetStory: %v", err)
	}
	if view.Title != "Checkout" || view.Description != "As a user I want to pay" {
		t.Errorf("view = %+v", view)
	}
}

func TestAddStoryFromDocument_PartialFailureReturnsCommittedIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.stories.insertErr = errBackend
	f.stories.okInserts = 1

	content := []byte("title,description\nCart,As a user I want a cart\nCheckout,As a user I want to pay\nRefund,As a user I want a refund\n")
	ids, err := f.svc.AddStoryFromDocument(ctx, "backlog.csv", content)

	var ingestErr *IngestionError
	if !errors.As(err, &ingestErr) {
		t.Fatalf("expected IngestionError, got %v", err)
	}
	if ingestErr.Stage != StageVector || ingestErr.StoryID != "2" {
		t.Errorf("stage/story = %s/%s, want vector/2", ingestErr.Stage, ingestErr.StoryID)
	}
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "2" {
		t.Errorf("ids = %v, want [1 2]", ids)
	}
	if f.artifacts.creates != 2 {
		t.Errorf("CreateStory called %d times, want 2", f.artifacts.creates)
	}
	if _, err := f.engine.GetStory(ctx, "1"); err != nil {
		t.Errorf("first story should be fully ingested: %v", err)
	}
}

func TestAddStoryFromDocument_Rejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		filename string
		content  []byte
	}{
		{"empty", "notes.txt", []byte("   \n")},
		{"binary", "notes.txt", []byte{0xff, 0xfe, 0x00, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := f.svc.AddStoryFromDocument(ctx, tt.filename, tt.content)
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
			if len(ids) != 0 {
				t.Errorf("ids = %v, want none", ids)
			}
		})
	}
	if f.artifacts.creates != 0 {
		t.Errorf("CreateStory called %d times, want 0", f.artifacts.creates)
	}
}

func TestIngestionError_Message(t *testing.T) {
	err := &IngestionError{Stage: StageVector, StoryID: "3", Err: errBackend}
	want := "ingestion failed at vector stage for story 3: backend down"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	err = &IngestionError{Stage: StageRelational, Err: errBackend}
	want = "ingestion failed at relational stage: backend down"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestSeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Seed(ctx)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(res.StoryIDs) != 10 {
		t.Fatalf("seeded %d stories, want 10", len(res.StoryIDs))
	}

	page := f.engine.ListStories(ctx, 1, 10)
	if page.Total != 10 {
		t.Fatalf("Total = %d, want 10", page.Total)
	}
	if page.Stories[0].Title != "Product reviews" {
		t.Errorf("newest story = %q, want Product reviews", page.Stories[0].Title)
	}

	login := page.Stories[9]
	if login.StoryID != res.StoryIDs[0] || login.Title != "Login" {
		t.Fatalf("oldest story = %+v", login)
	}
	if login.NumTestCases != 10 || !login.Processed {
		t.Errorf("login story: NumTestCases = %d, Processed = %v", login.NumTestCases, login.Processed)
	}
	if login.ProcessEndTime == nil || !login.ProcessEndTime.After(*login.ProcessStartTime) {
		t.Errorf("run should end after it starts: %v .. %v", login.ProcessStartTime, login.ProcessEndTime)
	}
	for _, s := range page.Stories[:9] {
		if s.NumTestCases != 0 {
			t.Errorf("story %s has %d test cases, want 0", s.StoryID, s.NumTestCases)
		}
	}
}
