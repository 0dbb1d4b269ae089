// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"time"

	"github.com/leseb/storybridge/pkg/provider"
)

// Providers is the registry of relational store implementations.
// Import implementation packages with blank imports to register them:
//
//	import _ "github.com/leseb/storybridge/pkg/storage/postgres"
//	import _ "github.com/leseb/storybridge/pkg/storage/sqlite"
var Providers = provider.NewRegistry[ArtifactStore]("relational_store")

// ArtifactStore is the relational side of the catalog. It is the canonical
// source of story identifiers and owns the generated test-case artifacts.
//
// A missing row is reported as ErrNotFound; transport failures wrap
// ErrStoreUnavailable.
type ArtifactStore interface {
	// CreateStory inserts a user_stories row and returns its generated id.
	CreateStory(ctx context.Context, title, description string) (string, error)

	// GetArtifactSummary aggregates every artifact row stored for storyID.
	GetArtifactSummary(ctx context.Context, storyID string) (*ArtifactSummary, error)

	// GetArtifact returns all test cases stored for storyID, oldest run first.
	GetArtifact(ctx context.Context, storyID string) (*Artifact, error)

	// InsertArtifact writes one generation run in a single transaction and
	// returns the store-generated artifact id.
	InsertArtifact(ctx context.Context, artifact *Artifact) (int64, error)

	// ListArtifactSummaries fetches summaries for a set of stories in one
	// round trip. Stories without artifacts are absent from the result.
	ListArtifactSummaries(ctx context.Context, storyIDs []string) (map[string]ArtifactSummary, error)

	Close() error
}

// Story is a user story row as held by the vector store.
type Story struct {
	StoryID     string
	Title       string
	Description string
	Embedding   []float32
	Processed   bool
	Timestamp   time.Time
}

// TestCase is a single generated test case.
type TestCase struct {
	ID             string   `json:"test_case_id"`
	Title          string   `json:"title,omitempty"`
	Description    string   `json:"description"`
	Preconditions  string   `json:"preconditions,omitempty"`
	Steps          []string `json:"steps"`
	ExpectedResult string   `json:"expected_result,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	Type           string   `json:"type,omitempty"`
}

// Artifact is a generation run: the test cases produced for a story between
// StartTime and EndTime. Artifacts are immutable once written.
type Artifact struct {
	ID        int64
	StoryID   string
	TestCases []TestCase
	StartTime time.Time
	EndTime   *time.Time
	CreatedAt time.Time
}

// NumTestCases is derived from the stored collection.
func (a *Artifact) NumTestCases() int {
	if a == nil {
		return 0
	}
	return len(a.TestCases)
}

// ArtifactSummary aggregates all artifact rows of one story.
type ArtifactSummary struct {
	StoryID      string
	NumTestCases int
	StartTime    *time.Time
	EndTime      *time.Time
}

// Merge folds another row's figures into the summary: counts add up, the
// start time is the earliest and the end time the latest non-nil value.
func (s *ArtifactSummary) Merge(count int, start, end *time.Time) {
	if count > 0 {
		s.NumTestCases += count
	}
	if start != nil && (s.StartTime == nil || start.Before(*s.StartTime)) {
		t := *start
		s.StartTime = &t
	}
	if end != nil && (s.EndTime == nil || end.After(*s.EndTime)) {
		t := *end
		s.EndTime = &t
	}
}

// StoryView is the read-only composite of a story and its artifact summary.
// It is built per request and never persisted.
type StoryView struct {
	StoryID          string     `json:"story_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	Processed        bool       `json:"processed"`
	Timestamp        time.Time  `json:"timestamp"`
	NumTestCases     int        `json:"num_test_cases"`
	ProcessStartTime *time.Time `json:"process_start_time"`
	ProcessEndTime   *time.Time `json:"process_end_time"`
	DownloadLink     string     `json:"download_link"`
}

// StoryPage is one page of the story listing.
type StoryPage struct {
	Stories     []StoryView `json:"stories"`
	Total       int         `json:"total"`
	TotalPages  int         `json:"total_pages"`
	CurrentPage int         `json:"current_page"`
	PerPage     int         `json:"per_page"`
}

// StoryTestCases is a story view together with its full test-case list.
type StoryTestCases struct {
	Story     StoryView  `json:"story"`
	TestCases []TestCase `json:"test_cases"`
}

// SearchResult is a similarity match with its cosine distance
// (0 is identical, larger is further away).
type SearchResult struct {
	StoryID     string    `json:"story_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Processed   bool      `json:"processed"`
	Timestamp   time.Time `json:"timestamp"`
	Distance    float64   `json:"distance"`
}
