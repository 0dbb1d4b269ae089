// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/embedding"
	"github.com/leseb/storybridge/pkg/filestore/extractor"
	"github.com/leseb/storybridge/pkg/observability/logging"
	"github.com/leseb/storybridge/pkg/vectorstore"
)

// ErrInvalidInput is returned for requests rejected before any store is
// touched.
var ErrInvalidInput = errors.New("invalid input")

// Story text limits, in bytes. They match the widest vector-store columns so
// a story is never stored in full on one side and cut on the other.
const (
	MaxTitleBytes       = 1024
	MaxDescriptionBytes = 65535
)

// Stage names the write that failed during ingestion.
type Stage string

const (
	// StageRelational is the first write; nothing was persisted.
	StageRelational Stage = "relational"
	// StageVector is the second write; the relational row already exists.
	StageVector Stage = "vector"
)

// IngestionError reports which of the two independent writes failed.
// Writes are not rolled back, so a StageVector failure leaves the
// relational row in place under StoryID.
type IngestionError struct {
	Stage   Stage
	StoryID string
	Err     error
}

func (e *IngestionError) Error() string {
	if e.StoryID == "" {
		return fmt.Sprintf("ingestion failed at %s stage: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("ingestion failed at %s stage for story %s: %v", e.Stage, e.StoryID, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// IngestionService writes new stories and generated test cases across the
// relational and vector stores.
type IngestionService struct {
	artifacts state.ArtifactStore
	stories   vectorstore.Backend
	embedder  embedding.Client
	logger    *logging.Logger
	now       func() time.Time
}

// NewIngestionService creates an IngestionService. A nil logger discards
// output.
func NewIngestionService(artifacts state.ArtifactStore, stories vectorstore.Backend, embedder embedding.Client, logger *logging.Logger) (*IngestionService, error) {
	if artifacts == nil || stories == nil || embedder == nil {
		return nil, fmt.Errorf("artifact store, vector store and embedder are required")
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &IngestionService{
		artifacts: artifacts,
		stories:   stories,
		embedder:  embedder,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// AddStory creates the relational row (which allocates the story id),
// embeds the description and inserts the vector row unprocessed.
func (s *IngestionService) AddStory(ctx context.Context, title, description string) (string, error) {
	return s.addStoryAt(ctx, title, description, s.now())
}

func (s *IngestionService) addStoryAt(ctx context.Context, title, description string, ts time.Time) (string, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	if description == "" {
		return "", fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if len(title) > MaxTitleBytes {
		return "", fmt.Errorf("%w: title exceeds %d bytes", ErrInvalidInput, MaxTitleBytes)
	}
	if len(description) > MaxDescriptionBytes {
		return "", fmt.Errorf("%w: description exceeds %d bytes", ErrInvalidInput, MaxDescriptionBytes)
	}

	storyID, err := s.artifacts.CreateStory(ctx, title, description)
	if err != nil {
		return "", &IngestionError{Stage: StageRelational, Err: err}
	}

	vec, err := embedding.EmbedOne(ctx, s.embedder, description)
	if err != nil {
		s.logger.Error("story embedding failed", "story_id", storyID, "error", err)
		return storyID, &IngestionError{Stage: StageVector, StoryID: storyID, Err: fmt.Errorf("embed description: %w", err)}
	}

	err = s.stories.InsertStory(ctx, state.Story{
		StoryID:     storyID,
		Title:       title,
		Description: description,
		Embedding:   vec,
		Processed:   false,
		Timestamp:   ts.UTC(),
	})
	if err != nil {
		s.logger.Error("vector insert failed", "story_id", storyID, "error", err)
		return storyID, &IngestionError{Stage: StageVector, StoryID: storyID, Err: err}
	}

	s.logger.Info("story added", "story_id", storyID)
	return storyID, nil
}

// AddTestCases stores one generation run and then marks the story
// processed in the vector store.
func (s *IngestionService) AddTestCases(ctx context.Context, storyID string, cases []state.TestCase, start time.Time, end *time.Time) (int64, error) {
	if strings.TrimSpace(storyID) == "" {
		return 0, fmt.Errorf("%w: story id is required", ErrInvalidInput)
	}
	if start.IsZero() {
		start = s.now()
	}
	if end != nil && end.Before(start) {
		return 0, fmt.Errorf("%w: end time precedes start time", ErrInvalidInput)
	}

	artifactID, err := s.artifacts.InsertArtifact(ctx, &state.Artifact{
		StoryID:   storyID,
		TestCases: cases,
		StartTime: start,
		EndTime:   end,
	})
	if err != nil {
		return 0, &IngestionError{Stage: StageRelational, StoryID: storyID, Err: err}
	}

	if err := s.stories.UpdateProcessed(ctx, storyID, true); err != nil {
		s.logger.Error("processed flag update failed", "story_id", storyID, "artifact_id", artifactID, "error", err)
		return artifactID, &IngestionError{Stage: StageVector, StoryID: storyID, Err: err}
	}

	s.logger.Info("test cases added", "story_id", storyID, "artifact_id", artifactID, "num_test_cases", len(cases))
	return artifactID, nil
}

// AddStoryFromDocument extracts one or more stories from an uploaded file
// and adds each in turn. On failure the ids created so far are returned
// alongside the error.
func (s *IngestionService) AddStoryFromDocument(ctx context.Context, filename string, content []byte) ([]string, error) {
	docs, err := extractor.ExtractStories(content, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidInput, filename, err)
	}

	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		id, err := s.AddStory(ctx, d.Title, d.Description)
		if err != nil {
			if id != "" {
				ids = append(ids, id)
			}
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
