// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/provider"
)

// Providers is the registry of vector store backend implementations.
// Import implementation packages with blank imports to register them:
//
//	import _ "github.com/leseb/storybridge/pkg/vectorstore/milvus"
var Providers = provider.NewRegistry[Backend]("vector_store")

// ErrDimensionMismatch is returned when a vector does not match the
// collection's dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Match is a single result from a nearest-neighbour search.
type Match struct {
	Story state.Story
	// Distance is the cosine distance (1 - cosine similarity); lower is closer.
	Distance float64
}

// Backend is the interface for the story vector store.
//
// The store does not enforce uniqueness of StoryID: FindStories returns
// every row carrying the id and callers resolve duplicates. Reads do not
// materialise the Embedding field.
type Backend interface {
	// EnsureCollection provisions the story collection if it does not exist.
	EnsureCollection(ctx context.Context, dimensions int) error

	// FindStories returns all rows with the given story id, in store order.
	FindStories(ctx context.Context, storyID string) ([]state.Story, error)

	// ListStories returns a snapshot of every row, newest timestamp first.
	ListStories(ctx context.Context) ([]state.Story, error)

	// InsertStory appends a row.
	InsertStory(ctx context.Context, story state.Story) error

	// UpdateProcessed sets the processed flag on every row with the id.
	UpdateProcessed(ctx context.Context, storyID string, processed bool) error

	// SearchNearest returns up to k rows ordered by ascending distance.
	SearchNearest(ctx context.Context, vector []float32, k int) ([]Match, error)

	// Close releases any resources held by the backend.
	Close(ctx context.Context) error
}

// CheckDimensions validates a vector against the expected size. A zero
// expectation accepts any non-empty vector.
func CheckDimensions(want int, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if want > 0 && len(vector) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), want)
	}
	return nil
}
