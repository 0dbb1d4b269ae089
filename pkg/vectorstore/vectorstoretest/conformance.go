// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package vectorstoretest provides a shared test suite for vectorstore.Backend
// implementations.
package vectorstoretest

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/vectorstore"
)

// Dimensions is the collection size used by the suite.
const Dimensions = 3

var base = time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

// RunConformanceTests exercises a Backend. newBackend must return a fresh,
// empty backend for each sub-test.
func RunConformanceTests(t *testing.T, newBackend func(t *testing.T) vectorstore.Backend) {
	t.Helper()

	setup := func(t *testing.T) vectorstore.Backend {
		t.Helper()
		b := newBackend(t)
		t.Cleanup(func() { b.Close(context.Background()) })
		if err := b.EnsureCollection(context.Background(), Dimensions); err != nil {
			t.Fatalf("EnsureCollection: %v", err)
		}
		return b
	}

	t.Run("InsertAndFind", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()

		mustInsert(t, b, story("1", "Login", []float32{1, 0, 0}, base))

		got, err := b.FindStories(ctx, "1")
		if err != nil {
			t.Fatalf("FindStories: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("got %d rows, want 1", len(got))
		}
		if got[0].Title != "Login" || got[0].Description != "Login description" {
			t.Errorf("unexpected row: %+v", got[0])
		}
		if got[0].Processed {
			t.Error("new row should not be processed")
		}
		if !got[0].Timestamp.Equal(base) {
			t.Errorf("Timestamp = %v, want %v", got[0].Timestamp, base)
		}
	})

	t.Run("FindUnknownIsEmpty", func(t *testing.T) {
		b := setup(t)
		got, err := b.FindStories(context.Background(), "missing")
		if err != nil {
			t.Fatalf("FindStories: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("got %d rows, want 0", len(got))
		}
	})

	t.Run("DuplicateIDsRetained", func(t *testing.T) {
		b := setup(t)
		mustInsert(t, b, story("7", "First", []float32{1, 0, 0}, base))
		mustInsert(t, b, story("7", "Second", []float32{0, 1, 0}, base.Add(time.Minute)))

		got, err := b.FindStories(context.Background(), "7")
		if err != nil {
			t.Fatalf("FindStories: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d rows, want 2", len(got))
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		b := setup(t)
		mustInsert(t, b, story("1", "Oldest", []float32{1, 0, 0}, base))
		mustInsert(t, b, story("2", "Newest", []float32{0, 1, 0}, base.Add(2*time.Hour)))
		mustInsert(t, b, story("3", "Middle", []float32{0, 0, 1}, base.Add(time.Hour)))

		got, err := b.ListStories(context.Background())
		if err != nil {
			t.Fatalf("ListStories: %v", err)
		}
		want := []string{"2", "3", "1"}
		if len(got) != len(want) {
			t.Fatalf("got %d rows, want %d", len(got), len(want))
		}
		for i, id := range want {
			if got[i].StoryID != id {
				t.Errorf("row %d = %s, want %s", i, got[i].StoryID, id)
			}
		}
	})

	t.Run("UpdateProcessedAllRows", func(t *testing.T) {
		b := setup(t)
		ctx := context.Background()
		mustInsert(t, b, story("4", "A", []float32{1, 0, 0}, base))
		mustInsert(t, b, story("4", "B", []float32{0, 1, 0}, base.Add(time.Second)))
		mustInsert(t, b, story("5", "C", []float32{0, 0, 1}, base))

		if err := b.UpdateProcessed(ctx, "4", true); err != nil {
			t.Fatalf("UpdateProcessed: %v", err)
		}

		rows, err := b.FindStories(ctx, "4")
		if err != nil {
			t.Fatalf("FindStories: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("got %d rows, want 2", len(rows))
		}
		for _, r := range rows {
			if !r.Processed {
				t.Errorf("row %q not marked processed", r.Title)
			}
		}

		other, err := b.FindStories(ctx, "5")
		if err != nil {
			t.Fatalf("FindStories: %v", err)
		}
		if len(other) != 1 || other[0].Processed {
			t.Errorf("unrelated story was modified: %+v", other)
		}
	})

	t.Run("SearchAscendingDistance", func(t *testing.T) {
		b := setup(t)
		mustInsert(t, b, story("far", "Far", []float32{0, 1, 0}, base))
		mustInsert(t, b, story("exact", "Exact", []float32{1, 0, 0}, base))
		mustInsert(t, b, story("near", "Near", []float32{0.9, 0.1, 0}, base))

		got, err := b.SearchNearest(context.Background(), []float32{1, 0, 0}, 3)
		if err != nil {
			t.Fatalf("SearchNearest: %v", err)
		}
		want := []string{"exact", "near", "far"}
		if len(got) != len(want) {
			t.Fatalf("got %d matches, want %d", len(got), len(want))
		}
		for i, id := range want {
			if got[i].Story.StoryID != id {
				t.Errorf("match %d = %s, want %s", i, got[i].Story.StoryID, id)
			}
			if i > 0 && got[i].Distance < got[i-1].Distance {
				t.Errorf("distances not ascending: %v then %v", got[i-1].Distance, got[i].Distance)
			}
		}
		if math.Abs(got[0].Distance) > 1e-3 {
			t.Errorf("exact match distance = %v, want ~0", got[0].Distance)
		}
	})

	t.Run("SearchLimitsToK", func(t *testing.T) {
		b := setup(t)
		for i, v := range [][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}} {
			mustInsert(t, b, story(string(rune('a'+i)), "S", v, base))
		}
		got, err := b.SearchNearest(context.Background(), []float32{1, 1, 1}, 2)
		if err != nil {
			t.Fatalf("SearchNearest: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("got %d matches, want 2", len(got))
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		b := setup(t)
		err := b.InsertStory(context.Background(), story("1", "Bad", []float32{1, 0}, base))
		if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
			t.Errorf("expected ErrDimensionMismatch, got %v", err)
		}
	})
}

func story(id, title string, vec []float32, ts time.Time) state.Story {
	return state.Story{
		StoryID:     id,
		Title:       title,
		Description: title + " description",
		Embedding:   vec,
		Timestamp:   ts,
	}
}

func mustInsert(t *testing.T, b vectorstore.Backend, s state.Story) {
	t.Helper()
	if err := b.InsertStory(context.Background(), s); err != nil {
		t.Fatalf("InsertStory(%s): %v", s.StoryID, err)
	}
}
