// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package storagetest provides a shared conformance test suite for
// state.ArtifactStore implementations. Each backend should call
// RunConformanceTests from its own _test.go file.
package storagetest

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/leseb/storybridge/pkg/core/state"
)

// RunConformanceTests exercises an ArtifactStore implementation against the
// shared contract. newStore is called once per sub-test and must return an
// isolated, empty store.
func RunConformanceTests(t *testing.T, newStore func(t *testing.T) state.ArtifactStore) {
	t.Helper()

	base := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)

	t.Run("CreateStoryAllocatesDistinctIDs", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		id1, err := store.CreateStory(ctx, "Login", "As a user, I want to log in")
		if err != nil {
			t.Fatalf("CreateStory: %v", err)
		}
		id2, err := store.CreateStory(ctx, "Reset", "As a user, I want to reset my password")
		if err != nil {
			t.Fatalf("CreateStory: %v", err)
		}
		if id1 == "" || id2 == "" || id1 == id2 {
			t.Errorf("expected two distinct non-empty ids, got %q and %q", id1, id2)
		}
	})

	t.Run("MissingArtifactIsNotFound", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		_, err := store.GetArtifactSummary(ctx, "404")
		if !errors.Is(err, state.ErrNotFound) {
			t.Errorf("GetArtifactSummary expected ErrNotFound, got: %v", err)
		}
		if errors.Is(err, state.ErrStoreUnavailable) {
			t.Errorf("missing row must not be reported as unavailable: %v", err)
		}

		_, err = store.GetArtifact(ctx, "404")
		if !errors.Is(err, state.ErrNotFound) {
			t.Errorf("GetArtifact expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("InsertAndGetArtifact", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		end := base.Add(5 * time.Minute)
		art := &state.Artifact{
			StoryID:   "1",
			TestCases: SampleCases(3),
			StartTime: base,
			EndTime:   &end,
		}
		id, err := store.InsertArtifact(ctx, art)
		if err != nil {
			t.Fatalf("InsertArtifact: %v", err)
		}
		if id <= 0 {
			t.Errorf("expected positive artifact id, got %d", id)
		}

		got, err := store.GetArtifact(ctx, "1")
		if err != nil {
			t.Fatalf("GetArtifact: %v", err)
		}
		if got.StoryID != "1" {
			t.Errorf("StoryID = %q, want 1", got.StoryID)
		}
		if got.NumTestCases() != 3 {
			t.Fatalf("expected 3 test cases, got %d", got.NumTestCases())
		}
		if got.TestCases[0].ID != "TC1" || len(got.TestCases[0].Steps) != 2 {
			t.Errorf("unexpected first test case: %+v", got.TestCases[0])
		}
		if !got.StartTime.Equal(base) {
			t.Errorf("StartTime = %v, want %v", got.StartTime, base)
		}
		if got.EndTime == nil || !got.EndTime.Equal(end) {
			t.Errorf("EndTime = %v, want %v", got.EndTime, end)
		}

		sum, err := store.GetArtifactSummary(ctx, "1")
		if err != nil {
			t.Fatalf("GetArtifactSummary: %v", err)
		}
		if sum.NumTestCases != 3 {
			t.Errorf("summary NumTestCases = %d, want 3", sum.NumTestCases)
		}
		if sum.EndTime == nil || !sum.EndTime.Equal(end) {
			t.Errorf("summary EndTime = %v, want %v", sum.EndTime, end)
		}
	})

	t.Run("ArtifactWithoutEndTime", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		if _, err := store.InsertArtifact(ctx, &state.Artifact{
			StoryID:   "7",
			TestCases: SampleCases(1),
			StartTime: base,
		}); err != nil {
			t.Fatalf("InsertArtifact: %v", err)
		}

		sum, err := store.GetArtifactSummary(ctx, "7")
		if err != nil {
			t.Fatalf("GetArtifactSummary: %v", err)
		}
		if sum.EndTime != nil {
			t.Errorf("expected nil EndTime, got %v", sum.EndTime)
		}
		if sum.NumTestCases != 1 {
			t.Errorf("NumTestCases = %d, want 1", sum.NumTestCases)
		}
	})

	t.Run("MultipleRunsAggregate", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		end1 := base.Add(time.Minute)
		end2 := base.Add(time.Hour)
		for _, a := range []*state.Artifact{
			{StoryID: "2", TestCases: SampleCases(2), StartTime: base, EndTime: &end1},
			{StoryID: "2", TestCases: SampleCases(4), StartTime: base.Add(30 * time.Minute), EndTime: &end2},
		} {
			if _, err := store.InsertArtifact(ctx, a); err != nil {
				t.Fatalf("InsertArtifact: %v", err)
			}
		}

		sum, err := store.GetArtifactSummary(ctx, "2")
		if err != nil {
			t.Fatalf("GetArtifactSummary: %v", err)
		}
		if sum.NumTestCases != 6 {
			t.Errorf("NumTestCases = %d, want 6", sum.NumTestCases)
		}
		if sum.StartTime == nil || !sum.StartTime.Equal(base) {
			t.Errorf("StartTime = %v, want %v", sum.StartTime, base)
		}
		if sum.EndTime == nil || !sum.EndTime.Equal(end2) {
			t.Errorf("EndTime = %v, want %v", sum.EndTime, end2)
		}

		art, err := store.GetArtifact(ctx, "2")
		if err != nil {
			t.Fatalf("GetArtifact: %v", err)
		}
		if art.NumTestCases() != 6 {
			t.Errorf("GetArtifact returned %d cases, want 6", art.NumTestCases())
		}
	})

	t.Run("BatchSummaries", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		for _, a := range []*state.Artifact{
			{StoryID: "10", TestCases: SampleCases(1), StartTime: base},
			{StoryID: "11", TestCases: SampleCases(2), StartTime: base},
			{StoryID: "12", TestCases: SampleCases(5), StartTime: base},
		} {
			if _, err := store.InsertArtifact(ctx, a); err != nil {
				t.Fatalf("InsertArtifact: %v", err)
			}
		}

		got, err := store.ListArtifactSummaries(ctx, []string{"10", "12", "13"})
		if err != nil {
			t.Fatalf("ListArtifactSummaries: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 summaries, got %d: %+v", len(got), got)
		}
		if got["10"].NumTestCases != 1 || got["12"].NumTestCases != 5 {
			t.Errorf("unexpected counts: %+v", got)
		}
		if _, ok := got["11"]; ok {
			t.Error("story 11 was not requested")
		}
		if _, ok := got["13"]; ok {
			t.Error("story 13 has no artifact")
		}

		empty, err := store.ListArtifactSummaries(ctx, nil)
		if err != nil {
			t.Fatalf("ListArtifactSummaries(nil): %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("expected empty map, got %+v", empty)
		}
	})

	t.Run("NoForeignKeyEnforcement", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()
		ctx := context.Background()

		if _, err := store.InsertArtifact(ctx, &state.Artifact{
			StoryID:   "orphan-999",
			TestCases: SampleCases(2),
			StartTime: base,
		}); err != nil {
			t.Fatalf("InsertArtifact for unknown story: %v", err)
		}
		if _, err := store.GetArtifact(ctx, "orphan-999"); err != nil {
			t.Errorf("GetArtifact: %v", err)
		}
	})
}

// SampleCases builds n distinct test cases with two steps each.
func SampleCases(n int) []state.TestCase {
	out := make([]state.TestCase, n)
	for i := range out {
		id := "TC" + strconv.Itoa(i+1)
		out[i] = state.TestCase{
			ID:             id,
			Title:          "Case " + id,
			Description:    "Verify behaviour " + id,
			Steps:          []string{"Open the page", "Submit the form"},
			ExpectedResult: "The form is accepted",
			Priority:       "High",
			Type:           "Functional",
		}
	}
	return out
}
