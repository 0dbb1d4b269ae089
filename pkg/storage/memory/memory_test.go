// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/storage/storagetest"
)

func TestMemoryConformance(t *testing.T) {
	storagetest.RunConformanceTests(t, func(t *testing.T) state.ArtifactStore {
		return New()
	})
}

func TestInsertArtifact_CopiesInput(t *testing.T) {
	s := New()
	ctx := context.Background()

	cases := storagetest.SampleCases(1)
	if _, err := s.InsertArtifact(ctx, &state.Artifact{StoryID: "1", TestCases: cases, StartTime: time.Now()}); err != nil {
		t.Fatalf("InsertArtifact: %v", err)
	}

	cases[0].Steps[0] = "mutated"

	got, err := s.GetArtifact(ctx, "1")
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.TestCases[0].Steps[0] == "mutated" {
		t.Error("stored artifact shares memory with the caller's slice")
	}
}

func TestInsertArtifact_RequiresStoryID(t *testing.T) {
	s := New()
	if _, err := s.InsertArtifact(context.Background(), &state.Artifact{}); err == nil {
		t.Error("expected error for artifact without story id")
	}
}

func TestCreateStory_SequentialIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		id, err := s.CreateStory(ctx, "t", "d")
		if err != nil {
			t.Fatalf("CreateStory: %v", err)
		}
		if id != strconv.Itoa(want) {
			t.Errorf("id = %q, want %d", id, want)
		}
	}
}
