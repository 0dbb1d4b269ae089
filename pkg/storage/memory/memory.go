// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/provider"
)

func init() {
	state.Providers.Register("memory", func(_ context.Context, _ provider.Params) (state.ArtifactStore, error) {
		return New(), nil
	})
}

// compile-time check
var _ state.ArtifactStore = (*Store)(nil)

type storyRow struct {
	title       string
	description string
	createdAt   time.Time
}

// Store is an in-memory implementation of state.ArtifactStore. Like the SQL
// stores it does not enforce a foreign key from artifacts to stories.
type Store struct {
	mu          sync.RWMutex
	stories     map[string]storyRow
	artifacts   []state.Artifact
	nextStoryID int64
	nextArtID   int64
	now         func() time.Time
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		stories: make(map[string]storyRow),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateStory allocates the next sequential story id.
func (s *Store) CreateStory(_ context.Context, title, description string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextStoryID++
	id := strconv.FormatInt(s.nextStoryID, 10)
	s.stories[id] = storyRow{title: title, description: description, createdAt: s.now()}
	return id, nil
}

// GetArtifactSummary aggregates the artifacts of one story.
func (s *Store) GetArtifactSummary(_ context.Context, storyID string) (*state.ArtifactSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		sum   = state.ArtifactSummary{StoryID: storyID}
		found bool
	)
	for i := range s.artifacts {
		a := &s.artifacts[i]
		if a.StoryID != storyID {
			continue
		}
		found = true
		start := a.StartTime
		sum.Merge(a.NumTestCases(), &start, a.EndTime)
	}
	if !found {
		return nil, state.NotFound("artifact for story", storyID)
	}
	return &sum, nil
}

// GetArtifact concatenates the test cases of every run for storyID.
func (s *Store) GetArtifact(_ context.Context, storyID string) (*state.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out *state.Artifact
	for i := range s.artifacts {
		a := &s.artifacts[i]
		if a.StoryID != storyID {
			continue
		}
		if out == nil {
			out = &state.Artifact{
				ID:        a.ID,
				StoryID:   storyID,
				StartTime: a.StartTime,
				CreatedAt: a.CreatedAt,
			}
		}
		out.TestCases = append(out.TestCases, copyCases(a.TestCases)...)
		if a.StartTime.Before(out.StartTime) {
			out.StartTime = a.StartTime
		}
		if a.EndTime != nil && (out.EndTime == nil || a.EndTime.After(*out.EndTime)) {
			end := *a.EndTime
			out.EndTime = &end
		}
	}
	if out == nil {
		return nil, state.NotFound("artifact for story", storyID)
	}
	return out, nil
}

// InsertArtifact stores a copy of the artifact.
func (s *Store) InsertArtifact(_ context.Context, artifact *state.Artifact) (int64, error) {
	if artifact == nil || artifact.StoryID == "" {
		return 0, fmt.Errorf("insert artifact: story id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextArtID++
	cp := *artifact
	cp.ID = s.nextArtID
	cp.TestCases = copyCases(artifact.TestCases)
	if artifact.EndTime != nil {
		end := *artifact.EndTime
		cp.EndTime = &end
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.artifacts = append(s.artifacts, cp)
	return cp.ID, nil
}

// ListArtifactSummaries aggregates summaries for the requested stories.
func (s *Store) ListArtifactSummaries(_ context.Context, storyIDs []string) (map[string]state.ArtifactSummary, error) {
	out := make(map[string]state.ArtifactSummary, len(storyIDs))
	if len(storyIDs) == 0 {
		return out, nil
	}

	wanted := make(map[string]struct{}, len(storyIDs))
	for _, id := range storyIDs {
		wanted[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.artifacts {
		a := &s.artifacts[i]
		if _, ok := wanted[a.StoryID]; !ok {
			continue
		}
		sum := out[a.StoryID]
		sum.StoryID = a.StoryID
		start := a.StartTime
		sum.Merge(a.NumTestCases(), &start, a.EndTime)
		out[a.StoryID] = sum
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

func copyCases(in []state.TestCase) []state.TestCase {
	if in == nil {
		return nil
	}
	out := make([]state.TestCase, len(in))
	for i, tc := range in {
		tc.Steps = append([]string(nil), tc.Steps...)
		out[i] = tc
	}
	return out
}
