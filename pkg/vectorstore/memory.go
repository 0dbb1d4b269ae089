// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/provider"
)

func init() {
	Providers.Register("memory", func(_ context.Context, _ provider.Params) (Backend, error) {
		return NewMemoryBackend(), nil
	})
}

// compile-time check
var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend is an in-process Backend using brute-force cosine search.
// It is used when no external vector store is configured and in tests.
type MemoryBackend struct {
	mu         sync.RWMutex
	dimensions int
	rows       []state.Story
}

// NewMemoryBackend creates an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) EnsureCollection(_ context.Context, dimensions int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dimensions == 0 {
		m.dimensions = dimensions
	}
	return nil
}

func (m *MemoryBackend) FindStories(_ context.Context, storyID string) ([]state.Story, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []state.Story
	for _, r := range m.rows {
		if r.StoryID == storyID {
			out = append(out, withoutEmbedding(r))
		}
	}
	return out, nil
}

func (m *MemoryBackend) ListStories(_ context.Context) ([]state.Story, error) {
	m.mu.RLock()
	out := make([]state.Story, len(m.rows))
	for i, r := range m.rows {
		out[i] = withoutEmbedding(r)
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (m *MemoryBackend) InsertStory(_ context.Context, story state.Story) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := CheckDimensions(m.dimensions, story.Embedding); err != nil {
		return err
	}
	if m.dimensions == 0 {
		m.dimensions = len(story.Embedding)
	}
	story.Embedding = append([]float32(nil), story.Embedding...)
	m.rows = append(m.rows, story)
	return nil
}

func (m *MemoryBackend) UpdateProcessed(_ context.Context, storyID string, processed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rows {
		if m.rows[i].StoryID == storyID {
			m.rows[i].Processed = processed
		}
	}
	return nil
}

func (m *MemoryBackend) SearchNearest(_ context.Context, vector []float32, k int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if k <= 0 || len(m.rows) == 0 {
		return nil, nil
	}
	if err := CheckDimensions(m.dimensions, vector); err != nil {
		return nil, err
	}

	matches := make([]Match, len(m.rows))
	for i, r := range m.rows {
		matches[i] = Match{
			Story:    withoutEmbedding(r),
			Distance: 1 - CosineSimilarity(vector, r.Embedding),
		}
	}
	// Ties keep insertion order.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (m *MemoryBackend) Close(_ context.Context) error {
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either vector has zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func withoutEmbedding(s state.Story) state.Story {
	s.Embedding = nil
	return s
}
