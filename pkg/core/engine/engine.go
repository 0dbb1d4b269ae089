// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/leseb/storybridge/pkg/core/config"
	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/embedding"
	"github.com/leseb/storybridge/pkg/observability/logging"
	"github.com/leseb/storybridge/pkg/vectorstore"
)

// ErrLimitExceeded is returned when a caller asks for more search results
// than the engine is configured to return.
var ErrLimitExceeded = errors.New("limit exceeded")

const fallbackMaxSearchK = 100

// Engine answers read queries by joining the vector store (story text,
// embeddings, processed flag) with the relational store (test-case
// artifacts). It holds no mutable state of its own.
type Engine struct {
	config    *config.EngineConfig
	stories   vectorstore.Backend
	artifacts state.ArtifactStore
	embedder  embedding.Client
	logger    *logging.Logger
}

// New creates a new Engine instance. A nil logger discards output.
func New(cfg *config.EngineConfig, stories vectorstore.Backend, artifacts state.ArtifactStore, embedder embedding.Client, logger *logging.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if stories == nil {
		return nil, fmt.Errorf("vector store backend is required")
	}
	if artifacts == nil {
		return nil, fmt.Errorf("artifact store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding client is required")
	}
	if logger == nil {
		logger = logging.Discard()
	}

	return &Engine{
		config:    cfg,
		stories:   stories,
		artifacts: artifacts,
		embedder:  embedder,
		logger:    logger,
	}, nil
}

// GetStory returns the unified view of one story. The story row and the
// artifact summary are fetched concurrently. A missing story row is
// reported as state.ErrNotFound even when artifacts exist for the id; a
// missing artifact yields a view with zero test cases.
func (e *Engine) GetStory(ctx context.Context, storyID string) (*state.StoryView, error) {
	var (
		rows    []state.Story
		summary *state.ArtifactSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rows, err = e.stories.FindStories(gctx, storyID)
		if err != nil {
			return fmt.Errorf("find story %s: %w", storyID, err)
		}
		return nil
	})
	g.Go(func() error {
		sum, err := e.artifacts.GetArtifactSummary(gctx, storyID)
		if errors.Is(err, state.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get artifact summary %s: %w", storyID, err)
		}
		summary = sum
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		e.logger.Debug("story not found", "story_id", storyID)
		return nil, state.NotFound("story", storyID)
	}

	story := e.resolveLatest(storyID, rows)
	view := e.buildView(storyID, story, summary)
	return &view, nil
}

// ListStories returns one page of stories, newest first. The listing is a
// snapshot taken per call; artifact summaries for the page are fetched with
// a single batched query. Failures are logged and produce an empty page
// that still echoes the effective page and per-page values.
func (e *Engine) ListStories(ctx context.Context, page, perPage int) *state.StoryPage {
	page, perPage = e.clampPaging(page, perPage)
	result := &state.StoryPage{
		Stories:     []state.StoryView{},
		CurrentPage: page,
		PerPage:     perPage,
	}

	rows, err := e.stories.ListStories(ctx)
	if err != nil {
		e.logger.Error("failed to list stories", "page", page, "per_page", perPage, "error", err)
		return result
	}
	rows = e.collapseDuplicates(rows)

	total := len(rows)
	totalPages := (total + perPage - 1) / perPage
	result.Total = total
	result.TotalPages = totalPages

	// page-1 < totalPages keeps the offset below total, so it cannot overflow.
	var slice []state.Story
	if page-1 < totalPages {
		start := (page - 1) * perPage
		slice = rows[start:min(start+perPage, total)]
	}

	summaries := map[string]state.ArtifactSummary{}
	if len(slice) > 0 {
		ids := make([]string, len(slice))
		for i, s := range slice {
			ids[i] = s.StoryID
		}
		summaries, err = e.artifacts.ListArtifactSummaries(ctx, ids)
		if err != nil {
			e.logger.Error("failed to fetch artifact summaries", "page", page, "per_page", perPage, "error", err)
			return &state.StoryPage{Stories: []state.StoryView{}, CurrentPage: page, PerPage: perPage}
		}
	}

	views := make([]state.StoryView, 0, len(slice))
	for _, s := range slice {
		var sum *state.ArtifactSummary
		if v, ok := summaries[s.StoryID]; ok {
			sum = &v
		}
		views = append(views, e.buildView(s.StoryID, s, sum))
	}

	result.Stories = views
	return result
}

// SearchSimilar embeds query and returns up to k stories ordered by
// ascending cosine distance, restricted to rows whose id equals scope. An
// empty scope searches the whole collection.
//
// Scoping is applied after the nearest-neighbour search, so the backend is
// asked for an oversampled candidate set. A k above the configured maximum
// fails with ErrLimitExceeded.
func (e *Engine) SearchSimilar(ctx context.Context, query, scope string, k int) ([]state.SearchResult, error) {
	limit := e.MaxSearchK()
	if k <= 0 {
		k = min(e.config.DefaultSearchK, limit)
	}
	if k > limit {
		return nil, fmt.Errorf("%w: k=%d, max %d", ErrLimitExceeded, k, limit)
	}

	vec, err := embedding.EmbedOne(ctx, e.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	candidates := max(k*e.config.SearchOversample, e.config.SearchMinCandidates)
	matches, err := e.stories.SearchNearest(ctx, vec, candidates)
	if err != nil {
		return nil, fmt.Errorf("search nearest: %w", err)
	}

	results := make([]state.SearchResult, 0, min(k, len(matches)))
	for _, m := range matches {
		if scope != "" && m.Story.StoryID != scope {
			continue
		}
		results = append(results, state.SearchResult{
			StoryID:     m.Story.StoryID,
			Title:       m.Story.Title,
			Description: m.Story.Description,
			Processed:   m.Story.Processed,
			Timestamp:   m.Story.Timestamp,
			Distance:    m.Distance,
		})
		if len(results) == k {
			break
		}
	}

	e.logger.Debug("similarity search", "scope", scope, "k", k, "candidates", len(matches), "results", len(results))
	return results, nil
}

// MaxSearchK is the largest k SearchSimilar accepts.
func (e *Engine) MaxSearchK() int {
	if e.config.MaxSearchK <= 0 {
		return fallbackMaxSearchK
	}
	return e.config.MaxSearchK
}

// GetTestCases returns the story view together with every stored test case.
func (e *Engine) GetTestCases(ctx context.Context, storyID string) (*state.StoryTestCases, error) {
	view, err := e.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	out := &state.StoryTestCases{Story: *view, TestCases: []state.TestCase{}}
	artifact, err := e.artifacts.GetArtifact(ctx, storyID)
	if errors.Is(err, state.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", storyID, err)
	}
	out.TestCases = append(out.TestCases, artifact.TestCases...)
	return out, nil
}

// DownloadLink returns the export path of a story.
func (e *Engine) DownloadLink(storyID string) string {
	return strings.TrimSuffix(e.config.DownloadBasePath, "/") + "/" + url.PathEscape(storyID) + "/download"
}

func (e *Engine) clampPaging(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > e.config.MaxPerPage {
		perPage = e.config.DefaultPerPage
	}
	return page, perPage
}

// resolveLatest picks the row with the most recent timestamp. On a tie the
// later row in store order wins.
func (e *Engine) resolveLatest(storyID string, rows []state.Story) state.Story {
	best := rows[0]
	for _, r := range rows[1:] {
		if !r.Timestamp.Before(best.Timestamp) {
			best = r
		}
	}
	if len(rows) > 1 {
		e.logger.Warn("multiple rows for story, using most recent", "story_id", storyID, "rows", len(rows))
	}
	return best
}

// collapseDuplicates orders rows newest first and keeps one row per story id.
func (e *Engine) collapseDuplicates(rows []state.Story) []state.Story {
	sorted := make([]state.Story, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})

	out := make([]state.Story, 0, len(sorted))
	pos := make(map[string]int, len(sorted))
	for _, r := range sorted {
		idx, seen := pos[r.StoryID]
		if !seen {
			pos[r.StoryID] = len(out)
			out = append(out, r)
			continue
		}
		// Rows arrive newest first, so only an equal timestamp can replace.
		if r.Timestamp.Equal(out[idx].Timestamp) {
			out[idx] = r
		}
		e.logger.Warn("multiple rows for story, using most recent", "story_id", r.StoryID)
	}
	return out
}

func (e *Engine) buildView(storyID string, s state.Story, sum *state.ArtifactSummary) state.StoryView {
	view := state.StoryView{
		StoryID:      storyID,
		Title:        s.Title,
		Description:  s.Description,
		Processed:    s.Processed,
		Timestamp:    s.Timestamp,
		DownloadLink: e.DownloadLink(storyID),
	}
	if sum != nil {
		view.NumTestCases = max(sum.NumTestCases, 0)
		view.ProcessStartTime = sum.StartTime
		view.ProcessEndTime = sum.EndTime
	}
	return view
}
