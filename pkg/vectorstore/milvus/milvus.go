// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package milvus

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/leseb/storybridge/pkg/core/state"
	"github.com/leseb/storybridge/pkg/provider"
	"github.com/leseb/storybridge/pkg/vectorstore"
	milvusclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	fieldRowID       = "row_id"
	fieldStoryID     = "story_id"
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldProcessed   = "processed"
	fieldTimestamp   = "timestamp"
	fieldEmbedding   = "embedding"

	// DefaultCollection matches the relational table name.
	DefaultCollection = "user_stories"

	maxStoryIDLength     = 256
	maxTitleLength       = 1024
	maxDescriptionLength = 65535

	// maxQueryWindow is the largest result window Milvus serves from a
	// single Query or Search; it also bounds topK.
	maxQueryWindow = 16384
)

var storyFields = []string{fieldRowID, fieldStoryID, fieldTitle, fieldDescription, fieldProcessed, fieldTimestamp}

func init() {
	vectorstore.Providers.Register("milvus", func(ctx context.Context, params provider.Params) (vectorstore.Backend, error) {
		address := params.String("address", "localhost:19530")
		return NewBackend(ctx, address, params.String("collection", DefaultCollection))
	})
}

// compile-time check
var _ vectorstore.Backend = (*Backend)(nil)

// Backend implements vectorstore.Backend using one Milvus collection. Rows
// are keyed by an auto-generated row_id so several rows may share a
// story_id.
type Backend struct {
	client     milvusclient.Client
	collection string

	mu         sync.RWMutex
	dimensions int
}

// NewBackend connects to Milvus and returns a Backend.
func NewBackend(ctx context.Context, address, collection string) (*Backend, error) {
	c, err := milvusclient.NewClient(ctx, milvusclient.Config{
		Address: address,
	})
	if err != nil {
		return nil, state.Unavailable("milvus connect "+address, err)
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &Backend{client: c, collection: collection}, nil
}

// EnsureCollection creates the collection and its HNSW index when missing,
// then loads it.
func (b *Backend) EnsureCollection(ctx context.Context, dimensions int) error {
	exists, err := b.client.HasCollection(ctx, b.collection)
	if err != nil {
		return state.Unavailable("check collection "+b.collection, err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(b.collection).
			WithDescription("user stories").
			WithField(entity.NewField().
				WithName(fieldRowID).
				WithDataType(entity.FieldTypeInt64).
				WithIsPrimaryKey(true).
				WithIsAutoID(true)).
			WithField(entity.NewField().
				WithName(fieldStoryID).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(maxStoryIDLength)).
			WithField(entity.NewField().
				WithName(fieldTitle).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(maxTitleLength)).
			WithField(entity.NewField().
				WithName(fieldDescription).
				WithDataType(entity.FieldTypeVarChar).
				WithMaxLength(maxDescriptionLength)).
			WithField(entity.NewField().
				WithName(fieldProcessed).
				WithDataType(entity.FieldTypeBool)).
			WithField(entity.NewField().
				WithName(fieldTimestamp).
				WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().
				WithName(fieldEmbedding).
				WithDataType(entity.FieldTypeFloatVector).
				WithDim(int64(dimensions)))

		if err := b.client.CreateCollection(ctx, schema, 1); err != nil {
			return fmt.Errorf("create collection %s: %w", b.collection, err)
		}

		idx, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
		if err != nil {
			return fmt.Errorf("create HNSW index params: %w", err)
		}
		if err := b.client.CreateIndex(ctx, b.collection, fieldEmbedding, idx, false); err != nil {
			return fmt.Errorf("create index on %s: %w", b.collection, err)
		}
	}

	if err := b.client.LoadCollection(ctx, b.collection, false); err != nil {
		return fmt.Errorf("load collection %s: %w", b.collection, err)
	}

	b.mu.Lock()
	b.dimensions = dimensions
	b.mu.Unlock()
	return nil
}

// FindStories returns every row carrying storyID, in row_id order.
func (b *Backend) FindStories(ctx context.Context, storyID string) ([]state.Story, error) {
	expr := fmt.Sprintf(`%s == "%s"`, fieldStoryID, escapeExpr(storyID))
	rows, _, err := b.query(ctx, expr, storyFields)
	return rows, err
}

// ListStories returns all rows ordered by timestamp, newest first.
func (b *Backend) ListStories(ctx context.Context) ([]state.Story, error) {
	rows, _, err := b.query(ctx, fieldRowID+" > 0", storyFields)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.After(rows[j].Timestamp)
	})
	return rows, nil
}

// InsertStory appends one row and flushes it so that it is immediately
// visible to queries.
func (b *Backend) InsertStory(ctx context.Context, story state.Story) error {
	b.mu.RLock()
	dims := b.dimensions
	b.mu.RUnlock()
	if err := vectorstore.CheckDimensions(dims, story.Embedding); err != nil {
		return err
	}
	return b.insert(ctx, []state.Story{story})
}

// UpdateProcessed rewrites every row of storyID with the new flag. The
// replacement rows are written before the originals are deleted, so a
// failure in between leaves duplicates rather than losing the story.
func (b *Backend) UpdateProcessed(ctx context.Context, storyID string, processed bool) error {
	expr := fmt.Sprintf(`%s == "%s"`, fieldStoryID, escapeExpr(storyID))
	fields := append(append([]string(nil), storyFields...), fieldEmbedding)
	rows, rowIDs, err := b.query(ctx, expr, fields)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	for i := range rows {
		rows[i].Processed = processed
	}
	if err := b.insert(ctx, rows); err != nil {
		return err
	}

	ids := make([]string, len(rowIDs))
	for i, id := range rowIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	delExpr := fmt.Sprintf("%s in [%s]", fieldRowID, strings.Join(ids, ","))
	if err := b.client.Delete(ctx, b.collection, "", delExpr); err != nil {
		return fmt.Errorf("delete stale rows of story %s: %w", storyID, err)
	}
	return nil
}

// SearchNearest performs a COSINE similarity search and converts scores to
// distances.
func (b *Backend) SearchNearest(ctx context.Context, vector []float32, k int) ([]vectorstore.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	k = min(k, maxQueryWindow)
	b.mu.RLock()
	dims := b.dimensions
	b.mu.RUnlock()
	if err := vectorstore.CheckDimensions(dims, vector); err != nil {
		return nil, err
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(64, k))
	if err != nil {
		return nil, fmt.Errorf("create search params: %w", err)
	}

	results, err := b.client.Search(
		ctx,
		b.collection,
		nil,
		"",
		storyFields,
		[]entity.Vector{entity.FloatVector(vector)},
		fieldEmbedding,
		entity.COSINE,
		k,
		sp,
		milvusclient.WithSearchQueryConsistencyLevel(entity.ClStrong),
	)
	if err != nil {
		return nil, state.Unavailable("search "+b.collection, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	sr := results[0]
	if sr.Err != nil {
		return nil, fmt.Errorf("search result error: %w", sr.Err)
	}

	stories, _, err := decodeStories(sr.Fields, sr.ResultCount, false)
	if err != nil {
		return nil, err
	}

	out := make([]vectorstore.Match, len(stories))
	for i, s := range stories {
		out[i] = vectorstore.Match{
			Story:    s,
			Distance: 1 - float64(sr.Scores[i]),
		}
	}
	// Milvus returns hits by descending similarity; keep ties stable.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Distance < out[j].Distance
	})
	return out, nil
}

// Close releases the Milvus client connection.
func (b *Backend) Close(_ context.Context) error {
	return b.client.Close()
}

func (b *Backend) insert(ctx context.Context, rows []state.Story) error {
	n := len(rows)
	storyIDs := make([]string, n)
	titles := make([]string, n)
	descriptions := make([]string, n)
	processed := make([]bool, n)
	timestamps := make([]int64, n)
	vectors := make([][]float32, n)

	for i, s := range rows {
		storyIDs[i] = s.StoryID
		titles[i] = truncate(s.Title, maxTitleLength)
		descriptions[i] = truncate(s.Description, maxDescriptionLength)
		processed[i] = s.Processed
		ts := s.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		timestamps[i] = ts.UnixMicro()
		vectors[i] = s.Embedding
	}

	_, err := b.client.Insert(ctx, b.collection, "",
		entity.NewColumnVarChar(fieldStoryID, storyIDs),
		entity.NewColumnVarChar(fieldTitle, titles),
		entity.NewColumnVarChar(fieldDescription, descriptions),
		entity.NewColumnBool(fieldProcessed, processed),
		entity.NewColumnInt64(fieldTimestamp, timestamps),
		entity.NewColumnFloatVector(fieldEmbedding, len(vectors[0]), vectors),
	)
	if err != nil {
		return state.Unavailable("insert into "+b.collection, err)
	}

	if err := b.client.Flush(ctx, b.collection, false); err != nil {
		return fmt.Errorf("flush %s: %w", b.collection, err)
	}
	return nil
}

// query runs a scalar Query and returns rows sorted by row_id along with
// their row ids.
// query returns every row matching expr in row_id order. Rows are read in
// keyset pages of at most maxQueryWindow, each page resuming after the
// largest row_id of the previous one.
func (b *Backend) query(ctx context.Context, expr string, fields []string) ([]state.Story, []int64, error) {
	withVectors := false
	for _, f := range fields {
		if f == fieldEmbedding {
			withVectors = true
		}
	}

	var (
		stories []state.Story
		rowIDs  []int64
		after   int64
		started bool
	)
	for {
		pageExpr := expr
		if started {
			pageExpr = keysetExpr(expr, after)
		}
		rs, err := b.client.Query(ctx, b.collection, nil, pageExpr, fields,
			milvusclient.WithLimit(maxQueryWindow),
			milvusclient.WithSearchQueryConsistencyLevel(entity.ClStrong),
		)
		if err != nil {
			return nil, nil, state.Unavailable("query "+b.collection, err)
		}

		idCol, ok := rs.GetColumn(fieldRowID).(*entity.ColumnInt64)
		if !ok || idCol.Len() == 0 {
			break
		}
		batch, ids, err := decodeStories(rs, idCol.Len(), withVectors)
		if err != nil {
			return nil, nil, err
		}
		stories = append(stories, batch...)
		rowIDs = append(rowIDs, ids...)

		if len(ids) < maxQueryWindow {
			break
		}
		after, started = slices.Max(ids), true
	}

	order := make([]int, len(stories))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return rowIDs[order[i]] < rowIDs[order[j]] })

	sortedStories := make([]state.Story, len(order))
	sortedIDs := make([]int64, len(order))
	for i, o := range order {
		sortedStories[i] = stories[o]
		sortedIDs[i] = rowIDs[o]
	}
	return sortedStories, sortedIDs, nil
}

// keysetExpr narrows expr to rows after the given row_id.
func keysetExpr(expr string, after int64) string {
	return fmt.Sprintf("(%s) && %s > %d", expr, fieldRowID, after)
}

// decodeStories materialises n rows from a column set.
func decodeStories(rs milvusclient.ResultSet, n int, withVectors bool) ([]state.Story, []int64, error) {
	ids, err := columnData[*entity.ColumnInt64](rs, fieldRowID)
	if err != nil {
		return nil, nil, err
	}
	storyIDs, err := columnData[*entity.ColumnVarChar](rs, fieldStoryID)
	if err != nil {
		return nil, nil, err
	}
	titles, err := columnData[*entity.ColumnVarChar](rs, fieldTitle)
	if err != nil {
		return nil, nil, err
	}
	descriptions, err := columnData[*entity.ColumnVarChar](rs, fieldDescription)
	if err != nil {
		return nil, nil, err
	}
	processed, err := columnData[*entity.ColumnBool](rs, fieldProcessed)
	if err != nil {
		return nil, nil, err
	}
	timestamps, err := columnData[*entity.ColumnInt64](rs, fieldTimestamp)
	if err != nil {
		return nil, nil, err
	}
	var vectors *entity.ColumnFloatVector
	if withVectors {
		if vectors, err = columnData[*entity.ColumnFloatVector](rs, fieldEmbedding); err != nil {
			return nil, nil, err
		}
	}

	out := make([]state.Story, n)
	rowIDs := make([]int64, n)
	for i := 0; i < n; i++ {
		rowIDs[i] = ids.Data()[i]
		out[i] = state.Story{
			StoryID:     storyIDs.Data()[i],
			Title:       titles.Data()[i],
			Description: descriptions.Data()[i],
			Processed:   processed.Data()[i],
			Timestamp:   time.UnixMicro(timestamps.Data()[i]).UTC(),
		}
		if vectors != nil {
			out[i].Embedding = vectors.Data()[i]
		}
	}
	return out, rowIDs, nil
}

func columnData[C entity.Column](rs milvusclient.ResultSet, name string) (C, error) {
	col, ok := rs.GetColumn(name).(C)
	if !ok {
		var zero C
		return zero, fmt.Errorf("milvus result missing column %q", name)
	}
	return col, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// escapeExpr escapes double quotes in a string for Milvus filter expressions.
func escapeExpr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
