// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package milvus

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	milvusclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/leseb/storybridge/pkg/vectorstore"
	"github.com/leseb/storybridge/pkg/vectorstore/vectorstoretest"
)

func TestMilvusConformance(t *testing.T) {
	address := os.Getenv("MILVUS_TEST_ADDRESS")
	if address == "" {
		t.Skip("Skipping Milvus conformance tests: MILVUS_TEST_ADDRESS must be set")
	}

	n := 0
	vectorstoretest.RunConformanceTests(t, func(t *testing.T) vectorstore.Backend {
		ctx := context.Background()
		n++
		coll := fmt.Sprintf("storybridge_test_%d_%d", time.Now().UnixNano(), n)

		b, err := NewBackend(ctx, address, coll)
		if err != nil {
			t.Fatalf("NewBackend: %v", err)
		}
		return &droppingBackend{Backend: b}
	})
}

// droppingBackend removes its collection on Close.
type droppingBackend struct {
	*Backend
}

func (d *droppingBackend) Close(ctx context.Context) error {
	_ = d.client.DropCollection(ctx, d.collection)
	return d.Backend.Close(ctx)
}

func TestEscapeExpr(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`42`, `42`},
		{`a"b`, `a\"b`},
		{`a\b`, `a\\b`},
	}
	for _, tt := range tests {
		if got := escapeExpr(tt.in); got != tt.want {
			t.Errorf("escapeExpr(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abcdef", 3, "abc"},
		{"ab", 3, "ab"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"日本語", 4, "日"},
		{"日本語", 2, ""},
		{"a😀b", 4, "a"},
		{"a😀b", 5, "a😀"},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) || len(got) > tt.n {
			t.Errorf("truncate(%q, %d) = %q is not a valid prefix within the limit", tt.in, tt.n, got)
		}
	}
}

// windowedClient serves row ids 1..rows in ascending order, at most
// maxQueryWindow per Query, honouring the trailing "row_id > N" bound.
type windowedClient struct {
	milvusclient.Client
	rows  int64
	exprs []string
}

func (c *windowedClient) Query(_ context.Context, _ string, _ []string, expr string, _ []string, _ ...milvusclient.SearchQueryOptionFunc) (milvusclient.ResultSet, error) {
	c.exprs = append(c.exprs, expr)
	i := strings.LastIndex(expr, fieldRowID+" > ")
	after, err := strconv.ParseInt(expr[i+len(fieldRowID+" > "):], 10, 64)
	if err != nil {
		return nil, err
	}

	var (
		ids, ts         []int64
		storyIDs, texts []string
		processed       []bool
	)
	for id := after + 1; id <= c.rows && len(ids) < maxQueryWindow; id++ {
		ids = append(ids, id)
		ts = append(ts, id)
		storyIDs = append(storyIDs, strconv.FormatInt(id, 10))
		texts = append(texts, "story")
		processed = append(processed, false)
	}
	return milvusclient.ResultSet{
		entity.NewColumnInt64(fieldRowID, ids),
		entity.NewColumnVarChar(fieldStoryID, storyIDs),
		entity.NewColumnVarChar(fieldTitle, texts),
		entity.NewColumnVarChar(fieldDescription, texts),
		entity.NewColumnBool(fieldProcessed, processed),
		entity.NewColumnInt64(fieldTimestamp, ts),
	}, nil
}

func TestQuery_PagesPastWindow(t *testing.T) {
	tests := []struct {
		rows      int64
		wantCalls int
	}{
		{0, 1},
		{5, 1},
		{maxQueryWindow, 2},
		{2*maxQueryWindow + 5, 3},
	}
	for _, tt := range tests {
		t.Run(strconv.FormatInt(tt.rows, 10), func(t *testing.T) {
			client := &windowedClient{rows: tt.rows}
			b := &Backend{client: client, collection: DefaultCollection}

			rows, err := b.ListStories(context.Background())
			if err != nil {
				t.Fatalf("ListStories: %v", err)
			}
			if int64(len(rows)) != tt.rows {
				t.Errorf("got %d rows, want %d", len(rows), tt.rows)
			}
			if len(client.exprs) != tt.wantCalls {
				t.Errorf("Query calls = %d, want %d: %q", len(client.exprs), tt.wantCalls, client.exprs)
			}
			if tt.rows > 0 && rows[0].StoryID != strconv.FormatInt(tt.rows, 10) {
				t.Errorf("newest story = %s, want %d", rows[0].StoryID, tt.rows)
			}
		})
	}
}

func TestKeysetExpr(t *testing.T) {
	got := keysetExpr(`story_id == "7"`, 16384)
	want := `(story_id == "7") && row_id > 16384`
	if got != want {
		t.Errorf("keysetExpr = %q, want %q", got, want)
	}
}
