// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package filestoretest provides a shared conformance test suite for
// filestore.Store implementations. Each backend should call
// RunConformanceTests from its own _test.go file.
package filestoretest

import (
	"context"
	"errors"
	"testing"

	"github.com/leseb/storybridge/pkg/filestore"
)

// RunConformanceTests exercises a Store implementation against the shared
// contract. The newStore function is called once per sub-test to provide an
// isolated store instance.
func RunConformanceTests(t *testing.T, newStore func(t *testing.T) filestore.Store) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) {
		store := newStore(t)
		defer store.Close(context.Background())
		ctx := context.Background()

		obj := &filestore.Object{
			Key:         "exports/story_1.csv",
			ContentType: "text/csv",
			Content:     []byte("a,b\n1,2\n"),
		}
		if err := store.PutObject(ctx, obj); err != nil {
			t.Fatalf("PutObject: %v", err)
		}

		got, err := store.GetObject(ctx, obj.Key)
		if err != nil {
			t.Fatalf("GetObject: %v", err)
		}
		if got.Key != obj.Key || got.Size != int64(len(obj.Content)) {
			t.Errorf("GetObject returned unexpected metadata: %+v", got)
		}
		if got.Content != nil {
			t.Errorf("expected Content to be nil from GetObject, got %d bytes", len(got.Content))
		}

		content, err := store.GetObjectContent(ctx, obj.Key)
		if err != nil {
			t.Fatalf("GetObjectContent: %v", err)
		}
		if string(content) != string(obj.Content) {
			t.Errorf("content mismatch: got %q, want %q", content, obj.Content)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		store := newStore(t)
		defer store.Close(context.Background())
		ctx := context.Background()

		for _, body := range []string{"first", "second version"} {
			if err := store.PutObject(ctx, &filestore.Object{Key: "exports/story_2.csv", Content: []byte(body)}); err != nil {
				t.Fatalf("PutObject: %v", err)
			}
		}
		content, err := store.GetObjectContent(ctx, "exports/story_2.csv")
		if err != nil {
			t.Fatalf("GetObjectContent: %v", err)
		}
		if string(content) != "second version" {
			t.Errorf("content = %q, want the latest write", content)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore(t)
		defer store.Close(context.Background())
		ctx := context.Background()

		if err := store.PutObject(ctx, &filestore.Object{Key: "del.txt", Content: []byte("del")}); err != nil {
			t.Fatalf("PutObject: %v", err)
		}
		if err := store.DeleteObject(ctx, "del.txt"); err != nil {
			t.Fatalf("DeleteObject: %v", err)
		}
		if _, err := store.GetObject(ctx, "del.txt"); !errors.Is(err, filestore.ErrObjectNotFound) {
			t.Errorf("expected ErrObjectNotFound after delete, got: %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		store := newStore(t)
		defer store.Close(context.Background())
		ctx := context.Background()

		if _, err := store.GetObject(ctx, "missing.csv"); !errors.Is(err, filestore.ErrObjectNotFound) {
			t.Errorf("GetObject expected ErrObjectNotFound, got: %v", err)
		}
		if _, err := store.GetObjectContent(ctx, "missing.csv"); !errors.Is(err, filestore.ErrObjectNotFound) {
			t.Errorf("GetObjectContent expected ErrObjectNotFound, got: %v", err)
		}
		if err := store.DeleteObject(ctx, "missing.csv"); !errors.Is(err, filestore.ErrObjectNotFound) {
			t.Errorf("DeleteObject expected ErrObjectNotFound, got: %v", err)
		}
	})

	t.Run("ListByPrefix", func(t *testing.T) {
		store := newStore(t)
		defer store.Close(context.Background())
		ctx := context.Background()

		for _, key := range []string{"exports/story_3.csv", "uploads/a.txt", "exports/story_1.csv"} {
			if err := store.PutObject(ctx, &filestore.Object{Key: key, Content: []byte(key)}); err != nil {
				t.Fatalf("PutObject(%s): %v", key, err)
			}
		}

		got, err := store.ListObjects(ctx, "exports/")
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		want := []string{"exports/story_1.csv", "exports/story_3.csv"}
		if len(got) != len(want) {
			t.Fatalf("got %d objects, want %d", len(got), len(want))
		}
		for i, key := range want {
			if got[i].Key != key {
				t.Errorf("object %d = %s, want %s", i, got[i].Key, key)
			}
		}

		all, err := store.ListObjects(ctx, "")
		if err != nil {
			t.Fatalf("ListObjects: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("got %d objects, want 3", len(all))
		}
	})

	t.Run("InvalidKey", func(t *testing.T) {
		store := newStore(t)
		defer store.Close(context.Background())

		for _, key := range []string{"", "/abs", "a/../b", "a//b"} {
			if err := store.PutObject(context.Background(), &filestore.Object{Key: key}); err == nil {
				t.Errorf("PutObject(%q) expected error", key)
			}
		}
	})
}
