// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package filesystem_test

import (
	"context"
	"testing"

	"github.com/leseb/storybridge/pkg/filestore"
	"github.com/leseb/storybridge/pkg/filestore/filestoretest"
	"github.com/leseb/storybridge/pkg/filestore/filesystem"
)

func TestFilesystemConformance(t *testing.T) {
	filestoretest.RunConformanceTests(t, func(t *testing.T) filestore.Store {
		store, err := filesystem.New(t.TempDir())
		if err != nil {
			t.Fatalf("filesystem.New: %v", err)
		}
		return store
	})
}

func TestReopenSeesObjects(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := filesystem.New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.PutObject(ctx, &filestore.Object{Key: "exports/story_1.csv", ContentType: "text/csv", Content: []byte("a,b")}); err != nil {
		t.Fatalf("PutObject: %v", err)
	}

	second, err := filesystem.New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := second.GetObjectContent(ctx, "exports/story_1.csv")
	if err != nil {
		t.Fatalf("GetObjectContent: %v", err)
	}
	if string(got) != "a,b" {
		t.Errorf("content = %q, want a,b", got)
	}
}
