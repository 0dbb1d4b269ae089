// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package filestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/leseb/storybridge/pkg/provider"
)

// ErrObjectNotFound is returned when an object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Providers is the registry of file store backend implementations.
// Import implementation packages with blank imports to register them:
//
//	import _ "github.com/leseb/storybridge/pkg/filestore/memory"
//	import _ "github.com/leseb/storybridge/pkg/filestore/filesystem"
//	import _ "github.com/leseb/storybridge/pkg/filestore/s3"
var Providers = provider.NewRegistry[Store]("file_store")

// Object is a stored blob with its metadata.
type Object struct {
	Key         string // slash-separated, e.g. "exports/test_cases_story_42.xlsx"
	ContentType string
	Size        int64
	Content     []byte // populated for PutObject input; nil for GetObject output
	CreatedAt   time.Time
}

// Store defines the interface for pluggable object storage backends.
// PutObject overwrites an existing object with the same key.
type Store interface {
	PutObject(ctx context.Context, obj *Object) error
	GetObject(ctx context.Context, key string) (*Object, error)
	GetObjectContent(ctx context.Context, key string) ([]byte, error)
	DeleteObject(ctx context.Context, key string) error
	// ListObjects returns metadata for every object whose key starts with
	// prefix, sorted by key.
	ListObjects(ctx context.Context, prefix string) ([]*Object, error)
	Close(ctx context.Context) error
}

// ValidateKey rejects keys that are empty, absolute, or contain empty or
// relative path segments.
func ValidateKey(key string) error {
	if key == "" {
		return errors.New("object key is required")
	}
	if strings.HasPrefix(key, "/") {
		return fmt.Errorf("object key %q must be relative", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("object key %q contains an invalid segment", key)
		}
	}
	return nil
}

// NotFound wraps ErrObjectNotFound with the key.
func NotFound(key string) error {
	return fmt.Errorf("object %s: %w", key, ErrObjectNotFound)
}
