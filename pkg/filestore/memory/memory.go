// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/leseb/storybridge/pkg/filestore"
	"github.com/leseb/storybridge/pkg/provider"
)

func init() {
	filestore.Providers.Register("memory", func(_ context.Context, _ provider.Params) (filestore.Store, error) {
		return New(), nil
	})
}

// compile-time check
var _ filestore.Store = (*Store)(nil)

// Store is an in-memory object store.
type Store struct {
	mu      sync.RWMutex
	objects map[string]*filestore.Object
}

// New creates a new in-memory object store.
func New() *Store {
	return &Store{
		objects: make(map[string]*filestore.Object),
	}
}

// PutObject stores a copy of obj, replacing any previous object with the
// same key.
func (s *Store) PutObject(_ context.Context, obj *filestore.Object) error {
	if err := filestore.ValidateKey(obj.Key); err != nil {
		return err
	}

	stored := *obj
	stored.Content = append([]byte(nil), obj.Content...)
	stored.Size = int64(len(obj.Content))
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	s.mu.Lock()
	s.objects[obj.Key] = &stored
	s.mu.Unlock()
	return nil
}

// GetObject returns object metadata (Content is nil).
func (s *Store) GetObject(_ context.Context, key string) (*filestore.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, filestore.NotFound(key)
	}
	return metadataOnly(obj), nil
}

// GetObjectContent returns a copy of the stored bytes.
func (s *Store) GetObjectContent(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, filestore.NotFound(key)
	}
	return append([]byte(nil), obj.Content...), nil
}

// DeleteObject removes an object.
func (s *Store) DeleteObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return filestore.NotFound(key)
	}
	delete(s.objects, key)
	return nil
}

// ListObjects returns metadata for objects under prefix, sorted by key.
func (s *Store) ListObjects(_ context.Context, prefix string) ([]*filestore.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*filestore.Object
	for key, obj := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, metadataOnly(obj))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close(_ context.Context) error {
	return nil
}

func metadataOnly(obj *filestore.Object) *filestore.Object {
	cp := *obj
	cp.Content = nil
	return &cp
}
