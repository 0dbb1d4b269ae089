// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/leseb/storybridge/pkg/filestore"
	"github.com/leseb/storybridge/pkg/provider"
)

const (
	contentFile  = "content"
	metadataFile = "metadata.json"
)

func init() {
	filestore.Providers.Register("filesystem", func(_ context.Context, params provider.Params) (filestore.Store, error) {
		return New(params.String("base_dir", "data/exports"))
	})
}

// compile-time check
var _ filestore.Store = (*Store)(nil)

// objectMetadata is the on-disk representation stored in metadata.json.
type objectMetadata struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store implements filestore.Store backed by a local filesystem.
//
// Layout:
//
//	<baseDir>/<key>/content        raw bytes
//	<baseDir>/<key>/metadata.json  JSON metadata sidecar
type Store struct {
	baseDir string
}

// New creates a filesystem-backed Store, creating baseDir if it does not exist.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) objectDir(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}

// PutObject writes the content and metadata to disk, each atomically.
func (s *Store) PutObject(_ context.Context, obj *filestore.Object) error {
	if err := filestore.ValidateKey(obj.Key); err != nil {
		return err
	}

	dir := s.objectDir(obj.Key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	if err := writeAtomic(filepath.Join(dir, contentFile), obj.Content); err != nil {
		return fmt.Errorf("write content: %w", err)
	}

	createdAt := obj.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	meta := objectMetadata{
		Key:         obj.Key,
		ContentType: obj.ContentType,
		Size:        int64(len(obj.Content)),
		CreatedAt:   createdAt,
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, metadataFile), metaBytes); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	return nil
}

// GetObject returns object metadata (Content is nil).
func (s *Store) GetObject(_ context.Context, key string) (*filestore.Object, error) {
	if err := filestore.ValidateKey(key); err != nil {
		return nil, filestore.NotFound(key)
	}
	meta, err := readMetadata(filepath.Join(s.objectDir(key), metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, filestore.NotFound(key)
		}
		return nil, err
	}
	return meta.object(), nil
}

// GetObjectContent returns the raw bytes.
func (s *Store) GetObjectContent(_ context.Context, key string) ([]byte, error) {
	if err := filestore.ValidateKey(key); err != nil {
		return nil, filestore.NotFound(key)
	}
	data, err := os.ReadFile(filepath.Join(s.objectDir(key), contentFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, filestore.NotFound(key)
		}
		return nil, fmt.Errorf("read content: %w", err)
	}
	return data, nil
}

// DeleteObject removes the object's content and metadata. Nested objects
// under the same key path are left alone.
func (s *Store) DeleteObject(_ context.Context, key string) error {
	if err := filestore.ValidateKey(key); err != nil {
		return filestore.NotFound(key)
	}
	dir := s.objectDir(key)
	metaPath := filepath.Join(dir, metadataFile)
	if _, err := os.Stat(metaPath); err != nil {
		if os.IsNotExist(err) {
			return filestore.NotFound(key)
		}
		return fmt.Errorf("stat object: %w", err)
	}

	for _, name := range []string{contentFile, metadataFile} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	// Remove the directory only when nothing else lives under it.
	_ = os.Remove(dir)
	return nil
}

// ListObjects walks baseDir for metadata sidecars under prefix.
func (s *Store) ListObjects(_ context.Context, prefix string) ([]*filestore.Object, error) {
	var out []*filestore.Object
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != metadataFile {
			return nil
		}
		meta, err := readMetadata(path)
		if err != nil {
			return nil // skip corrupt entries
		}
		if strings.HasPrefix(meta.Key, prefix) {
			out = append(out, meta.object())
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("walk base dir: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close is a no-op for the filesystem store.
func (s *Store) Close(_ context.Context) error {
	return nil
}

func (m *objectMetadata) object() *filestore.Object {
	return &filestore.Object{
		Key:         m.Key,
		ContentType: m.ContentType,
		Size:        m.Size,
		CreatedAt:   m.CreatedAt,
	}
}

func readMetadata(path string) (*objectMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta objectMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata %s: %w", path, err)
	}
	return &meta, nil
}

// writeAtomic writes data to a temp file and renames it into place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
