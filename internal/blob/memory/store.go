// Package memblob keeps blobs in process memory. Sandbox mode stores
// statements and archives here instead of a bucket.
package memblob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Store implements domain.BlobWriter, domain.BlobReader and
// domain.BlobDeleter.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New creates an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

var (
	_ domain.BlobWriter  = (*Store)(nil)
	_ domain.BlobReader  = (*Store)(nil)
	_ domain.BlobDeleter = (*Store)(nil)
)

// Put stores the contents of data at path.
func (s *Store) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("memblob: read %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = object{data: b, contentType: contentType, modified: time.Now().UTC()}
	return nil
}

// PutMultipart is Put without a content type.
func (s *Store) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return s.Put(ctx, path, data, "application/octet-stream")
}

// Get returns the object at path or domain.ErrNotFound.
func (s *Store) Get(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.objects[path]
	if !ok {
		return nil, fmt.Errorf("memblob: get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

// List returns the objects under prefix, sorted by path.
func (s *Store) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.BlobInfo
	for p, o := range s.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{
				Path:         p,
				Size:         int64(len(o.data)),
				ContentType:  o.contentType,
				LastModified: o.modified,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Exists reports whether path is stored.
func (s *Store) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[path]
	return ok, nil
}

// Delete removes path. Missing objects are not an error.
func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	return nil
}
