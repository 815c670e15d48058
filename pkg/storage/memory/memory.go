// Package memory is an in-process object store for tests and local runs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/feichai0017/file-organizer/pkg/storage/objkey"
)

// ErrNotFound is returned for missing keys.
var ErrNotFound = objkey.ErrNotFound

type object struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Storage keeps objects in a map.
type Storage struct {
	mu      sync.RWMutex
	objects map[string]object
	now     func() time.Time
}

// New returns an empty store.
func New() *Storage {
	return &Storage{objects: make(map[string]object), now: time.Now}
}

// WithClock overrides the modification clock.
func (s *Storage) WithClock(now func() time.Time) *Storage {
	s.now = now
	return s
}

func (s *Storage) Store(ctx context.Context, reader io.Reader, key string, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: data, contentType: contentType, modified: s.now()}
	return key, nil
}

func (s *Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *Storage) Rename(ctx context.Context, key, newBaseName string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	dst := objkey.Renamed(key, newBaseName)
	if dst == key {
		return key, nil
	}
	obj.modified = s.now()
	s.objects[dst] = obj
	delete(s.objects, key)
	return dst, nil
}

func (s *Storage) CleanupBefore(ctx context.Context, threshold time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, obj := range s.objects {
		if obj.modified.Before(threshold) {
			delete(s.objects, key)
			n++
		}
	}
	return n, nil
}

// Keys lists the stored keys.
func (s *Storage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
