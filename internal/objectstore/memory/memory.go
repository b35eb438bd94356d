// Package memory is an in-process objectstore.Store
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cuongbtq/quizjobs/internal/objectstore"
)

var _ objectstore.Store = (*Store)(nil)

type object struct {
	body        []byte
	contentType string
}

// Store keeps objects in a map
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New creates an empty Store
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// Put implements objectstore.Store
func (s *Store) Put(_ context.Context, key string, body []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = object{body: append([]byte(nil), body...), contentType: contentType}
	return nil
}

// Get implements objectstore.Store
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("key %s: %w", key, objectstore.ErrNotFound)
	}
	return append([]byte(nil), obj.body...), nil
}

// ContentType returns the content type stored with key
func (s *Store) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.objects[key].contentType
}

// Keys lists stored keys in lexical order
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
