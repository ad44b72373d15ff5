// Package memory provides an in-memory artifact sink for tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Sink stores artifacts in a map keyed by path.
type Sink struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// New creates an empty in-memory sink.
func New() *Sink {
	return &Sink{objects: make(map[string][]byte)}
}

// PutObject stores a copy of data and returns a mem:// URI.
func (s *Sink) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[path] = buf
	return "mem://" + path, nil
}

// Object returns the stored bytes for path, if any.
func (s *Sink) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[path]
	return data, ok
}

// Len reports how many objects have been stored.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
