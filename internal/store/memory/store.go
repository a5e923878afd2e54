// Package memory provides an in-process artifact store for development and
// single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sshtomar/llm-txt/internal/generator"
	"github.com/sshtomar/llm-txt/internal/store"
)

// Store keeps all job state in a process-wide map.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// PutStatus writes the serialized job view.
func (s *Store) PutStatus(_ context.Context, jobID string, status []byte) error {
	s.put(store.ObjectKey("", jobID, generator.ArtifactStatusJSON), status)
	return nil
}

// GetStatus reads the serialized job view.
func (s *Store) GetStatus(_ context.Context, jobID string) ([]byte, error) {
	return s.get(store.ObjectKey("", jobID, generator.ArtifactStatusJSON))
}

// PutArtifact writes an output blob and returns a pseudo URI.
func (s *Store) PutArtifact(_ context.Context, jobID string, kind generator.ArtifactKind, data []byte) (string, error) {
	key := store.ObjectKey("", jobID, kind)
	s.put(key, data)
	return fmt.Sprintf("memory://%s", key), nil
}

// GetArtifact reads an output blob.
func (s *Store) GetArtifact(_ context.Context, jobID string, kind generator.ArtifactKind) ([]byte, error) {
	return s.get(store.ObjectKey("", jobID, kind))
}

func (s *Store) put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
}

func (s *Store) get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}
