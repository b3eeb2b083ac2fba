// Package memory provides an in-process Store used by tests and single-node deployments.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/dukex/flowrule/pkg/persistence"
)

type key struct {
	kind     string
	tenantID string
}

// Store keeps documents in nested maps guarded by a RWMutex.
type Store struct {
	mu   sync.RWMutex
	data map[key]map[string][]byte
}

// NewStore creates an empty memory store.
func NewStore() *Store {
	return &Store{data: map[key]map[string][]byte{}}
}

func (s *Store) Get(_ context.Context, kind, tenantID, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.data[key{kind, tenantID}][id]
	if !ok {
		return nil, persistence.NewEntityError("Get", kind, tenantID, id, persistence.ErrNotFound)
	}

	return slices.Clone(data), nil
}

func (s *Store) Put(_ context.Context, kind, tenantID, id string, data []byte) error {
	err := persistence.CheckKey("Put", kind, tenantID, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, ok := s.data[key{kind, tenantID}]
	if !ok {
		bucket = map[string][]byte{}
		s.data[key{kind, tenantID}] = bucket
	}

	bucket[id] = slices.Clone(data)

	return nil
}

func (s *Store) Delete(_ context.Context, kind, tenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.data[key{kind, tenantID}]
	if _, ok := bucket[id]; !ok {
		return persistence.NewEntityError("Delete", kind, tenantID, id, persistence.ErrNotFound)
	}

	delete(bucket, id)

	return nil
}

func (s *Store) List(_ context.Context, kind, tenantID string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.data[key{kind, tenantID}]

	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	documents := make([][]byte, 0, len(ids))
	for _, id := range ids {
		documents = append(documents, slices.Clone(bucket[id]))
	}

	return documents, nil
}

func (s *Store) HealthCheck(_ context.Context) error {
	return nil
}

func (s *Store) Close(_ context.Context) error {
	return nil
}
