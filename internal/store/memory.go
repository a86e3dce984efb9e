package store

import (
	"context"
	"fmt"
	"sync"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/models"
)

// MemoryStore keeps the document in process. Loads and saves go through
// Document.Clone, so callers never share state with the store.
type MemoryStore struct {
	mu          sync.Mutex
	doc         *models.Document
	revision    int64
	unavailable error
}

// NewMemoryStore creates a store seeded with doc (may be nil)
func NewMemoryStore(doc *models.Document) (*MemoryStore, error) {
	s := &MemoryStore{doc: &models.Document{}}
	if doc == nil {
		return s, nil
	}
	seed, err := doc.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to copy seed document: %w", err)
	}
	s.doc = seed
	s.revision = 1
	return s, nil
}

// SetUnavailable makes every Load/Save fail with err until cleared with nil
func (s *MemoryStore) SetUnavailable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = err
}

// Load returns a copy of the current document
func (s *MemoryStore) Load(ctx context.Context) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unavailable != nil {
		return nil, apperr.ErrStoreUnavailable.Wrap(s.unavailable)
	}

	doc, err := s.doc.Clone()
	if err != nil {
		return nil, err
	}
	doc.Revision = s.revision
	return doc, nil
}

// Save replaces the document if doc.Revision is current
func (s *MemoryStore) Save(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unavailable != nil {
		return apperr.ErrStoreUnavailable.Wrap(s.unavailable)
	}
	if doc.Revision != s.revision {
		return ErrRevisionConflict
	}

	stored, err := doc.Clone()
	if err != nil {
		return err
	}
	s.doc = stored
	s.revision++
	doc.Revision = s.revision
	return nil
}

// Revision returns the stored revision
func (s *MemoryStore) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}
