package store

import (
	"context"

	"restaurant-service/internal/models"
)

// Tenants runs read-modify-write cycles against the document, one tenant at
// a time. Every write goes through the tenant lock and a revision check.
type Tenants struct {
	docs       DocumentStore
	locker     Locker
	maxRetries int
}

// NewTenants creates a new tenant-scoped accessor
func NewTenants(docs DocumentStore, locker Locker, maxRetries int) *Tenants {
	return &Tenants{docs: docs, locker: locker, maxRetries: maxRetries}
}

// Read loads the current document
func (t *Tenants) Read(ctx context.Context) (*models.Document, error) {
	return t.docs.Load(ctx)
}

// Lock takes the tenant lock. Pair it with UpdateLocked when work between
// the lock and the write must not interleave with other writers.
func (t *Tenants) Lock(ctx context.Context, key string) (func(), error) {
	return t.locker.Lock(ctx, key)
}

// Mutate locks key and applies fn to a fresh copy of the document
func (t *Tenants) Mutate(ctx context.Context, key string, fn func(doc *models.Document) error) (*models.Document, error) {
	unlock, err := t.locker.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return Update(ctx, t.docs, t.maxRetries, fn)
}

// UpdateLocked applies fn without taking the lock; the caller must hold it
func (t *Tenants) UpdateLocked(ctx context.Context, fn func(doc *models.Document) error) (*models.Document, error) {
	return Update(ctx, t.docs, t.maxRetries, fn)
}
