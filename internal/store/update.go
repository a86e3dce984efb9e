package store

import (
	"context"
	"errors"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/models"
	"restaurant-service/internal/util"
)

// ErrNoChange lets an Update callback finish without writing.
var ErrNoChange = errors.New("no change")

// Update loads the document, applies fn and saves it. fn may run more than
// once: on a revision conflict the whole cycle restarts from a fresh load.
func Update(ctx context.Context, s DocumentStore, maxRetries int, fn func(doc *models.Document) error) (*models.Document, error) {
	for attempt := 0; ; attempt++ {
		doc, err := s.Load(ctx)
		if err != nil {
			return nil, err
		}

		if err := fn(doc); err != nil {
			if errors.Is(err, ErrNoChange) {
				return doc, nil
			}
			return nil, err
		}

		err = s.Save(ctx, doc)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, ErrRevisionConflict) {
			return nil, err
		}

		util.StoreConflictsTotal.Inc()
		if attempt >= maxRetries {
			return nil, apperr.ErrTenantBusy.Wrap(err)
		}
	}
}
