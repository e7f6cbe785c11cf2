// Package store persists sighting records.
package store

import (
	"context"
	"errors"

	"platewatch/internal/domain/anpr"
)

// ErrLocked is returned when another process already owns the store.
var ErrLocked = errors.New("record store is owned by another process")

// Store is the record store contract shared by the CSV file store and the
// SQL repository. Implementations serialise mutations and allocate ids.
type Store interface {
	// Append assigns s.ID and adds s at the end of the store.
	Append(ctx context.Context, s *anpr.Sighting) error
	// List returns every valid record in store order.
	List(ctx context.Context) ([]anpr.Sighting, error)
	// UpdatePlate replaces the plate text of one record.
	UpdatePlate(ctx context.Context, id int64, plate string) error
	// Delete removes one record.
	Delete(ctx context.Context, id int64) error
	// BulkDelete removes every record whose id is in ids and returns the ids
	// that were present.
	BulkDelete(ctx context.Context, ids []int64) ([]int64, error)
	Close() error
}
