// Package storage defines the persistence contract shared by the in-memory
// knowledge base and the Postgres store.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/signalsfoundry/orbit-tracker/model"
)

var (
	// ErrNotFound is returned when no record matches a lookup.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidRecord is returned for records that cannot be stored.
	ErrInvalidRecord = errors.New("storage: invalid record")
)

// Store persists tracked objects and answers latest-state queries.
//
// A record with the same identity and epoch as an existing one replaces it
// and receives a fresh sequence number. DeleteAll clears the category sinks
// in model.Categories order before the base records.
type Store interface {
	InsertMany(ctx context.Context, objs []model.TrackedObject) ([]model.Record, error)
	LatestPerObject(ctx context.Context) ([]model.Record, error)
	LatestOverall(ctx context.Context) (model.Record, error)
	LatestByName(ctx context.Context, name string) (model.Record, error)
	AllByCategory(ctx context.Context, category model.Category) ([]model.Record, error)
	DeleteAll(ctx context.Context) error
}

// LatestMirror keeps a read-side copy of the latest-per-object view, for
// example in a shared cache.
type LatestMirror interface {
	ReplaceLatest(ctx context.Context, records []model.Record) error
	Clear(ctx context.Context) error
}

// StorageError wraps a persistence failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Wrap returns err as a *StorageError for op, leaving nil, ErrNotFound and
// existing StorageErrors untouched.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var serr *StorageError
	if errors.As(err, &serr) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Validate checks the fields every store relies on.
func Validate(obj model.TrackedObject) error {
	if obj.Identity() == "" {
		return fmt.Errorf("%w: empty object name", ErrInvalidRecord)
	}
	if obj.Epoch.IsZero() {
		return fmt.Errorf("%w: %s has no epoch", ErrInvalidRecord, obj.Identity())
	}
	switch obj.Category {
	case model.Satellite, model.Debris, model.RocketBody:
	default:
		return fmt.Errorf("%w: %s has category %s", ErrInvalidRecord, obj.Identity(), obj.Category)
	}
	return nil
}
