// Package store defines the document-store contract the dispatcher
// persists through, along with the error taxonomy stores must surface.
// Implementations live in the memstore and mongostore subpackages.
package store

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by GetByID when no instance matches the id.
var ErrNotFound = errors.New("instance not found")

// Store is the set of primitives a document store must provide. Instances
// are always pointers to registered document structs.
type Store interface {
	// Save persists instance, inserting or replacing by identity. A
	// missing identity is assigned by the store.
	Save(ctx context.Context, instance any) error
	// Delete removes instance by identity.
	Delete(ctx context.Context, instance any) error
	// GetByID fetches one instance of model by its string identity.
	GetByID(ctx context.Context, model reflect.Type, id string) (any, error)
	// Query filters model's collection. Keys may be dotted to address
	// nested fields.
	Query(ctx context.Context, model reflect.Type, filters map[string]string) (Query, error)
}

// Query is a lazily evaluated result set supporting pagination.
type Query interface {
	Count(ctx context.Context) (int, error)
	// Slice returns the instances in [start, stop), preserving the
	// collection's order.
	Slice(ctx context.Context, start, stop int) ([]any, error)
}
