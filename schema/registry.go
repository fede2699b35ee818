// Package schema introspects registered document models into a navigable
// metadata tree. The tree is built once per resource registration and is
// read-only afterwards, so it can be shared across concurrent requests
// without locking.
package schema

import (
	"reflect"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind classifies how a field relates to other models.
type Kind int

const (
	// Scalar fields hold plain values with no related model.
	Scalar Kind = iota
	// Embedded fields hold a value-type sub-document owned and persisted
	// with its parent.
	Embedded
	// Reference fields hold a link to an independently persisted document;
	// resolving one requires a store fetch.
	Reference
)

func (k Kind) String() string {
	switch k {
	case Embedded:
		return "embedded"
	case Reference:
		return "reference"
	default:
		return "scalar"
	}
}

// CustomIDField lets a model override the default identity rule by naming
// the field that identifies instances in URLs (e.g. a slug).
type CustomIDField interface {
	IDFieldName() string
}

// Validator is implemented by models that enforce their own invariants
// before a save.
type Validator interface {
	Validate() error
}

type documentInfo struct {
	collection string
}

// Registry holds the set of types that are independently persisted
// documents. A struct field pointing at a registered type is a reference;
// a field holding an unregistered struct is an embedded sub-document.
// This registration step replaces the runtime duck typing the framework
// would otherwise need to tell the two apart.
type Registry struct {
	mu   sync.RWMutex
	docs map[reflect.Type]documentInfo
}

func NewRegistry() *Registry {
	return &Registry{docs: map[reflect.Type]documentInfo{}}
}

// RegisterOption configures a document registration.
type RegisterOption func(*documentInfo)

// WithCollection overrides the storage collection name for a document,
// which otherwise defaults to the snake_case type name.
func WithCollection(name string) RegisterOption {
	return func(info *documentInfo) {
		info.collection = name
	}
}

// Register records model's type as an independently persisted document.
// The model may be passed as a value or a pointer.
func (r *Registry) Register(model any, opts ...RegisterOption) error {
	t, err := structTypeOf(model)
	if err != nil {
		return errors.Wrap(err, "registering document")
	}

	info := documentInfo{}
	for _, opt := range opts {
		opt(&info)
	}
	if info.collection == "" {
		info.collection = SnakeCase(t.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[t] = info
	return nil
}

// IsDocument reports whether t is a registered document type. Pointer
// types are unwrapped first.
func (r *Registry) IsDocument(t reflect.Type) bool {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.docs[t]
	return ok
}

// Collection returns the storage collection name for a registered document
// type, or the empty string if t is not registered.
func (r *Registry) Collection(t reflect.Type) string {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.docs[t].collection
}

func structTypeOf(model any) (reflect.Type, error) {
	if model == nil {
		return nil, errors.New("model must not be nil")
	}
	t, ok := model.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(model)
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.Errorf("model must be a struct type, got %s", t.Kind())
	}
	return t, nil
}

// isScalarStruct reports struct types that hold plain values rather than
// sub-documents.
func isScalarStruct(t reflect.Type) bool {
	switch t {
	case reflect.TypeOf(time.Time{}), reflect.TypeOf(primitive.ObjectID{}):
		return true
	}
	return false
}
