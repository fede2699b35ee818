// Package memstore implements the store contract in process memory. It
// backs the test suites and the sandbox server, and doubles as the
// reference implementation of the store error taxonomy.
package memstore

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/apiarist/hive/schema"
	"github.com/apiarist/hive/store"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// UniqueFielder is implemented by models with fields that must be unique
// within their collection. Field names use the URL-facing form.
type UniqueFielder interface {
	UniqueFields() []string
}

// Store keeps each collection as an ordered slice of instances, so
// pagination slices are deterministic. Instances are copied on the way
// in and on the way out: mutating a fetched instance never changes
// stored state until it is saved back.
type Store struct {
	reg *schema.Registry

	mu          sync.RWMutex
	collections map[string][]any
}

func New(reg *schema.Registry) *Store {
	return &Store{reg: reg, collections: map[string][]any{}}
}

func (s *Store) Save(ctx context.Context, instance any) error {
	t := reflect.TypeOf(instance)
	if !s.reg.IsDocument(t) {
		return store.NewValidationError("type %s is not a registered document", t)
	}
	if v, ok := instance.(schema.Validator); ok {
		if err := v.Validate(); err != nil {
			return store.NewValidationError("%s", err.Error())
		}
	}

	if err := ensureID(instance); err != nil {
		return errors.Wrap(err, "assigning instance id")
	}
	id, err := schema.InstanceID(instance)
	if err != nil {
		return errors.Wrap(err, "identifying instance")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.reg.Collection(t)
	if err := s.checkUnique(coll, instance, id); err != nil {
		return err
	}

	stored := cloneInstance(instance)
	for i, existing := range s.collections[coll] {
		existingID, err := schema.InstanceID(existing)
		if err != nil {
			return errors.Wrap(err, "identifying stored instance")
		}
		if existingID == id {
			s.collections[coll][i] = stored
			return nil
		}
	}
	s.collections[coll] = append(s.collections[coll], stored)
	return nil
}

func (s *Store) checkUnique(coll string, instance any, id string) error {
	uf, ok := instance.(UniqueFielder)
	if !ok {
		return nil
	}
	for _, field := range uf.UniqueFields() {
		value, ok := fieldByPath(instance, field)
		if !ok {
			continue
		}
		for _, existing := range s.collections[coll] {
			existingID, err := schema.InstanceID(existing)
			if err != nil {
				return errors.Wrap(err, "identifying stored instance")
			}
			if existingID == id {
				continue
			}
			other, ok := fieldByPath(existing, field)
			if ok && stringify(other) == stringify(value) {
				return store.NewUniquenessError("duplicate value '%v' for unique field '%s'", value, field)
			}
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, instance any) error {
	id, err := schema.InstanceID(instance)
	if err != nil {
		return errors.Wrap(err, "identifying instance")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.reg.Collection(reflect.TypeOf(instance))
	for i, existing := range s.collections[coll] {
		existingID, err := schema.InstanceID(existing)
		if err != nil {
			return errors.Wrap(err, "identifying stored instance")
		}
		if existingID == id {
			s.collections[coll] = append(s.collections[coll][:i:i], s.collections[coll][i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, model reflect.Type, id string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, existing := range s.collections[s.reg.Collection(model)] {
		existingID, err := schema.InstanceID(existing)
		if err != nil {
			return nil, errors.Wrap(err, "identifying stored instance")
		}
		if existingID == id {
			return cloneInstance(existing), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) Query(ctx context.Context, model reflect.Type, filters map[string]string) (store.Query, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []any
	for _, existing := range s.collections[s.reg.Collection(model)] {
		if matchesFilters(existing, filters) {
			matched = append(matched, existing)
		}
	}
	return &memQuery{items: matched}, nil
}

// Count returns the number of stored instances of model, a convenience
// for tests asserting that an aborted mutation left the store untouched.
func (s *Store) Count(model reflect.Type) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[s.reg.Collection(model)])
}

type memQuery struct {
	items []any
}

func (q *memQuery) Count(ctx context.Context) (int, error) {
	return len(q.items), nil
}

func (q *memQuery) Slice(ctx context.Context, start, stop int) ([]any, error) {
	if start < 0 || start > len(q.items) {
		return nil, errors.Errorf("slice start %d out of range", start)
	}
	if stop > len(q.items) {
		stop = len(q.items)
	}
	items := make([]any, 0, stop-start)
	for _, item := range q.items[start:stop] {
		items = append(items, cloneInstance(item))
	}
	return items, nil
}

func matchesFilters(instance any, filters map[string]string) bool {
	for key, want := range filters {
		value, ok := fieldByPath(instance, key)
		if !ok || stringify(value) != want {
			return false
		}
	}
	return true
}

// fieldByPath walks a dotted URL-facing field path on a live instance.
func fieldByPath(instance any, path string) (any, bool) {
	v := reflect.ValueOf(instance)
	for _, part := range strings.Split(path, ".") {
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return nil, false
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return nil, false
		}
		found := false
		for i := 0; i < v.NumField(); i++ {
			if schema.SnakeCase(v.Type().Field(i).Name) == part {
				v = v.Field(i)
				found = true
				break
			}
		}
		if !found {
			return nil, false
		}
	}
	return v.Interface(), true
}

// cloneInstance copies an instance and everything reachable through its
// exported pointer, slice, and map fields.
func cloneInstance(instance any) any {
	return cloneValue(reflect.ValueOf(instance)).Interface()
}

func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Ptr:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(cloneValue(v.Elem()))
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneValue(iter.Value()))
		}
		return out
	case reflect.Struct:
		// Copying the whole struct first carries unexported fields
		// (time.Time, primitive.ObjectID) along.
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			f := out.Field(i)
			if !f.CanSet() {
				continue
			}
			switch f.Kind() {
			case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Struct:
				f.Set(cloneValue(v.Field(i)))
			}
		}
		return out
	}
	return v
}

func stringify(value any) string {
	if id, ok := value.(primitive.ObjectID); ok {
		return id.Hex()
	}
	return fmt.Sprintf("%v", value)
}

// ensureID assigns a fresh identity when the instance's id field is
// empty: a uuid for string ids, a new ObjectID for bson ids.
func ensureID(instance any) error {
	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	field, ok := schema.IDField(v.Type())
	if !ok {
		return errors.Errorf("model '%s' declares no identity field", v.Type().Name())
	}

	fv := v.FieldByIndex(field.Index)
	switch fv.Interface().(type) {
	case string:
		if fv.String() == "" {
			fv.SetString(uuid.NewString())
		}
	case primitive.ObjectID:
		if fv.Interface().(primitive.ObjectID).IsZero() {
			fv.Set(reflect.ValueOf(primitive.NewObjectID()))
		}
	}
	return nil
}
