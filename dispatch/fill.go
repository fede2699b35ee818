package dispatch

import (
	"context"
	"reflect"
	"strings"

	"github.com/apiarist/hive/schema"
	"github.com/apiarist/hive/signal"
	"github.com/apiarist/hive/store"
	"github.com/pkg/errors"
)

// fillInstance applies submitted form fields to a live instance, guided
// by the schema tree: dotted keys drill into embedded sub-documents
// (creating empty ones along the way), bracket keys append to lists, and
// reference fields resolve submitted ids to existing instances. When
// delta is non-nil every assignment is recorded as a from/to pair.
func (d *Dispatcher) fillInstance(ctx context.Context, node *schema.Node, target reflect.Value, form Form, delta signal.Delta) error {
	sv, err := settableStruct(target)
	if err != nil {
		return err
	}

	for _, key := range form.SortedKeys() {
		switch {
		case strings.Contains(key, "."):
			err = d.fillNested(ctx, node, sv, key, strings.Split(key, "."), form.Get(key), delta)
		case strings.HasSuffix(key, "[]"):
			err = d.fillList(ctx, node, sv, key, form[key])
		default:
			err = d.fillField(ctx, node, sv, key, form.Get(key), key, delta)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) fillField(ctx context.Context, node *schema.Node, sv reflect.Value, name, raw, deltaKey string, delta signal.Delta) error {
	child := node.Children[name]
	if child == nil {
		return store.NewValidationError("model '%s' declares no field '%s'", node.Name, name)
	}
	fv := sv.FieldByIndex(child.Index)

	switch {
	case child.IsMultiple:
		return store.NewValidationError("field '%s' holds a list; use '%s[]'", name, name)
	case child.IsLazyLoaded:
		instance, err := d.st.GetByID(ctx, child.ModelType, raw)
		if errors.Is(err, store.ErrNotFound) {
			return store.NewValidationError("referenced %s '%s' not found", child.Name, raw)
		} else if err != nil {
			return errors.Wrapf(err, "resolving reference '%s'", name)
		}
		old := fv.Interface()
		iv := reflect.ValueOf(instance)
		if fv.Kind() != reflect.Ptr {
			iv = iv.Elem()
		}
		fv.Set(iv)
		record(delta, deltaKey, old, instance)
	case child.AllowsCreateOnAssociate:
		return store.NewValidationError("field '%s' is an embedded document; address its fields with dotted keys", name)
	default:
		old := fv.Interface()
		converted, err := convertScalar(fv.Type(), raw)
		if err != nil {
			return errors.Wrapf(err, "setting field '%s'", name)
		}
		fv.Set(converted)
		record(delta, deltaKey, old, converted.Interface())
	}
	return nil
}

func (d *Dispatcher) fillNested(ctx context.Context, node *schema.Node, sv reflect.Value, fullKey string, parts []string, raw string, delta signal.Delta) error {
	child := node.Children[parts[0]]
	if child == nil {
		return store.NewValidationError("model '%s' declares no field '%s'", node.Name, parts[0])
	}
	if !child.AllowsCreateOnAssociate || child.IsMultiple {
		return store.NewValidationError("cannot set '%s': '%s' is not an embedded document field", fullKey, parts[0])
	}

	fv := sv.FieldByIndex(child.Index)
	if fv.Kind() == reflect.Ptr && fv.IsNil() {
		fv.Set(reflect.New(child.ModelType))
	}
	inner, err := settableStruct(fv)
	if err != nil {
		return errors.Wrapf(err, "drilling into '%s'", parts[0])
	}

	if len(parts) == 2 {
		return d.fillField(ctx, child, inner, parts[1], raw, fullKey, delta)
	}
	return d.fillNested(ctx, child, inner, fullKey, parts[1:], raw, delta)
}

func (d *Dispatcher) fillList(ctx context.Context, node *schema.Node, sv reflect.Value, key string, values []string) error {
	name := strings.TrimSuffix(key, "[]")
	child := node.Children[name]
	if child == nil {
		return store.NewValidationError("model '%s' declares no field '%s'", node.Name, name)
	}
	if !child.IsMultiple {
		return store.NewValidationError("field '%s' does not hold a list", name)
	}

	fv := sv.FieldByIndex(child.Index)
	elemType := fv.Type().Elem()
	for _, raw := range values {
		switch {
		case child.IsLazyLoaded:
			instance, err := d.st.GetByID(ctx, child.ModelType, raw)
			if errors.Is(err, store.ErrNotFound) {
				return store.NewValidationError("referenced %s '%s' not found", child.Name, raw)
			} else if err != nil {
				return errors.Wrapf(err, "resolving reference '%s'", name)
			}
			iv := reflect.ValueOf(instance)
			if elemType.Kind() != reflect.Ptr {
				iv = iv.Elem()
			}
			fv.Set(reflect.Append(fv, iv))
		case child.ModelType != nil:
			return store.NewValidationError("cannot append raw values to embedded list '%s'", name)
		default:
			converted, err := convertScalar(elemType, raw)
			if err != nil {
				return errors.Wrapf(err, "appending to '%s'", name)
			}
			fv.Set(reflect.Append(fv, converted))
		}
	}
	return nil
}

func record(delta signal.Delta, key string, from, to any) {
	if delta == nil {
		return
	}
	delta[key] = signal.FieldChange{From: from, To: to}
}

// settableStruct dereferences v down to an addressable struct value.
func settableStruct(v reflect.Value) (reflect.Value, error) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, errors.New("cannot fill fields of a nil instance")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, errors.Errorf("cannot fill fields of a %s value", v.Kind())
	}
	if !v.CanSet() {
		return reflect.Value{}, errors.New("instance is not addressable")
	}
	return v, nil
}
