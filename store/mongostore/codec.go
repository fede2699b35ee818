package mongostore

import (
	"context"
	"reflect"
	"time"

	"github.com/apiarist/hive/schema"
	"github.com/apiarist/hive/store"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// encode turns an instance into its stored form. Embedded documents nest
// inline; references collapse to the referenced instance's id.
func (s *Store) encode(node *schema.Node, v reflect.Value) (bson.M, error) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	doc := bson.M{}
	for _, child := range node.Children {
		fv := v.FieldByIndex(child.Index)
		if child.IsMultiple {
			if fv.IsNil() {
				continue
			}
			arr := bson.A{}
			for i := 0; i < fv.Len(); i++ {
				elem, err := s.encodeElement(child, fv.Index(i))
				if err != nil {
					return nil, err
				}
				arr = append(arr, elem)
			}
			doc[child.TargetName] = arr
			continue
		}

		elem, err := s.encodeElement(child, fv)
		if err != nil {
			return nil, err
		}
		doc[child.TargetName] = elem
	}
	return doc, nil
}

func (s *Store) encodeElement(child *schema.Node, v reflect.Value) (any, error) {
	if child.ModelType == nil {
		return v.Interface(), nil
	}
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}
	if child.IsLazyLoaded {
		return referenceID(v)
	}
	return s.encode(child, v)
}

// referenceID extracts the raw id value of a referenced instance so the
// owning document stores a link instead of a copy.
func referenceID(v reflect.Value) (any, error) {
	field, ok := schema.IDField(v.Type())
	if !ok {
		return nil, errors.Errorf("referenced model '%s' declares no identity field", v.Type().Name())
	}
	return v.FieldByIndex(field.Index).Interface(), nil
}

// decode populates an instance from its stored form, fetching referenced
// documents as it goes. The seen map breaks reference cycles: a document
// already being decoded is reused instead of fetched again.
func (s *Store) decode(ctx context.Context, node *schema.Node, doc bson.M, v reflect.Value, seen map[refKey]any) error {
	for _, child := range node.Children {
		raw, ok := doc[child.TargetName]
		if !ok || raw == nil {
			continue
		}
		fv := v.FieldByIndex(child.Index)

		if child.IsMultiple {
			arr, ok := raw.(bson.A)
			if !ok {
				continue
			}
			slice := reflect.MakeSlice(fv.Type(), 0, len(arr))
			for _, item := range arr {
				elem, err := s.decodeElement(ctx, child, item, fv.Type().Elem(), seen)
				if err != nil {
					return err
				}
				if elem.IsValid() {
					slice = reflect.Append(slice, elem)
				}
			}
			fv.Set(slice)
			continue
		}

		elem, err := s.decodeElement(ctx, child, raw, fv.Type(), seen)
		if err != nil {
			return err
		}
		if elem.IsValid() {
			fv.Set(elem)
		}
	}
	return nil
}

func (s *Store) decodeElement(ctx context.Context, child *schema.Node, raw any, elemType reflect.Type, seen map[refKey]any) (reflect.Value, error) {
	if child.ModelType == nil {
		return decodeScalar(elemType, raw), nil
	}

	if child.IsLazyLoaded {
		id := schema.FormatID(raw)
		if id == "" {
			return reflect.Value{}, nil
		}
		instance, err := s.getByID(ctx, child.ModelType, id, seen)
		if errors.Is(err, store.ErrNotFound) {
			// A dangling reference decodes as absent rather than failing
			// the whole document.
			return reflect.Value{}, nil
		} else if err != nil {
			return reflect.Value{}, err
		}
		return adjustPointer(reflect.ValueOf(instance), elemType), nil
	}

	sub, ok := raw.(bson.M)
	if !ok {
		return reflect.Value{}, nil
	}
	instance := reflect.New(child.ModelType)
	if err := s.decode(ctx, child, sub, instance.Elem(), seen); err != nil {
		return reflect.Value{}, err
	}
	return adjustPointer(instance, elemType), nil
}

// adjustPointer converts a *T value to T or keeps it a pointer, matching
// the destination field's type.
func adjustPointer(ptr reflect.Value, elemType reflect.Type) reflect.Value {
	if elemType.Kind() == reflect.Ptr {
		return ptr
	}
	return ptr.Elem()
}

// decodeScalar adapts a raw bson value to the destination scalar type,
// skipping values the driver decoded to an incompatible shape.
func decodeScalar(t reflect.Type, raw any) reflect.Value {
	if dt, ok := raw.(primitive.DateTime); ok && t == reflect.TypeOf(time.Time{}) {
		return reflect.ValueOf(dt.Time().UTC())
	}

	rv := reflect.ValueOf(raw)
	target := t
	for target.Kind() == reflect.Ptr {
		target = target.Elem()
	}

	var converted reflect.Value
	switch {
	case rv.Type() == target:
		converted = rv
	case rv.Type().ConvertibleTo(target) && convertible(rv.Kind(), target.Kind()):
		converted = rv.Convert(target)
	default:
		return reflect.Value{}
	}

	if t.Kind() != reflect.Ptr {
		return converted
	}
	ptr := reflect.New(target)
	ptr.Elem().Set(converted)
	return ptr
}

// convertible permits numeric widening and same-kind conversions while
// rejecting surprises like int-to-string.
func convertible(from, to reflect.Kind) bool {
	if numericKind(from) && numericKind(to) {
		return true
	}
	return from == to
}

func numericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
