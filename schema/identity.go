package schema

import (
	"fmt"
	"reflect"
	"strconv"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField returns the struct field holding a model's identity. The model's
// CustomIDField override wins; otherwise the field tagged `bson:"_id"` is
// used, falling back to a field named ID.
func IDField(t reflect.Type) (reflect.StructField, bool) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return reflect.StructField{}, false
	}

	if override, ok := idFieldOverride(t); ok {
		for i := 0; i < t.NumField(); i++ {
			if SnakeCase(t.Field(i).Name) == override {
				return t.Field(i), true
			}
		}
		return reflect.StructField{}, false
	}

	for i := 0; i < t.NumField(); i++ {
		if targetName(t.Field(i)) == "_id" {
			return t.Field(i), true
		}
	}
	if f, ok := t.FieldByName("ID"); ok {
		return f, true
	}
	if f, ok := t.FieldByName("Id"); ok {
		return f, true
	}
	return reflect.StructField{}, false
}

func idFieldOverride(t reflect.Type) (string, bool) {
	probe := reflect.New(t).Interface()
	if c, ok := probe.(CustomIDField); ok {
		return c.IDFieldName(), true
	}
	if c, ok := reflect.Zero(t).Interface().(CustomIDField); ok {
		return c.IDFieldName(), true
	}
	return "", false
}

// InstanceID returns the stable string identity of a live instance,
// consulting the model's identity override first.
func InstanceID(instance any) (string, error) {
	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", errors.New("cannot identify nil instance")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", errors.Errorf("cannot identify non-struct instance of type %T", instance)
	}

	field, ok := IDField(v.Type())
	if !ok {
		return "", errors.Errorf("model '%s' declares no identity field", v.Type().Name())
	}
	return FormatID(v.FieldByIndex(field.Index).Interface()), nil
}

// FormatID renders an identity value the way it appears in URLs.
func FormatID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case primitive.ObjectID:
		if v.IsZero() {
			return ""
		}
		return v.Hex()
	case int, int8, int16, int32, int64:
		return strconv.FormatInt(reflect.ValueOf(v).Int(), 10)
	case uint, uint8, uint16, uint32, uint64:
		return strconv.FormatUint(reflect.ValueOf(v).Uint(), 10)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
