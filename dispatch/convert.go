package dispatch

import (
	"reflect"
	"strconv"
	"time"

	"github.com/apiarist/hive/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// convertScalar turns a submitted form value into the declared field
// type. Unsupported target types are a validation failure, not a panic.
func convertScalar(t reflect.Type, raw string) (reflect.Value, error) {
	if t.Kind() == reflect.Ptr {
		elem, err := convertScalar(t.Elem(), raw)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	}

	switch t {
	case reflect.TypeOf(time.Time{}):
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return reflect.Value{}, store.NewValidationError("invalid timestamp '%s': %s", raw, err.Error())
		}
		return reflect.ValueOf(parsed), nil
	case reflect.TypeOf(primitive.ObjectID{}):
		oid, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			return reflect.Value{}, store.NewValidationError("invalid object id '%s'", raw)
		}
		return reflect.ValueOf(oid), nil
	}

	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(raw).Convert(t), nil
	case reflect.Bool:
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return reflect.Value{}, store.NewValidationError("invalid boolean '%s'", raw)
		}
		return reflect.ValueOf(parsed).Convert(t), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || reflect.Zero(t).OverflowInt(parsed) {
			return reflect.Value{}, store.NewValidationError("invalid integer '%s'", raw)
		}
		v := reflect.New(t).Elem()
		v.SetInt(parsed)
		return v, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || reflect.Zero(t).OverflowUint(parsed) {
			return reflect.Value{}, store.NewValidationError("invalid unsigned integer '%s'", raw)
		}
		v := reflect.New(t).Elem()
		v.SetUint(parsed)
		return v, nil
	case reflect.Float32, reflect.Float64:
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return reflect.Value{}, store.NewValidationError("invalid number '%s'", raw)
		}
		v := reflect.New(t).Elem()
		v.SetFloat(parsed)
		return v, nil
	}
	return reflect.Value{}, store.NewValidationError("cannot assign '%s' to a %s field", raw, t.Kind())
}
