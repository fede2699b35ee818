package dispatch

import (
	"reflect"
	"testing"
	"time"

	"github.com/apiarist/hive/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestConvertScalar(t *testing.T) {
	v, err := convertScalar(reflect.TypeOf(""), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", v.Interface())

	v, err = convertScalar(reflect.TypeOf(0), "42")
	require.NoError(t, err)
	assert.Equal(t, 42, v.Interface())

	v, err = convertScalar(reflect.TypeOf(false), "true")
	require.NoError(t, err)
	assert.Equal(t, true, v.Interface())

	v, err = convertScalar(reflect.TypeOf(0.0), "2.5")
	require.NoError(t, err)
	assert.Equal(t, 2.5, v.Interface())
}

func TestConvertScalarTime(t *testing.T) {
	v, err := convertScalar(reflect.TypeOf(time.Time{}), "2016-08-05T12:30:00Z")
	require.NoError(t, err)
	parsed := v.Interface().(time.Time)
	assert.Equal(t, 2016, parsed.Year())

	_, err = convertScalar(reflect.TypeOf(time.Time{}), "yesterday")
	assert.True(t, store.IsValidationFailure(err))
}

func TestConvertScalarObjectID(t *testing.T) {
	oid := primitive.NewObjectID()
	v, err := convertScalar(reflect.TypeOf(primitive.ObjectID{}), oid.Hex())
	require.NoError(t, err)
	assert.Equal(t, oid, v.Interface())

	_, err = convertScalar(reflect.TypeOf(primitive.ObjectID{}), "nope")
	assert.True(t, store.IsValidationFailure(err))
}

func TestConvertScalarPointer(t *testing.T) {
	v, err := convertScalar(reflect.TypeOf((*int)(nil)), "7")
	require.NoError(t, err)
	require.Equal(t, reflect.Ptr, v.Kind())
	assert.Equal(t, 7, v.Elem().Interface())
}

func TestConvertScalarFailures(t *testing.T) {
	_, err := convertScalar(reflect.TypeOf(0), "abc")
	assert.True(t, store.IsValidationFailure(err))

	_, err = convertScalar(reflect.TypeOf(int8(0)), "4096")
	assert.True(t, store.IsValidationFailure(err), "overflow is a validation failure")

	_, err = convertScalar(reflect.TypeOf(uint(0)), "-1")
	assert.True(t, store.IsValidationFailure(err))

	_, err = convertScalar(reflect.TypeOf(struct{}{}), "x")
	assert.True(t, store.IsValidationFailure(err))
}
