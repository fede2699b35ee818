package memstore

import (
	"context"
	"reflect"
	"testing"

	"github.com/apiarist/hive/schema"
	"github.com/apiarist/hive/store"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memUser struct {
	ID    string `bson:"_id"`
	Name  string `bson:"name"`
	Email string `bson:"email"`
}

func (u *memUser) UniqueFields() []string { return []string{"email"} }

type memNote struct {
	ID   primitive.ObjectID `bson:"_id"`
	Text string             `bson:"text"`
}

func (n *memNote) Validate() error {
	if n.Text == "" {
		return errors.New("text is required")
	}
	return nil
}

func newTestStore(t *testing.T) *Store {
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(memUser{}))
	require.NoError(t, reg.Register(memNote{}))
	return New(reg)
}

func TestSaveAssignsIdentity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &memUser{Name: "Bernardo", Email: "b@corp.com"}
	require.NoError(t, s.Save(ctx, user))
	assert.NotEmpty(t, user.ID)

	note := &memNote{Text: "hello"}
	require.NoError(t, s.Save(ctx, note))
	assert.False(t, note.ID.IsZero())
}

func TestSaveAndGetByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &memUser{Name: "Bernardo", Email: "b@corp.com"}
	require.NoError(t, s.Save(ctx, user))

	found, err := s.GetByID(ctx, reflect.TypeOf(memUser{}), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user, found)

	_, err = s.GetByID(ctx, reflect.TypeOf(memUser{}), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSaveReplacesExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &memUser{Name: "Bernardo", Email: "b@corp.com"}
	require.NoError(t, s.Save(ctx, user))

	user.Name = "Bernardo Heynemann"
	require.NoError(t, s.Save(ctx, user))
	assert.Equal(t, 1, s.Count(reflect.TypeOf(memUser{})))

	found, err := s.GetByID(ctx, reflect.TypeOf(memUser{}), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bernardo Heynemann", found.(*memUser).Name)
}

func TestInstancesAreDetachedCopies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &memUser{Name: "Bernardo", Email: "b@corp.com"}
	require.NoError(t, s.Save(ctx, user))

	// Mutating the saved instance afterwards does not reach the store.
	user.Name = "changed after save"
	found, err := s.GetByID(ctx, reflect.TypeOf(memUser{}), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bernardo", found.(*memUser).Name)

	// Nor does mutating a fetched instance, until it is saved back.
	found.(*memUser).Name = "changed after fetch"
	again, err := s.GetByID(ctx, reflect.TypeOf(memUser{}), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bernardo", again.(*memUser).Name)

	q, err := s.Query(ctx, reflect.TypeOf(memUser{}), nil)
	require.NoError(t, err)
	items, err := q.Slice(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	items[0].(*memUser).Name = "changed after list"
	again, err = s.GetByID(ctx, reflect.TypeOf(memUser{}), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bernardo", again.(*memUser).Name)
}

func TestSaveRejectsUnregisteredTypes(t *testing.T) {
	s := newTestStore(t)
	err := s.Save(context.Background(), &struct{ ID string }{})
	assert.True(t, store.IsValidationFailure(err))
}

func TestSaveEnforcesUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &memUser{Name: "Bernardo", Email: "b@corp.com"}))

	err := s.Save(ctx, &memUser{Name: "Impostor", Email: "b@corp.com"})
	assert.True(t, store.IsUniquenessViolation(err))
	assert.Equal(t, 1, s.Count(reflect.TypeOf(memUser{})))
}

func TestSaveRunsModelValidation(t *testing.T) {
	s := newTestStore(t)
	err := s.Save(context.Background(), &memNote{})
	require.Error(t, err)
	assert.True(t, store.IsValidationFailure(err))
	assert.Contains(t, err.Error(), "text is required")
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := &memUser{Name: "Bernardo", Email: "b@corp.com"}
	require.NoError(t, s.Save(ctx, user))
	require.NoError(t, s.Delete(ctx, user))
	assert.Equal(t, 0, s.Count(reflect.TypeOf(memUser{})))

	// Deleting an absent instance is a no-op.
	assert.NoError(t, s.Delete(ctx, user))
}

func TestQueryFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &memUser{Name: "Bernardo", Email: "b@corp.com"}))
	require.NoError(t, s.Save(ctx, &memUser{Name: "Rafael", Email: "r@corp.com"}))

	q, err := s.Query(ctx, reflect.TypeOf(memUser{}), map[string]string{"name": "Rafael"})
	require.NoError(t, err)

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	items, err := q.Slice(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Rafael", items[0].(*memUser).Name)
}

func TestQuerySliceBounds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, s.Save(ctx, &memUser{Name: name, Email: name + "@corp.com"}))
	}

	q, err := s.Query(ctx, reflect.TypeOf(memUser{}), nil)
	require.NoError(t, err)

	items, err := q.Slice(ctx, 2, 10)
	require.NoError(t, err)
	assert.Len(t, items, 1, "stop clamps to the collection size")

	_, err = q.Slice(ctx, 5, 10)
	assert.Error(t, err)
}
