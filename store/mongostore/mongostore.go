// Package mongostore implements the store contract on MongoDB. Encoding
// is guided by the schema tree: embedded documents are stored inline,
// reference fields are stored as the referenced instance's id and
// resolved again on decode.
package mongostore

import (
	"context"
	"reflect"
	"strconv"

	"github.com/apiarist/hive/schema"
	"github.com/apiarist/hive/store"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	db  *mongo.Database
	reg *schema.Registry

	trees map[reflect.Type]*schema.Node
}

func New(db *mongo.Database, reg *schema.Registry) *Store {
	return &Store{db: db, reg: reg, trees: map[reflect.Type]*schema.Node{}}
}

func (s *Store) tree(t reflect.Type) (*schema.Node, error) {
	if tree, ok := s.trees[t]; ok {
		return tree, nil
	}
	tree, err := s.reg.BuildTree(t)
	if err != nil {
		return nil, err
	}
	s.trees[t] = tree
	return tree, nil
}

func (s *Store) collection(t reflect.Type) *mongo.Collection {
	return s.db.Collection(s.reg.Collection(t))
}

func (s *Store) Save(ctx context.Context, instance any) error {
	t := reflect.TypeOf(instance)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
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

	tree, err := s.tree(t)
	if err != nil {
		return errors.Wrap(err, "loading schema tree")
	}
	doc, err := s.encode(tree, reflect.ValueOf(instance))
	if err != nil {
		return errors.Wrap(err, "encoding instance")
	}

	idTarget, idValue, err := identity(instance)
	if err != nil {
		return err
	}
	_, err = s.collection(t).ReplaceOne(ctx, bson.M{idTarget: idValue}, doc, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return store.NewUniquenessError("duplicate key saving %s", t.Name())
	}
	return errors.Wrap(err, "saving document")
}

func (s *Store) Delete(ctx context.Context, instance any) error {
	t := reflect.TypeOf(instance)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	idTarget, idValue, err := identity(instance)
	if err != nil {
		return err
	}
	_, err = s.collection(t).DeleteOne(ctx, bson.M{idTarget: idValue})
	return errors.Wrap(err, "deleting document")
}

func (s *Store) GetByID(ctx context.Context, model reflect.Type, id string) (any, error) {
	return s.getByID(ctx, model, id, map[refKey]any{})
}

type refKey struct {
	t  reflect.Type
	id string
}

func (s *Store) getByID(ctx context.Context, model reflect.Type, id string, seen map[refKey]any) (any, error) {
	for model.Kind() == reflect.Ptr {
		model = model.Elem()
	}
	if cached, ok := seen[refKey{model, id}]; ok {
		return cached, nil
	}

	field, ok := schema.IDField(model)
	if !ok {
		return nil, errors.Errorf("model '%s' declares no identity field", model.Name())
	}
	idValue, err := parseID(field.Type, id)
	if err != nil {
		return nil, err
	}

	raw := bson.M{}
	err = s.collection(model).FindOne(ctx, bson.M{targetOf(field): idValue}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "fetching document")
	}

	instance := reflect.New(model)
	seen[refKey{model, id}] = instance.Interface()
	tree, err := s.tree(model)
	if err != nil {
		return nil, errors.Wrap(err, "loading schema tree")
	}
	if err := s.decode(ctx, tree, raw, instance.Elem(), seen); err != nil {
		return nil, errors.Wrapf(err, "decoding %s '%s'", model.Name(), id)
	}
	return instance.Interface(), nil
}

func (s *Store) Query(ctx context.Context, model reflect.Type, filters map[string]string) (store.Query, error) {
	for model.Kind() == reflect.Ptr {
		model = model.Elem()
	}
	tree, err := s.tree(model)
	if err != nil {
		return nil, errors.Wrap(err, "loading schema tree")
	}
	filter, err := s.buildFilter(tree, filters)
	if err != nil {
		return nil, err
	}
	return &mongoQuery{store: s, model: model, filter: filter}, nil
}

type mongoQuery struct {
	store  *Store
	model  reflect.Type
	filter bson.M
}

func (q *mongoQuery) Count(ctx context.Context) (int, error) {
	count, err := q.store.collection(q.model).CountDocuments(ctx, q.filter)
	return int(count), errors.Wrap(err, "counting documents")
}

func (q *mongoQuery) Slice(ctx context.Context, start, stop int) ([]any, error) {
	opts := options.Find().SetSkip(int64(start)).SetLimit(int64(stop - start))
	cursor, err := q.store.collection(q.model).Find(ctx, q.filter, opts)
	if err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	defer cursor.Close(ctx)

	tree, err := q.store.tree(q.model)
	if err != nil {
		return nil, errors.Wrap(err, "loading schema tree")
	}

	var items []any
	for cursor.Next(ctx) {
		raw := bson.M{}
		if err := cursor.Decode(&raw); err != nil {
			return nil, errors.Wrap(err, "decoding document")
		}
		instance := reflect.New(q.model)
		if err := q.store.decode(ctx, tree, raw, instance.Elem(), map[refKey]any{}); err != nil {
			return nil, errors.Wrap(err, "decoding document")
		}
		items = append(items, instance.Interface())
	}
	return items, errors.Wrap(cursor.Err(), "iterating documents")
}

func identity(instance any) (target string, value any, err error) {
	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	field, ok := schema.IDField(v.Type())
	if !ok {
		return "", nil, errors.Errorf("model '%s' declares no identity field", v.Type().Name())
	}
	return targetOf(field), v.FieldByIndex(field.Index).Interface(), nil
}

func parseID(t reflect.Type, id string) (any, error) {
	if t == reflect.TypeOf(primitive.ObjectID{}) {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, store.ErrNotFound
		}
		return oid, nil
	}
	return id, nil
}

func targetOf(field reflect.StructField) string {
	tag := field.Tag.Get("bson")
	if tag == "" || tag == "-" {
		return schema.SnakeCase(field.Name)
	}
	for i := 0; i < len(tag); i++ {
		if tag[i] == ',' {
			tag = tag[:i]
			break
		}
	}
	if tag == "" {
		return schema.SnakeCase(field.Name)
	}
	return tag
}

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
	switch value := fv.Interface().(type) {
	case primitive.ObjectID:
		if value.IsZero() {
			fv.Set(reflect.ValueOf(primitive.NewObjectID()))
		}
	case string:
		if value == "" {
			fv.SetString(primitive.NewObjectID().Hex())
		}
	}
	return nil
}

func (s *Store) buildFilter(tree *schema.Node, filters map[string]string) (bson.M, error) {
	filter := bson.M{}
	for key, raw := range filters {
		target, leaf := translatePath(tree, key)
		if leaf == nil {
			return nil, store.NewValidationError("unknown filter field '%s'", key)
		}
		filter[target] = coerceFilter(raw)
	}
	return filter, nil
}

// translatePath converts a dotted URL-facing field path into the stored
// field path and returns the leaf node.
func translatePath(tree *schema.Node, path string) (string, *schema.Node) {
	node := tree
	target := ""
	start := 0
	for i := 0; i <= len(path); i++ {
		if i != len(path) && path[i] != '.' {
			continue
		}
		node = node.Children[path[start:i]]
		if node == nil {
			return "", nil
		}
		if target != "" {
			target += "."
		}
		target += node.TargetName
		start = i + 1
	}
	return target, node
}

// coerceFilter widens a submitted filter string to also match typed bson
// values, since form data arrives untyped.
func coerceFilter(raw string) any {
	alternates := bson.A{raw}
	if oid, err := primitive.ObjectIDFromHex(raw); err == nil {
		alternates = append(alternates, oid)
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		alternates = append(alternates, n, float64(n))
	} else if f, err := strconv.ParseFloat(raw, 64); err == nil {
		alternates = append(alternates, f)
	}
	if raw == "true" || raw == "false" {
		alternates = append(alternates, raw == "true")
	}
	if len(alternates) == 1 {
		return raw
	}
	return bson.M{"$in": alternates}
}
