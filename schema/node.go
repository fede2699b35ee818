package schema

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// Node describes one addressable property of a model. A resource's root
// Node and its children fully describe every sub-path a request can
// address, so traversal never re-introspects a model at runtime.
type Node struct {
	// Name is the URL-facing field name (snake_case of the Go field).
	Name string
	// Slug is the URL-safe identifier derived from Name.
	Slug string
	// TargetName is the underlying storage field name (bson tag when
	// present). For the root node it is the document collection name.
	TargetName string
	// ModelType is the related model struct type for embedded and
	// reference fields, and the resource type for the root. Nil for
	// scalar fields.
	ModelType reflect.Type
	// Index is the struct field index used to access this property on a
	// live instance. Nil for the root.
	Index []int
	// IsMultiple is set for fields holding collections.
	IsMultiple bool
	// AllowsCreateOnAssociate is set for embedded fields: POSTing nested
	// data creates a new owned value instead of linking an existing row.
	AllowsCreateOnAssociate bool
	// IsLazyLoaded is set for reference fields, whose resolution requires
	// a store lookup by id rather than a direct graph walk.
	IsLazyLoaded bool
	IsRoot       bool
	Children     map[string]*Node
}

// FindByPath walks the dotted path one level at a time and returns the
// node it lands on, or nil if any hop is absent. The empty path returns
// the node itself.
func (n *Node) FindByPath(path string) *Node {
	if path == "" {
		return n
	}
	node := n
	for _, part := range strings.Split(path, ".") {
		node = node.Children[part]
		if node == nil {
			return nil
		}
	}
	return node
}

type treeBuilder struct {
	reg *Registry
	// children maps a model type to its (possibly still filling) child
	// map, so mutually referencing models share subtrees instead of
	// recursing forever.
	children map[reflect.Type]map[string]*Node
}

// BuildTree introspects model into a Node tree. Every declared field
// appears as a child, scalars included; embedded and reference fields
// recurse into the related model so nested properties stay addressable.
func (r *Registry) BuildTree(model any) (*Node, error) {
	t, err := structTypeOf(model)
	if err != nil {
		return nil, errors.Wrap(err, "building schema tree")
	}

	root := &Node{
		Name:       SnakeCase(t.Name()),
		ModelType:  t,
		IsRoot:     true,
		TargetName: r.Collection(t),
	}
	root.Slug = Slugify(root.Name)
	if root.TargetName == "" {
		root.TargetName = root.Slug
	}

	b := &treeBuilder{reg: r, children: map[reflect.Type]map[string]*Node{}}
	root.Children, err = b.childrenOf(t)
	if err != nil {
		return nil, errors.Wrapf(err, "building schema tree for '%s'", t.Name())
	}
	return root, nil
}

func (b *treeBuilder) childrenOf(t reflect.Type) (map[string]*Node, error) {
	if cached, ok := b.children[t]; ok {
		return cached, nil
	}
	children := map[string]*Node{}
	// Cache before recursing so cyclic schemas alias the shared subtree.
	b.children[t] = children

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		node, err := b.nodeFor(field)
		if err != nil {
			return nil, err
		}
		children[node.Name] = node
	}
	return children, nil
}

func (b *treeBuilder) nodeFor(field reflect.StructField) (*Node, error) {
	node := &Node{
		Name:       SnakeCase(field.Name),
		TargetName: targetName(field),
		Index:      field.Index,
	}
	node.Slug = Slugify(node.Name)

	ft := field.Type
	if ft.Kind() == reflect.Slice && ft.Elem().Kind() != reflect.Uint8 {
		node.IsMultiple = true
		ft = ft.Elem()
	}
	for ft.Kind() == reflect.Ptr {
		ft = ft.Elem()
	}

	if ft.Kind() != reflect.Struct || isScalarStruct(ft) {
		return node, nil
	}

	if b.reg.IsDocument(ft) {
		node.IsLazyLoaded = true
	} else {
		node.AllowsCreateOnAssociate = true
	}
	node.ModelType = ft

	var err error
	node.Children, err = b.childrenOf(ft)
	if err != nil {
		return nil, errors.Wrapf(err, "mapping field '%s'", field.Name)
	}
	return node, nil
}

func targetName(field reflect.StructField) string {
	tag := field.Tag.Get("bson")
	if tag == "" {
		return SnakeCase(field.Name)
	}
	if idx := strings.Index(tag, ","); idx >= 0 {
		tag = tag[:idx]
	}
	if tag == "" || tag == "-" {
		return SnakeCase(field.Name)
	}
	return tag
}
