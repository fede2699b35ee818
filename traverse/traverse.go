// Package traverse walks a parsed resource path against a live root
// instance, resolving each hop through the schema tree until it lands on
// the object or collection the terminal URL segment denotes.
package traverse

import (
	"reflect"

	"github.com/apiarist/hive/schema"
	"github.com/apiarist/hive/urlpath"
	"github.com/pkg/errors"
)

// ErrNotFound marks a hop whose key matched no element.
var ErrNotFound = errors.New("no instance matches the requested path")

// ErrUnknownProperty marks a hop naming a property the model does not
// declare.
var ErrUnknownProperty = errors.New("unknown property")

// Result is the transient product of resolving a path. Target and Parent
// keep their reflect addressability so mutations through them reach the
// live object graph.
type Result struct {
	// Target is the resolved object or collection.
	Target reflect.Value
	// Parent is the immediate owning object one hop up, the value whose
	// save persists mutations to an embedded Target.
	Parent reflect.Value
	// Node is the schema node governing the terminal property.
	Node *schema.Node
	// TerminalKey is the key carried by the final segment, if any.
	TerminalKey string
}

// Model returns the model type governing the terminal property, or nil
// for scalar terminals.
func (r *Result) Model() reflect.Type {
	if r.Node == nil {
		return nil
	}
	return r.Node.ModelType
}

// Engine resolves paths for one resource's schema tree.
type Engine struct {
	tree *schema.Node
}

func New(tree *schema.Node) *Engine {
	return &Engine{tree: tree}
}

// Resolve drills into root following tail. Each hop reads the declared
// property; a hop carrying a key selects the collection element (or
// checks the single object) whose identity matches it.
func (e *Engine) Resolve(root any, tail []urlpath.Segment) (*Result, error) {
	node := e.tree
	target := reflect.ValueOf(root)
	var parent reflect.Value

	for _, seg := range tail {
		child := node.Children[seg.Name]
		if child == nil {
			return nil, errors.Wrapf(ErrUnknownProperty, "'%s' on model '%s'", seg.Name, node.Name)
		}

		owner, err := derefStruct(target)
		if err != nil {
			return nil, errors.Wrapf(err, "drilling into '%s'", seg.Name)
		}
		parent = target
		target = owner.FieldByIndex(child.Index)
		node = child

		if seg.Key == "" {
			continue
		}
		target, err = matchKey(target, seg.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving '%s/%s'", seg.Name, seg.Key)
		}
	}

	result := &Result{Target: target, Parent: parent, Node: node}
	if len(tail) > 0 {
		result.TerminalKey = tail[len(tail)-1].Key
	}
	return result, nil
}

// matchKey selects the element of a collection whose identity equals key,
// or checks a single object's identity against it.
func matchKey(v reflect.Value, key string) (reflect.Value, error) {
	if v.Kind() == reflect.Slice {
		for i := 0; i < v.Len(); i++ {
			elem := v.Index(i)
			if id, ok := identityOf(elem); ok && id == key {
				return elem, nil
			}
		}
		return reflect.Value{}, ErrNotFound
	}

	if id, ok := identityOf(v); ok && id == key {
		return v, nil
	}
	return reflect.Value{}, ErrNotFound
}

func identityOf(v reflect.Value) (string, bool) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", false
	}
	var instance any
	if v.CanAddr() {
		instance = v.Addr().Interface()
	} else {
		instance = v.Interface()
	}
	id, err := schema.InstanceID(instance)
	if err != nil {
		return "", false
	}
	return id, true
}

func derefStruct(v reflect.Value) (reflect.Value, error) {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, ErrNotFound
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, errors.Errorf("cannot drill into %s value", v.Kind())
	}
	return v, nil
}
