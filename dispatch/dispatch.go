// Package dispatch implements the CRUD state machine over resolved
// resource paths. Every operation returns a tagged Outcome; the HTTP
// adapter maps tags to status codes.
//
// Create-and-associate is not atomic: the child is saved before the
// association is saved on the parent, so a failed association save
// leaves the child persisted but unlinked.
package dispatch

import (
	"context"
	"net/http"
	"reflect"

	"github.com/apiarist/hive/schema"
	"github.com/apiarist/hive/signal"
	"github.com/apiarist/hive/store"
	"github.com/apiarist/hive/traverse"
	"github.com/apiarist/hive/urlpath"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Options configure a resource's dispatcher.
type Options struct {
	Registry *schema.Registry
	Tree     *schema.Node
	Store    store.Store
	Bus      *signal.Bus
	// Name is the resource's URL name.
	Name string
	// Prefix is the route prefix, used to compute location headers.
	Prefix string
	// PerPage overrides the default page size.
	PerPage int
}

// Dispatcher applies verb semantics for one registered resource.
type Dispatcher struct {
	reg     *schema.Registry
	tree    *schema.Node
	model   reflect.Type
	st      store.Store
	bus     *signal.Bus
	engine  *traverse.Engine
	name    string
	prefix  string
	perPage int
}

func New(opts Options) *Dispatcher {
	return &Dispatcher{
		reg:     opts.Registry,
		tree:    opts.Tree,
		model:   opts.Tree.ModelType,
		st:      opts.Store,
		bus:     opts.Bus,
		engine:  traverse.New(opts.Tree),
		name:    opts.Name,
		prefix:  opts.Prefix,
		perPage: opts.PerPage,
	}
}

// Get serves detail and list reads. A path ending in a bare collection
// (or the bare root) lists with pagination; a keyed terminal resolves to
// a single instance.
func (d *Dispatcher) Get(ctx context.Context, p urlpath.Path, form Form, r *http.Request) (Outcome, error) {
	node := d.terminalNode(p)
	if node == nil {
		return invalid("path '%s' addresses no declared property", p.String()), nil
	}

	if d.isListing(p, node) {
		return d.getList(ctx, p, node, form, r)
	}
	return d.getInstance(ctx, p, node, form, r)
}

func (d *Dispatcher) isListing(p urlpath.Path, node *schema.Node) bool {
	if p.IsRootOnly() {
		return p.Root().Key == ""
	}
	return node.IsMultiple && p.Last().Key == ""
}

func (d *Dispatcher) getInstance(ctx context.Context, p urlpath.Path, node *schema.Node, form Form, r *http.Request) (Outcome, error) {
	pre := &signal.Message{Event: signal.PreGetInstance, Model: d.modelFor(node), Path: p, Request: r, Data: map[string]any{}}
	if out, proceed, err := d.firePre(ctx, pre); !proceed {
		return out, err
	}

	root, out, err := d.fetchRoot(ctx, p)
	if err != nil || out.Status != StatusOK {
		return out, err
	}

	instance := root
	if !p.IsRootOnly() {
		res, rerr := d.engine.Resolve(root, p.Tail())
		if out, handled := outcomeForResolveError(rerr); handled {
			return out, nil
		} else if rerr != nil {
			return Outcome{}, rerr
		}
		instance = instanceOf(res.Target)
		if instance == nil {
			return notFound("path '%s' resolves to nothing", p.String()), nil
		}
	}

	d.firePost(ctx, &signal.Message{Event: signal.PostGetInstance, Model: d.modelFor(node), Instance: instance, Request: r, Data: pre.Data})
	return resultOK(instance), nil
}

func (d *Dispatcher) getList(ctx context.Context, p urlpath.Path, node *schema.Node, form Form, r *http.Request) (Outcome, error) {
	if form.HasListKeys() {
		return invalid("bracket keys cannot filter a listing"), nil
	}

	pre := &signal.Message{Event: signal.PreGetList, Model: d.modelFor(node), Path: p, Request: r, Data: map[string]any{}}
	if out, proceed, err := d.firePre(ctx, pre); !proceed {
		return out, err
	}

	page, perPage := parsePagination(form, d.perPage)

	var items []any
	if p.IsRootOnly() {
		q, err := d.st.Query(ctx, d.model, form.Filters())
		if err != nil {
			return Outcome{}, errors.Wrap(err, "querying collection")
		}
		count, err := q.Count(ctx)
		if err != nil {
			return Outcome{}, errors.Wrap(err, "counting collection")
		}
		if start, stop, ok := pageBounds(count, page, perPage); ok {
			items, err = q.Slice(ctx, start, stop)
			if err != nil {
				return Outcome{}, errors.Wrap(err, "slicing collection")
			}
		}
	} else {
		root, out, err := d.fetchRoot(ctx, p)
		if err != nil || out.Status != StatusOK {
			return out, err
		}
		res, rerr := d.engine.Resolve(root, p.Tail())
		if out, handled := outcomeForResolveError(rerr); handled {
			return out, nil
		} else if rerr != nil {
			return Outcome{}, rerr
		}
		all := collectionItems(res.Target)
		if start, stop, ok := pageBounds(len(all), page, perPage); ok {
			items = all[start:stop]
		}
	}
	if items == nil {
		items = []any{}
	}

	d.firePost(ctx, &signal.Message{Event: signal.PostGetList, Model: d.modelFor(node), Items: items, Request: r, Data: pre.Data})
	return resultOK(items), nil
}

// Post creates a new root instance, creates and associates a nested
// instance, or associates an existing instance through a reference field,
// depending on the path's terminal shape.
func (d *Dispatcher) Post(ctx context.Context, p urlpath.Path, form Form, r *http.Request) (Outcome, error) {
	node := d.terminalNode(p)
	if node == nil {
		return invalid("path '%s' addresses no declared property", p.String()), nil
	}
	if !p.IsRootOnly() && node.ModelType == nil {
		return invalid("cannot post to scalar field '%s'", p.Last().Name), nil
	}

	pre := &signal.Message{Event: signal.PreCreate, Model: d.modelFor(node), Path: p, Request: r, Data: map[string]any{}}
	if out, proceed, err := d.firePre(ctx, pre); !proceed {
		return out, err
	}

	var instance any
	var out Outcome
	var err error
	switch {
	case p.IsRootOnly():
		if p.Root().Key != "" {
			return invalid("cannot post to an identified instance"), nil
		}
		instance, out, err = d.createRoot(ctx, form)
	case node.IsLazyLoaded:
		instance, out, err = d.findAndAssociate(ctx, p, node, form)
	default:
		instance, out, err = d.createAndAssociate(ctx, p, node, form)
	}
	if err != nil || out.Status != StatusOK {
		return out, err
	}

	d.firePost(ctx, &signal.Message{Event: signal.PostCreate, Model: d.modelFor(node), Instance: instance, Request: r, Data: pre.Data})

	out = resultOK("OK")
	if id, iderr := schema.InstanceID(instance); iderr == nil && id != "" {
		out.InstanceID = id
		out.Location = d.detailURL(id)
	}
	return out, nil
}

func (d *Dispatcher) createRoot(ctx context.Context, form Form) (any, Outcome, error) {
	instance := reflect.New(d.model)
	if err := d.fillInstance(ctx, d.tree, instance, form, nil); err != nil {
		out, handled := outcomeForStoreError(err)
		if handled {
			return nil, out, nil
		}
		return nil, Outcome{}, err
	}

	if d.reg.IsDocument(d.model) {
		if err := d.st.Save(ctx, instance.Interface()); err != nil {
			out, handled := outcomeForStoreError(err)
			if handled {
				return nil, out, nil
			}
			return nil, Outcome{}, errors.Wrap(err, "saving new instance")
		}
	}
	return instance.Interface(), resultOK(nil), nil
}

func (d *Dispatcher) createAndAssociate(ctx context.Context, p urlpath.Path, node *schema.Node, form Form) (any, Outcome, error) {
	root, owner, out, err := d.resolveOwner(ctx, p)
	if err != nil || out.Status != StatusOK {
		return nil, out, err
	}

	child := reflect.New(node.ModelType)
	if err := d.fillInstance(ctx, node, child, form, nil); err != nil {
		if out, handled := outcomeForStoreError(err); handled {
			return nil, out, nil
		}
		return nil, Outcome{}, err
	}

	// The child is saved before the association; see the package note on
	// atomicity.
	if d.reg.IsDocument(node.ModelType) {
		if err := d.st.Save(ctx, child.Interface()); err != nil {
			if out, handled := outcomeForStoreError(err); handled {
				return nil, out, nil
			}
			return nil, Outcome{}, errors.Wrap(err, "saving nested instance")
		}
	}

	if err := associate(owner, node, child); err != nil {
		return nil, Outcome{}, err
	}
	if out, err := d.persistOwner(ctx, owner, root); err != nil || out.Status != StatusOK {
		return nil, out, err
	}
	return child.Interface(), resultOK(nil), nil
}

func (d *Dispatcher) findAndAssociate(ctx context.Context, p urlpath.Path, node *schema.Node, form Form) (any, Outcome, error) {
	root, owner, out, err := d.resolveOwner(ctx, p)
	if err != nil || out.Status != StatusOK {
		return nil, out, err
	}

	key := p.Last().Name + "[]"
	id := form.Get(key)
	if id == "" {
		return nil, invalid("association requires an id under '%s'", key), nil
	}

	instance, err := d.st.GetByID(ctx, node.ModelType, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("no %s with id '%s'", node.Name, id), nil
	} else if err != nil {
		return nil, Outcome{}, errors.Wrap(err, "fetching instance to associate")
	}

	if err := associate(owner, node, reflect.ValueOf(instance)); err != nil {
		return nil, Outcome{}, err
	}
	if out, err := d.persistOwner(ctx, owner, root); err != nil || out.Status != StatusOK {
		return nil, out, err
	}
	return instance, resultOK(nil), nil
}

// Put updates fields of the instance or property the path drills to. A
// bare root, bracket-list keys, and list-of-reference terminals are all
// rejected: none has atomic update semantics.
func (d *Dispatcher) Put(ctx context.Context, p urlpath.Path, form Form, r *http.Request) (Outcome, error) {
	if p.IsRootOnly() && p.Root().Key == "" {
		return invalid("cannot update a collection wholesale"), nil
	}
	if form.HasListKeys() {
		return invalid("list fields cannot be updated through PUT"), nil
	}

	node := d.terminalNode(p)
	if node == nil {
		return invalid("path '%s' addresses no declared property", p.String()), nil
	}
	if node.IsMultiple && node.IsLazyLoaded {
		return invalid("cannot update a list of references directly"), nil
	}
	if !p.IsRootOnly() && node.ModelType == nil {
		return invalid("cannot update scalar field '%s' directly; update its owner", p.Last().Name), nil
	}
	if !p.IsRootOnly() && node.IsMultiple && p.Last().Key == "" {
		return invalid("cannot update collection '%s' without an element key", p.Last().Name), nil
	}

	pre := &signal.Message{Event: signal.PreUpdate, Model: d.modelFor(node), Path: p, Request: r, Data: map[string]any{}}
	if out, proceed, err := d.firePre(ctx, pre); !proceed {
		return out, err
	}

	root, out, err := d.fetchRoot(ctx, p)
	if err != nil || out.Status != StatusOK {
		return out, err
	}

	target := reflect.ValueOf(root)
	parent := reflect.Value{}
	fillNode := d.tree
	if !p.IsRootOnly() {
		res, rerr := d.engine.Resolve(root, p.Tail())
		if out, handled := outcomeForResolveError(rerr); handled {
			return out, nil
		} else if rerr != nil {
			return Outcome{}, rerr
		}
		target = res.Target
		parent = res.Parent
		fillNode = res.Node
		if instanceOf(target) == nil {
			return notFound("path '%s' resolves to nothing", p.String()), nil
		}
	}

	delta := signal.Delta{}
	if err := d.fillInstance(ctx, fillNode, target, form, delta); err != nil {
		if out, handled := outcomeForStoreError(err); handled {
			return out, nil
		}
		return Outcome{}, err
	}

	if out, err := d.persistUpdate(ctx, target, parent, root); err != nil || out.Status != StatusOK {
		return out, err
	}

	d.firePost(ctx, &signal.Message{Event: signal.PostUpdate, Model: d.modelFor(node), Instance: instanceOf(target), Updated: delta, Request: r, Data: pre.Data})
	return resultOK("OK"), nil
}

// Delete removes a root instance, removes an element from a list
// association, or clears a scalar association. A missing root instance
// answers FAIL rather than an error status; a missing list element is a
// validation failure, never a silent no-op.
func (d *Dispatcher) Delete(ctx context.Context, p urlpath.Path, form Form, r *http.Request) (Outcome, error) {
	if p.IsRootOnly() && p.Root().Key == "" {
		return invalid("delete requires an instance id"), nil
	}

	node := d.terminalNode(p)
	if node == nil {
		return invalid("path '%s' addresses no declared property", p.String()), nil
	}

	pre := &signal.Message{Event: signal.PreDelete, Model: d.modelFor(node), Path: p, Request: r, Data: map[string]any{}}
	if out, proceed, err := d.firePre(ctx, pre); !proceed {
		return out, err
	}

	if p.IsRootOnly() {
		return d.deleteRoot(ctx, p, node, r, pre.Data)
	}
	return d.deleteAssociation(ctx, p, node, r, pre.Data)
}

func (d *Dispatcher) deleteRoot(ctx context.Context, p urlpath.Path, node *schema.Node, r *http.Request, data map[string]any) (Outcome, error) {
	instance, err := d.st.GetByID(ctx, d.model, p.Root().Key)
	if errors.Is(err, store.ErrNotFound) {
		return resultOK("FAIL"), nil
	} else if err != nil {
		return Outcome{}, errors.Wrap(err, "fetching instance to delete")
	}

	if err := d.st.Delete(ctx, instance); err != nil {
		if out, handled := outcomeForStoreError(err); handled {
			return out, nil
		}
		return Outcome{}, errors.Wrap(err, "deleting instance")
	}

	d.firePost(ctx, &signal.Message{Event: signal.PostDelete, Model: d.modelFor(node), Instance: instance, Request: r, Data: data})
	return resultOK("OK"), nil
}

func (d *Dispatcher) deleteAssociation(ctx context.Context, p urlpath.Path, node *schema.Node, r *http.Request, data map[string]any) (Outcome, error) {
	root, owner, out, err := d.resolveOwner(ctx, p)
	if err != nil || out.Status != StatusOK {
		return out, err
	}
	ownerStruct, err := settableStruct(owner)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "resolving association owner")
	}
	field := ownerStruct.FieldByIndex(node.Index)

	var removed any
	if node.IsMultiple {
		key := p.Last().Key
		if key == "" {
			return invalid("removing from '%s' requires an element key", p.Last().Name), nil
		}
		idx := -1
		for i := 0; i < field.Len(); i++ {
			if id, ok := elementID(field.Index(i)); ok && id == key {
				idx = i
				break
			}
		}
		if idx < 0 {
			return invalid("'%s' holds no element '%s'", p.Last().Name, key), nil
		}
		removed = detach(field.Index(idx))
		field.Set(reflect.AppendSlice(field.Slice(0, idx), field.Slice(idx+1, field.Len())))
	} else {
		removed = detach(field)
		field.Set(reflect.Zero(field.Type()))
	}

	if out, err := d.persistOwner(ctx, owner, root); err != nil || out.Status != StatusOK {
		return out, err
	}

	if removed == nil {
		return resultOK("FAIL"), nil
	}
	d.firePost(ctx, &signal.Message{Event: signal.PostDelete, Model: d.modelFor(node), Instance: removed, Request: r, Data: data})
	return resultOK("OK"), nil
}

// fetchRoot loads the root instance the path identifies.
func (d *Dispatcher) fetchRoot(ctx context.Context, p urlpath.Path) (any, Outcome, error) {
	key := p.Root().Key
	if key == "" {
		return nil, invalid("path '%s' identifies no root instance", p.String()), nil
	}
	root, err := d.st.GetByID(ctx, d.model, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("no %s with id '%s'", d.name, key), nil
	} else if err != nil {
		return nil, Outcome{}, errors.Wrapf(err, "fetching %s '%s'", d.name, key)
	}
	return root, resultOK(nil), nil
}

// resolveOwner resolves the object owning the path's terminal property.
func (d *Dispatcher) resolveOwner(ctx context.Context, p urlpath.Path) (root any, owner reflect.Value, out Outcome, err error) {
	root, out, err = d.fetchRoot(ctx, p)
	if err != nil || out.Status != StatusOK {
		return nil, reflect.Value{}, out, err
	}

	tail := p.Tail()
	res, rerr := d.engine.Resolve(root, tail[:len(tail)-1])
	if out, handled := outcomeForResolveError(rerr); handled {
		return nil, reflect.Value{}, out, nil
	} else if rerr != nil {
		return nil, reflect.Value{}, Outcome{}, rerr
	}
	return root, res.Target, resultOK(nil), nil
}

// persistOwner saves the owning document after an association change,
// falling back to the root aggregate when the owner is embedded.
func (d *Dispatcher) persistOwner(ctx context.Context, owner reflect.Value, root any) (Outcome, error) {
	target := root
	if instance := instanceOf(owner); instance != nil && d.reg.IsDocument(reflect.TypeOf(instance)) {
		target = instance
	}
	if err := d.st.Save(ctx, target); err != nil {
		if out, handled := outcomeForStoreError(err); handled {
			return out, nil
		}
		return Outcome{}, errors.Wrap(err, "saving owner")
	}
	return resultOK(nil), nil
}

// persistUpdate saves the updated target when it is an independently
// persisted document, otherwise its parent (or the root aggregate).
func (d *Dispatcher) persistUpdate(ctx context.Context, target, parent reflect.Value, root any) (Outcome, error) {
	save := root
	if instance := instanceOf(target); instance != nil && d.reg.IsDocument(reflect.TypeOf(instance)) {
		save = instance
	} else if instance := instanceOf(parent); instance != nil && d.reg.IsDocument(reflect.TypeOf(instance)) {
		save = instance
	}
	if err := d.st.Save(ctx, save); err != nil {
		if out, handled := outcomeForStoreError(err); handled {
			return out, nil
		}
		return Outcome{}, errors.Wrap(err, "saving updated instance")
	}
	return resultOK(nil), nil
}

func (d *Dispatcher) firePre(ctx context.Context, m *signal.Message) (Outcome, bool, error) {
	err := d.bus.Publish(ctx, m)
	if err == nil {
		return Outcome{}, true, nil
	}
	if errors.Is(err, signal.ErrUnauthorized) {
		return unauthorized(), false, nil
	}
	return Outcome{}, false, errors.Wrap(err, "pre-operation subscriber failed")
}

// firePost publishes an informational event. A subscriber failure is
// observed and logged; it cannot undo the committed mutation.
func (d *Dispatcher) firePost(ctx context.Context, m *signal.Message) {
	grip.Warning(message.WrapError(d.bus.Publish(ctx, m), message.Fields{
		"message":  "post-operation subscriber failed",
		"event":    m.Event,
		"resource": d.name,
	}))
}

func (d *Dispatcher) terminalNode(p urlpath.Path) *schema.Node {
	return d.tree.FindByPath(p.Dotted())
}

func (d *Dispatcher) modelFor(node *schema.Node) reflect.Type {
	if node == nil || node.ModelType == nil {
		return d.model
	}
	return node.ModelType
}

func (d *Dispatcher) detailURL(id string) string {
	prefix := d.prefix
	if prefix != "" && prefix[0] != '/' {
		prefix = "/" + prefix
	}
	return prefix + "/" + d.name + "/" + id + "/"
}

// IsMultiple reports whether the path's terminal hop targets a list, or
// the bare resource root (a listing).
func (d *Dispatcher) IsMultiple(p urlpath.Path) bool {
	if p.IsRootOnly() {
		return p.Root().Key == ""
	}
	node := d.terminalNode(p)
	return node != nil && node.IsMultiple
}

// IsReference reports whether the path's terminal hop targets a
// reference field, the shape that makes a POST associate an existing
// instance instead of creating a nested one.
func (d *Dispatcher) IsReference(p urlpath.Path) bool {
	if p.IsRootOnly() {
		return false
	}
	node := d.terminalNode(p)
	return node != nil && node.IsLazyLoaded
}

func outcomeForResolveError(err error) (Outcome, bool) {
	switch {
	case err == nil:
		return Outcome{}, false
	case errors.Is(err, traverse.ErrNotFound):
		return notFound("%s", err.Error()), true
	case errors.Is(err, traverse.ErrUnknownProperty):
		return invalid("%s", err.Error()), true
	}
	return Outcome{}, false
}

// associate links value onto owner's field: append for lists, set
// otherwise.
func associate(owner reflect.Value, node *schema.Node, value reflect.Value) error {
	ownerStruct, err := settableStruct(owner)
	if err != nil {
		return errors.Wrap(err, "resolving association owner")
	}
	field := ownerStruct.FieldByIndex(node.Index)

	if node.IsMultiple {
		if field.Type().Elem().Kind() != reflect.Ptr {
			value = value.Elem()
		}
		field.Set(reflect.Append(field, value))
		return nil
	}
	if field.Kind() != reflect.Ptr {
		value = value.Elem()
	}
	field.Set(value)
	return nil
}

// instanceOf extracts a usable instance from a reflect value: pointers
// directly, addressable structs via their address so mutations stick.
func instanceOf(v reflect.Value) any {
	if !v.IsValid() {
		return nil
	}
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		return v.Interface()
	}
	if v.Kind() == reflect.Struct && v.CanAddr() {
		return v.Addr().Interface()
	}
	if v.Kind() == reflect.Interface && v.IsNil() {
		return nil
	}
	return v.Interface()
}

// collectionItems flattens a resolved collection value into a slice of
// instances.
func collectionItems(v reflect.Value) []any {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Slice {
		if instance := instanceOf(v); instance != nil {
			return []any{instance}
		}
		return nil
	}
	items := make([]any, 0, v.Len())
	for i := 0; i < v.Len(); i++ {
		items = append(items, instanceOf(v.Index(i)))
	}
	return items
}

// detach copies a value out of the object graph before it is removed or
// zeroed, so the post-delete event does not observe the mutation. Nil
// pointers and zero values detach to nil: there was nothing to remove.
func detach(v reflect.Value) any {
	if !v.IsValid() || v.IsZero() {
		return nil
	}
	if v.Kind() == reflect.Ptr {
		return v.Interface()
	}
	copied := reflect.New(v.Type())
	copied.Elem().Set(v)
	if v.Kind() == reflect.Struct {
		return copied.Interface()
	}
	return copied.Elem().Interface()
}

func elementID(v reflect.Value) (string, bool) {
	instance := instanceOf(v)
	if instance == nil {
		return "", false
	}
	id, err := schema.InstanceID(instance)
	if err != nil {
		return "", false
	}
	return id, true
}
