// Package hive generates REST routes from declarative document models.
// Models are plain structs registered with a schema registry; the
// package derives a collection-plus-instance route pair per model and
// serves create, read, update, and delete operations over any backing
// store, traversing embedded documents and references by URL path.
package hive

import (
	"net/http"
	"reflect"

	"github.com/apiarist/hive/auth"
	"github.com/apiarist/hive/rest"
	"github.com/apiarist/hive/schema"
	"github.com/apiarist/hive/signal"
	"github.com/apiarist/hive/store"
	"github.com/evergreen-ci/gimlet"
	"github.com/pkg/errors"
)

// API aggregates the registry, store, signal bus, and generated
// resources behind one registration surface.
type API struct {
	registry  *schema.Registry
	store     store.Store
	bus       *signal.Bus
	prefix    string
	perPage   int
	resources []*rest.Resource
	auth      *auth.Hive
}

// Option adjusts how an API is assembled.
type Option func(*API)

// WithPrefix mounts all generated routes under a path prefix.
func WithPrefix(prefix string) Option {
	return func(a *API) { a.prefix = prefix }
}

// WithPerPage overrides the default page size for listings.
func WithPerPage(perPage int) Option {
	return func(a *API) { a.perPage = perPage }
}

// WithRegistry shares an existing registry instead of creating one.
func WithRegistry(reg *schema.Registry) Option {
	return func(a *API) { a.registry = reg }
}

// New builds an API over st. The store is consulted for roots, lazily
// loaded references, and persistence; everything else is derived from
// the registered models.
func New(st store.Store, opts ...Option) *API {
	a := &API{
		registry: schema.NewRegistry(),
		store:    st,
		bus:      signal.NewBus(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Registry exposes the schema registry for direct registration.
func (a *API) Registry() *schema.Registry { return a.registry }

// Bus exposes the signal bus for subscribing to lifecycle events.
func (a *API) Bus() *signal.Bus { return a.bus }

// Register records a model as a top-level document type without
// generating routes for it. Use it for types that only appear as
// references of other resources.
func (a *API) Register(model any, opts ...schema.RegisterOption) error {
	return a.registry.Register(model, opts...)
}

// AddResource registers a model and generates its routes. The model
// becomes a document type in the registry if it is not one already.
func (a *API) AddResource(model any, opts ...rest.ResourceOptions) (*rest.Resource, error) {
	if !a.registry.IsDocument(reflect.TypeOf(model)) {
		if err := a.registry.Register(model); err != nil {
			return nil, errors.Wrap(err, "registering resource model")
		}
	}

	resourceOpts := rest.ResourceOptions{Prefix: a.prefix, PerPage: a.perPage}
	if len(opts) > 0 {
		resourceOpts = opts[0]
		if resourceOpts.Prefix == "" {
			resourceOpts.Prefix = a.prefix
		}
		if resourceOpts.PerPage == 0 {
			resourceOpts.PerPage = a.perPage
		}
	}
	resource, err := rest.NewResource(a.registry, a.store, a.bus, model, resourceOpts)
	if err != nil {
		return nil, err
	}
	a.resources = append(a.resources, resource)
	return resource, nil
}

// EnableAuth mounts signin/signout/me routes and, when guard is true,
// subscribes a guard that rejects unauthenticated resource operations.
func (a *API) EnableAuth(opts auth.Options, guard bool, providers ...auth.Provider) error {
	h, err := auth.New(opts, a.bus, providers...)
	if err != nil {
		return err
	}
	if guard {
		h.GuardResources(a.bus)
	}
	a.auth = h
	return nil
}

// App assembles a gimlet application serving every registered resource
// and, when enabled, the auth routes.
func (a *API) App() *gimlet.APIApp {
	app := gimlet.NewApp()
	app.NoVersions = true
	for _, resource := range a.resources {
		resource.Attach(app)
	}
	if a.auth != nil {
		a.auth.Attach(app)
	}
	return app
}

// Handler resolves the assembled application into an http.Handler.
func (a *API) Handler() (http.Handler, error) {
	handler, err := a.App().Handler()
	return handler, errors.Wrap(err, "resolving application routes")
}
