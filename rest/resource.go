// Package rest adapts dispatcher outcomes to HTTP. Each registered model
// becomes a Resource exposing the generated route handlers and the
// patterns they serve.
package rest

import (
	"net/http"
	"reflect"
	"strings"

	"github.com/apiarist/hive/dispatch"
	"github.com/apiarist/hive/schema"
	"github.com/apiarist/hive/signal"
	"github.com/apiarist/hive/store"
	"github.com/apiarist/hive/urlpath"
	"github.com/evergreen-ci/gimlet"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// ResourceOptions configure one generated resource.
type ResourceOptions struct {
	// Name overrides the resource's URL name, which defaults to the
	// snake_case model name.
	Name string
	// Prefix is prepended to every route pattern (e.g. "/api").
	Prefix string
	// PerPage overrides the default listing page size.
	PerPage int
}

// Resource holds the generated handlers for one model.
type Resource struct {
	Name   string
	Prefix string
	Model  reflect.Type
	Tree   *schema.Node

	dispatcher *dispatch.Dispatcher
}

// Route is one entry of the route registration contract handed to the
// HTTP layer.
type Route struct {
	Pattern string
	Method  string
	Handler http.HandlerFunc
}

// NewResource introspects model and builds its dispatcher and handlers.
func NewResource(reg *schema.Registry, st store.Store, bus *signal.Bus, model any, opts ResourceOptions) (*Resource, error) {
	tree, err := reg.BuildTree(model)
	if err != nil {
		return nil, errors.Wrap(err, "building resource")
	}

	name := opts.Name
	if name == "" {
		name = schema.SnakeCase(tree.ModelType.Name())
	}
	prefix := strings.TrimSuffix(opts.Prefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	r := &Resource{
		Name:   name,
		Prefix: prefix,
		Model:  tree.ModelType,
		Tree:   tree,
	}
	r.dispatcher = dispatch.New(dispatch.Options{
		Registry: reg,
		Tree:     tree,
		Store:    st,
		Bus:      bus,
		Name:     name,
		Prefix:   prefix,
		PerPage:  opts.PerPage,
	})
	return r, nil
}

// Routes returns the (pattern, method, handler) triples for this
// resource: the bare collection URL and the wildcard drill-down URL, for
// each of the four verbs.
func (r *Resource) Routes() []Route {
	patterns := []string{
		r.Prefix + "/" + r.Name,
		r.Prefix + "/" + r.Name + "/{path:.*}",
	}
	var routes []Route
	for _, pattern := range patterns {
		routes = append(routes,
			Route{Pattern: pattern, Method: http.MethodGet, Handler: r.handleGet},
			Route{Pattern: pattern, Method: http.MethodPost, Handler: r.handlePost},
			Route{Pattern: pattern, Method: http.MethodPut, Handler: r.handlePut},
			Route{Pattern: pattern, Method: http.MethodDelete, Handler: r.handleDelete},
		)
	}
	return routes
}

// Attach registers the resource's routes on a gimlet app.
func (r *Resource) Attach(app *gimlet.APIApp) {
	for _, route := range r.Routes() {
		ar := app.AddRoute(route.Pattern).Handler(route.Handler)
		switch route.Method {
		case http.MethodGet:
			ar.Get()
		case http.MethodPost:
			ar.Post()
		case http.MethodPut:
			ar.Put()
		case http.MethodDelete:
			ar.Delete()
		}
	}
}

func (r *Resource) handleGet(w http.ResponseWriter, req *http.Request) {
	p, ok := r.parsePath(w, req)
	if !ok {
		return
	}
	form, ok := requestData(w, req)
	if !ok {
		return
	}
	out, err := r.dispatcher.Get(req.Context(), p, form, req)
	r.writeOutcome(w, req, out, err)
}

func (r *Resource) handlePost(w http.ResponseWriter, req *http.Request) {
	p, ok := r.parsePath(w, req)
	if !ok {
		return
	}
	form, ok := requestData(w, req)
	if !ok {
		return
	}
	out, err := r.dispatcher.Post(req.Context(), p, form, req)
	r.writeOutcome(w, req, out, err)
}

func (r *Resource) handlePut(w http.ResponseWriter, req *http.Request) {
	p, ok := r.parsePath(w, req)
	if !ok {
		return
	}
	form, ok := requestData(w, req)
	if !ok {
		return
	}
	out, err := r.dispatcher.Put(req.Context(), p, form, req)
	r.writeOutcome(w, req, out, err)
}

func (r *Resource) handleDelete(w http.ResponseWriter, req *http.Request) {
	p, ok := r.parsePath(w, req)
	if !ok {
		return
	}
	form, ok := requestData(w, req)
	if !ok {
		return
	}
	out, err := r.dispatcher.Delete(req.Context(), p, form, req)
	r.writeOutcome(w, req, out, err)
}

func (r *Resource) parsePath(w http.ResponseWriter, req *http.Request) (urlpath.Path, bool) {
	p, err := urlpath.Parse(r.Name, gimlet.GetVars(req)["path"])
	if err != nil {
		gimlet.WriteJSONResponse(w, http.StatusBadRequest, gimlet.ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Message:    err.Error(),
		})
		return urlpath.Path{}, false
	}
	return p, true
}

// requestData flattens the request into the form-key conventions the
// dispatcher understands: the form-encoded body when one was sent, the
// query string otherwise. A body that fails to parse is a client error.
func requestData(w http.ResponseWriter, req *http.Request) (dispatch.Form, bool) {
	if err := req.ParseForm(); err != nil {
		gimlet.WriteJSONResponse(w, http.StatusBadRequest, gimlet.ErrorResponse{
			StatusCode: http.StatusBadRequest,
			Message:    errors.Wrap(err, "parsing request body").Error(),
		})
		return nil, false
	}
	if len(req.PostForm) > 0 {
		return dispatch.FormFromValues(req.PostForm), true
	}
	return dispatch.FormFromValues(req.URL.Query()), true
}

func (r *Resource) writeOutcome(w http.ResponseWriter, req *http.Request, out dispatch.Outcome, err error) {
	if err != nil {
		grip.Error(message.WrapError(err, message.Fields{
			"message":  "resource operation failed",
			"resource": r.Name,
			"method":   req.Method,
			"path":     req.URL.Path,
		}))
		gimlet.WriteJSONInternalError(w, gimlet.ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Message:    "internal server error",
		})
		return
	}

	if out.Status != dispatch.StatusOK {
		code := httpStatus(out.Status)
		gimlet.WriteJSONResponse(w, code, gimlet.ErrorResponse{
			StatusCode: code,
			Message:    out.Message,
		})
		return
	}

	if out.InstanceID != "" {
		w.Header().Set("X-Created-Id", out.InstanceID)
	}
	if out.Location != "" {
		w.Header().Set("Location", out.Location)
	}
	if body, ok := out.Body.(string); ok {
		gimlet.WriteTextResponse(w, http.StatusOK, body)
		return
	}
	gimlet.WriteJSON(w, out.Body)
}

func httpStatus(s dispatch.Status) int {
	switch s {
	case dispatch.StatusNotFound:
		return http.StatusNotFound
	case dispatch.StatusConflict:
		return http.StatusConflict
	case dispatch.StatusInvalid:
		return http.StatusBadRequest
	case dispatch.StatusUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusOK
	}
}
