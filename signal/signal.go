// Package signal provides the event bus that brackets every resource
// operation. Buses are constructed explicitly and owned by the
// application setup; there is no process-global registry, so tests get
// isolation by building a fresh bus.
package signal

import (
	"context"
	"net/http"
	"reflect"
	"sync"

	"github.com/apiarist/hive/urlpath"
	"github.com/pkg/errors"
)

// Events published around resource operations. Pre events fire before any
// store call and may abort the operation; post events fire strictly after
// a successful persist and are informational.
const (
	PreGetInstance  = "hive.pre-get-instance"
	PostGetInstance = "hive.post-get-instance"
	PreGetList      = "hive.pre-get-list"
	PostGetList     = "hive.post-get-list"
	PreCreate       = "hive.pre-create-instance"
	PostCreate      = "hive.post-create-instance"
	PreUpdate       = "hive.pre-update-instance"
	PostUpdate      = "hive.post-update-instance"
	PreDelete       = "hive.pre-delete-instance"
	PostDelete      = "hive.post-delete-instance"

	AuthorizedUser    = "hive.authorized-user"
	UnauthorizedUser  = "hive.unauthorized-user"
	PreGetUserDetails = "hive.pre-get-user-details"
)

// ErrUnauthorized is returned by pre-event subscribers to abort an
// operation before any store call is made. The dispatcher translates it
// into an auth failure response.
var ErrUnauthorized = errors.New("unauthorized")

// FieldChange records one field assignment applied during an update.
type FieldChange struct {
	From any
	To   any
}

// Delta maps field names to the change applied to each. It is only
// published after the underlying save succeeds.
type Delta map[string]FieldChange

// Message carries event data to subscribers. The same message is handed
// to every subscriber in registration order, so a mutation of Data by one
// subscriber is visible to the ones after it.
type Message struct {
	Event string
	// Model is the model type the event concerns.
	Model reflect.Type
	// Path holds the parsed request path for pre events.
	Path urlpath.Path
	// Instance is the resolved instance for post events.
	Instance any
	// Items holds the resolved list for list events.
	Items any
	// Updated carries the field delta for post-update events.
	Updated Delta
	// Request is the in-flight HTTP request, when the event originates
	// from one.
	Request *http.Request
	// Data is shared mutable event data, used by subscribers to enrich
	// in-flight response payloads.
	Data map[string]any
}

// Handler receives a published message. Handlers may block; each is
// awaited before the next subscriber runs.
type Handler func(ctx context.Context, m *Message) error

// Bus is an ordered, synchronous publish/subscribe dispatcher.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{subs: map[string][]Handler{}}
}

// Subscribe appends fn to the handlers for event. Handlers fire in
// registration order.
func (b *Bus) Subscribe(event string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[event] = append(b.subs[event], fn)
}

// Publish delivers m to every subscriber of m.Event in order, stopping at
// the first error and returning it. Publishing with no subscribers is a
// no-op.
func (b *Bus) Publish(ctx context.Context, m *Message) error {
	b.mu.RLock()
	handlers := b.subs[m.Event]
	b.mu.RUnlock()

	for _, fn := range handlers {
		if err := fn(ctx, m); err != nil {
			return errors.Wrapf(err, "dispatching '%s'", m.Event)
		}
	}
	return nil
}
