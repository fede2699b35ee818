package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/apiarist/hive/signal"
	"github.com/evergreen-ci/gimlet"
	"github.com/golang-jwt/jwt"
)

// Authenticated wraps a handler to require a valid session token. The
// token is renewed with a fresh expiration on every authenticated
// request; requests without one are answered 401 before the handler
// runs. Compose with gimlet.WrapperMiddleware for route middleware.
func (h *Hive) Authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := h.requestClaims(r)
		if !ok {
			gimlet.WriteJSONResponse(w, http.StatusUnauthorized, gimlet.ErrorResponse{
				StatusCode: http.StatusUnauthorized,
				Message:    "unauthorized",
			})
			return
		}
		h.renew(w, claims)
		next(w, r)
	}
}

func (h *Hive) renew(w http.ResponseWriter, claims jwt.MapClaims) {
	now := time.Now().UTC()
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(h.opts.Expiration).Unix()
	token, err := h.tokenizer.Encode(claims)
	if err != nil {
		return
	}
	h.setCookie(w, token, int(h.opts.Expiration/time.Second))
}

// GuardResources subscribes to every pre-mutation and pre-read event on
// the bus, aborting operations whose request carries no valid session
// token. The abort happens before any store call; the dispatcher maps it
// to a 401 response.
func (h *Hive) GuardResources(bus *signal.Bus) {
	guard := func(ctx context.Context, m *signal.Message) error {
		if m.Request == nil {
			return signal.ErrUnauthorized
		}
		if _, ok := h.requestClaims(m.Request); !ok {
			return signal.ErrUnauthorized
		}
		return nil
	}
	for _, event := range []string{
		signal.PreGetInstance,
		signal.PreGetList,
		signal.PreCreate,
		signal.PreUpdate,
		signal.PreDelete,
	} {
		bus.Subscribe(event, guard)
	}
}
