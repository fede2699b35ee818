// Package auth integrates token-cookie authentication with generated
// resources: signin/signout/me routes, a middleware guard for arbitrary
// handlers, and a signal-bus guard that aborts resource mutations from
// unauthenticated requests before any store call.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/apiarist/hive/rest"
	"github.com/apiarist/hive/signal"
	"github.com/evergreen-ci/gimlet"
	"github.com/golang-jwt/jwt"
	"github.com/pkg/errors"
)

const (
	defaultCookieName = "AUTH_TOKEN"
	defaultExpiration = 1200 * time.Second
)

// Provider authenticates an access token against an identity provider.
type Provider interface {
	// Name identifies the provider in signin payloads and token claims.
	Name() string
	// Authenticate exchanges an access token for the user's data. A nil
	// map with a nil error means the token was rejected; errors are
	// reserved for transport failures, which also count as rejection.
	Authenticate(ctx context.Context, accessToken string) (map[string]any, error)
}

// Options configure the authentication ecosystem.
type Options struct {
	SecretKey  string
	CookieName string
	Expiration time.Duration
}

// Hive wires providers, the tokenizer, and the signal bus together.
type Hive struct {
	opts      Options
	tokenizer *Tokenizer
	providers map[string]Provider
	bus       *signal.Bus
}

func New(opts Options, bus *signal.Bus, providers ...Provider) (*Hive, error) {
	if opts.SecretKey == "" {
		return nil, errors.New("auth requires a secret key")
	}
	if opts.CookieName == "" {
		opts.CookieName = defaultCookieName
	}
	if opts.Expiration <= 0 {
		opts.Expiration = defaultExpiration
	}

	h := &Hive{
		opts:      opts,
		tokenizer: NewTokenizer(opts.SecretKey),
		providers: map[string]Provider{},
		bus:       bus,
	}
	for _, p := range providers {
		h.providers[p.Name()] = p
	}
	return h, nil
}

// Routes returns the authentication endpoints:
//
//	GET  [prefix]/auth/me/      user data and authentication state
//	POST [prefix]/auth/signin/  sign in with a provider access token
//	POST [prefix]/auth/signout/ drop the session cookie
func (h *Hive) Routes(prefix string) []rest.Route {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	var routes []rest.Route
	add := func(pattern, method string, handler http.HandlerFunc) {
		routes = append(routes,
			rest.Route{Pattern: prefix + pattern, Method: method, Handler: handler},
			rest.Route{Pattern: prefix + pattern + "/", Method: method, Handler: handler},
		)
	}
	add("/auth/me", http.MethodGet, h.handleMe)
	add("/auth/signin", http.MethodPost, h.handleSignin)
	add("/auth/signout", http.MethodPost, h.handleSignout)
	return routes
}

// Attach registers the auth routes on a gimlet app.
func (h *Hive) Attach(app *gimlet.APIApp) {
	for _, route := range h.Routes("") {
		ar := app.AddRoute(route.Pattern).Handler(route.Handler)
		switch route.Method {
		case http.MethodGet:
			ar.Get()
		case http.MethodPost:
			ar.Post()
		}
	}
}

func (h *Hive) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, authenticated := h.requestClaims(r)

	result := map[string]any{"authenticated": authenticated}
	if authenticated {
		result["userData"] = claims["data"]
		issuer, _ := claims["iss"].(string)
		h.publish(r, &signal.Message{
			Event:   signal.PreGetUserDetails,
			Request: r,
			Data:    map[string]any{"issuer": issuer, "result": result},
		})
	}
	gimlet.WriteJSON(w, result)
}

func (h *Hive) handleSignin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccessToken string `json:"access_token"`
		Provider    string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.unauthorized(w, r, body.Provider)
		return
	}

	provider, ok := h.providers[body.Provider]
	if !ok {
		h.unauthorized(w, r, body.Provider)
		return
	}

	userData, err := provider.Authenticate(r.Context(), body.AccessToken)
	if err != nil || userData == nil {
		h.unauthorized(w, r, body.Provider)
		return
	}

	now := time.Now().UTC()
	token, err := h.tokenizer.Encode(jwt.MapClaims{
		"sub":   userData["id"],
		"data":  userData,
		"iss":   body.Provider,
		"token": body.AccessToken,
		"iat":   now.Unix(),
		"exp":   now.Add(h.opts.Expiration).Unix(),
	})
	if err != nil {
		gimlet.WriteJSONInternalError(w, gimlet.ErrorResponse{
			StatusCode: http.StatusInternalServerError,
			Message:    "could not issue session token",
		})
		return
	}

	userData["authenticated"] = true
	h.publish(r, &signal.Message{Event: signal.AuthorizedUser, Request: r, Data: userData})
	h.setCookie(w, token, int(h.opts.Expiration/time.Second))
	gimlet.WriteJSON(w, userData)
}

func (h *Hive) handleSignout(w http.ResponseWriter, r *http.Request) {
	h.setCookie(w, "", -1)
	gimlet.WriteJSON(w, map[string]any{"loggedOut": true})
}

func (h *Hive) unauthorized(w http.ResponseWriter, r *http.Request, provider string) {
	h.publish(r, &signal.Message{
		Event:   signal.UnauthorizedUser,
		Request: r,
		Data:    map[string]any{"provider": provider},
	})
	gimlet.WriteJSONResponse(w, http.StatusUnauthorized, gimlet.ErrorResponse{
		StatusCode: http.StatusUnauthorized,
		Message:    "unauthorized",
	})
}

func (h *Hive) publish(r *http.Request, m *signal.Message) {
	if h.bus == nil {
		return
	}
	// Auth notification subscribers are observational; their failures do
	// not change the response.
	_ = h.bus.Publish(r.Context(), m)
}

func (h *Hive) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.opts.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
	})
}

func (h *Hive) requestClaims(r *http.Request) (jwt.MapClaims, bool) {
	cookie, err := r.Cookie(h.opts.CookieName)
	if err != nil {
		return nil, false
	}
	return h.tokenizer.TryDecode(cookie.Value)
}
