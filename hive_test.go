package hive

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/apiarist/hive/auth"
	"github.com/apiarist/hive/schema"
	"github.com/apiarist/hive/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hiveTeam struct {
	ID   string `bson:"_id"`
	Name string `bson:"name"`
}

type hiveUser struct {
	ID    string      `bson:"_id"`
	Name  string      `bson:"name"`
	Teams []*hiveTeam `bson:"teams"`
}

func newAPI(t *testing.T) *API {
	reg := schema.NewRegistry()
	api := New(memstore.New(reg), WithRegistry(reg), WithPrefix("/api"))
	require.NoError(t, api.Register(hiveTeam{}))
	_, err := api.AddResource(hiveUser{})
	require.NoError(t, err)
	return api
}

func do(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGeneratedRoutesRoundTrip(t *testing.T) {
	api := newAPI(t)
	handler, err := api.Handler()
	require.NoError(t, err)

	form := url.Values{"name": {"Bernardo"}}
	req := httptest.NewRequest(http.MethodPost, "/api/hive_user", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)

	id := rec.Header().Get("X-Created-Id")
	require.NotEmpty(t, id)

	rec = do(handler, httptest.NewRequest(http.MethodGet, "/api/hive_user/"+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched hiveUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, "Bernardo", fetched.Name)
	assert.Equal(t, id, fetched.ID)
}

func TestAddResourceRegistersModel(t *testing.T) {
	api := newAPI(t)
	resource, err := api.AddResource(hiveTeam{})
	require.NoError(t, err)
	assert.Equal(t, "hive_team", resource.Name)
	assert.Equal(t, "/api", resource.Prefix)
}

func TestEnableAuthMountsRoutes(t *testing.T) {
	api := newAPI(t)
	require.NoError(t, api.EnableAuth(auth.Options{SecretKey: "s3cret"}, false))

	handler, err := api.Handler()
	require.NoError(t, err)

	rec := do(handler, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "authenticated")
}

func TestEnableAuthGuardsResources(t *testing.T) {
	api := newAPI(t)
	require.NoError(t, api.EnableAuth(auth.Options{SecretKey: "s3cret"}, true))

	handler, err := api.Handler()
	require.NoError(t, err)

	form := url.Values{"name": {"Bernardo"}}
	req := httptest.NewRequest(http.MethodPost, "/api/hive_user", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := do(handler, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEnableAuthRequiresSecret(t *testing.T) {
	api := newAPI(t)
	assert.Error(t, api.EnableAuth(auth.Options{}, false))
}
