package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "hive.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	s := Default()
	assert.Equal(t, "localhost:8000", s.Server.Addr())
	assert.Equal(t, "AUTH_TOKEN", s.Auth.CookieName)
	assert.Equal(t, 1200*time.Second, s.Auth.Expiration.Std())
	assert.Equal(t, "hive", s.Database.Name)
	assert.Equal(t, 20, s.Pagination.PerPage)
	assert.NoError(t, s.Validate())
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  port: 9000
  prefix: /api
auth:
  enabled: true
  secret_key: s3cret
  expiration: 30m
database:
  uri: mongodb://localhost:27017
  name: staging
pagination:
  per_page: 50
`)

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", s.Server.Addr())
	assert.Equal(t, "/api", s.Server.Prefix)
	assert.True(t, s.Auth.Enabled)
	assert.Equal(t, 30*time.Minute, s.Auth.Expiration.Std())
	assert.Equal(t, "staging", s.Database.Name)
	assert.Equal(t, 50, s.Pagination.PerPage)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "localhost", s.Server.Host)
	assert.Equal(t, 20, s.Pagination.PerPage)
}

func TestLoadFailures(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not, a, mapping]"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "auth:\n  enabled: true\n"))
	assert.Error(t, err, "enabled auth requires a secret key")

	_, err = Load(writeConfig(t, "server:\n  port: 123456\n"))
	assert.Error(t, err)
}
