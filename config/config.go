// Package config loads server settings from a YAML file and applies
// defaults for anything left unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultHost    = "localhost"
	defaultPort    = 8000
	defaultPerPage = 20

	defaultCookieName = "AUTH_TOKEN"
	defaultExpiration = 1200 * time.Second

	defaultDatabaseName = "hive"
)

// Settings is the root configuration document.
type Settings struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Pagination PaginationConfig `yaml:"pagination"`
}

type ServerConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	Prefix string `yaml:"prefix"`
}

// Addr formats the listen address for the HTTP server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	SecretKey  string   `yaml:"secret_key"`
	CookieName string   `yaml:"cookie_name"`
	Expiration Duration `yaml:"expiration"`
}

// Duration accepts Go duration syntax ("20m", "1h30m") or a bare number
// of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return errors.Wrap(err, "reading duration value")
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Errorf("invalid duration '%s'", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type DatabaseConfig struct {
	// URI is a MongoDB connection string; when empty the server runs on
	// the in-memory store.
	URI  string `yaml:"uri"`
	Name string `yaml:"name"`
}

type PaginationConfig struct {
	PerPage int `yaml:"per_page"`
}

// Default returns settings suitable for local development.
func Default() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

// Load reads settings from a YAML file, fills in defaults, and validates
// the result.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file '%s'", path)
	}

	settings := &Settings{}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, errors.Wrapf(err, "parsing config file '%s'", path)
	}
	settings.applyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file '%s'", path)
	}
	return settings, nil
}

func (s *Settings) applyDefaults() {
	if s.Server.Host == "" {
		s.Server.Host = defaultHost
	}
	if s.Server.Port == 0 {
		s.Server.Port = defaultPort
	}
	if s.Auth.CookieName == "" {
		s.Auth.CookieName = defaultCookieName
	}
	if s.Auth.Expiration <= 0 {
		s.Auth.Expiration = Duration(defaultExpiration)
	}
	if s.Database.Name == "" {
		s.Database.Name = defaultDatabaseName
	}
	if s.Pagination.PerPage <= 0 {
		s.Pagination.PerPage = defaultPerPage
	}
}

func (s *Settings) Validate() error {
	if s.Server.Port <= 0 || s.Server.Port > 65535 {
		return errors.Errorf("server port %d out of range", s.Server.Port)
	}
	if s.Auth.Enabled && s.Auth.SecretKey == "" {
		return errors.New("auth.secret_key is required when auth is enabled")
	}
	if s.Pagination.PerPage <= 0 {
		return errors.New("pagination.per_page must be positive")
	}
	return nil
}
