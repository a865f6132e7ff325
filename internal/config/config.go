// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bento-platform/bento-authz/internal/authz"
)

// envMappings is the service's environment variable surface. Names are
// flat and fixed by deployment tooling; each maps to one config key.
var envMappings = map[string]string{
	"AUTHZ_SERVER_PORT":          "server.port",
	"SERVER_READ_TIMEOUT":        "server.read.timeout",
	"SERVER_WRITE_TIMEOUT":       "server.write.timeout",
	"SERVER_SHUTDOWN_TIMEOUT":    "server.shutdown.timeout",
	"SERVER_REQUEST_TIMEOUT":     "server.request.timeout",
	"DATABASE_URI":               "database.uri",
	"DATABASE_POOL_SIZE":         "database.pool.size",
	"OPENID_CONFIG_URL":          "oidc.config.url",
	"TOKEN_AUDIENCE":             "oidc.audience",
	"TOKEN_LEEWAY":               "oidc.leeway",
	"JWKS_CACHE_TTL":             "oidc.jwks.ttl",
	"DISABLE_TOKEN_VERIFICATION": "oidc.disable.verification",
	"BENTO_DEBUG":                "debug",
	"BENTO_AUTHZ_SERVICE_URL":    "service.url",
	"CORS_ORIGINS":               "cors.origins",
	"LOG_LEVEL":                  "loglevel",
}

// superUsersEnv carries a JSON list of {"iss": ..., "sub": ...} records.
// It is parsed separately because the value is a document, not a scalar.
const superUsersEnv = "BENTO_AUTHZ_SUPERUSERS"

// Config holds all configuration for the authorization service.
type Config struct {
	Server     ServerConfig      `koanf:"server"`
	Database   DatabaseConfig    `koanf:"database"`
	OIDC       OIDCConfig        `koanf:"oidc"`
	CORS       CORSConfig        `koanf:"cors"`
	Service    ServiceConfig     `koanf:"service"`
	SuperUsers []authz.SuperUser `koanf:"superusers"`
	Debug      bool              `koanf:"debug"`
	LogLevel   string            `koanf:"loglevel"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read.timeout"`
	WriteTimeout    time.Duration `koanf:"write.timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown.timeout"`
	RequestTimeout  time.Duration `koanf:"request.timeout"`
}

// DatabaseConfig holds the Postgres connection configuration.
type DatabaseConfig struct {
	URI      string `koanf:"uri"`
	PoolSize int    `koanf:"pool.size"`
}

// OIDCConfig holds the identity provider configuration.
type OIDCConfig struct {
	// ConfigURL is the issuer's OpenID discovery endpoint. Required
	// unless verification is disabled.
	ConfigURL string `koanf:"config.url"`

	// Audiences lists acceptable token aud values.
	Audiences []string `koanf:"audience"`

	// DisableVerification trusts bearer token claims without signature
	// checks. Development only.
	DisableVerification bool `koanf:"disable.verification"`

	// JWKSTTL is the key cache lifetime when the issuer's JWKS response
	// sets no Cache-Control max-age.
	JWKSTTL time.Duration `koanf:"jwks.ttl"`

	// Leeway is the clock-skew tolerance for token time claims.
	Leeway time.Duration `koanf:"leeway"`
}

// CORSConfig holds the allowed cross-origin request origins.
type CORSConfig struct {
	Origins []string `koanf:"origins"`
}

// ServiceConfig holds the service's own identity for service-info.
type ServiceConfig struct {
	URL string `koanf:"url"`
}

// Load builds the service configuration: defaults, then the optional YAML
// file at configPath, then environment variables.
func Load(configPath string) (*Config, error) {
	l := NewLoader(envMappings)
	if err := l.Load(defaults(), configPath); err != nil {
		return nil, err
	}
	return finish(l)
}

// LoadWithFlags is Load plus CLI flag overrides, used by the admin CLI.
func LoadWithFlags(configPath string, flags *pflag.FlagSet) (*Config, error) {
	l := NewLoader(envMappings)
	if err := l.Load(defaults(), configPath); err != nil {
		return nil, err
	}
	if err := l.LoadFlags(flags, flagMappings); err != nil {
		return nil, err
	}
	return finish(l)
}

// flagMappings translates admin CLI flag names to config keys.
var flagMappings = map[string]string{
	"database-uri":      "database.uri",
	"openid-config-url": "oidc.config.url",
	"debug":             "debug",
}

func finish(l *Loader) (*Config, error) {
	var cfg Config
	if err := l.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if raw := os.Getenv(superUsersEnv); raw != "" {
		var superusers []authz.SuperUser
		if err := json.Unmarshal([]byte(raw), &superusers); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", superUsersEnv, err)
		}
		cfg.SuperUsers = superusers
	}

	cfg.OIDC.Audiences = splitList(cfg.OIDC.Audiences)
	cfg.CORS.Origins = splitList(cfg.CORS.Origins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return &cfg, nil
}

// defaults returns the built-in configuration values.
func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            5000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Database: DatabaseConfig{
			URI:      "postgres://localhost:5432",
			PoolSize: 10,
		},
		OIDC: OIDCConfig{
			ConfigURL: "https://bentov2auth.local/realms/bentov2/.well-known/openid-configuration",
			Audiences: []string{"account"},
			JWKSTTL:   10 * time.Minute,
			Leeway:    30 * time.Second,
		},
		Service: ServiceConfig{
			URL: "http://127.0.0.1:5000",
		},
		LogLevel: "info",
	}
}

// splitList expands comma- and semicolon-separated elements, so list
// values can arrive as a single delimited string from the environment.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ';' || r == ',' }) {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Validate implements the Validator interface.
func (c *Config) Validate() error {
	var errs ValidationErrors

	server := NewPath("server")
	if err := MustBeInRange(server.Child("port"), c.Server.Port, 1, 65535); err != nil {
		errs = append(errs, err)
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"read.timeout", c.Server.ReadTimeout},
		{"write.timeout", c.Server.WriteTimeout},
		{"shutdown.timeout", c.Server.ShutdownTimeout},
		{"request.timeout", c.Server.RequestTimeout},
	} {
		if err := MustBeGreaterThan(server.Child(d.name), d.value, 0); err != nil {
			errs = append(errs, err)
		}
	}

	database := NewPath("database")
	if err := MustNotBeEmpty(database.Child("uri"), c.Database.URI); err != nil {
		errs = append(errs, err)
	}
	if err := MustBeGreaterThan(database.Child("pool.size"), c.Database.PoolSize, 0); err != nil {
		errs = append(errs, err)
	}

	oidc := NewPath("oidc")
	if !c.OIDC.DisableVerification {
		if err := MustNotBeEmpty(oidc.Child("config.url"), c.OIDC.ConfigURL); err != nil {
			errs = append(errs, err)
		}
	}
	if err := MustBeNonNegative(oidc.Child("leeway"), c.OIDC.Leeway); err != nil {
		errs = append(errs, err)
	}
	if err := MustBeGreaterThan(oidc.Child("jwks.ttl"), c.OIDC.JWKSTTL, 0); err != nil {
		errs = append(errs, err)
	}

	superusers := NewPath("superusers")
	for i, su := range c.SuperUsers {
		p := superusers.Index(i)
		if err := MustNotBeEmpty(p.Child("iss"), su.Issuer); err != nil {
			errs = append(errs, err)
		}
		if err := MustNotBeEmpty(p.Child("sub"), su.Subject); err != nil {
			errs = append(errs, err)
		}
	}

	if err := MustBeOneOf(NewPath("loglevel"), c.LogLevel, []string{"debug", "info", "warn", "error"}); err != nil {
		errs = append(errs, err)
	}

	return errs.OrNil()
}

// SlogLevel maps the configured log level onto slog. Debug mode forces the
// debug level regardless of loglevel.
func (c *Config) SlogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
