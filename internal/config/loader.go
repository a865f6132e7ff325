// Copyright 2025 The Bento Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads service configuration from struct defaults, an
// optional YAML file, and environment variables.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	koanfyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Loader layers configuration sources into one koanf instance.
type Loader struct {
	k   *koanf.Koanf
	env map[string]string // environment variable name -> config key
}

// Validator can be implemented by config structs to enable validation.
type Validator interface {
	Validate() error
}

// NewLoader creates a loader with an explicit environment variable mapping.
// The service's environment surface uses flat, historically fixed names
// (DATABASE_URI, OPENID_CONFIG_URL, ...) rather than a derivable prefix
// scheme, so each variable maps to its config key explicitly.
func NewLoader(env map[string]string) *Loader {
	return &Loader{k: koanf.New("."), env: env}
}

// Load layers, from lowest to highest priority: struct defaults, the YAML
// file at configPath, and mapped environment variables. An empty configPath
// skips the file source; a non-empty path that does not exist is an error.
func (l *Loader) Load(defaults any, configPath string) error {
	if defaults != nil {
		if err := l.k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
			return fmt.Errorf("failed to load defaults: %w", err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return fmt.Errorf("config file not found: %s", configPath)
		}
		if err := l.k.Load(file.Provider(configPath), koanfyaml.Parser()); err != nil {
			return fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrides := make(map[string]any)
	for envKey, configKey := range l.env {
		if value := os.Getenv(envKey); value != "" {
			nestOverride(overrides, configKey, value)
		}
	}
	if len(overrides) > 0 {
		if err := l.k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return fmt.Errorf("failed to load environment overrides: %w", err)
		}
	}

	return nil
}

// LoadFlags applies CLI flag overrides using explicit mappings. Only flags
// the user explicitly set are applied; call after Load for highest
// priority.
func (l *Loader) LoadFlags(flags *pflag.FlagSet, mappings map[string]string) error {
	overrides := make(map[string]any)
	flags.Visit(func(f *pflag.Flag) {
		if key, ok := mappings[f.Name]; ok {
			nestOverride(overrides, key, f.Value.String())
		}
	})
	if len(overrides) == 0 {
		return nil
	}
	if err := l.k.Load(confmap.Provider(overrides, "."), nil); err != nil {
		return fmt.Errorf("failed to load flag overrides: %w", err)
	}
	return nil
}

// nestOverride shapes a flat config key into the section maps the config
// structs use: one struct level deep, with a dotted leaf kept literal
// ("server" section, "read.timeout" leaf). Splitting the whole key on dots
// would shadow those literal leaves instead of overriding them.
func nestOverride(overrides map[string]any, key string, value any) {
	section, rest, found := strings.Cut(key, ".")
	if !found {
		overrides[key] = value
		return
	}
	sec, ok := overrides[section].(map[string]any)
	if !ok {
		sec = make(map[string]any)
		overrides[section] = sec
	}
	sec[rest] = value
}

// Unmarshal unmarshals the loaded configuration into the provided struct.
func (l *Loader) Unmarshal(path string, out any) error {
	return l.k.Unmarshal(path, out)
}

// UnmarshalAndValidate unmarshals the configuration and, if out implements
// Validator, validates it.
func (l *Loader) UnmarshalAndValidate(path string, out any) error {
	if err := l.k.Unmarshal(path, out); err != nil {
		return err
	}
	if v, ok := out.(Validator); ok {
		return v.Validate()
	}
	return nil
}

// Set manually sets a configuration value.
func (l *Loader) Set(key string, value any) error {
	return l.k.Set(key, value)
}

// Raw returns all loaded configuration as a nested map.
func (l *Loader) Raw() map[string]any {
	return l.k.Raw()
}

// DumpYAML writes the loaded configuration as YAML to the provided writer.
func (l *Loader) DumpYAML(w io.Writer) error {
	return yaml.NewEncoder(w).Encode(l.k.Raw())
}
