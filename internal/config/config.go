// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/memchat/internal/util"
)

// =============================================================================
// CONFIGURATION STRUCTURES
// =============================================================================

// Config is the main configuration structure for memchat.
type Config struct {
	// Version of the config format
	Version string `toml:"version" json:"version"`

	Agent   AgentConfig   `toml:"agent" json:"agent"`
	Stream  StreamConfig  `toml:"stream" json:"stream"`
	Session SessionConfig `toml:"session" json:"session"`
	Log     LogConfig     `toml:"log" json:"log"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics"`
	UI      UIConfig      `toml:"ui" json:"ui"`
}

// AgentConfig identifies the remote agent and how to authenticate to it.
type AgentConfig struct {
	// BaseURL is the agent service root, e.g. http://localhost:8283
	BaseURL string `toml:"base_url" json:"base_url"`

	// AgentID is the agent every message is sent to
	AgentID string `toml:"agent_id" json:"agent_id"`

	// Token is a literal bearer token. Prefer TokenFile or TokenEnv.
	Token string `toml:"token" json:"token"`

	// TokenFile is read on demand and reloaded when it changes
	TokenFile string `toml:"token_file" json:"token_file"`

	// TokenEnv names the environment variable holding the token
	TokenEnv string `toml:"token_env" json:"token_env"`
}

// StreamConfig controls how reply streams are opened and watched.
type StreamConfig struct {
	// IdleTimeoutSecs fails a generation that receives no event for this long.
	// 0 disables the watchdog.
	IdleTimeoutSecs int `toml:"idle_timeout_secs" json:"idle_timeout_secs"`

	// MaxRetries bounds open attempts on transient failures
	MaxRetries int `toml:"max_retries" json:"max_retries"`

	// RetryRateLimit caps open attempts per second. 0 means unlimited.
	RetryRateLimit float64 `toml:"retry_rate_limit" json:"retry_rate_limit"`
}

// SessionConfig controls single-flight behaviour.
type SessionConfig struct {
	// BusyPolicy is "reject" or "queue"
	BusyPolicy string `toml:"busy_policy" json:"busy_policy"`

	// MaxQueued bounds the queue when BusyPolicy is "queue"
	MaxQueued int `toml:"max_queued" json:"max_queued"`
}

// LogConfig controls diagnostic logging. The REPL owns stdout, so logs go to
// a rotated file unless File is "stderr".
type LogConfig struct {
	Level      string `toml:"level" json:"level"`
	Format     string `toml:"format" json:"format"`
	File       string `toml:"file" json:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days"`
	MaxBackups int    `toml:"max_backups" json:"max_backups"`
	Compress   bool   `toml:"compress" json:"compress"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables it.
	Addr string `toml:"addr" json:"addr"`
}

// UIConfig contains REPL preferences.
type UIConfig struct {
	// ShowTimestamps prefixes each printed message with its time
	ShowTimestamps bool `toml:"show_timestamps" json:"show_timestamps"`

	// NoColor disables styling regardless of the terminal
	NoColor bool `toml:"no_color" json:"no_color"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

const (
	currentVersion = "1.0"

	// DefaultBaseURL matches the agent service's default port.
	DefaultBaseURL = "http://localhost:8283"

	// DefaultTokenEnv is consulted when no token is configured.
	DefaultTokenEnv = "MEMCHAT_TOKEN"
)

// Default returns a config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: currentVersion,
		Agent: AgentConfig{
			BaseURL:  DefaultBaseURL,
			TokenEnv: DefaultTokenEnv,
		},
		Stream: StreamConfig{
			IdleTimeoutSecs: 120,
			MaxRetries:      3,
			RetryRateLimit:  4,
		},
		Session: SessionConfig{
			BusyPolicy: "reject",
			MaxQueued:  8,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxAgeDays: 14,
			MaxBackups: 3,
			Compress:   true,
		},
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// ConfigDir returns the memchat configuration directory (~/.memchat).
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".memchat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultLogPath returns the log file used when none is configured.
func DefaultLogPath() string {
	dir, err := ConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "memchat.log")
	}
	return filepath.Join(dir, "memchat.log")
}

// EnsureConfigDir creates the config directory if it doesn't exist.
// The directory is owner-only because the config may hold a token.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	return ensureSecurePermissions(dir)
}

// ensureSecurePermissions tightens an existing directory created with
// looser permissions by an older version.
func ensureSecurePermissions(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if info.Mode().Perm()&0077 != 0 {
		if err := os.Chmod(dir, 0700); err != nil {
			return fmt.Errorf("failed to secure config directory: %w", err)
		}
	}
	return nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config from ~/.memchat/config.toml, loads a .env file from
// the working directory if present, and applies environment overrides.
// A missing config file yields the defaults.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads the config from a specific TOML file, then applies
// .env and environment overrides. A missing file is not an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		cfg, err = LoadTOML(path)
		if err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// LoadTOML decodes a TOML config file. Keys not present in the file keep
// their defaults.
func LoadTOML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}

	cfg.fillDefaults()
	return cfg, nil
}

// LoadDotEnv loads environment variables from a .env file without
// overriding variables already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// fillDefaults repairs zero values an explicit but partial file may leave.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Version == "" {
		c.Version = def.Version
	}
	if c.Agent.BaseURL == "" {
		c.Agent.BaseURL = def.Agent.BaseURL
	}
	if c.Session.BusyPolicy == "" {
		c.Session.BusyPolicy = def.Session.BusyPolicy
	}
	if c.Session.MaxQueued <= 0 {
		c.Session.MaxQueued = def.Session.MaxQueued
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the config to ~/.memchat/config.toml.
func (c *Config) Save() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config as TOML to path with owner-only permissions.
func (c *Config) SaveTo(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config.%s: %s (got %v)", e.Field, e.Message, e.Value)
}

// ValidateErrors collects every validation failure.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d config errors:\n  %s", len(e), strings.Join(msgs, "\n  "))
}

// Validate checks the configuration for invalid values.
// It returns nil or a ValidateErrors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.Agent.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{
			Field:   "agent.base_url",
			Value:   c.Agent.BaseURL,
			Message: "must be an http or https URL",
		})
	}

	if c.Stream.IdleTimeoutSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "stream.idle_timeout_secs",
			Value:   c.Stream.IdleTimeoutSecs,
			Message: "must not be negative",
		})
	}
	if c.Stream.MaxRetries < 1 || c.Stream.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "stream.max_retries",
			Value:   c.Stream.MaxRetries,
			Message: "must be between 1 and 10",
		})
	}
	if c.Stream.RetryRateLimit < 0 {
		errs = append(errs, ValidationError{
			Field:   "stream.retry_rate_limit",
			Value:   c.Stream.RetryRateLimit,
			Message: "must not be negative",
		})
	}

	switch c.Session.BusyPolicy {
	case "reject", "queue":
	default:
		errs = append(errs, ValidationError{
			Field:   "session.busy_policy",
			Value:   c.Session.BusyPolicy,
			Message: "must be reject or queue",
		})
	}
	if c.Session.MaxQueued < 1 {
		errs = append(errs, ValidationError{
			Field:   "session.max_queued",
			Value:   c.Session.MaxQueued,
			Message: "must be at least 1",
		})
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Value:   c.Log.Level,
			Message: "must be trace, debug, info, warn, error or disabled",
		})
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, ValidationError{
			Field:   "log.format",
			Value:   c.Log.Format,
			Message: "must be json or console",
		})
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies MEMCHAT_* environment variables on top of the
// file configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MEMCHAT_BASE_URL"); v != "" {
		c.Agent.BaseURL = v
	}
	if v := os.Getenv("MEMCHAT_AGENT_ID"); v != "" {
		c.Agent.AgentID = v
	}
	if v := os.Getenv("MEMCHAT_TOKEN_FILE"); v != "" {
		c.Agent.TokenFile = v
	}
	if v := os.Getenv("MEMCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv("MEMCHAT_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("MEMCHAT_BUSY_POLICY"); v != "" {
		c.Session.BusyPolicy = strings.ToLower(v)
	}
	if v := os.Getenv("MEMCHAT_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
	}
	if v := os.Getenv("MEMCHAT_IDLE_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Stream.IdleTimeoutSecs = n
		}
	}
	// NO_COLOR is a cross-tool convention; any value disables color.
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		c.UI.NoColor = true
	}
}

// =============================================================================
// GET/SET BY KEY
// =============================================================================

// Get returns the value at a dot-separated key such as "agent.base_url".
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a string value at a dot-separated key, converting it to the
// field's type.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if field.Kind() == reflect.Struct {
		return fmt.Errorf("%s is a section, not a value", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	v := reflect.ValueOf(c).Elem()
	for _, part := range parts {
		if v.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("unknown config key: %s", key)
		}
		f := fieldByTag(v, part)
		if !f.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown config key: %s", key)
		}
		v = f
	}
	return v, nil
}

// fieldByTag finds a struct field by its toml tag.
func fieldByTag(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("toml") == name {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %w", err)
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %w", err)
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %w", err)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("cannot set %s field", field.Kind())
	}
	return nil
}

// Keys returns every settable key in dot notation.
func Keys() []string {
	var keys []string
	var walk func(prefix string, t reflect.Type)
	walk = func(prefix string, t reflect.Type) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := prefix + f.Tag.Get("toml")
			if f.Type.Kind() == reflect.Struct {
				walk(name+".", f.Type)
				continue
			}
			keys = append(keys, name)
		}
	}
	walk("", reflect.TypeOf(Config{}))
	return keys
}

// =============================================================================
// STRING
// =============================================================================

const redacted = "[REDACTED]"

// String returns an indented JSON rendering with the token redacted, safe
// to print or log.
func (c *Config) String() string {
	clone := *c
	if clone.Agent.Token != "" {
		clone.Agent.Token = redacted
	}
	data, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
