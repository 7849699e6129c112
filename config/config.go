// Package config provides environment-variable-driven configuration
// loading and validation, following the teacher's EnvConfig/Validator
// pattern, narrowed to the settings this build engine actually needs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig loads configuration values from environment variables under an
// optional prefix.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates a new environment configuration loader.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

// GetString retrieves a string value from environment with optional default.
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		return value
	}
	return defaultValue
}

// MustGetString retrieves a required string value from environment or panics.
func (ec *EnvConfig) MustGetString(key string) string {
	fullKey := ec.buildKey(key)
	value := os.Getenv(fullKey)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s not set", fullKey))
	}
	return value
}

// GetInt retrieves an integer value from environment with optional default.
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value from environment with optional default.
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value from environment with optional default.
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// GetStringSlice retrieves a comma-separated string slice from environment.
func (ec *EnvConfig) GetStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// EnvAllowlist is the curated set of environment variables the server
// inherits from its own environment and forwards to sandboxed actions
// (spec.md §6). The list is read only when building a sandboxed action's
// environment; nothing compares it between client and server, and a
// change to it does not restart the server.
var EnvAllowlist = []string{
	"CEALN_LOG", "CEALN_BACKTRACE", "DOCKER_CONFIG",
	"HOME", "USER", "TMPDIR", "LANG", "PATH", "SSH_AUTH_SOCK",
}

// BuildConfig is the opaque key/value build configuration carried by a
// BuildRequest (spec.md §6), plus the engine's own operational settings
// loaded from the environment/CLI flags.
type BuildConfig struct {
	Options map[string]string

	BuildRoot    string
	Jobs         int
	Watch        bool
	UseFUSE      bool
	LogLevel     string
	LogFormat    string
	OTelExporter string
}

// LoadBuildConfig loads engine operational settings from the environment,
// applying defaults for anything unset. CLI flags (cmd/cealnd) override
// these values before the config is passed to the server.
func LoadBuildConfig() BuildConfig {
	env := NewEnvConfig("CEALN")
	return BuildConfig{
		Options:      map[string]string{},
		BuildRoot:    env.GetString("BUILD_ROOT", defaultBuildRoot()),
		Jobs:         env.GetInt("JOBS", 4),
		Watch:        env.GetBool("WATCH", false),
		UseFUSE:      env.GetBool("USE_FUSE", true),
		LogLevel:     env.GetString("LOG", "info"),
		LogFormat:    env.GetString("LOG_FORMAT", "text"),
		OTelExporter: env.GetString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

func defaultBuildRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cealn"
	}
	return home + "/.cache/cealn"
}

// Validator provides configuration validation utilities (teacher's
// fluent-validator pattern, narrowed to this engine's config surface).
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make([]string, 0)}
}

// RequireString validates that a string field is not empty.
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequirePositiveInt validates that an integer field is positive.
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

// RequireOneOf validates that a value is one of the allowed options.
func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// IsValid returns true if there are no validation errors.
func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

// Errors returns all validation errors.
func (v *Validator) Errors() []string { return v.errors }

// Validate runs validation and returns an error if invalid.
func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
	}
	return nil
}

// ValidateBuildConfig applies the engine's own configuration invariants.
func ValidateBuildConfig(c BuildConfig) error {
	v := NewValidator()
	v.RequireString("BuildRoot", c.BuildRoot)
	v.RequirePositiveInt("Jobs", c.Jobs)
	v.RequireOneOf("LogFormat", c.LogFormat, []string{"text", "json"})
	return v.Validate()
}
