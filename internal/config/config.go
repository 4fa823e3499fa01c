// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./config.yaml or ~/.marketintel/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Workspace: identity service host and API token
//   - Database: instance name, database name, SSL mode, pool sizing
//   - Credentials: refresh skew, issuance timeout
//
// Security: the workspace token is never logged; it is masked in
// MarshalJSON. Validation uses sentinel errors checked with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Defaults for pool sizing and credential refresh. The access pattern is
// interactive (one conversation at a time), so the pool stays small and
// excess demand waits.
const (
	DefaultPoolMaxConns     = 4
	DefaultRefreshSkew      = 60 * time.Second
	DefaultOperationTimeout = 15 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Workspace (identity service) configuration
	WorkspaceHost  string `mapstructure:"workspace_host" json:"workspace_host"`
	WorkspaceToken string `mapstructure:"workspace_token" json:"workspace_token"` // SENSITIVE: masked in MarshalJSON

	// Database instance configuration. An empty InstanceName means no
	// database is configured; the app then runs without persistence.
	InstanceName string `mapstructure:"instance_name" json:"instance_name"`
	DatabaseName string `mapstructure:"database_name" json:"database_name"`
	SSLMode      string `mapstructure:"ssl_mode" json:"ssl_mode"`

	// ServicePrincipalID overrides the database login name. The issued
	// token belongs to the app's service principal, so the database role
	// must match that principal's ID, not the interactive user's email.
	// Left empty, the identity reported by the workspace is used.
	ServicePrincipalID string `mapstructure:"service_principal_id" json:"service_principal_id"`

	// Connection pool sizing
	PoolMaxConns int32 `mapstructure:"pool_max_conns" json:"pool_max_conns"`
	PoolMinConns int32 `mapstructure:"pool_min_conns" json:"pool_min_conns"`

	// RefreshSkew is the safety margin before credential expiry at which a
	// refresh is triggered.
	RefreshSkew time.Duration `mapstructure:"refresh_skew" json:"refresh_skew"`

	// OperationTimeout bounds every database operation, including pool
	// slot acquisition.
	OperationTimeout time.Duration `mapstructure:"operation_timeout" json:"operation_timeout"`

	// RequestTimeout bounds each workspace API call.
	RequestTimeout time.Duration `mapstructure:"request_timeout" json:"request_timeout"`

	// Logging
	LogJSON  bool   `mapstructure:"log_json" json:"log_json"`
	LogLevel string `mapstructure:"log_level" json:"log_level"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".marketintel"))
	}

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is not an error; defaults and env apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"config_name", "config.yaml")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database_name", "market_intelligence")
	v.SetDefault("ssl_mode", "require")

	v.SetDefault("pool_max_conns", DefaultPoolMaxConns)
	v.SetDefault("pool_min_conns", 0)

	v.SetDefault("refresh_skew", DefaultRefreshSkew)
	v.SetDefault("operation_timeout", DefaultOperationTimeout)
	v.SetDefault("request_timeout", DefaultRequestTimeout)

	v.SetDefault("log_json", true)
	v.SetDefault("log_level", "info")
}

// bindEnvVariables binds environment variables explicitly. The workspace
// token and service principal ID come from the environment in deployed
// apps; the rest are overrides for local development.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key string, envVars ...string) {
		args := append([]string{key}, envVars...)
		if err := v.BindEnv(args...); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q: %v", key, err))
		}
	}

	mustBind("workspace_host", "DATABRICKS_HOST")
	mustBind("workspace_token", "DATABRICKS_TOKEN")
	mustBind("instance_name", "LAKEBASE_INSTANCE_NAME")
	mustBind("database_name", "LAKEBASE_DATABASE_NAME")

	// The service principal ID may arrive under either name depending on
	// how the app was deployed.
	mustBind("service_principal_id",
		"DATABRICKS_SERVICE_PRINCIPAL_ID", "DATABRICKS_CLIENT_ID")

	mustBind("log_level", "LOG_LEVEL")
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// MarshalJSON masks sensitive fields so a Config can be logged or dumped
// safely.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	masked := alias(c)
	if masked.WorkspaceToken != "" {
		masked.WorkspaceToken = maskedValue
	}
	return json.Marshal(masked)
}

// Level parses LogLevel into a slog.Level, defaulting to info.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
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
