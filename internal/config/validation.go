package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingWorkspaceHost indicates an instance is configured but no
	// workspace host was provided to issue credentials against.
	ErrMissingWorkspaceHost = errors.New("missing workspace host")

	// ErrInvalidDatabaseName indicates the database name is empty or malformed.
	ErrInvalidDatabaseName = errors.New("invalid database name")

	// ErrInvalidSSLMode indicates the SSL mode is not a recognized value.
	ErrInvalidSSLMode = errors.New("invalid ssl mode")

	// ErrInvalidPoolSize indicates the pool bounds are out of range.
	ErrInvalidPoolSize = errors.New("invalid pool size")

	// ErrInvalidRefreshSkew indicates the refresh skew is not positive.
	ErrInvalidRefreshSkew = errors.New("invalid refresh skew")

	// ErrInvalidTimeout indicates a timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout")
)

// validSSLModes are the libpq sslmode values accepted for the instance
// connection. Managed instances require TLS, so "require" is the default,
// but local test databases use "disable".
var validSSLModes = map[string]bool{
	"disable":     true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for invalid values (fail-fast at load).
//
// An empty InstanceName is valid: it means the app runs without
// persistence. All other database settings are validated regardless, so a
// typo does not surface only after an instance is configured.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.InstanceName != "" && c.WorkspaceHost == "" {
		return fmt.Errorf("%w: instance %q needs a workspace to issue credentials",
			ErrMissingWorkspaceHost, c.InstanceName)
	}

	if c.DatabaseName == "" || strings.ContainsAny(c.DatabaseName, " '\"") {
		return fmt.Errorf("%w: %q", ErrInvalidDatabaseName, c.DatabaseName)
	}

	if !validSSLModes[c.SSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidSSLMode, c.SSLMode)
	}

	if c.PoolMaxConns < 1 || c.PoolMinConns < 0 || c.PoolMinConns > c.PoolMaxConns {
		return fmt.Errorf("%w: max=%d min=%d", ErrInvalidPoolSize, c.PoolMaxConns, c.PoolMinConns)
	}

	if c.RefreshSkew <= 0 {
		return fmt.Errorf("%w: refresh_skew=%s", ErrInvalidRefreshSkew, c.RefreshSkew)
	}

	if c.OperationTimeout <= 0 {
		return fmt.Errorf("%w: operation_timeout=%s", ErrInvalidTimeout, c.OperationTimeout)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request_timeout=%s", ErrInvalidTimeout, c.RequestTimeout)
	}

	return nil
}
