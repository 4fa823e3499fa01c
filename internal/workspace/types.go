package workspace

import (
	"fmt"
	"time"
)

// InstanceAvailable is the instance state in which credential issuance and
// connections are possible.
const InstanceAvailable = "AVAILABLE"

// Principal is the identity under which the process authenticates to the
// workspace. For deployed apps this is a service principal, not the
// interactive end user.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"userName"`
}

// Instance describes a managed database instance. Host is the instance's
// current read-write endpoint and may change between lookups.
type Instance struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Host  string `json:"read_write_dns"`
	Port  int    `json:"port,omitempty"`
}

// Available reports whether the instance can issue credentials and accept
// connections.
func (i Instance) Available() bool {
	return i.State == InstanceAvailable
}

// IssuedCredential is a short-lived database login token returned by the
// workspace. The token is an opaque bearer secret.
type IssuedCredential struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiration_time"`
}

// APIError is a non-2xx response from the workspace API.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error_code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("workspace api: %s: %s (http %d)", e.Code, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("workspace api: http %d: %s", e.StatusCode, e.Message)
}
