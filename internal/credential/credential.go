// Package credential obtains and caches short-lived database credentials
// issued by the workspace identity service.
//
// A Credential pairs the database login name with an opaque bearer token
// and its expiry. Credentials are never persisted; the provider holds the
// last-issued one in memory and refreshes it before expiry.
package credential

import (
	"errors"
	"time"
)

// ErrCredential indicates identity lookup or credential issuance failed.
// Wrapped causes include workspace API errors, an instance that is not in
// an available state, and tokens already expired at issuance. Callers
// should not retry indefinitely; the provider already retries once.
var ErrCredential = errors.New("credential issuance failed")

// Credential is a short-lived database login. Token is an opaque secret
// and must never be logged.
type Credential struct {
	// Username is the database login name. It must match the identity the
	// token was issued for, typically the app's service principal ID.
	Username string

	// Token is the bearer secret used as the database password.
	Token string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Valid reports whether the credential is still usable at now, with skew
// as the safety margin before expiry.
func (c Credential) Valid(now time.Time, skew time.Duration) bool {
	if c.Token == "" {
		return false
	}
	return now.Before(c.ExpiresAt.Add(-skew))
}
