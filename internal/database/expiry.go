package database

import (
	"sync"
	"time"
)

// expiryRegistry tracks the credential expiry associated with each pooled
// connection. The pool's hooks split connection creation in two steps
// (config mutation, then the live connection), so the expiry is staged in
// beforeConnect and bound to the connection in afterConnect.
//
// Concurrent connection builds may bind a sibling's staged expiry; both
// were issued moments apart, so the recorded expiry stays accurate to
// within one issuance.
type expiryRegistry struct {
	mu     sync.Mutex
	staged time.Time
	byConn map[any]time.Time
}

func newExpiryRegistry() *expiryRegistry {
	return &expiryRegistry{byConn: make(map[any]time.Time)}
}

// stage records the expiry of the credential used for the connection
// currently being built.
func (r *expiryRegistry) stage(expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.staged = expiresAt
}

// bind associates the staged expiry with a newly established connection.
func (r *expiryRegistry) bind(conn any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[conn] = r.staged
}

// expired reports whether the connection's credential has lapsed at now.
// A connection with no recorded expiry is treated as expired; it cannot be
// trusted.
func (r *expiryRegistry) expired(conn any, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	expiresAt, ok := r.byConn[conn]
	if !ok {
		return true
	}
	return !now.Before(expiresAt)
}

// forget drops the record for a closed connection.
func (r *expiryRegistry) forget(conn any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byConn, conn)
}
