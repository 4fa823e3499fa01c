// Package database owns the pooled PostgreSQL connections built from
// short-lived credentials.
//
// Every new physical connection is authenticated with a freshly obtained
// credential and targets the instance's current network address. The pool
// records the credential expiry per connection and refuses to hand out a
// connection whose credential has lapsed, so callers never observe an auth
// failure caused purely by token expiry.
package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ScottHMcKean/market-intelligence-app/internal/config"
	"github.com/ScottHMcKean/market-intelligence-app/internal/credential"
	"github.com/ScottHMcKean/market-intelligence-app/internal/log"
	"github.com/ScottHMcKean/market-intelligence-app/internal/workspace"
)

var (
	// ErrUnavailable indicates no database instance is configured or the
	// manager could not be constructed. This is an expected state; callers
	// run without persistence rather than failing.
	ErrUnavailable = errors.New("database not available")

	// ErrConnection indicates a pool, network, or authentication failure
	// on a live operation. The failed connection is discarded; retrying
	// the whole operation rebuilds with a fresh credential.
	ErrConnection = errors.New("database connection failed")

	// ErrTimeout indicates a bounded wait (pool slot, query, credential)
	// was exceeded. Distinct from ErrConnection so callers can choose to
	// retry or degrade.
	ErrTimeout = errors.New("database operation timed out")
)

const defaultPort = 5432

// CredentialSource supplies a live credential for new connections.
type CredentialSource interface {
	Credential(ctx context.Context) (credential.Credential, error)
}

// InstanceResolver resolves the instance's current network address.
// Instance endpoints can change, so the lookup happens per connection
// build, not once at startup.
type InstanceResolver interface {
	GetInstance(ctx context.Context, name string) (workspace.Instance, error)
}

// Manager owns the connection pool. All database access goes through
// WithConn; connections are never leaked beyond one logical operation.
type Manager struct {
	pool      *pgxpool.Pool
	creds     CredentialSource
	instances InstanceResolver
	cfg       *config.Config
	logger    log.Logger

	expiry *expiryRegistry
}

// NewManager builds the pooled connection manager.
//
// Returns ErrUnavailable when no instance is configured. The pool is
// created lazily; no connection is established here, so construction
// succeeds even while the instance is briefly unreachable.
func NewManager(cfg *config.Config, creds CredentialSource, instances InstanceResolver, logger log.Logger) (*Manager, error) {
	if cfg.InstanceName == "" {
		return nil, fmt.Errorf("%w: no instance configured", ErrUnavailable)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	m := &Manager{
		creds:     creds,
		instances: instances,
		cfg:       cfg,
		logger:    logger,
		expiry:    newExpiryRegistry(),
	}

	poolCfg, err := pgxpool.ParseConfig(placeholderDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: parsing pool config: %w", ErrUnavailable, err)
	}
	poolCfg.MaxConns = cfg.PoolMaxConns
	poolCfg.MinConns = cfg.PoolMinConns

	poolCfg.BeforeConnect = m.beforeConnect
	poolCfg.AfterConnect = m.afterConnect
	poolCfg.BeforeAcquire = m.beforeAcquire
	poolCfg.BeforeClose = m.beforeClose

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: creating pool: %w", ErrUnavailable, err)
	}
	m.pool = pool

	return m, nil
}

// placeholderDSN builds the base connection string. Host, port, user, and
// password are overwritten per connection in beforeConnect; only the
// database name and SSL mode survive from here.
func placeholderDSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		"unresolved", defaultPort, quoteDSNValue(cfg.DatabaseName), cfg.SSLMode)
}

// beforeConnect injects a fresh credential and the instance's current
// address into the connection config.
func (m *Manager) beforeConnect(ctx context.Context, cc *pgx.ConnConfig) error {
	cred, err := m.creds.Credential(ctx)
	if err != nil {
		return err
	}

	inst, err := m.instances.GetInstance(ctx, m.cfg.InstanceName)
	if err != nil {
		return fmt.Errorf("resolving instance address: %w", err)
	}
	if !inst.Available() {
		return fmt.Errorf("instance %q is not available (state %q)", inst.Name, inst.State)
	}

	cc.Host = inst.Host
	cc.Port = defaultPort
	if inst.Port > 0 {
		cc.Port = uint16(inst.Port)
	}
	cc.User = cred.Username
	cc.Password = cred.Token
	if cc.TLSConfig != nil {
		cc.TLSConfig.ServerName = inst.Host
	}

	m.expiry.stage(cred.ExpiresAt)

	m.logger.Debug("building database connection",
		"host", inst.Host,
		"user", cred.Username,
		"credential_expires_at", cred.ExpiresAt)
	return nil
}

// afterConnect records the staged credential expiry against the new
// connection.
func (m *Manager) afterConnect(ctx context.Context, conn *pgx.Conn) error {
	m.expiry.bind(conn)
	return nil
}

// beforeAcquire rejects connections whose credential has expired; the pool
// destroys them and builds replacements with fresh credentials.
func (m *Manager) beforeAcquire(ctx context.Context, conn *pgx.Conn) bool {
	if m.expiry.expired(conn, time.Now()) {
		m.logger.Debug("discarding connection with expired credential")
		return false
	}
	return true
}

func (m *Manager) beforeClose(conn *pgx.Conn) {
	m.expiry.forget(conn)
}

// WithConn runs fn against one pooled connection with guaranteed release.
// The whole invocation, including pool slot acquisition, is bounded by the
// configured operation timeout.
//
// Infrastructure failures map to ErrConnection or ErrTimeout; errors that
// fn produces itself (not-found rows, state violations) pass through
// unchanged. A connection-level failure inside fn closes the underlying
// connection so the pool discards rather than reuses it.
func (m *Manager) WithConn(ctx context.Context, fn func(ctx context.Context, conn *pgxpool.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.OperationTimeout)
	defer cancel()

	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return classify(fmt.Errorf("acquiring connection: %w", err))
	}
	defer conn.Release()

	if err := fn(ctx, conn); err != nil {
		if isConnectionFailure(err) {
			// Do not return a broken connection to the pool.
			_ = conn.Conn().Close(context.Background())
			return classify(err)
		}
		if isTimeout(err) {
			return classify(err)
		}
		return err
	}
	return nil
}

// Ping verifies the database is reachable with current credentials.
func (m *Manager) Ping(ctx context.Context) error {
	return m.WithConn(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return conn.Ping(ctx)
	})
}

// Close releases the pool and all its connections.
func (m *Manager) Close() {
	m.pool.Close()
}

// classify wraps an infrastructure error with the matching sentinel.
func classify(err error) error {
	switch {
	case isTimeout(err):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
}

// isTimeout reports whether err is a bounded-wait expiry rather than a
// broken connection.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pgconn.Timeout(err)
}

// isConnectionFailure reports whether err invalidates the physical
// connection: network resets, closed connections, and authentication
// rejections (SQLSTATE class 28, stale role/token) and connection
// exceptions (class 08).
func isConnectionFailure(err error) bool {
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	if errors.Is(err, ErrConnection) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		return len(code) >= 2 && (code[:2] == "08" || code[:2] == "28" || code == "57P01")
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
