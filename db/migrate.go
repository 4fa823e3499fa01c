// Package db provides schema initialization for the conversation store.
//
// Migrations are embedded at compile time and applied through
// golang-migrate. All DDL uses IF NOT EXISTS semantics, so re-running
// across process restarts is a no-op; the schema_migrations table keeps
// ordering across future revisions.
package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx v5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ScottHMcKean/market-intelligence-app/internal/credential"
	"github.com/ScottHMcKean/market-intelligence-app/internal/workspace"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSchema indicates schema initialization failed. Fatal to store
// construction: the store must not serve requests against an unverified
// schema.
var ErrSchema = errors.New("schema initialization failed")

// Initializer runs schema migrations at most once per process lifetime.
// Safe for concurrent use; every caller observes the first run's outcome.
type Initializer struct {
	once sync.Once
	err  error
}

// Ensure applies pending migrations exactly once. Subsequent calls return
// the recorded result without touching the database.
func (i *Initializer) Ensure(connURL string) error {
	i.once.Do(func() {
		i.err = Migrate(connURL)
	})
	return i.err
}

// MigrateURL builds the postgres:// URL golang-migrate connects with,
// authenticating through a freshly issued credential against the
// instance's current address.
func MigrateURL(inst workspace.Instance, cred credential.Credential, dbName, sslMode string) string {
	host := inst.Host
	if inst.Port > 0 {
		host = fmt.Sprintf("%s:%d", inst.Host, inst.Port)
	}
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cred.Username, cred.Token),
		Host:     host,
		Path:     dbName,
		RawQuery: "sslmode=" + sslMode,
	}
	return u.String()
}

// Migrate runs all pending migrations against connURL. ErrNoChange counts
// as success. A dirty migration state requires manual intervention and is
// reported as ErrSchema.
func Migrate(connURL string) error {
	slog.Debug("running database migrations")

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%w: creating migration source: %w", ErrSchema, err)
	}

	dbURL, err := convertToMigrateURL(connURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchema, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("%w: connecting for migrations: %w", ErrSchema, err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			slog.Warn("closing migration source", "error", srcErr)
		}
		if dbErr != nil {
			slog.Warn("closing migration connection", "error", dbErr)
		}
	}()

	version, dirty, verErr := m.Version()
	if verErr != nil && !errors.Is(verErr, migrate.ErrNilVersion) {
		return fmt.Errorf("%w: checking migration version: %w", ErrSchema, verErr)
	}
	if dirty {
		return fmt.Errorf("%w: database in dirty state (version=%d), manual cleanup required",
			ErrSchema, version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Debug("no new migrations to apply")
			return nil
		}
		return fmt.Errorf("%w: applying migrations: %w", ErrSchema, err)
	}

	finalVersion, _, verErr := m.Version()
	if verErr != nil {
		slog.Warn("migrations completed but version check failed", "error", verErr)
	} else {
		slog.Info("migrations completed", "version", finalVersion)
	}

	return nil
}

// convertToMigrateURL rewrites a postgres:// URL to the pgx5:// scheme
// golang-migrate's pgx v5 driver expects.
func convertToMigrateURL(connURL string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}

	switch u.Scheme {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
		return u.String(), nil
	default:
		return "", fmt.Errorf("unsupported database URL scheme: %s", u.Scheme)
	}
}
