package credential

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/ScottHMcKean/market-intelligence-app/internal/log"
	"github.com/ScottHMcKean/market-intelligence-app/internal/workspace"
)

// Workspace is the subset of the workspace client the provider consumes.
// Defined here, by the consumer, so tests can substitute a fake.
type Workspace interface {
	CurrentPrincipal(ctx context.Context) (workspace.Principal, error)
	GetInstance(ctx context.Context, name string) (workspace.Instance, error)
	IssueCredential(ctx context.Context, requestID string, instanceNames []string) (workspace.IssuedCredential, error)
}

// Config configures a Provider.
type Config struct {
	// InstanceName is the database instance credentials are issued for.
	InstanceName string

	// RefreshSkew is the safety margin before expiry at which the cached
	// credential is considered stale. Must be positive.
	RefreshSkew time.Duration

	// UsernameOverride, when set, is used as the database login name
	// instead of the principal ID reported by the workspace. Deployment
	// environments set this when the issued token belongs to a service
	// principal the workspace cannot report directly.
	UsernameOverride string
}

// Provider caches the last-issued credential and refreshes it proactively.
// Safe for concurrent use; concurrent refreshes coalesce into a single
// issuance call.
type Provider struct {
	ws     Workspace
	cfg    Config
	logger log.Logger
	now    func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	cached    Credential
	principal string // memoized resolved login name
}

// NewProvider creates a credential provider for the configured instance.
func NewProvider(ws Workspace, cfg Config, logger log.Logger) *Provider {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Provider{
		ws:     ws,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Credential returns a usable credential, reusing the cached one while it
// is at least RefreshSkew away from expiry. On miss or imminent expiry it
// performs one coalesced issuance against the workspace, retrying once
// with backoff before giving up with ErrCredential.
func (p *Provider) Credential(ctx context.Context) (Credential, error) {
	p.mu.RLock()
	cached := p.cached
	p.mu.RUnlock()

	if cached.Valid(p.now(), p.cfg.RefreshSkew) {
		return cached, nil
	}

	result, err, _ := p.group.Do("refresh", func() (any, error) {
		// A caller that queued behind the winning refresh sees the fresh
		// cache here and skips a second issuance.
		p.mu.RLock()
		cached := p.cached
		p.mu.RUnlock()
		if cached.Valid(p.now(), p.cfg.RefreshSkew) {
			return cached, nil
		}

		cred, err := p.refresh(ctx)
		if err != nil {
			return Credential{}, err
		}

		p.mu.Lock()
		p.cached = cred
		p.mu.Unlock()
		return cred, nil
	})
	if err != nil {
		return Credential{}, err
	}

	cred := result.(Credential)
	if !cred.Valid(p.now(), 0) {
		// The shared result can be stale if this caller was parked for
		// longer than the token's lifetime.
		return Credential{}, fmt.Errorf("%w: issued token already expired", ErrCredential)
	}
	return cred, nil
}

// refresh performs one credential issuance, retrying once with exponential
// backoff on transient failures.
func (p *Provider) refresh(ctx context.Context) (Credential, error) {
	var cred Credential

	op := func() error {
		c, err := p.issue(ctx)
		if err != nil {
			return err
		}
		cred = c
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return Credential{}, fmt.Errorf("%w: %w", ErrCredential, err)
	}

	p.logger.Debug("refreshed database credential",
		"instance", p.cfg.InstanceName,
		"username", cred.Username,
		"expires_at", cred.ExpiresAt)
	return cred, nil
}

// issue performs a single end-to-end issuance: instance state check,
// credential request, and login-name resolution.
func (p *Provider) issue(ctx context.Context) (Credential, error) {
	inst, err := p.ws.GetInstance(ctx, p.cfg.InstanceName)
	if err != nil {
		return Credential{}, fmt.Errorf("resolving instance: %w", err)
	}
	if !inst.Available() {
		// Not transient at this timescale; skip the retry.
		return Credential{}, backoff.Permanent(
			fmt.Errorf("instance %q is not available (state %q)", inst.Name, inst.State))
	}

	issued, err := p.ws.IssueCredential(ctx, uuid.NewString(), []string{p.cfg.InstanceName})
	if err != nil {
		return Credential{}, fmt.Errorf("requesting credential: %w", err)
	}

	now := p.now()
	if !issued.ExpiresAt.After(now) {
		return Credential{}, backoff.Permanent(
			fmt.Errorf("issued token expired at %s", issued.ExpiresAt))
	}

	username, err := p.loginName(ctx)
	if err != nil {
		return Credential{}, err
	}

	return Credential{
		Username:  username,
		Token:     issued.Token,
		IssuedAt:  now,
		ExpiresAt: issued.ExpiresAt,
	}, nil
}

// loginName resolves the database login name: the configured override
// wins, otherwise the workspace's own report of the current principal.
// The resolved name is memoized; the principal does not change within a
// process lifetime.
func (p *Provider) loginName(ctx context.Context) (string, error) {
	if p.cfg.UsernameOverride != "" {
		return p.cfg.UsernameOverride, nil
	}

	p.mu.RLock()
	memoized := p.principal
	p.mu.RUnlock()
	if memoized != "" {
		return memoized, nil
	}

	principal, err := p.ws.CurrentPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving principal: %w", err)
	}
	if principal.ID == "" {
		return "", backoff.Permanent(fmt.Errorf("workspace returned empty principal id"))
	}

	p.mu.Lock()
	p.principal = principal.ID
	p.mu.Unlock()

	return principal.ID, nil
}
