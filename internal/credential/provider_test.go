package credential

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ScottHMcKean/market-intelligence-app/internal/log"
	"github.com/ScottHMcKean/market-intelligence-app/internal/workspace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeWorkspace implements Workspace for tests.
type fakeWorkspace struct {
	mu sync.Mutex

	instance    workspace.Instance
	instanceErr error

	principal    workspace.Principal
	principalErr error

	tokenTTL time.Duration
	issueErr error
	// issueErrOnce fails only the first issuance, for retry tests.
	issueErrOnce error

	// issueGate, when set, blocks issuance until closed. Used to force
	// concurrent callers to overlap inside a refresh.
	issueGate chan struct{}

	issueCalls     atomic.Int64
	principalCalls atomic.Int64
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		instance: workspace.Instance{
			Name:  "market-intel",
			State: workspace.InstanceAvailable,
			Host:  "instance.db.example.com",
		},
		principal: workspace.Principal{
			ID:    "5f2b1a9e-0000-0000-0000-000000000000",
			Email: "app@example.com",
		},
		tokenTTL: time.Hour,
	}
}

func (f *fakeWorkspace) CurrentPrincipal(ctx context.Context) (workspace.Principal, error) {
	f.principalCalls.Add(1)
	if f.principalErr != nil {
		return workspace.Principal{}, f.principalErr
	}
	return f.principal, nil
}

func (f *fakeWorkspace) GetInstance(ctx context.Context, name string) (workspace.Instance, error) {
	if f.instanceErr != nil {
		return workspace.Instance{}, f.instanceErr
	}
	return f.instance, nil
}

func (f *fakeWorkspace) IssueCredential(ctx context.Context, requestID string, names []string) (workspace.IssuedCredential, error) {
	f.issueCalls.Add(1)
	if f.issueGate != nil {
		<-f.issueGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErrOnce != nil {
		err := f.issueErrOnce
		f.issueErrOnce = nil
		return workspace.IssuedCredential{}, err
	}
	if f.issueErr != nil {
		return workspace.IssuedCredential{}, f.issueErr
	}
	return workspace.IssuedCredential{
		Token:     "tok-" + requestID,
		ExpiresAt: time.Now().Add(f.tokenTTL),
	}, nil
}

func newTestProvider(ws Workspace) *Provider {
	return NewProvider(ws, Config{
		InstanceName: "market-intel",
		RefreshSkew:  60 * time.Second,
	}, log.NewNop())
}

func TestCredential_IssuesAndCaches(t *testing.T) {
	ws := newFakeWorkspace()
	p := newTestProvider(ws)

	cred, err := p.Credential(context.Background())
	if err != nil {
		t.Fatalf("Credential() error: %v", err)
	}

	if cred.Username != ws.principal.ID {
		t.Errorf("Username = %q, want principal ID %q", cred.Username, ws.principal.ID)
	}
	if cred.Token == "" {
		t.Error("Token is empty")
	}
	if !cred.ExpiresAt.After(cred.IssuedAt) {
		t.Errorf("ExpiresAt %s not after IssuedAt %s", cred.ExpiresAt, cred.IssuedAt)
	}

	// Second call within the validity window reuses the cache.
	again, err := p.Credential(context.Background())
	if err != nil {
		t.Fatalf("Credential() error: %v", err)
	}
	if again.Token != cred.Token {
		t.Error("expected cached credential to be reused")
	}
	if got := ws.issueCalls.Load(); got != 1 {
		t.Errorf("issue calls = %d, want 1", got)
	}
}

func TestCredential_RefreshSkew(t *testing.T) {
	ws := newFakeWorkspace()
	p := newTestProvider(ws)

	// Credential expiring exactly at the skew boundary must be refreshed.
	p.cached = Credential{
		Username:  "u",
		Token:     "stale",
		IssuedAt:  time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(60 * time.Second),
	}

	cred, err := p.Credential(context.Background())
	if err != nil {
		t.Fatalf("Credential() error: %v", err)
	}
	if cred.Token == "stale" {
		t.Error("expected refresh for credential inside the skew window")
	}
	if got := ws.issueCalls.Load(); got != 1 {
		t.Errorf("issue calls = %d, want 1", got)
	}

	// A credential with ample validity is reused.
	p.cached = Credential{
		Username:  "u",
		Token:     "fresh",
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	cred, err = p.Credential(context.Background())
	if err != nil {
		t.Fatalf("Credential() error: %v", err)
	}
	if cred.Token != "fresh" {
		t.Error("expected cached credential outside the skew window")
	}
}

func TestCredential_CoalescesConcurrentRefresh(t *testing.T) {
	ws := newFakeWorkspace()
	ws.issueGate = make(chan struct{})
	p := newTestProvider(ws)

	const callers = 8
	var wg sync.WaitGroup
	creds := make([]Credential, callers)
	errs := make([]error, callers)

	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creds[i], errs[i] = p.Credential(context.Background())
		}()
	}

	// Let every caller reach the provider before issuance completes.
	time.Sleep(50 * time.Millisecond)
	close(ws.issueGate)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if creds[i].Token != creds[0].Token {
			t.Errorf("caller %d got a different credential", i)
		}
	}
	if got := ws.issueCalls.Load(); got != 1 {
		t.Errorf("issue calls = %d, want exactly 1 (coalesced)", got)
	}
}

func TestCredential_RetriesOnceThenSucceeds(t *testing.T) {
	ws := newFakeWorkspace()
	ws.issueErrOnce = errors.New("transient issuance failure")
	p := newTestProvider(ws)

	cred, err := p.Credential(context.Background())
	if err != nil {
		t.Fatalf("Credential() error: %v", err)
	}
	if cred.Token == "" {
		t.Error("Token is empty")
	}
	if got := ws.issueCalls.Load(); got != 2 {
		t.Errorf("issue calls = %d, want 2 (one retry)", got)
	}
}

func TestCredential_PropagatesPersistentFailure(t *testing.T) {
	ws := newFakeWorkspace()
	ws.issueErr = errors.New("issuance down")
	p := newTestProvider(ws)

	_, err := p.Credential(context.Background())
	if !errors.Is(err, ErrCredential) {
		t.Fatalf("Credential() = %v, want ErrCredential", err)
	}
	if got := ws.issueCalls.Load(); got != 2 {
		t.Errorf("issue calls = %d, want 2 (one retry, then propagate)", got)
	}
}

func TestCredential_InstanceNotAvailable(t *testing.T) {
	ws := newFakeWorkspace()
	ws.instance.State = "STARTING"
	p := newTestProvider(ws)

	_, err := p.Credential(context.Background())
	if !errors.Is(err, ErrCredential) {
		t.Fatalf("Credential() = %v, want ErrCredential", err)
	}
	if got := ws.issueCalls.Load(); got != 0 {
		t.Errorf("issue calls = %d, want 0 (state checked first)", got)
	}
}

func TestCredential_RejectsExpiredToken(t *testing.T) {
	ws := newFakeWorkspace()
	ws.tokenTTL = -time.Minute
	p := newTestProvider(ws)

	_, err := p.Credential(context.Background())
	if !errors.Is(err, ErrCredential) {
		t.Fatalf("Credential() = %v, want ErrCredential", err)
	}
}

func TestCredential_UsernameOverride(t *testing.T) {
	ws := newFakeWorkspace()
	p := NewProvider(ws, Config{
		InstanceName:     "market-intel",
		RefreshSkew:      60 * time.Second,
		UsernameOverride: "11111111-2222-3333-4444-555555555555",
	}, log.NewNop())

	cred, err := p.Credential(context.Background())
	if err != nil {
		t.Fatalf("Credential() error: %v", err)
	}
	if cred.Username != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("Username = %q, want override", cred.Username)
	}
	if got := ws.principalCalls.Load(); got != 0 {
		t.Errorf("principal calls = %d, want 0 with override", got)
	}
}

func TestCredential_MemoizesPrincipal(t *testing.T) {
	ws := newFakeWorkspace()
	p := newTestProvider(ws)

	if _, err := p.Credential(context.Background()); err != nil {
		t.Fatalf("Credential() error: %v", err)
	}

	// Force a refresh; the principal lookup must not repeat.
	p.cached = Credential{}
	if _, err := p.Credential(context.Background()); err != nil {
		t.Fatalf("Credential() error: %v", err)
	}
	if got := ws.principalCalls.Load(); got != 1 {
		t.Errorf("principal calls = %d, want 1 (memoized)", got)
	}
}

func TestValid(t *testing.T) {
	now := time.Now()
	cred := Credential{
		Token:     "tok",
		IssuedAt:  now,
		ExpiresAt: now.Add(10 * time.Minute),
	}

	if !cred.Valid(now, time.Minute) {
		t.Error("credential with 10m left should be valid with 1m skew")
	}
	if cred.Valid(now, 10*time.Minute) {
		t.Error("credential at the skew boundary should be invalid")
	}
	if (Credential{}).Valid(now, 0) {
		t.Error("zero credential should never be valid")
	}
}
