package workspace

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ScottHMcKean/market-intelligence-app/internal/log"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(srv.URL, "test-token", 5*time.Second, log.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return client
}

func TestNew_RequiresHost(t *testing.T) {
	if _, err := New("", "token", 0, log.NewNop()); err == nil {
		t.Fatal("New() with empty host should fail")
	}
}

func TestNew_AssumesHTTPS(t *testing.T) {
	client, err := New("workspace.example.com", "token", 0, log.NewNop())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if client.host != "https://workspace.example.com" {
		t.Errorf("host = %q, want https scheme added", client.host)
	}
}

func TestCurrentPrincipal(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != currentPrincipalPath {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "5f2b1a9e-1111-2222-3333-444455556666", "userName": "app@example.com"}`))
	}))

	p, err := client.CurrentPrincipal(context.Background())
	if err != nil {
		t.Fatalf("CurrentPrincipal() error: %v", err)
	}

	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if p.ID != "5f2b1a9e-1111-2222-3333-444455556666" {
		t.Errorf("ID = %q", p.ID)
	}
	if p.Email != "app@example.com" {
		t.Errorf("Email = %q", p.Email)
	}
}

func TestGetInstance(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != instancePath+"market-intel" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"name": "market-intel", "state": "AVAILABLE", "read_write_dns": "instance.db.example.com"}`))
	}))

	inst, err := client.GetInstance(context.Background(), "market-intel")
	if err != nil {
		t.Fatalf("GetInstance() error: %v", err)
	}

	if !inst.Available() {
		t.Errorf("Available() = false for state %q", inst.State)
	}
	if inst.Host != "instance.db.example.com" {
		t.Errorf("Host = %q", inst.Host)
	}
}

func TestIssueCredential(t *testing.T) {
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != credentialPath {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"token": "short-lived-token", "expiration_time": "` +
			expiry.Format(time.RFC3339) + `"}`))
	}))

	cred, err := client.IssueCredential(context.Background(), "req-1", []string{"market-intel"})
	if err != nil {
		t.Fatalf("IssueCredential() error: %v", err)
	}

	if cred.Token != "short-lived-token" {
		t.Errorf("Token = %q", cred.Token)
	}
	if !cred.ExpiresAt.Equal(expiry) {
		t.Errorf("ExpiresAt = %s, want %s", cred.ExpiresAt, expiry)
	}
}

func TestIssueCredential_NoInstances(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	if _, err := client.IssueCredential(context.Background(), "req-1", nil); err == nil {
		t.Fatal("IssueCredential() with no instances should fail")
	}
}

func TestAPIError(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error_code": "RESOURCE_DOES_NOT_EXIST", "message": "instance not found"}`))
	}))

	_, err := client.GetInstance(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if apiErr.Code != "RESOURCE_DOES_NOT_EXIST" {
		t.Errorf("Code = %q", apiErr.Code)
	}
}

func TestAPIError_NonJSONBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	}))

	_, err := client.CurrentPrincipal(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not *APIError", err)
	}
	if apiErr.Message != "upstream unavailable" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestContextCancellation(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := client.CurrentPrincipal(ctx); err == nil {
		t.Fatal("expected error when context expires")
	}
}
