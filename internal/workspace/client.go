// Package workspace provides a lightweight HTTP client for the workspace
// identity service: current-principal lookup, database instance lookup, and
// short-lived database credential issuance.
//
// The client covers exactly the three operations the credential layer
// consumes. Responses are JSON; authentication is a bearer token.
package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ScottHMcKean/market-intelligence-app/internal/log"
)

const (
	currentPrincipalPath = "/api/2.0/preview/scim/v2/Me"
	instancePath         = "/api/2.0/database/instances/"
	credentialPath       = "/api/2.0/database/credentials"

	// maxErrorBody caps how much of an error response body is read.
	maxErrorBody = 64 << 10
)

// Client is a workspace API client.
type Client struct {
	host       string
	token      string
	httpClient *http.Client
	logger     log.Logger
}

// New creates a workspace client for the given host.
//
// host must include a scheme (https://...); a missing scheme is assumed to
// be https, matching how deployment environments hand out bare hostnames.
// timeout bounds every request; pass 0 for no client-level timeout (the
// per-call context still applies).
func New(host, token string, timeout time.Duration, logger log.Logger) (*Client, error) {
	if host == "" {
		return nil, fmt.Errorf("workspace host is required")
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	if _, err := url.Parse(host); err != nil {
		return nil, fmt.Errorf("invalid workspace host %q: %w", host, err)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Client{
		host:       strings.TrimSuffix(host, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// CurrentPrincipal returns the identity the workspace associates with this
// client's token.
func (c *Client) CurrentPrincipal(ctx context.Context) (Principal, error) {
	var p Principal
	if err := c.doJSON(ctx, http.MethodGet, currentPrincipalPath, nil, &p); err != nil {
		return Principal{}, fmt.Errorf("get current principal: %w", err)
	}
	return p, nil
}

// GetInstance looks up a database instance by name, including its current
// network address and state.
func (c *Client) GetInstance(ctx context.Context, name string) (Instance, error) {
	if name == "" {
		return Instance{}, fmt.Errorf("instance name is required")
	}

	var inst Instance
	if err := c.doJSON(ctx, http.MethodGet, instancePath+url.PathEscape(name), nil, &inst); err != nil {
		return Instance{}, fmt.Errorf("get instance %q: %w", name, err)
	}
	return inst, nil
}

// IssueCredential requests a short-lived database credential valid for the
// named instances. requestID correlates retries on the server side.
func (c *Client) IssueCredential(ctx context.Context, requestID string, instanceNames []string) (IssuedCredential, error) {
	if len(instanceNames) == 0 {
		return IssuedCredential{}, fmt.Errorf("at least one instance name is required")
	}

	body := struct {
		RequestID     string   `json:"request_id"`
		InstanceNames []string `json:"instance_names"`
	}{RequestID: requestID, InstanceNames: instanceNames}

	var cred IssuedCredential
	if err := c.doJSON(ctx, http.MethodPost, credentialPath, body, &cred); err != nil {
		return IssuedCredential{}, fmt.Errorf("issue credential: %w", err)
	}

	c.logger.Debug("issued database credential",
		"instances", instanceNames,
		"expires_at", cred.ExpiresAt)
	return cred, nil
}

// doJSON performs a request against the workspace API and decodes the JSON
// response into out. Non-2xx responses become *APIError.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.host+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// apiError builds an *APIError from a non-2xx response, keeping the API's
// own error code and message when the body parses.
func (c *Client) apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil && len(data) > 0 {
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
