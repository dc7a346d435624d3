// Package planapi is the HTTP client for the plan and profile endpoints.
// Transport failures surface as typed errors so callers can classify them
// without string matching.
package planapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avdotin/fitplan/internal/api"
	"github.com/avdotin/fitplan/internal/model"
)

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Op      string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: server returned %d: %s", e.Op, e.Code, e.Message)
}

// DecodeError is a syntactically invalid response body.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("%s: decode response: %v", e.Op, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// Client talks to one fp-server instance on behalf of one session.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New builds a client for the given base URL, e.g. "http://localhost:8080".
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken installs the bearer token used on authenticated calls.
func (c *Client) SetToken(token string) { c.token = token }

// Register creates an account and returns the new user ID.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	var out api.RegisterResponse
	err := c.do(ctx, "register", http.MethodPost, "/api/v1/auth/register",
		api.RegisterRequest{Username: username, Password: password}, &out)
	if err != nil {
		return "", err
	}
	return out.UserID, nil
}

// Login authenticates and returns the issued token. The caller decides
// whether to install it via SetToken.
func (c *Client) Login(ctx context.Context, username, password string) (*api.LoginResponse, error) {
	var out api.LoginResponse
	err := c.do(ctx, "login", http.MethodPost, "/api/v1/auth/login",
		api.LoginRequest{Username: username, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FetchPlan retrieves the current plan, optionally forcing a server-side
// recompute. The computed_at token is preserved exactly as received.
func (c *Client) FetchPlan(ctx context.Context, forceRecompute bool) (*model.PlanArtifact, error) {
	const op = "fetch plan"
	path := "/api/v1/plan"
	if forceRecompute {
		path += "?recompute=true"
	}
	var out api.PlanResponse
	if err := c.do(ctx, op, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	artifact, err := api.FromWirePlan(out)
	if err != nil {
		return nil, &DecodeError{Op: op, Err: err}
	}
	return artifact, nil
}

// SubmitAcknowledgment confirms a plan generation was seen. The ComputedAt
// field must be the exact string the server issued.
func (c *Client) SubmitAcknowledgment(ctx context.Context, req model.AcknowledgmentRequest) error {
	return c.do(ctx, "acknowledge plan", http.MethodPost, "/api/v1/plan/ack",
		api.AckRequest{Version: req.Version, ComputedAt: req.ComputedAt}, nil)
}

// GetProfile retrieves the stored body metrics.
func (c *Client) GetProfile(ctx context.Context) (*model.Profile, error) {
	var out api.ProfileResponse
	if err := c.do(ctx, "get profile", http.MethodGet, "/api/v1/profile", nil, &out); err != nil {
		return nil, err
	}
	p := api.FromWireProfileResponse(out)
	return &p, nil
}

// UpdateProfile submits new body metrics and returns the accepted state.
func (c *Client) UpdateProfile(ctx context.Context, p model.Profile) (*model.Profile, error) {
	var out api.ProfileResponse
	err := c.do(ctx, "update profile", http.MethodPut, "/api/v1/profile",
		api.ToWireProfileRequest(p), &out)
	if err != nil {
		return nil, err
	}
	updated := api.FromWireProfileResponse(out)
	return &updated, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		var e api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&e) == nil {
			msg = e.Message
		}
		return &StatusError{Op: op, Code: resp.StatusCode, Message: msg}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	return nil
}
