// Package api is the REST client for the CRM backend. Every authenticated
// request fetches a fresh credential from the token source and sends it as a
// bearer header.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"crmcli/internal/model"
)

// TokenSource yields a bearer credential for one request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ClientConfig configures the backend client.
type ClientConfig struct {
	BaseURL string
	Tokens  TokenSource

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the CRM backend.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a backend client.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		tokens:  cfg.Tokens,
		http:    httpClient,
		logger:  logger,
	}
}

// Login validates credentials against the backend. The identity sign-in and
// profile hydration happen in the session store; this call only checks the
// password server-side and returns the backend's token, if any.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", payload, &resp, false); err != nil {
		return "", mapLoginError(err)
	}
	return resp.Token, nil
}

// Register creates the account server-side.
func (c *Client) Register(ctx context.Context, email, password, displayName string) error {
	payload := map[string]string{
		"email":       email,
		"password":    password,
		"displayName": displayName,
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", payload, nil, false); err != nil {
		return mapRegisterError(err)
	}
	return nil
}

// SaveUser upserts an identity into the backend after social sign-in.
func (c *Client) SaveUser(ctx context.Context, user model.User) error {
	return c.do(ctx, http.MethodPost, "/api/auth/save-user", user, nil, true)
}

// Me fetches the signed-in user's backend profile.
func (c *Client) Me(ctx context.Context) (*model.User, error) {
	var resp struct {
		User model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &resp, true); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// UpdateDisplayName renames the profile and returns the updated user.
func (c *Client) UpdateDisplayName(ctx context.Context, displayName string) (*model.User, error) {
	payload := map[string]string{"displayName": displayName}
	var resp struct {
		User model.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/user/update-name", payload, &resp, true); err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// do executes one request. A nil out discards the response body.
func (c *Client) do(ctx context.Context, method, path string, payload, out any, authenticated bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return newError(ErrorBackend, "encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return newError(ErrorBackend, "build request", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authenticated {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return newError(ErrorUnauthenticated, "no credential", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return newError(ErrorNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(ErrorNetwork, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, data)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return newError(ErrorBackend, "decode response", err)
	}
	return nil
}

// statusError turns a non-2xx response into a coded error, preserving the
// backend's message so views can surface it verbatim.
func statusError(status int, body []byte) *Error {
	var failure struct {
		Error string `json:"error"`
	}
	message := ""
	if json.Unmarshal(body, &failure) == nil {
		message = failure.Error
	}
	if message == "" {
		message = fmt.Sprintf("status %d", status)
	}

	if status == http.StatusUnauthorized {
		return newError(ErrorUnauthenticated, message, nil)
	}
	return newError(ErrorBackend, message, nil)
}

// mapLoginError reclassifies credential-shaped login failures.
func mapLoginError(err error) error {
	apiErr, ok := err.(*Error)
	if !ok {
		return err
	}
	if apiErr.Code == ErrorUnauthenticated || looksLikeCredentialError(apiErr.Reason) {
		return newError(ErrorInvalidCredentials, apiErr.Reason, apiErr.Err)
	}
	return apiErr
}

// mapRegisterError reclassifies registration failures into the
// user-correctable categories.
func mapRegisterError(err error) error {
	apiErr, ok := err.(*Error)
	if !ok {
		return err
	}
	if apiErr.Code == ErrorNetwork {
		return apiErr
	}

	reason := strings.ToLower(apiErr.Reason)
	switch {
	case strings.Contains(reason, "already"), strings.Contains(reason, "in use"), strings.Contains(reason, "exists"):
		return newError(ErrorEmailInUse, apiErr.Reason, apiErr.Err)
	case strings.Contains(reason, "password"):
		return newError(ErrorWeakPassword, apiErr.Reason, apiErr.Err)
	case strings.Contains(reason, "email"):
		return newError(ErrorInvalidEmail, apiErr.Reason, apiErr.Err)
	default:
		return newError(ErrorRegistration, apiErr.Reason, apiErr.Err)
	}
}

func looksLikeCredentialError(reason string) bool {
	lowered := strings.ToLower(reason)
	return strings.Contains(lowered, "credential") ||
		strings.Contains(lowered, "password") ||
		strings.Contains(lowered, "not found")
}
