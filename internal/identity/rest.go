package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RESTConfig configures the HTTP identity provider.
type RESTConfig struct {
	BaseURL string
	APIKey  string
	OAuth   OAuthConfig

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// RESTProvider talks to the identity service over HTTP. It caches the current
// session (id token + refresh token) in memory only; nothing is persisted.
type RESTProvider struct {
	cfg       RESTConfig
	http      *http.Client
	logger    *slog.Logger
	listeners listenerSet

	mu           sync.Mutex
	account      *Account
	idToken      string
	refreshToken string
	expiry       time.Time
}

// NewRESTProvider creates a provider for the given identity service.
func NewRESTProvider(cfg RESTConfig) *RESTProvider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RESTProvider{cfg: cfg, http: httpClient, logger: logger}
}

type sessionResponse struct {
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
}

func (p *RESTProvider) CurrentUser() *Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.account == nil {
		return nil
	}
	copied := *p.account
	return &copied
}

func (p *RESTProvider) SignInWithPassword(ctx context.Context, email, password string) (*Account, error) {
	payload := map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}

	var session sessionResponse
	if err := p.post(ctx, "/v1/accounts:signInWithPassword", payload, &session); err != nil {
		return nil, fmt.Errorf("identity: password sign-in: %w", err)
	}

	account := p.adoptSession(session)
	p.listeners.notify(&account)
	return &account, nil
}

// IDToken returns the session's bearer token, refreshing it against the
// identity service when forced or expired.
func (p *RESTProvider) IDToken(ctx context.Context, force bool) (string, error) {
	p.mu.Lock()
	if p.account == nil {
		p.mu.Unlock()
		return "", ErrUnauthenticated
	}
	if !force && p.idToken != "" && time.Now().Before(p.expiry) {
		token := p.idToken
		p.mu.Unlock()
		return token, nil
	}
	refreshToken := p.refreshToken
	p.mu.Unlock()

	if refreshToken == "" {
		return "", ErrUnauthenticated
	}

	payload := map[string]any{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	var refreshed struct {
		IDToken      string `json:"id_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    string `json:"expires_in"`
	}
	if err := p.post(ctx, "/v1/token", payload, &refreshed); err != nil {
		return "", fmt.Errorf("identity: token refresh: %w", err)
	}

	p.mu.Lock()
	p.idToken = refreshed.IDToken
	if refreshed.RefreshToken != "" {
		p.refreshToken = refreshed.RefreshToken
	}
	p.expiry = expiryFrom(refreshed.ExpiresIn)
	token := p.idToken
	p.mu.Unlock()

	return token, nil
}

func (p *RESTProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.account = nil
	p.idToken = ""
	p.refreshToken = ""
	p.expiry = time.Time{}
	p.mu.Unlock()

	p.listeners.notify(nil)
	return nil
}

func (p *RESTProvider) OnAuthStateChanged(fn func(*Account)) func() {
	return p.listeners.add(fn)
}

// adoptSession stores the session and returns the account it belongs to.
func (p *RESTProvider) adoptSession(session sessionResponse) Account {
	account := Account{
		UID:         session.LocalID,
		Email:       session.Email,
		DisplayName: session.DisplayName,
		PhotoURL:    session.PhotoURL,
	}

	p.mu.Lock()
	p.account = &account
	p.idToken = session.IDToken
	p.refreshToken = session.RefreshToken
	p.expiry = expiryFrom(session.ExpiresIn)
	p.mu.Unlock()

	return account
}

// post sends a JSON request to the identity service and decodes the response.
func (p *RESTProvider) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := p.cfg.BaseURL + path + "?key=" + p.cfg.APIKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &failure) == nil && failure.Error.Message != "" {
			return fmt.Errorf("identity service: %s", failure.Error.Message)
		}
		return fmt.Errorf("identity service: status %d", resp.StatusCode)
	}

	return json.Unmarshal(data, out)
}

func expiryFrom(expiresIn string) time.Time {
	seconds, err := strconv.Atoi(expiresIn)
	if err != nil || seconds <= 0 {
		seconds = 3600
	}
	// Refresh a minute early so a token handed out is never near expiry.
	return time.Now().Add(time.Duration(seconds)*time.Second - time.Minute)
}

var _ Provider = (*RESTProvider)(nil)
