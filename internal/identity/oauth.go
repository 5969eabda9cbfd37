package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OAuthConfig configures the social sign-in flow. AuthURL and TokenURL are
// overridable for tests.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL  string
	TokenURL string
}

func (c OAuthConfig) enabled() bool {
	return c.ClientID != "" && c.RedirectURL != ""
}

// SignInWithOAuth runs the authorization-code flow: it serves a one-shot
// loopback listener on the redirect URL, logs the URL the user must open,
// exchanges the returned code for an access token, and signs that token into
// the identity service. Canceling the context before the redirect arrives
// yields ErrFlowCanceled.
func (p *RESTProvider) SignInWithOAuth(ctx context.Context) (*Account, error) {
	oauth := p.cfg.OAuth
	if !oauth.enabled() {
		return nil, errors.New("identity: oauth is not configured")
	}

	state := uuid.NewString()
	code, err := p.awaitAuthorizationCode(ctx, oauth, state)
	if err != nil {
		return nil, err
	}

	accessToken, err := exchangeOAuthCode(ctx, p.http, oauth, code)
	if err != nil {
		return nil, fmt.Errorf("identity: oauth exchange: %w", err)
	}

	payload := map[string]any{
		"postBody":          "access_token=" + url.QueryEscape(accessToken) + "&providerId=google.com",
		"requestUri":        oauth.RedirectURL,
		"returnSecureToken": true,
	}
	var session sessionResponse
	if err := p.post(ctx, "/v1/accounts:signInWithIdp", payload, &session); err != nil {
		return nil, fmt.Errorf("identity: idp sign-in: %w", err)
	}

	account := p.adoptSession(session)
	p.listeners.notify(&account)
	return &account, nil
}

// awaitAuthorizationCode serves the redirect endpoint until one code arrives.
func (p *RESTProvider) awaitAuthorizationCode(ctx context.Context, oauth OAuthConfig, state string) (string, error) {
	redirect, err := url.Parse(oauth.RedirectURL)
	if err != nil {
		return "", fmt.Errorf("identity: invalid redirect URL: %w", err)
	}

	listener, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return "", fmt.Errorf("identity: redirect listener: %w", err)
	}

	type result struct {
		code string
		err  error
	}
	results := make(chan result, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(redirect.Path, func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := query.Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Signed in. You can close this window and return to the terminal.")
		select {
		case results <- result{code: code}:
		default:
		}
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case results <- result{err: serveErr}:
			default:
			}
		}
	}()
	defer server.Close()

	p.logger.Info("open this URL to sign in", "url", loginURL(oauth, state))

	select {
	case res := <-results:
		return res.code, res.err
	case <-ctx.Done():
		return "", ErrFlowCanceled
	}
}

func loginURL(oauth OAuthConfig, state string) string {
	params := url.Values{
		"client_id":     {oauth.ClientID},
		"redirect_uri":  {oauth.RedirectURL},
		"response_type": {"code"},
		"scope":         {"openid email profile"},
		"state":         {state},
	}
	return oauth.AuthURL + "?" + params.Encode()
}

type oauthTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func exchangeOAuthCode(ctx context.Context, client *http.Client, oauth OAuthConfig, code string) (string, error) {
	data := url.Values{
		"code":          {code},
		"client_id":     {oauth.ClientID},
		"client_secret": {oauth.ClientSecret},
		"redirect_uri":  {oauth.RedirectURL},
		"grant_type":    {"authorization_code"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauth.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange failed with status %d: %s", resp.StatusCode, string(body))
	}

	var token oauthTokenResponse
	if err := json.Unmarshal(body, &token); err != nil {
		return "", err
	}
	if token.AccessToken == "" {
		return "", errors.New("empty access token in response")
	}
	return token.AccessToken, nil
}
