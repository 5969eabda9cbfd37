package identity

import "context"

// TokenSource yields a fresh credential on demand. Tokens are short-lived and
// never cached here; callers get a forced refresh every time.
type TokenSource struct {
	provider Provider
}

// NewTokenSource wraps a provider.
func NewTokenSource(p Provider) *TokenSource {
	return &TokenSource{provider: p}
}

// Token returns a fresh bearer token for the current identity. When no
// identity has resolved yet, it subscribes a one-shot listener and resolves
// with the first auth-state event: a signed-in account yields a token, a
// signed-out event yields ErrUnauthenticated. The listener is removed before
// Token returns, so concurrent callers never share listener state and none
// leaks past its call.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if s.provider.CurrentUser() != nil {
		return s.provider.IDToken(ctx, true)
	}

	events := make(chan *Account, 1)
	unsubscribe := s.provider.OnAuthStateChanged(func(account *Account) {
		// Only the first event matters; drop the rest.
		select {
		case events <- account:
		default:
		}
	})
	defer unsubscribe()

	// The state may have resolved between the CurrentUser check and the
	// subscription.
	if s.provider.CurrentUser() != nil {
		return s.provider.IDToken(ctx, true)
	}

	select {
	case account := <-events:
		if account == nil {
			return "", ErrUnauthenticated
		}
		return s.provider.IDToken(ctx, true)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
