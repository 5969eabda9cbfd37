// Package identity wraps the third-party identity service the CRM backend
// trusts. Every authenticated call, REST or realtime, derives its bearer
// credential from here.
package identity

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrUnauthenticated is returned when a credential is requested and no
	// identity is (or becomes) signed in.
	ErrUnauthenticated = errors.New("identity: not authenticated")

	// ErrFlowCanceled is returned when an interactive sign-in flow is
	// abandoned before completing.
	ErrFlowCanceled = errors.New("identity: sign-in flow canceled")
)

// Account is the identity service's view of a signed-in user, distinct from
// the backend profile.
type Account struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
}

// Provider is the seam to the identity service. A nil account in an
// auth-state event means signed out.
type Provider interface {
	// CurrentUser returns the signed-in account, or nil.
	CurrentUser() *Account

	// IDToken returns a bearer token for the current user. force bypasses
	// any cached token and refreshes against the identity service.
	IDToken(ctx context.Context, force bool) (string, error)

	SignInWithPassword(ctx context.Context, email, password string) (*Account, error)

	// SignInWithOAuth runs the interactive social sign-in flow.
	SignInWithOAuth(ctx context.Context) (*Account, error)

	SignOut(ctx context.Context) error

	// OnAuthStateChanged registers fn for every future auth-state change.
	// The returned function removes the registration; it is safe to call
	// from inside fn.
	OnAuthStateChanged(fn func(*Account)) (unsubscribe func())
}

// listenerSet fans auth-state events out to registered callbacks.
type listenerSet struct {
	mu    sync.Mutex
	next  int
	funcs map[int]func(*Account)
}

func (s *listenerSet) add(fn func(*Account)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.funcs == nil {
		s.funcs = make(map[int]func(*Account))
	}
	id := s.next
	s.next++
	s.funcs[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.funcs, id)
		s.mu.Unlock()
	}
}

// notify invokes each registered callback outside the lock, so callbacks may
// unsubscribe themselves.
func (s *listenerSet) notify(account *Account) {
	s.mu.Lock()
	funcs := make([]func(*Account), 0, len(s.funcs))
	for _, fn := range s.funcs {
		funcs = append(funcs, fn)
	}
	s.mu.Unlock()

	for _, fn := range funcs {
		fn(account)
	}
}

func (s *listenerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.funcs)
}
