// Package session holds the single source of truth for who is signed in. It
// composes the identity provider's auth-state stream with the backend
// profile, and gates the views that require an authenticated user.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"crmcli/internal/identity"
	"crmcli/internal/model"
)

// State is the session lifecycle. Loading gates protected views: it is
// neither authenticated nor anonymous and callers must wait.
type State int

const (
	StateUnknown State = iota
	StateLoading
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

// Snapshot is the reactive pair views bind to.
type Snapshot struct {
	State State
	User  *model.User
}

// Backend is the slice of the REST client the store depends on.
type Backend interface {
	Login(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, email, password, displayName string) error
	SaveUser(ctx context.Context, user model.User) error
	Me(ctx context.Context) (*model.User, error)
	UpdateDisplayName(ctx context.Context, displayName string) (*model.User, error)
}

// Store is the auth session store. Create with NewStore, start with Init and
// release the auth-state subscription with Teardown.
type Store struct {
	provider identity.Provider
	backend  Backend
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	user        *model.User
	baseCtx     context.Context
	unsubscribe func()
	watcherSeq  int
	watchers    map[int]func(Snapshot)
}

// NewStore wires the store; no I/O happens until Init.
func NewStore(provider identity.Provider, backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		provider: provider,
		backend:  backend,
		logger:   logger,
		state:    StateUnknown,
		watchers: make(map[int]func(Snapshot)),
	}
}

// Init resolves the startup state and subscribes to auth-state changes so an
// external sign-out (session expiry at the identity service) clears the user
// automatically. ctx outlives Init; it scopes event-driven hydration.
func (s *Store) Init(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	s.setState(StateLoading, nil)

	s.mu.Lock()
	s.unsubscribe = s.provider.OnAuthStateChanged(func(account *identity.Account) {
		if account == nil {
			s.setState(StateAnonymous, nil)
			return
		}
		s.hydrate(s.eventContext())
	})
	s.mu.Unlock()

	if s.provider.CurrentUser() == nil {
		s.setState(StateAnonymous, nil)
		return
	}
	if _, err := s.hydrate(ctx); err != nil {
		s.logger.Warn("startup profile fetch failed", "err", err)
	}
}

// Teardown drops the auth-state subscription. The current snapshot is left as
// is; Logout is the operation that clears it.
func (s *Store) Teardown() {
	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Login validates credentials with the backend, signs into the identity
// provider with the same credentials and hydrates the profile.
func (s *Store) Login(ctx context.Context, email, password string) (*model.User, error) {
	s.setState(StateLoading, nil)

	if _, err := s.backend.Login(ctx, email, password); err != nil {
		s.setState(StateAnonymous, nil)
		return nil, err
	}

	if _, err := s.provider.SignInWithPassword(ctx, email, password); err != nil {
		s.setState(StateAnonymous, nil)
		return nil, fmt.Errorf("session: identity sign-in: %w", err)
	}

	return s.hydrate(ctx)
}

// Register creates the account server-side, then signs in and hydrates.
func (s *Store) Register(ctx context.Context, email, password, displayName string) (*model.User, error) {
	s.setState(StateLoading, nil)

	if err := s.backend.Register(ctx, email, password, displayName); err != nil {
		s.setState(StateAnonymous, nil)
		return nil, err
	}

	if _, err := s.provider.SignInWithPassword(ctx, email, password); err != nil {
		s.setState(StateAnonymous, nil)
		return nil, fmt.Errorf("session: identity sign-in: %w", err)
	}

	return s.hydrate(ctx)
}

// LoginWithOAuth runs the provider's interactive flow, upserts the resulting
// identity into the backend and hydrates.
func (s *Store) LoginWithOAuth(ctx context.Context) (*model.User, error) {
	s.setState(StateLoading, nil)

	account, err := s.provider.SignInWithOAuth(ctx)
	if err != nil {
		s.setState(StateAnonymous, nil)
		return nil, err
	}

	saved := model.User{
		UID:         account.UID,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		PhotoURL:    account.PhotoURL,
	}
	if err := s.backend.SaveUser(ctx, saved); err != nil {
		s.setState(StateAnonymous, nil)
		return nil, err
	}

	return s.hydrate(ctx)
}

// Logout signs out of the identity provider and clears the user synchronously
// rather than waiting for the auth-state event.
func (s *Store) Logout(ctx context.Context) error {
	err := s.provider.SignOut(ctx)
	s.setState(StateAnonymous, nil)
	return err
}

// UpdateDisplayName renames the profile; the user is replaced wholesale with
// the backend's response.
func (s *Store) UpdateDisplayName(ctx context.Context, displayName string) (*model.User, error) {
	user, err := s.backend.UpdateDisplayName(ctx, displayName)
	if err != nil {
		return nil, err
	}
	s.setState(StateAuthenticated, user)
	return user, nil
}

// Snapshot returns the current state and user.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{State: s.state, User: copyUser(s.user)}
}

// OnChange registers a watcher called after every snapshot change. The
// returned function removes it.
func (s *Store) OnChange(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.watcherSeq
	s.watcherSeq++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// hydrate fetches the backend profile for the current identity.
func (s *Store) hydrate(ctx context.Context) (*model.User, error) {
	user, err := s.backend.Me(ctx)
	if err != nil {
		s.setState(StateAnonymous, nil)
		return nil, err
	}
	s.setState(StateAuthenticated, user)
	return user, nil
}

func (s *Store) setState(state State, user *model.User) {
	s.mu.Lock()
	s.state = state
	s.user = copyUser(user)
	snapshot := Snapshot{State: state, User: copyUser(user)}
	watchers := make([]func(Snapshot), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(snapshot)
	}
}

func (s *Store) eventContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

func copyUser(user *model.User) *model.User {
	if user == nil {
		return nil
	}
	copied := *user
	return &copied
}
