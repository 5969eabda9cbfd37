package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryProvider is an in-process Provider suitable for tests and offline
// demos. Tokens are fabricated and rotate on every forced refresh.
type MemoryProvider struct {
	listeners listenerSet

	mu       sync.Mutex
	accounts map[string]memoryAccount // keyed by lowercase email
	oauth    *Account                 // account returned by SignInWithOAuth
	current  *Account
	tokenSeq int
}

type memoryAccount struct {
	account  Account
	password string
}

// NewMemoryProvider creates an empty provider; seed it with AddAccount.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{accounts: make(map[string]memoryAccount)}
}

// AddAccount registers a password credential and returns the account.
func (p *MemoryProvider) AddAccount(email, password, displayName string) Account {
	account := Account{
		UID:         "mem-" + strings.ToLower(email),
		Email:       email,
		DisplayName: displayName,
	}

	p.mu.Lock()
	p.accounts[strings.ToLower(email)] = memoryAccount{account: account, password: password}
	p.mu.Unlock()

	return account
}

// SetOAuthAccount configures the identity returned by SignInWithOAuth.
func (p *MemoryProvider) SetOAuthAccount(account Account) {
	p.mu.Lock()
	p.oauth = &account
	p.mu.Unlock()
}

func (p *MemoryProvider) CurrentUser() *Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	copied := *p.current
	return &copied
}

func (p *MemoryProvider) IDToken(_ context.Context, force bool) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current == nil {
		return "", ErrUnauthenticated
	}
	if force {
		p.tokenSeq++
	}
	return fmt.Sprintf("mem-token-%s-%d", p.current.UID, p.tokenSeq), nil
}

func (p *MemoryProvider) SignInWithPassword(_ context.Context, email, password string) (*Account, error) {
	p.mu.Lock()
	stored, ok := p.accounts[strings.ToLower(email)]
	if !ok || stored.password != password {
		p.mu.Unlock()
		return nil, fmt.Errorf("identity: invalid credentials for %s", email)
	}
	account := stored.account
	p.current = &account
	p.mu.Unlock()

	p.listeners.notify(&account)
	copied := account
	return &copied, nil
}

func (p *MemoryProvider) SignInWithOAuth(_ context.Context) (*Account, error) {
	p.mu.Lock()
	if p.oauth == nil {
		p.mu.Unlock()
		return nil, ErrFlowCanceled
	}
	account := *p.oauth
	p.current = &account
	p.mu.Unlock()

	p.listeners.notify(&account)
	copied := account
	return &copied, nil
}

func (p *MemoryProvider) SignOut(context.Context) error {
	p.mu.Lock()
	p.current = nil
	p.tokenSeq = 0
	p.mu.Unlock()

	p.listeners.notify(nil)
	return nil
}

func (p *MemoryProvider) OnAuthStateChanged(fn func(*Account)) func() {
	return p.listeners.add(fn)
}

// ListenerCount reports registered auth-state listeners.
func (p *MemoryProvider) ListenerCount() int {
	return p.listeners.len()
}

// EmitSignedOut publishes an external signed-out event without going through
// SignOut, mimicking session expiry at the identity service.
func (p *MemoryProvider) EmitSignedOut() {
	p.mu.Lock()
	p.current = nil
	p.mu.Unlock()
	p.listeners.notify(nil)
}

var _ Provider = (*MemoryProvider)(nil)
