package ebay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrTokenNotFound is returned by a UserTokenStore with no token for a user.
var ErrTokenNotFound = errors.New("token not found")

// UserTokenStore persists user-consent tokens across restarts.
type UserTokenStore interface {
	LoadUserToken(ctx context.Context, userID string) (*Token, error)
	SaveUserToken(ctx context.Context, userID string, tok *Token) error
	DeleteUserToken(ctx context.Context, userID string) error
}

// TokenStore caches app tokens by scope set and user tokens by user id.
// User tokens are written through to an optional durable backend.
type TokenStore struct {
	mu      sync.RWMutex
	app     map[string]*Token
	user    map[string]*Token
	backend UserTokenStore
}

// NewTokenStore creates a token store. backend may be nil, in which case
// user tokens live only in memory.
func NewTokenStore(backend UserTokenStore) *TokenStore {
	return &TokenStore{
		app:     make(map[string]*Token),
		user:    make(map[string]*Token),
		backend: backend,
	}
}

// AppToken returns a cached app token covering scopes for which usable
// returns true. An exact scope match is preferred over a superset.
func (s *TokenStore) AppToken(scopes ScopeSet, usable func(*Token) bool) *Token {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tok, ok := s.app[scopes.Key()]; ok && usable(tok) {
		return tok
	}
	for _, tok := range s.app {
		if tok.Scopes.Contains(scopes) && usable(tok) {
			return tok
		}
	}
	return nil
}

// PutAppToken caches an app token under its scope key.
func (s *TokenStore) PutAppToken(tok *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.app[tok.Scopes.Key()] = tok
}

// InvalidateApp drops every app token covering scopes.
func (s *TokenStore) InvalidateApp(scopes ScopeSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, tok := range s.app {
		if tok.Scopes.Contains(scopes) {
			delete(s.app, key)
		}
	}
}

// ClearApp drops all app tokens.
func (s *TokenStore) ClearApp() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.app)
}

// UserToken returns the user's token, loading it from the backend the first
// time it is requested. A missing token yields (nil, nil).
func (s *TokenStore) UserToken(ctx context.Context, userID string) (*Token, error) {
	s.mu.RLock()
	tok, ok := s.user[userID]
	s.mu.RUnlock()
	if ok {
		return tok, nil
	}
	if s.backend == nil {
		return nil, nil
	}

	loaded, err := s.backend.LoadUserToken(ctx, userID)
	if errors.Is(err, ErrTokenNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading user token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.user[userID]; ok {
		return cur, nil
	}
	s.user[userID] = loaded
	return loaded, nil
}

// PutUserToken caches and persists a user token.
func (s *TokenStore) PutUserToken(ctx context.Context, userID string, tok *Token) error {
	s.mu.Lock()
	s.user[userID] = tok
	s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	if err := s.backend.SaveUserToken(ctx, userID, tok); err != nil {
		return fmt.Errorf("saving user token: %w", err)
	}
	return nil
}

// DeleteUserToken removes the user's token from memory and the backend.
func (s *TokenStore) DeleteUserToken(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.user, userID)
	s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	if err := s.backend.DeleteUserToken(ctx, userID); err != nil && !errors.Is(err, ErrTokenNotFound) {
		return fmt.Errorf("deleting user token: %w", err)
	}
	return nil
}

// InvalidateUser expires the user's access token while keeping the refresh
// token, forcing a refresh on next use.
func (s *TokenStore) InvalidateUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.user[userID]
	if !ok {
		return
	}
	cp := *tok
	cp.ExpiresAt = time.Time{}
	s.user[userID] = &cp
}

// Snapshot lists cached tokens without secrets, app tokens first.
func (s *TokenStore) Snapshot(now time.Time, buffer time.Duration) []Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Info, 0, len(s.app)+len(s.user))
	for key, tok := range s.app {
		out = append(out, tok.info(key, now, buffer))
	}
	for id, tok := range s.user {
		out = append(out, tok.info(id, now, buffer))
	}
	slices.SortFunc(out, func(a, b Info) int {
		if a.Type != b.Type {
			if a.Type == TokenTypeApp {
				return -1
			}
			return 1
		}
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return out
}

// MemoryUserTokenStore is a UserTokenStore that keeps tokens in memory.
type MemoryUserTokenStore struct {
	mu     sync.Mutex
	tokens map[string]Token
}

// NewMemoryUserTokenStore creates an empty in-memory user token store.
func NewMemoryUserTokenStore() *MemoryUserTokenStore {
	return &MemoryUserTokenStore{tokens: make(map[string]Token)}
}

// LoadUserToken implements UserTokenStore.
func (m *MemoryUserTokenStore) LoadUserToken(_ context.Context, userID string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[userID]
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &tok, nil
}

// SaveUserToken implements UserTokenStore.
func (m *MemoryUserTokenStore) SaveUserToken(_ context.Context, userID string, tok *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = *tok
	return nil
}

// DeleteUserToken implements UserTokenStore.
func (m *MemoryUserTokenStore) DeleteUserToken(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, userID)
	return nil
}
