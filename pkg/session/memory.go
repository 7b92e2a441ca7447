package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps users and sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]*User // by username
	sessions map[string]Token // by token hash
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]*User),
		sessions: make(map[string]Token),
		now:      time.Now,
	}
}

func (m *MemoryStore) AddUser(_ context.Context, username string) (*User, error) {
	name, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, name)
	}
	u := &User{ID: name, Username: name, CreatedAt: m.now().UTC()}
	m.users[name] = u
	return u, nil
}

func (m *MemoryStore) Issue(_ context.Context, username string, ttl time.Duration) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	tok := Token{Value: newToken(), UserID: u.ID, ExpiresAt: m.now().Add(ttl).UTC()}
	m.sessions[hashToken(tok.Value)] = tok
	return &tok, nil
}

func (m *MemoryStore) Revoke(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := hashToken(token)
	if _, ok := m.sessions[h]; !ok {
		return ErrNoSession
	}
	delete(m.sessions, h)
	return nil
}

func (m *MemoryStore) Lookup(_ context.Context, token string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tok, ok := m.sessions[hashToken(token)]
	if !ok || !m.now().Before(tok.ExpiresAt) {
		return nil, ErrNoSession
	}
	for _, u := range m.users {
		if u.ID == tok.UserID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNoSession
}

func (m *MemoryStore) Close() error { return nil }
