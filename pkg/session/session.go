// Package session resolves request session tokens to users.
//
// Stores are injected into the HTTP layer; the analysis path never touches
// them. MemoryStore serves tests and single-process setups, SQLStore
// persists users and sessions in SQLite (or libsql when built with cgo).
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNoSession is returned by Lookup for unknown, revoked or expired tokens.
	ErrNoSession = errors.New("session: no such session")
	// ErrUserExists is returned when adding a duplicate username.
	ErrUserExists = errors.New("session: user already exists")
	// ErrUnknownUser is returned when issuing a token for a missing user.
	ErrUnknownUser = errors.New("session: unknown user")
)

// User is an authenticated principal. ID is the uid projects live under.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Token is an issued session.
type Token struct {
	Value     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store resolves session tokens.
type Store interface {
	Lookup(ctx context.Context, token string) (*User, error)
}

// Admin manages users and sessions.
type Admin interface {
	Store
	AddUser(ctx context.Context, username string) (*User, error)
	Issue(ctx context.Context, username string, ttl time.Duration) (*Token, error)
	Revoke(ctx context.Context, token string) error
	Close() error
}

func newToken() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

// hashToken is what stores keep; raw tokens are only ever returned once.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func normalizeUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("session: username is required")
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", errors.New("session: username contains path characters")
	}
	return name, nil
}
