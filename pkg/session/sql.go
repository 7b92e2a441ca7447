package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config locates the session database.
type Config struct {
	// Path is a local database file, or ":memory:".
	Path string
	// URL is a libsql URL; it requires a cgo build.
	URL       string
	AuthToken string
}

func buildDSN(cfg Config) (string, error) {
	if u := strings.TrimSpace(cfg.URL); u != "" {
		if cfg.AuthToken != "" && !strings.Contains(u, "authToken=") {
			sep := "?"
			if strings.Contains(u, "?") {
				sep = "&"
			}
			u += sep + "authToken=" + cfg.AuthToken
		}
		return u, nil
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", errors.New("session store path or url is required")
	}
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if dir := filepath.Dir(filepath.Clean(path)); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create session store directory: %w", err)
		}
	}
	return "file:" + filepath.Clean(path), nil
}

// configure pins local databases to one connection so ":memory:" stays a
// single database and file databases avoid lock contention.
func configure(ctx context.Context, db *sql.DB, dsn string) error {
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		return nil
	}
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&mode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	var busy int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busy); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	return nil
}

const schemaVersion = 1

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version) VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token_hash TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL,
			FOREIGN KEY(user_id) REFERENCES users(user_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);`,
		`UPDATE schema_meta SET schema_version = 1 WHERE id = 1;`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return tx.Commit()
}

// SQLStore persists users and sessions in a SQL database.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQL opens (creating if needed) the session database and migrates it.
func OpenSQL(ctx context.Context, cfg Config) (*SQLStore, error) {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLStore{db: db, now: time.Now}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// Ping checks that the database answers.
func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) AddUser(ctx context.Context, username string) (*User, error) {
	name, err := normalizeUsername(username)
	if err != nil {
		return nil, err
	}
	u := &User{ID: name, Username: name, CreatedAt: s.now().UTC().Truncate(time.Second)}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, created_at) VALUES (?, ?, ?)`,
		u.ID, u.Username, u.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, fmt.Errorf("%w: %s", ErrUserExists, name)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *SQLStore) Issue(ctx context.Context, username string, ttl time.Duration) (*Token, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM users WHERE username = ?`, username).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	now := s.now().UTC()
	tok := &Token{Value: newToken(), UserID: userID, ExpiresAt: now.Add(ttl).Truncate(time.Second)}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		hashToken(tok.Value), userID, now.Format(time.RFC3339), tok.ExpiresAt.Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return tok, nil
}

func (s *SQLStore) Revoke(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = ?`, hashToken(token))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNoSession
	}
	return nil
}

func (s *SQLStore) Lookup(ctx context.Context, token string) (*User, error) {
	var (
		u       User
		created string
		expires string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT u.user_id, u.username, u.created_at, s.expires_at
		FROM sessions s JOIN users u ON u.user_id = s.user_id
		WHERE s.token_hash = ?`, hashToken(token)).Scan(&u.ID, &u.Username, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	exp, err := time.Parse(time.RFC3339, expires)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	if !s.now().Before(exp) {
		return nil, ErrNoSession
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return &u, nil
}

// PurgeExpired deletes expired sessions and returns how many were removed.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}
