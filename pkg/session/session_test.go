package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clockedAdmin interface {
	Admin
	setNow(func() time.Time)
}

func (m *MemoryStore) setNow(f func() time.Time) { m.now = f }
func (s *SQLStore) setNow(f func() time.Time)    { s.now = f }

func stores(t *testing.T) map[string]clockedAdmin {
	t.Helper()
	ctx := context.Background()
	mem, err := OpenSQL(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	file, err := OpenSQL(ctx, Config{Path: filepath.Join(t.TempDir(), "nested", "sessions.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mem.Close()
		_ = file.Close()
	})
	return map[string]clockedAdmin{
		"memory":     NewMemoryStore(),
		"sql memory": mem,
		"sql file":   file,
	}
}

func TestStores(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			u, err := s.AddUser(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, "alice", u.ID)

			_, err = s.AddUser(ctx, "alice")
			assert.ErrorIs(t, err, ErrUserExists)
			_, err = s.AddUser(ctx, "../etc")
			assert.Error(t, err)
			_, err = s.AddUser(ctx, "  ")
			assert.Error(t, err)

			_, err = s.Issue(ctx, "bob", time.Hour)
			assert.ErrorIs(t, err, ErrUnknownUser)

			tok, err := s.Issue(ctx, "alice", time.Hour)
			require.NoError(t, err)
			assert.Len(t, tok.Value, 64)

			got, err := s.Lookup(ctx, tok.Value)
			require.NoError(t, err)
			assert.Equal(t, "alice", got.ID)
			assert.Equal(t, "alice", got.Username)

			_, err = s.Lookup(ctx, "nope")
			assert.ErrorIs(t, err, ErrNoSession)

			require.NoError(t, s.Revoke(ctx, tok.Value))
			_, err = s.Lookup(ctx, tok.Value)
			assert.ErrorIs(t, err, ErrNoSession)
			assert.ErrorIs(t, s.Revoke(ctx, tok.Value), ErrNoSession)
		})
	}
}

func TestStores_Expiry(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
			s.setNow(func() time.Time { return now })

			_, err := s.AddUser(ctx, "carol")
			require.NoError(t, err)
			tok, err := s.Issue(ctx, "carol", time.Minute)
			require.NoError(t, err)

			_, err = s.Lookup(ctx, tok.Value)
			require.NoError(t, err)

			now = now.Add(2 * time.Minute)
			_, err = s.Lookup(ctx, tok.Value)
			assert.ErrorIs(t, err, ErrNoSession)
		})
	}
}

func TestSQLStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQL(ctx, Config{Path: ":memory:"})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s.setNow(func() time.Time { return now })
	_, err = s.AddUser(ctx, "dave")
	require.NoError(t, err)
	_, err = s.Issue(ctx, "dave", time.Minute)
	require.NoError(t, err)
	live, err := s.Issue(ctx, "dave", time.Hour)
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = s.Lookup(ctx, live.Value)
	assert.NoError(t, err)
}

func TestSQLStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sessions.db")
	s, err := OpenSQL(ctx, Config{Path: path})
	require.NoError(t, err)
	_, err = s.AddUser(ctx, "erin")
	require.NoError(t, err)
	tok, err := s.Issue(ctx, "erin", time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQL(ctx, Config{Path: path})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	u, err := s.Lookup(ctx, tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "erin", u.ID)
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN(Config{URL: "libsql://db.example.io", AuthToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, "libsql://db.example.io?authToken=tok", dsn)

	dsn, err = buildDSN(Config{Path: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, ":memory:", dsn)

	_, err = buildDSN(Config{})
	assert.Error(t, err)
}
