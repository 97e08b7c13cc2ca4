package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSessionStore is a SessionStore backed by maps.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session // by token hash
	users    map[string]*User
	err      error
}

func newMemSessionStore(users ...*User) *memSessionStore {
	st := &memSessionStore{
		sessions: make(map[string]*Session),
		users:    make(map[string]*User),
	}
	for _, u := range users {
		st.users[u.ID] = u
	}
	return st
}

func (m *memSessionStore) CreateSession(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	s := *session
	m.sessions[session.TokenHash] = &s
	return nil
}

func (m *memSessionStore) FindSession(_ context.Context, tokenHash string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[tokenHash]
	if !ok {
		return nil, nil
	}
	found := *s
	if u, ok := m.users[s.UserID]; ok {
		user := *u
		found.User = &user
	}
	return &found, nil
}

func (m *memSessionStore) DeleteSessionsByHash(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenHash)
	return m.err
}

func (m *memSessionStore) DeleteUserSessions(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for hash, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, hash)
			n++
		}
	}
	return n, m.err
}

func (m *memSessionStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for hash, s := range m.sessions {
		if !s.ExpiresAt.After(now) {
			delete(m.sessions, hash)
			n++
		}
	}
	return n, m.err
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func activeUser(id string) *User {
	return &User{ID: id, Email: id + "@example.com", Name: id, Role: RoleMember, IsActive: true, FamilyID: "fam-1"}
}

func TestSessionManager_CreateAndResolve(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newMemSessionStore(activeUser("alice"))
	m := NewSessionManager(store, time.Hour).WithClock(clock.Now)

	issued, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, issued.Token, 2*sessionSecretBytes)
	assert.Equal(t, "alice", issued.UserID)
	assert.True(t, issued.ExpiresAt.Equal(clock.Now().Add(time.Hour)))

	// Only the hash is persisted
	_, storedRaw := store.sessions[issued.Token]
	assert.False(t, storedRaw)
	_, storedHash := store.sessions[hashToken(issued.Token)]
	assert.True(t, storedHash)

	identity, err := m.ResolveSession(ctx, issued.Token)
	require.NoError(t, err)
	require.NotNil(t, identity)
	assert.Equal(t, "alice", identity.ID)
	assert.Equal(t, "alice@example.com", identity.Email)
}

func TestSessionManager_TokensAreUnique(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(newMemSessionStore(activeUser("alice")), time.Hour)

	seen := make(map[string]bool)
	for range 50 {
		issued, err := m.CreateSession(ctx, "alice")
		require.NoError(t, err)
		require.False(t, seen[issued.Token], "duplicate token")
		seen[issued.Token] = true
	}
}

func TestSessionManager_ResolveRejects(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, m *SessionManager, store *memSessionStore, clock *fakeClock) string
	}{
		{
			name: "empty_token",
			setup: func(t *testing.T, m *SessionManager, store *memSessionStore, clock *fakeClock) string {
				return ""
			},
		},
		{
			name: "unknown_token",
			setup: func(t *testing.T, m *SessionManager, store *memSessionStore, clock *fakeClock) string {
				return "deadbeef"
			},
		},
		{
			name: "expired_exactly_at_expiry",
			setup: func(t *testing.T, m *SessionManager, store *memSessionStore, clock *fakeClock) string {
				issued, err := m.CreateSession(ctx, "alice")
				require.NoError(t, err)
				clock.Advance(time.Hour)
				return issued.Token
			},
		},
		{
			name: "revoked",
			setup: func(t *testing.T, m *SessionManager, store *memSessionStore, clock *fakeClock) string {
				issued, err := m.CreateSession(ctx, "alice")
				require.NoError(t, err)
				require.NoError(t, m.RevokeSession(ctx, issued.Token))
				return issued.Token
			},
		},
		{
			name: "inactive_user",
			setup: func(t *testing.T, m *SessionManager, store *memSessionStore, clock *fakeClock) string {
				issued, err := m.CreateSession(ctx, "alice")
				require.NoError(t, err)
				store.users["alice"].IsActive = false
				return issued.Token
			},
		},
		{
			name: "deleted_user",
			setup: func(t *testing.T, m *SessionManager, store *memSessionStore, clock *fakeClock) string {
				issued, err := m.CreateSession(ctx, "alice")
				require.NoError(t, err)
				delete(store.users, "alice")
				return issued.Token
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newFakeClock()
			store := newMemSessionStore(activeUser("alice"))
			m := NewSessionManager(store, time.Hour).WithClock(clock.Now)

			token := tt.setup(t, m, store, clock)

			identity, err := m.ResolveSession(ctx, token)
			require.NoError(t, err)
			assert.Nil(t, identity)
		})
	}
}

func TestSessionManager_ValidJustBeforeExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := NewSessionManager(newMemSessionStore(activeUser("alice")), time.Hour).WithClock(clock.Now)

	issued, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)

	clock.Advance(time.Hour - time.Nanosecond)
	identity, err := m.ResolveSession(ctx, issued.Token)
	require.NoError(t, err)
	assert.NotNil(t, identity)
}

func TestSessionManager_ShortLifetimeExpires(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(newMemSessionStore(activeUser("alice")), time.Millisecond)

	issued, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	identity, err := m.ResolveSession(ctx, issued.Token)
	require.NoError(t, err)
	assert.Nil(t, identity)
}

func TestSessionManager_RevokeSessionKeepsOthers(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(newMemSessionStore(activeUser("alice")), time.Hour)

	first, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)
	second, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, m.RevokeSession(ctx, first.Token))
	// Revoking twice or revoking garbage is not an error
	require.NoError(t, m.RevokeSession(ctx, first.Token))
	require.NoError(t, m.RevokeSession(ctx, "not-a-token"))

	identity, err := m.ResolveSession(ctx, first.Token)
	require.NoError(t, err)
	assert.Nil(t, identity)

	identity, err = m.ResolveSession(ctx, second.Token)
	require.NoError(t, err)
	assert.NotNil(t, identity)
}

func TestSessionManager_RevokeAllSessionsForUser(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager(newMemSessionStore(activeUser("alice"), activeUser("bob")), time.Hour)

	var aliceTokens []string
	for range 3 {
		issued, err := m.CreateSession(ctx, "alice")
		require.NoError(t, err)
		aliceTokens = append(aliceTokens, issued.Token)
	}
	bob, err := m.CreateSession(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, m.RevokeAllSessionsForUser(ctx, "alice"))

	for _, token := range aliceTokens {
		identity, err := m.ResolveSession(ctx, token)
		require.NoError(t, err)
		assert.Nil(t, identity)
	}

	identity, err := m.ResolveSession(ctx, bob.Token)
	require.NoError(t, err)
	assert.NotNil(t, identity)
}

func TestSessionManager_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := newMemSessionStore(activeUser("alice"))
	m := NewSessionManager(store, time.Hour).WithClock(clock.Now)

	_, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)
	clock.Advance(30 * time.Minute)
	live, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	n, err := m.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, store.sessions, 1)

	identity, err := m.ResolveSession(ctx, live.Token)
	require.NoError(t, err)
	assert.NotNil(t, identity)
}

func TestSessionManager_StoreErrors(t *testing.T) {
	ctx := context.Background()
	store := newMemSessionStore(activeUser("alice"))
	m := NewSessionManager(store, time.Hour)

	issued, err := m.CreateSession(ctx, "alice")
	require.NoError(t, err)

	store.err = errors.New("connection refused")

	_, err = m.CreateSession(ctx, "alice")
	assert.ErrorIs(t, err, store.err)

	identity, err := m.ResolveSession(ctx, issued.Token)
	assert.ErrorIs(t, err, store.err)
	assert.Nil(t, identity)
}

func TestNewSessionManager_DefaultLifetime(t *testing.T) {
	m := NewSessionManager(newMemSessionStore(), 0)
	assert.Equal(t, DefaultSessionLifetime, m.lifetime)
	assert.Equal(t, 5*24*time.Hour, m.lifetime)
}
