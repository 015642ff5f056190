package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Farengier/aircon-market/internal/kv"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type faultyStore struct {
	*kv.Memory
	getErr    error
	setErr    error
	removeErr error
	// setErrKey limits setErr to one key when not empty
	setErrKey string
}

func newFaultyStore() *faultyStore {
	return &faultyStore{Memory: kv.NewMemory()}
}

func (s *faultyStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.getErr != nil {
		return "", false, s.getErr
	}
	return s.Memory.Get(ctx, key)
}

func (s *faultyStore) Set(ctx context.Context, key, value string) error {
	if s.setErr != nil && (s.setErrKey == "" || s.setErrKey == key) {
		return s.setErr
	}
	return s.Memory.Set(ctx, key, value)
}

func (s *faultyStore) Remove(ctx context.Context, key string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	return s.Memory.Remove(ctx, key)
}

type recordingAuthorizer struct {
	mtx    sync.Mutex
	bearer string
	calls  int
}

func (a *recordingAuthorizer) SetBearer(token string) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.bearer = token
	a.calls++
}

func (a *recordingAuthorizer) ClearBearer() {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.bearer = ""
	a.calls++
}

func (a *recordingAuthorizer) current() string {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.bearer
}

func stored(t *testing.T, s kv.Store, key string) (string, bool) {
	t.Helper()
	v, ok, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	return v, ok
}

func assertPairInvariant(t *testing.T, m *Manager) {
	t.Helper()
	snap := m.Snapshot()
	assert.Equal(t, snap.Token != "", snap.User != nil, "token and user must be set together")
}

func TestRestore_FreshInstall(t *testing.T) {
	auth := &recordingAuthorizer{bearer: "stale"}
	m := New(kv.NewMemory(), WithAuthorizer(auth))

	assert.False(t, m.IsAuthReady())
	assert.Equal(t, Bootstrapping, m.State())

	m.Restore(context.Background())

	assert.True(t, m.IsAuthReady())
	assert.False(t, m.IsLoggedIn())
	assert.Equal(t, Unauthenticated, m.State())
	assert.Equal(t, "", auth.current())
	assertPairInvariant(t, m)
}

func TestRestore_StoredSession(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, KeyToken, "abc123"))
	require.NoError(t, store.Set(ctx, KeyUser, `{"_id":"u1","role":"client"}`))

	auth := &recordingAuthorizer{}
	var notified []string
	m := New(store, WithAuthorizer(auth), WithTokenListener(func(token string) {
		notified = append(notified, token)
	}))
	m.Restore(ctx)

	assert.True(t, m.IsAuthReady())
	assert.True(t, m.IsLoggedIn())
	assert.True(t, m.IsClient())
	assert.False(t, m.IsAdmin())
	assert.False(t, m.IsCompany())
	assert.Equal(t, "abc123", m.Token())
	assert.Equal(t, "u1", m.CurrentUser().ID)
	assert.Equal(t, "abc123", auth.current())
	assert.Equal(t, []string{"abc123"}, notified)
}

func TestRestore_FailuresLeaveSessionUnauthenticated(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *faultyStore)
	}{
		{
			name: "unparsable user",
			setup: func(s *faultyStore) {
				_ = s.Memory.Set(context.Background(), KeyToken, "abc123")
				_ = s.Memory.Set(context.Background(), KeyUser, "{not json")
			},
		},
		{
			name: "null user",
			setup: func(s *faultyStore) {
				_ = s.Memory.Set(context.Background(), KeyToken, "abc123")
				_ = s.Memory.Set(context.Background(), KeyUser, "null")
			},
		},
		{
			name: "token without user",
			setup: func(s *faultyStore) {
				_ = s.Memory.Set(context.Background(), KeyToken, "abc123")
			},
		},
		{
			name: "unknown role",
			setup: func(s *faultyStore) {
				_ = s.Memory.Set(context.Background(), KeyToken, "abc123")
				_ = s.Memory.Set(context.Background(), KeyUser, `{"_id":"u1","role":"root"}`)
			},
		},
		{
			name: "user without id",
			setup: func(s *faultyStore) {
				_ = s.Memory.Set(context.Background(), KeyToken, "abc123")
				_ = s.Memory.Set(context.Background(), KeyUser, `{"name":"x","role":"client"}`)
			},
		},
		{
			name: "unreadable store",
			setup: func(s *faultyStore) {
				s.getErr = errors.New("disk gone")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := logtest.NewGlobal()
			defer hook.Reset()

			store := newFaultyStore()
			tt.setup(store)
			m := New(store)

			assert.NotPanics(t, func() { m.Restore(context.Background()) })
			assert.True(t, m.IsAuthReady())
			assert.False(t, m.IsLoggedIn())
			assert.Equal(t, "", m.Token())
			assert.Nil(t, m.CurrentUser())
			assertPairInvariant(t, m)

			var errorLogged bool
			for _, e := range hook.AllEntries() {
				if e.Level == logrus.ErrorLevel {
					errorLogged = true
				}
			}
			assert.True(t, errorLogged, "restore failure must be logged")
		})
	}
}

func TestRestore_RunsOnce(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()
	m := New(store)
	m.Restore(ctx)

	require.NoError(t, store.Set(ctx, KeyToken, "abc123"))
	require.NoError(t, store.Set(ctx, KeyUser, `{"_id":"u1","role":"client"}`))
	m.Restore(ctx)

	assert.False(t, m.IsLoggedIn())
}

func TestWaitReady(t *testing.T) {
	m := New(kv.NewMemory())

	ctx, cncl := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cncl()
	assert.ErrorIs(t, m.WaitReady(ctx), ErrNotReady)

	go m.Restore(context.Background())
	require.NoError(t, m.WaitReady(context.Background()))
	assert.True(t, m.Ready())
}

func TestLogin_UpdatesMemoryStorageAndAuthorizer(t *testing.T) {
	store := kv.NewMemory()
	auth := &recordingAuthorizer{}
	m := New(store, WithAuthorizer(auth))
	ctx := context.Background()
	m.Restore(ctx)

	err := m.Login(ctx, &User{ID: "u2", Role: RoleCompany}, "xyz789")
	require.NoError(t, err)

	assert.True(t, m.IsLoggedIn())
	assert.True(t, m.IsCompany())
	assert.False(t, m.IsClient())
	assert.Equal(t, "xyz789", m.Token())
	assert.Equal(t, "xyz789", auth.current())
	assertPairInvariant(t, m)

	tok, ok := stored(t, store, KeyToken)
	assert.True(t, ok)
	assert.Equal(t, "xyz789", tok)

	raw, ok := stored(t, store, KeyUser)
	require.True(t, ok)
	var u User
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	assert.Equal(t, "u2", u.ID)
	assert.Equal(t, RoleCompany, u.Role)
}

func TestLogin_SecondLoginOverwrites(t *testing.T) {
	store := kv.NewMemory()
	m := New(store)
	ctx := context.Background()
	m.Restore(ctx)

	require.NoError(t, m.Login(ctx, &User{ID: "u1", Role: RoleClient}, "t1"))
	require.NoError(t, m.Login(ctx, &User{ID: "u2", Role: RoleAdmin}, "t2"))

	assert.Equal(t, "t2", m.Token())
	assert.Equal(t, "u2", m.CurrentUser().ID)
	assert.True(t, m.IsAdmin())
	assert.False(t, m.IsClient())

	tok, _ := stored(t, store, KeyToken)
	assert.Equal(t, "t2", tok)
	raw, _ := stored(t, store, KeyUser)
	assert.Contains(t, raw, `"_id":"u2"`)
}

func TestLogin_IdFallback(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	m := New(kv.NewMemory())
	in := &User{AltID: "legacy-7", Role: RoleClient}
	require.NoError(t, m.Login(context.Background(), in, "tok"))

	assert.Equal(t, "legacy-7", m.CurrentUser().ID)
	assert.Equal(t, "", in.ID, "caller's record is not modified")

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned, "fallback must be logged")
}

func TestLogin_InvalidInput(t *testing.T) {
	m := New(kv.NewMemory())
	ctx := context.Background()

	assert.ErrorIs(t, m.Login(ctx, nil, "tok"), ErrInvalidLogin)
	assert.ErrorIs(t, m.Login(ctx, &User{ID: "u1"}, ""), ErrInvalidLogin)
	assert.ErrorIs(t, m.Login(ctx, &User{Name: "anon"}, "tok"), ErrInvalidLogin)
	assert.False(t, m.IsLoggedIn())
}

func TestLogin_PersistFailureKeepsSession(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	store := newFaultyStore()
	store.setErr = errors.New("read-only")
	auth := &recordingAuthorizer{}
	m := New(store, WithAuthorizer(auth))
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, &User{ID: "u1", Role: RoleClient}, "tok"))

	assert.True(t, m.IsLoggedIn())
	assert.Equal(t, "tok", auth.current())
	_, ok := stored(t, store.Memory, KeyToken)
	assert.False(t, ok)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.AllEntries()[0].Level)
}

func TestLogin_FailedTokenWriteDoesNotPairUsers(t *testing.T) {
	store := newFaultyStore()
	ctx := context.Background()
	m := New(store)
	m.Restore(ctx)
	require.NoError(t, m.Login(ctx, &User{ID: "u1", Role: RoleClient}, "t1"))

	store.setErr = errors.New("disk full")
	store.setErrKey = KeyToken
	require.NoError(t, m.Login(ctx, &User{ID: "u2", Role: RoleAdmin}, "t2"))
	assert.Equal(t, "t2", m.Token())
	assert.True(t, m.IsAdmin())

	restarted := New(store.Memory)
	restarted.Restore(ctx)
	assert.False(t, restarted.IsLoggedIn(), "u2 must not come back with t1")
	assert.Equal(t, "", restarted.Token())
	assert.False(t, restarted.IsAdmin())
	assertPairInvariant(t, restarted)
}

func TestRestore_KeepsSessionFromEarlierLogin(t *testing.T) {
	store := newFaultyStore()
	store.setErr = errors.New("read-only")
	auth := &recordingAuthorizer{}
	m := New(store, WithAuthorizer(auth))
	ctx := context.Background()

	require.NoError(t, m.Login(ctx, &User{ID: "u1", Role: RoleClient}, "tok"))
	m.Restore(ctx)

	assert.True(t, m.IsAuthReady())
	assert.True(t, m.IsClient())
	assert.Equal(t, "tok", auth.current())
}

func TestLogout(t *testing.T) {
	store := kv.NewMemory()
	auth := &recordingAuthorizer{}
	m := New(store, WithAuthorizer(auth))
	ctx := context.Background()
	m.Restore(ctx)
	require.NoError(t, m.Login(ctx, &User{ID: "u2", Role: RoleCompany}, "xyz789"))

	m.Logout(ctx)

	assert.False(t, m.IsLoggedIn())
	assert.Equal(t, "", m.Token())
	assert.Nil(t, m.CurrentUser())
	assert.False(t, m.IsCompany())
	assert.Equal(t, "", auth.current())
	_, ok := stored(t, store, KeyToken)
	assert.False(t, ok)
	_, ok = stored(t, store, KeyUser)
	assert.False(t, ok)

	assert.NotPanics(t, func() { m.Logout(ctx) })
	assert.False(t, m.IsLoggedIn())
	assert.Equal(t, Unauthenticated, m.State())
	assertPairInvariant(t, m)
}

func TestLogout_PersistFailureStillClearsMemory(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	store := newFaultyStore()
	m := New(store)
	ctx := context.Background()
	require.NoError(t, m.Login(ctx, &User{ID: "u1", Role: RoleClient}, "tok"))

	store.removeErr = errors.New("locked")
	m.Logout(ctx)

	assert.False(t, m.IsLoggedIn())
	assert.NotEmpty(t, hook.AllEntries())
}

func TestTokenListener_FiresOnNewTokensOnly(t *testing.T) {
	m := New(kv.NewMemory())
	var got []string
	m.OnToken(func(token string) { got = append(got, token) })
	ctx := context.Background()
	m.Restore(ctx)

	require.NoError(t, m.Login(ctx, &User{ID: "u1"}, "t1"))
	require.NoError(t, m.Login(ctx, &User{ID: "u1", Name: "renamed"}, "t1"))
	m.Logout(ctx)
	require.NoError(t, m.Login(ctx, &User{ID: "u1"}, "t1"))
	require.NoError(t, m.Login(ctx, &User{ID: "u2"}, "t2"))

	assert.Equal(t, []string{"t1", "t1", "t2"}, got)
}

func TestTokenListener_PanicIsContained(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	m := New(kv.NewMemory(), WithTokenListener(func(string) { panic("listener bug") }))
	assert.NotPanics(t, func() {
		require.NoError(t, m.Login(context.Background(), &User{ID: "u1"}, "t1"))
	})
	assert.True(t, m.IsLoggedIn())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestRoleFlagsAreExclusive(t *testing.T) {
	for _, role := range []Role{RoleClient, RoleCompany, RoleAdmin, RoleNone} {
		t.Run(string(role), func(t *testing.T) {
			m := New(kv.NewMemory())
			require.NoError(t, m.Login(context.Background(), &User{ID: "u", Role: role}, "tok"))

			set := 0
			for _, flag := range []bool{m.IsClient(), m.IsCompany(), m.IsAdmin()} {
				if flag {
					set++
				}
			}
			if role == RoleNone {
				assert.Equal(t, 0, set)
			} else {
				assert.Equal(t, 1, set)
			}
		})
	}

	m := New(kv.NewMemory())
	assert.False(t, m.IsClient() || m.IsCompany() || m.IsAdmin())
}

func TestSnapshot_IsDetached(t *testing.T) {
	m := New(kv.NewMemory())
	u := &User{ID: "u1", Extra: map[string]json.RawMessage{"phone": json.RawMessage(`"123"`)}}
	require.NoError(t, m.Login(context.Background(), u, "tok"))

	snap := m.Snapshot()
	snap.User.Extra["phone"] = json.RawMessage(`"999"`)
	snap.User.Name = "changed"

	assert.Equal(t, json.RawMessage(`"123"`), m.CurrentUser().Extra["phone"])
	assert.Equal(t, "", m.CurrentUser().Name)
}

func TestSessionSurvivesRestart(t *testing.T) {
	store := kv.NewMemory()
	ctx := context.Background()

	first := New(store)
	first.Restore(ctx)
	u := &User{ID: "u9", Name: "Mona", Email: "mona@example.com", Role: RoleAdmin,
		Extra: map[string]json.RawMessage{"phone": json.RawMessage(`"0100"`)}}
	require.NoError(t, first.Login(ctx, u, "persisted"))

	second := New(store)
	second.Restore(ctx)

	assert.True(t, second.IsLoggedIn())
	assert.True(t, second.IsAdmin())
	assert.Equal(t, "persisted", second.Token())
	assert.Equal(t, u, second.CurrentUser())
}
