package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Farengier/aircon-market/internal/kv"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotReady     = errors.New("session not ready")
	ErrInvalidLogin = errors.New("invalid login")
	ErrUnknownRole  = errors.New("unknown role")
)

// Storage keys owned by the Manager. Nothing else may write them.
const (
	KeyToken = "token"
	KeyUser  = "user"
)

const defaultStoreTimeout = 5 * time.Second

// Authorizer is the single place outgoing requests get their bearer credential from.
type Authorizer interface {
	SetBearer(token string)
	ClearBearer()
}

// TokenListener is called with every new non-empty token.
type TokenListener func(token string)

type Option func(m *Manager)

func WithAuthorizer(a Authorizer) Option {
	return func(m *Manager) {
		m.auth = a
	}
}

func WithStoreTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.storeTimeout = d
		}
	}
}

func WithTokenListener(l TokenListener) Option {
	return func(m *Manager) {
		m.listeners = append(m.listeners, l)
	}
}

// Manager owns the token and the current user. It is the only writer of both.
type Manager struct {
	store        kv.Store
	auth         Authorizer
	storeTimeout time.Duration

	// writeMtx orders transitions so storage sees them in the order memory did
	writeMtx sync.Mutex

	mtx       sync.RWMutex
	token     string
	user      *User
	listeners []TokenListener

	readyCh     chan struct{}
	restoreOnce sync.Once
}

func New(store kv.Store, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		storeTimeout: defaultStoreTimeout,
		readyCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnToken subscribes l to token transitions.
func (m *Manager) OnToken(l TokenListener) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	m.listeners = append(m.listeners, l)
}

// Restore loads the stored session. Only the first call does anything; the
// session is ready once it returns, whatever the outcome. A session set by
// Login before Restore is kept.
func (m *Manager) Restore(ctx context.Context) {
	m.restoreOnce.Do(func() {
		token := m.restore(ctx)
		if token != "" {
			m.notify(token)
		}
	})
}

func (m *Manager) restore(ctx context.Context) (notify string) {
	m.writeMtx.Lock()
	defer m.writeMtx.Unlock()
	defer close(m.readyCh)

	if m.Token() != "" {
		log.Info("[Session] logged in before restore, keeping current session")
		return ""
	}

	token, user, err := m.load(ctx)
	if err != nil {
		log.Errorf("[Session] restore failed: %s", err)
	}
	if token == "" {
		log.Info("[Session] no stored session")
		m.authorize("")
		return ""
	}

	changed := m.swap(token, user)
	m.authorize(token)
	log.Infof("[Session] restored session of %s [%s]", user.ID, user.Role)
	if changed {
		return token
	}
	return ""
}

func (m *Manager) load(ctx context.Context) (string, *User, error) {
	ctx, cncl := context.WithTimeout(ctx, m.storeTimeout)
	defer cncl()

	token, ok, err := m.store.Get(ctx, KeyToken)
	if err != nil {
		return "", nil, fmt.Errorf("reading token: %w", err)
	}
	if !ok || token == "" {
		return "", nil, nil
	}

	raw, ok, err := m.store.Get(ctx, KeyUser)
	if err != nil {
		return "", nil, fmt.Errorf("reading user: %w", err)
	}
	if !ok {
		return "", nil, errors.New("token stored without user")
	}

	u := &User{}
	err = json.Unmarshal([]byte(raw), u)
	if err != nil {
		return "", nil, fmt.Errorf("parsing stored user: %w", err)
	}
	if u.normalize() {
		log.Warnf("[Session] stored user id taken from alternate \"id\" field: %s", u.ID)
	}
	if u.ID == "" {
		return "", nil, errors.New("stored user has no id")
	}
	return token, u, nil
}

// Login replaces the session with user and token. Memory is updated before
// storage; a failed storage write is logged and does not fail the login.
func (m *Manager) Login(ctx context.Context, user *User, token string) error {
	if user == nil {
		return fmt.Errorf("%w: no user", ErrInvalidLogin)
	}
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrInvalidLogin)
	}

	u := user.Clone()
	if u.normalize() {
		log.Warnf("[Session] user id taken from alternate \"id\" field: %s", u.ID)
	}
	if u.ID == "" {
		return fmt.Errorf("%w: user has no id", ErrInvalidLogin)
	}
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLogin, err)
	}

	m.writeMtx.Lock()
	changed := m.swap(token, u)
	m.authorize(token)
	m.persist(ctx, token, string(raw))
	m.writeMtx.Unlock()

	log.Infof("[Session] logged in as %s [%s]", u.ID, u.Role)
	if changed {
		m.notify(token)
	}
	return nil
}

// Logout clears the session. Calling it while logged out changes nothing.
func (m *Manager) Logout(ctx context.Context) {
	m.writeMtx.Lock()
	defer m.writeMtx.Unlock()

	m.swap("", nil)
	m.authorize("")

	ctx, cncl := context.WithTimeout(ctx, m.storeTimeout)
	defer cncl()

	// token first: a stored token must always have its user next to it
	if err := m.store.Remove(ctx, KeyToken); err != nil {
		log.Errorf("[Session] persist failed: removing token: %s", err)
	}
	if err := m.store.Remove(ctx, KeyUser); err != nil {
		log.Errorf("[Session] persist failed: removing user: %s", err)
	}
	log.Info("[Session] logged out")
}

func (m *Manager) persist(ctx context.Context, token, rawUser string) {
	ctx, cncl := context.WithTimeout(ctx, m.storeTimeout)
	defer cncl()

	// the token goes last and only next to its own user: after a partial
	// failure the store holds no token rather than another session's one
	if err := m.store.Remove(ctx, KeyToken); err != nil {
		log.Errorf("[Session] persist failed: removing previous token: %s", err)
		return
	}
	if err := m.store.Set(ctx, KeyUser, rawUser); err != nil {
		log.Errorf("[Session] persist failed: writing user: %s", err)
		return
	}
	if err := m.store.Set(ctx, KeyToken, token); err != nil {
		log.Errorf("[Session] persist failed: writing token: %s", err)
	}
}

// swap sets the pair and reports whether token became a new non-empty value.
func (m *Manager) swap(token string, u *User) bool {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	changed := token != "" && token != m.token
	m.token = token
	m.user = u
	return changed
}

func (m *Manager) authorize(token string) {
	if m.auth == nil {
		return
	}
	if token == "" {
		m.auth.ClearBearer()
		return
	}
	m.auth.SetBearer(token)
}

func (m *Manager) notify(token string) {
	m.mtx.RLock()
	listeners := append([]TokenListener(nil), m.listeners...)
	m.mtx.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("[Session] token listener panicked: %v", r)
				}
			}()
			l(token)
		}()
	}
}

// Ready reports whether Restore has completed.
func (m *Manager) Ready() bool {
	select {
	case <-m.readyCh:
		return true
	default:
		return false
	}
}

// WaitReady blocks until Restore has completed or ctx is done.
func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %s", ErrNotReady, ctx.Err())
	}
}

// Snapshot returns a consistent copy of the session.
func (m *Manager) Snapshot() Snapshot {
	ready := m.Ready()

	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return Snapshot{
		Ready: ready,
		Token: m.token,
		User:  m.user.Clone(),
	}
}

func (m *Manager) State() State       { return m.Snapshot().State() }
func (m *Manager) IsAuthReady() bool  { return m.Ready() }
func (m *Manager) IsLoggedIn() bool   { return m.Snapshot().IsLoggedIn() }
func (m *Manager) CurrentUser() *User { return m.Snapshot().User }
func (m *Manager) IsAdmin() bool      { return m.Snapshot().IsAdmin() }
func (m *Manager) IsCompany() bool    { return m.Snapshot().IsCompany() }
func (m *Manager) IsClient() bool     { return m.Snapshot().IsClient() }

func (m *Manager) Token() string {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.token
}
