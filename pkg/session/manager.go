package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRefreshMargin is how long before nominal expiry the silent
// refresh fires.
const DefaultRefreshMargin = 60 * time.Second

// Credential is the short-lived access credential. The token is an opaque
// blob; the manager never parses it.
type Credential struct {
	Token     string
	ExpiresIn time.Duration
	// IssuedAt is when ExpiresIn started counting. Zero means "now".
	IssuedAt time.Time
}

// Refresher talks to the backend auth endpoint. The long-lived refresh
// credential is attached by the transport (cookie jar), never by the manager.
type Refresher interface {
	Refresh(ctx context.Context) (Credential, error)
	Logout(ctx context.Context) error
}

type Config struct {
	Refresher Refresher
	// RefreshMargin defaults to DefaultRefreshMargin.
	RefreshMargin time.Duration
	Logger        *zap.Logger
}

// Manager holds at most one live access credential and keeps it fresh.
// All four mutating entry points bump an epoch counter; a refresh launched
// under an older epoch has its result discarded, so an in-flight refresh can
// never resurrect a credential after logout.
type Manager struct {
	refresher Refresher
	margin    time.Duration
	log       *zap.Logger

	mu        sync.Mutex
	cred      *Credential
	timer     *time.Timer
	epoch     uint64
	listeners map[int]func()
	nextID    int
}

func NewManager(cfg Config) *Manager {
	if cfg.RefreshMargin == 0 {
		cfg.RefreshMargin = DefaultRefreshMargin
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Manager{
		refresher: cfg.Refresher,
		margin:    cfg.RefreshMargin,
		log:       cfg.Logger,
		listeners: make(map[int]func()),
	}
}

// Credential returns the live credential, if any. No side effects.
func (m *Manager) Credential() (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cred == nil {
		return Credential{}, false
	}
	return *m.cred, true
}

// SetCredential installs cred as the live credential, replacing any previous
// one, and arms the refresh timer at max(0, ExpiresIn - margin) from now.
// Both initial login and successful refresh go through here.
func (m *Manager) SetCredential(cred Credential) {
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.installLocked(cred)
}

func (m *Manager) installLocked(cred Credential) {
	m.stopTimerLocked()
	m.cred = &cred
	m.epoch++
	epoch := m.epoch
	delay := refreshDelay(cred.ExpiresIn, m.margin)
	m.timer = time.AfterFunc(delay, func() {
		m.scheduledRefresh(epoch)
	})
	m.log.Debug("credential installed",
		zap.Duration("expires_in", cred.ExpiresIn),
		zap.Duration("refresh_in", delay))
}

// ClearCredential drops the live credential and cancels the pending refresh
// timer. Idempotent.
func (m *Manager) ClearCredential() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
}

func (m *Manager) clearLocked() {
	m.stopTimerLocked()
	m.cred = nil
	m.epoch++
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// RefreshCredential asks the backend for a fresh credential and installs it.
// Returns false on any failure (network, rejection, malformed payload) and
// never retries; the caller owns any retry policy. A result that arrives
// after the session was torn down mid-flight is discarded.
func (m *Manager) RefreshCredential(ctx context.Context) bool {
	m.mu.Lock()
	epoch := m.epoch
	m.mu.Unlock()

	cred, err := m.refresher.Refresh(ctx)
	if err != nil {
		m.log.Warn("credential refresh failed", zap.Error(err))
		return false
	}
	return m.installIfCurrent(cred, epoch)
}

func (m *Manager) installIfCurrent(cred Credential, epoch uint64) bool {
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		m.log.Debug("discarding refreshed credential for a superseded session")
		return false
	}
	m.installLocked(cred)
	return true
}

// Logout tears the local session down first, then notifies the backend on a
// best-effort basis. A dead backend never blocks or fails the logout.
func (m *Manager) Logout(ctx context.Context) {
	m.ClearCredential()
	if err := m.refresher.Logout(ctx); err != nil {
		m.log.Warn("backend logout notification failed", zap.Error(err))
	}
}

// OnExpired registers fn to run when a scheduled refresh fails and the
// session is declared over. The returned function unregisters it.
func (m *Manager) OnExpired(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// scheduledRefresh is the timer callback. On failure it ends the session and
// notifies listeners, but only if the session it was armed for is still the
// live one.
func (m *Manager) scheduledRefresh(epoch uint64) {
	cred, err := m.refresher.Refresh(context.Background())
	if err == nil {
		m.installIfCurrent(cred, epoch)
		return
	}
	m.log.Warn("scheduled credential refresh failed", zap.Error(err))

	m.mu.Lock()
	if m.epoch != epoch {
		// logout or a newer install won the race, nothing to tear down
		m.mu.Unlock()
		return
	}
	m.clearLocked()
	listeners := make([]func(), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

func refreshDelay(expiresIn, margin time.Duration) time.Duration {
	delay := expiresIn - margin
	if delay < 0 {
		return 0
	}
	return delay
}
