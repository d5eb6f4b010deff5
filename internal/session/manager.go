package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/caseview/internal/definition"
	"github.com/pitabwire/caseview/internal/listview"
	"github.com/pitabwire/caseview/internal/observability"
	"github.com/pitabwire/caseview/model"
)

// Restore origins reported to metrics.
const (
	OriginNew    = "new"
	OriginStore  = "store"
	OriginReload = "reload"
)

// SourceFactory returns the record source for a page.
type SourceFactory func(page model.PageDefinition) listview.Source

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithManagerMetrics records session metrics.
func WithManagerMetrics(metrics *observability.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithMaxLive bounds the number of live controllers. When a new controller
// would exceed it, the least recently used one is persisted and dropped.
// n <= 0 means unbounded.
func WithMaxLive(n int) ManagerOption {
	return func(m *Manager) { m.maxLive = n }
}

// WithManagerClock overrides the clock used for idle tracking.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// Manager owns the live controllers of every browser session.
type Manager struct {
	registry *definition.Registry
	sources  SourceFactory
	store    Store
	idle     time.Duration
	maxLive  int
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	mu   sync.Mutex
	live map[liveKey]*liveEntry
}

type liveKey struct {
	session string
	page    string
}

type liveEntry struct {
	ctrl     *listview.Controller
	checksum string
	lastUsed time.Time
}

// NewManager creates a Manager. Live controllers unused for longer than idle
// are dropped by Sweep; their persisted snapshot remains until the store TTL.
func NewManager(registry *definition.Registry, sources SourceFactory, store Store, idle time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: registry,
		sources:  sources,
		store:    store,
		idle:     idle,
		logger:   zap.NewNop(),
		now:      time.Now,
		live:     make(map[liveKey]*liveEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns the controller for a page of a session. A live controller
// is reused; otherwise one is created and restored from the store when a
// snapshot exists. Unknown pages yield NOT_FOUND.
func (m *Manager) Acquire(ctx context.Context, sessionID, pageID string) (*listview.Controller, error) {
	// 1. Resolve the page against the current definitions.
	page, ok := m.registry.GetPage(pageID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("page %q not found", pageID))
	}
	checksum := m.registry.Checksum()
	key := liveKey{session: sessionID, page: pageID}

	// 2. Reuse the live controller, rebinding it when definitions changed.
	// The controller itself is kept so an in-flight Load lands in it.
	m.mu.Lock()
	if e, ok := m.live[key]; ok {
		e.lastUsed = m.now()
		ctrl := e.ctrl
		reloaded := e.checksum != checksum
		e.checksum = checksum
		m.mu.Unlock()
		if reloaded {
			ctrl.Rebind(page, m.sources(page))
			m.recordRestore(OriginReload)
		}
		return ctrl, nil
	}
	m.mu.Unlock()

	// 3. Build a fresh controller, restoring a persisted snapshot if any.
	ctrl := m.newController(page)
	origin := OriginNew
	state, found, err := m.store.Get(ctx, sessionID, pageID)
	switch {
	case err != nil:
		m.logger.Warn("session state unavailable, starting fresh",
			zap.String("session_id", sessionID),
			zap.String("page_id", pageID),
			zap.Error(err),
		)
		if m.metrics != nil {
			m.metrics.RecordSessionStoreError("get")
		}
	case found:
		ctrl.Restore(state)
		origin = OriginStore
	}

	// 4. Publish, unless a concurrent Acquire won the race.
	m.mu.Lock()
	if e, ok := m.live[key]; ok {
		e.lastUsed = m.now()
		winner := e.ctrl
		m.mu.Unlock()
		return winner, nil
	}
	m.live[key] = &liveEntry{ctrl: ctrl, checksum: checksum, lastUsed: m.now()}
	var evictedKey liveKey
	var evicted *listview.Controller
	if m.maxLive > 0 && len(m.live) > m.maxLive {
		evictedKey, evicted = m.evictLocked(key)
	}
	n := len(m.live)
	m.mu.Unlock()

	if evicted != nil {
		m.logger.Debug("live controller evicted",
			zap.String("session_id", evictedKey.session),
			zap.String("page_id", evictedKey.page),
		)
		if err := m.Persist(ctx, evictedKey.session, evicted); err != nil {
			m.logger.Warn("evicted controller not persisted", zap.Error(err))
		}
	}
	m.recordRestore(origin)
	if m.metrics != nil {
		m.metrics.SetSessionsActive(n)
	}
	return ctrl, nil
}

// Persist saves the controller's snapshot for the session.
func (m *Manager) Persist(ctx context.Context, sessionID string, ctrl *listview.Controller) error {
	pageID := ctrl.Page().ID
	if err := m.store.Put(ctx, sessionID, pageID, ctrl.State()); err != nil {
		if m.metrics != nil {
			m.metrics.RecordSessionStoreError("put")
		}
		return fmt.Errorf("session: persisting %s/%s: %w", sessionID, pageID, err)
	}
	return nil
}

// Forget drops the live controller and the persisted snapshot of a page.
func (m *Manager) Forget(ctx context.Context, sessionID, pageID string) error {
	m.mu.Lock()
	delete(m.live, liveKey{session: sessionID, page: pageID})
	n := len(m.live)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetSessionsActive(n)
	}
	if err := m.store.Delete(ctx, sessionID, pageID); err != nil {
		if m.metrics != nil {
			m.metrics.RecordSessionStoreError("delete")
		}
		return fmt.Errorf("session: forgetting %s/%s: %w", sessionID, pageID, err)
	}
	return nil
}

// Active returns the number of live controllers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Sweep drops live controllers idle for longer than the idle timeout and
// returns how many were dropped.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.idle)

	m.mu.Lock()
	dropped := 0
	for k, e := range m.live {
		if e.lastUsed.Before(cutoff) {
			delete(m.live, k)
			dropped++
		}
	}
	n := len(m.live)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SetSessionsActive(n)
	}
	if dropped > 0 {
		m.logger.Debug("idle controllers swept", zap.Int("dropped", dropped), zap.Int("active", n))
	}
	return dropped
}

// Run sweeps idle controllers every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// evictLocked drops the least recently used entry other than keep and
// returns it. Callers hold m.mu.
func (m *Manager) evictLocked(keep liveKey) (liveKey, *listview.Controller) {
	var oldestKey liveKey
	var oldest *liveEntry
	for k, e := range m.live {
		if k == keep {
			continue
		}
		if oldest == nil || e.lastUsed.Before(oldest.lastUsed) {
			oldestKey, oldest = k, e
		}
	}
	if oldest == nil {
		return liveKey{}, nil
	}
	delete(m.live, oldestKey)
	return oldestKey, oldest.ctrl
}

func (m *Manager) newController(page model.PageDefinition) *listview.Controller {
	return listview.New(page, m.sources(page),
		listview.WithLogger(observability.PageLogger(m.logger, page.ID)),
		listview.WithClock(m.now),
	)
}

func (m *Manager) recordRestore(origin string) {
	if m.metrics != nil {
		m.metrics.RecordSessionRestore(origin)
	}
}
