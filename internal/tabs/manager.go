// Package tabs owns the lifecycle of ephemeral browser tabs within one browser context.
package tabs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/metrics"
)

// Close reasons recorded in metrics.
const (
	ReasonResolver = "resolver"
	ReasonSweep    = "sweep"
	ReasonLate     = "late"
)

const cleanupTimeout = 5 * time.Second

// Config tunes the safety-net sweep.
type Config struct {
	MaxExtraTabs  int
	SweepInterval time.Duration
}

// Manager tracks ephemeral tabs opened in one browser context and force-closes
// everything except the main tab when the open count exceeds MaxExtraTabs.
type Manager struct {
	tabs     crawler.TabController
	cfg      Config
	stats    *crawler.RunStats
	clock    crawler.Clock
	logger   *zap.Logger
	mu       sync.Mutex
	mainID   string
	handles  map[string]crawler.TabHandle
	sweepsMu sync.Mutex
}

// New builds a Manager for tc. The context's main tab is registered as main.
func New(tc crawler.TabController, cfg Config, stats *crawler.RunStats, clock crawler.Clock, logger *zap.Logger) *Manager {
	if cfg.MaxExtraTabs < 0 {
		cfg.MaxExtraTabs = 0
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 2 * time.Second
	}
	if stats == nil {
		stats = crawler.NewRunStats()
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		tabs:    tc,
		cfg:     cfg,
		stats:   stats,
		clock:   clock,
		logger:  logger,
		mainID:  tc.MainTab(),
		handles: map[string]crawler.TabHandle{},
	}
}

// RegisterMain marks id as the tab the sweep must never close.
func (m *Manager) RegisterMain(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mainID = id
}

// Main returns the registered main tab.
func (m *Manager) Main() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mainID
}

// Track records an ephemeral tab opened by owner.
func (m *Manager) Track(id, rawURL, owner string) crawler.TabHandle {
	h := crawler.TabHandle{ID: id, URL: rawURL, OpenedAt: m.clock.Now(), Owner: owner}
	m.mu.Lock()
	m.handles[id] = h
	m.mu.Unlock()
	return h
}

// Tracked returns the number of ephemeral tabs currently tracked.
func (m *Manager) Tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Baseline returns the ids of the tabs open right now.
func (m *Manager) Baseline(ctx context.Context) (map[string]struct{}, error) {
	open, err := m.tabs.Tabs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	out := make(map[string]struct{}, len(open))
	for _, t := range open {
		out[t.ID] = struct{}{}
	}
	return out, nil
}

// Close closes one ephemeral tab. It keeps working after ctx is canceled so
// cleanup still runs during a cancellation unwind.
func (m *Manager) Close(ctx context.Context, id, reason string) error {
	if id == "" || id == m.Main() {
		return nil
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	err := m.tabs.CloseTab(cctx, id)
	m.mu.Lock()
	delete(m.handles, id)
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("close tab failed", zap.String("tab_id", id), zap.String("reason", reason), zap.Error(err))
		return fmt.Errorf("close tab %s: %w", id, err)
	}
	m.stats.IncTabsClosed()
	metrics.IncTabsClosed(reason)
	return nil
}

// CloseNew closes every tab that is open now but absent from baseline,
// except the main tab. It returns how many tabs were closed.
func (m *Manager) CloseNew(ctx context.Context, baseline map[string]struct{}, reason string) int {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	open, err := m.tabs.Tabs(cctx)
	if err != nil {
		m.logger.Warn("list tabs for cleanup failed", zap.Error(err))
		return 0
	}
	mainID := m.Main()
	closed := 0
	for _, t := range open {
		if t.ID == mainID {
			continue
		}
		if _, existed := baseline[t.ID]; existed {
			continue
		}
		if err := m.Close(cctx, t.ID, reason); err == nil {
			closed++
		}
	}
	return closed
}

// Sweep force-closes all non-main tabs when more than MaxExtraTabs are open.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	m.sweepsMu.Lock()
	defer m.sweepsMu.Unlock()

	open, err := m.tabs.Tabs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tabs: %w", err)
	}
	mainID := m.Main()
	extra := 0
	for _, t := range open {
		if t.ID != mainID {
			extra++
		}
	}
	if extra <= m.cfg.MaxExtraTabs {
		return 0, nil
	}
	m.logger.Warn("open tab threshold exceeded, force closing",
		zap.Int("extra_tabs", extra),
		zap.Int("max_extra_tabs", m.cfg.MaxExtraTabs),
	)
	closed := 0
	for _, t := range open {
		if t.ID == mainID {
			continue
		}
		if err := m.Close(ctx, t.ID, ReasonSweep); err == nil {
			closed++
		}
	}
	return closed, nil
}

// CloseAll closes every tab except the main one, regardless of the threshold.
func (m *Manager) CloseAll(ctx context.Context, reason string) int {
	return m.CloseNew(ctx, nil, reason)
}

// Run sweeps every SweepInterval until ctx is done, then closes every
// remaining ephemeral tab with a fresh deadline.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if n := m.CloseAll(ctx, ReasonSweep); n > 0 {
				m.logger.Info("closed leftover tabs", zap.Int("count", n))
			}
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Debug("tab sweep failed", zap.Error(err))
			}
		}
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
