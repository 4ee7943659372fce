// Package monitor scans delegations for expiry, ceiling pressure and stalled controls.
// It never mutates state.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/mandate/internal/metrics"
	"github.com/ppiankov/mandate/internal/model"
)

// Config holds monitor windows and thresholds.
type Config struct {
	ExpiryWindow       time.Duration
	ExpiryCritical     time.Duration
	ExpiredLookback    time.Duration
	ThresholdWarning   float64
	ThresholdCritical  float64
	PendingCriticalAge time.Duration
	Limit              int
	Interval           time.Duration
}

// DefaultConfig returns the built-in monitor configuration.
func DefaultConfig() Config {
	return Config{
		ExpiryWindow:       14 * 24 * time.Hour,
		ExpiryCritical:     3 * 24 * time.Hour,
		ExpiredLookback:    7 * 24 * time.Hour,
		ThresholdWarning:   0.80,
		ThresholdCritical:  0.95,
		PendingCriticalAge: 24 * time.Hour,
		Limit:              20,
		Interval:           time.Minute,
	}
}

// Source is the read-only view of the ledger the monitor needs.
type Source interface {
	Delegations(ctx context.Context) ([]model.Delegation, error)
	UsagesByStatus(ctx context.Context, status model.Verdict) ([]model.Usage, error)
}

// Monitor runs alert scans against a Source.
type Monitor struct {
	src     Source
	clock   func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	cfg    Config
	latest []Alert
}

// New creates a Monitor. Nil metrics and logger are allowed.
func New(cfg Config, src Source, m *metrics.Metrics, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Monitor{
		src:     src,
		clock:   func() time.Time { return time.Now().UTC() },
		metrics: m,
		logger:  logger,
		cfg:     normalize(cfg),
	}
}

// SetClock replaces the monitor's time source.
func (m *Monitor) SetClock(clock func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = clock
}

// SetConfig swaps the configuration used by subsequent scans.
func (m *Monitor) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = normalize(cfg)
}

// Config returns the active configuration.
func (m *Monitor) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Scan runs every scan concurrently and returns the sorted, capped alerts.
func (m *Monitor) Scan(ctx context.Context) ([]Alert, error) {
	m.mu.Lock()
	cfg, now := m.cfg, m.clock().UTC()
	m.mu.Unlock()

	var delegations []model.Delegation
	var pending []model.Usage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		delegations, err = m.src.Delegations(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		pending, err = m.src.UsagesByStatus(gctx, model.PendingControl)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scans := []func() []Alert{
		func() []Alert { return collect(delegations, func(d model.Delegation) (Alert, bool) { return ExpiryAlert(d, now, cfg) }) },
		func() []Alert { return collect(delegations, func(d model.Delegation) (Alert, bool) { return ThresholdAlert(d, cfg) }) },
		func() []Alert { return collect(pending, func(u model.Usage) (Alert, bool) { return PendingAlert(u, now, cfg) }) },
		func() []Alert { return collect(delegations, SuspendedAlert) },
	}
	results := make([][]Alert, len(scans))
	var sg errgroup.Group
	for i, scan := range scans {
		sg.Go(func() error {
			results[i] = scan()
			return nil
		})
	}
	_ = sg.Wait()

	var alerts []Alert
	for _, r := range results {
		alerts = append(alerts, r...)
	}
	SortAlerts(alerts)

	m.metrics.SetAlerts(CountByLevel(alerts))
	if len(alerts) > cfg.Limit {
		alerts = alerts[:cfg.Limit]
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return alerts, nil
}

// Run scans on every interval tick until ctx is cancelled. Scan failures are logged and
// the loop keeps going.
func (m *Monitor) Run(ctx context.Context) error {
	m.runOnce(ctx)
	ticker := time.NewTicker(m.Config().Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.runOnce(ctx)
			if interval := m.Config().Interval; interval > 0 {
				ticker.Reset(interval)
			}
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) {
	alerts, err := m.Scan(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Error("monitor scan failed", "error", err)
		}
		return
	}
	for _, a := range alerts {
		if a.Level == LevelCritical {
			m.logger.Warn("critical alert", "alert_id", a.ID, "kind", a.Kind, "delegation_id", a.DelegationID, "message", a.Message)
		}
	}
	m.mu.Lock()
	m.latest = alerts
	m.mu.Unlock()
}

// Latest returns a copy of the alerts from the most recent successful run.
func (m *Monitor) Latest() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.latest))
	copy(out, m.latest)
	return out
}

func collect[T any](items []T, rule func(T) (Alert, bool)) []Alert {
	var out []Alert
	for _, item := range items {
		if a, ok := rule(item); ok {
			out = append(out, a)
		}
	}
	return out
}

func normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = def.ExpiryWindow
	}
	if cfg.ExpiryCritical <= 0 {
		cfg.ExpiryCritical = def.ExpiryCritical
	}
	if cfg.ExpiredLookback <= 0 {
		cfg.ExpiredLookback = def.ExpiredLookback
	}
	if cfg.ThresholdWarning <= 0 {
		cfg.ThresholdWarning = def.ThresholdWarning
	}
	if cfg.ThresholdCritical <= 0 {
		cfg.ThresholdCritical = def.ThresholdCritical
	}
	if cfg.PendingCriticalAge <= 0 {
		cfg.PendingCriticalAge = def.PendingCriticalAge
	}
	if cfg.Limit <= 0 {
		cfg.Limit = def.Limit
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return cfg
}
