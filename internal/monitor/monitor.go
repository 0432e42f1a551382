// Package monitor runs the scheduling loop: one price sample per tick,
// expiry handling, trigger evaluation, and bounded-concurrency dispatch of
// fired orders to the coordinator.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quayside-labs/swapsentinel/internal/domain"
	"github.com/quayside-labs/swapsentinel/internal/notify"
	"github.com/quayside-labs/swapsentinel/internal/trigger"
)

// recoveryLockKey serializes the recovery sweep across replicas.
const recoveryLockKey = "recovery_sweep"

// Params are the runtime-adjustable knobs of the scheduling loop.
type Params struct {
	PollInterval            time.Duration `json:"poll_interval"`
	MaxConcurrentExecutions int           `json:"max_concurrent_executions"`
	ExecutionTimeout        time.Duration `json:"execution_timeout"`
	RecoveryGrace           time.Duration `json:"recovery_grace"`
	RecoveryEveryTicks      int           `json:"recovery_every_ticks"`
}

// validate rejects parameter combinations the loop cannot run with.
func (p Params) validate() error {
	var errs []string
	if p.PollInterval <= 0 {
		errs = append(errs, "poll_interval must be > 0")
	}
	if p.MaxConcurrentExecutions < 1 {
		errs = append(errs, "max_concurrent_executions must be >= 1")
	}
	if p.ExecutionTimeout <= 0 {
		errs = append(errs, "execution_timeout must be > 0")
	}
	if p.RecoveryGrace <= 0 {
		errs = append(errs, "recovery_grace must be > 0")
	}
	if p.RecoveryEveryTicks < 1 {
		errs = append(errs, "recovery_every_ticks must be >= 1")
	}
	if len(errs) > 0 {
		return &domain.ValidationError{Reason: fmt.Sprintf("monitor params: %v", errs)}
	}
	return nil
}

// ParamsPatch is a partial update to Params. Nil fields keep their value.
type ParamsPatch struct {
	PollInterval            *time.Duration `json:"poll_interval,omitempty"`
	MaxConcurrentExecutions *int           `json:"max_concurrent_executions,omitempty"`
	ExecutionTimeout        *time.Duration `json:"execution_timeout,omitempty"`
	RecoveryGrace           *time.Duration `json:"recovery_grace,omitempty"`
	RecoveryEveryTicks      *int           `json:"recovery_every_ticks,omitempty"`
}

// Status is a point-in-time snapshot of the loop for the control plane.
type Status struct {
	Running       bool       `json:"running"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	LastTick      *time.Time `json:"last_tick,omitempty"`
	LastPrice     float64    `json:"last_price"`
	TotalTicks    uint64     `json:"total_ticks"`
	ExecutedCount uint64     `json:"executed_count"`
	ExpiredCount  uint64     `json:"expired_count"`
	ErrorCount    uint64     `json:"error_count"`
}

// Monitor owns the scheduling loop. All mutation of orders after creation
// happens here or in the coordinator it dispatches to.
type Monitor struct {
	store    domain.OrderStore
	feed     domain.PriceFeed
	coord    *Coordinator
	locks    domain.LockManager
	audit    domain.AuditStore
	notifier *notify.Notifier
	pair     string
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	params  Params
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	startedAt     time.Time
	lastTick      time.Time
	lastPrice     float64
	totalTicks    uint64
	executedCount uint64
	expiredCount  uint64
	errorCount    uint64

	// tickMu serializes loop ticks against ForceTick.
	tickMu sync.Mutex
}

// New creates a Monitor. locks, audit, and notifier may be nil; without a
// lock manager the recovery sweep runs unguarded, which is fine for a single
// replica.
func New(
	store domain.OrderStore,
	feed domain.PriceFeed,
	coord *Coordinator,
	locks domain.LockManager,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	pair string,
	params Params,
	logger *slog.Logger,
) (*Monitor, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Monitor{
		store:    store,
		feed:     feed,
		coord:    coord,
		locks:    locks,
		audit:    audit,
		notifier: notifier,
		pair:     pair,
		params:   params,
		logger:   logger.With(slog.String("component", "monitor")),
		now:      time.Now,
	}, nil
}

// WithClock overrides the time source. Intended for tests.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Start launches the scheduling loop. It returns domain.ErrAlreadyRunning if
// the loop is already live. The loop runs until Stop is called.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return domain.ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.startedAt = m.now().UTC()

	go m.loop(loopCtx, m.done)

	m.logger.Info("monitor started",
		slog.String("pair", m.pair),
		slog.Duration("poll_interval", m.params.PollInterval),
	)
	m.auditEvent("monitor.started", map[string]any{"pair": m.pair})
	return nil
}

// Stop halts the scheduling loop and waits for the in-flight tick to finish.
// It returns domain.ErrNotRunning if the loop is not live.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return domain.ErrNotRunning
	}
	cancel := m.cancel
	done := m.done
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	<-done

	m.logger.Info("monitor stopped")
	m.auditEvent("monitor.stopped", nil)
	return nil
}

// auditEvent records a control-plane event. Start/Stop have no request
// context, so a short background deadline bounds the write.
func (m *Monitor) auditEvent(event string, detail map[string]any) {
	if m.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.Warn("audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Run starts the loop, blocks until ctx is cancelled, then stops it. Used by
// the app's run mode; the HTTP control plane uses Start/Stop directly.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	if err := m.Stop(); err != nil && !errors.Is(err, domain.ErrNotRunning) {
		return err
	}
	return ctx.Err()
}

// loop fires ticks at the configured interval until ctx is cancelled. The
// interval is re-read every iteration so UpdateConfig takes effect without a
// restart.
func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		m.mu.Lock()
		interval := m.params.PollInterval
		m.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		m.tick(ctx)
	}
}

// ForceTick runs one evaluation pass immediately, outside the polling
// cadence. The loop must be running.
func (m *Monitor) ForceTick(ctx context.Context) error {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if !running {
		return domain.ErrNotRunning
	}
	m.tick(ctx)
	return nil
}

// tick performs one full pass: price sample, expiry, trigger evaluation, and
// dispatch. Ticks never overlap; a pass that outlives the interval simply
// delays the next one.
func (m *Monitor) tick(ctx context.Context) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()

	m.mu.Lock()
	params := m.params
	m.totalTicks++
	tickNum := m.totalTicks
	m.mu.Unlock()

	if tickNum%uint64(params.RecoveryEveryTicks) == 0 {
		m.recoverStuck(ctx, params.RecoveryGrace)
	}

	price, err := m.feed.CurrentPrice(ctx, m.pair)
	if err != nil {
		m.mu.Lock()
		m.errorCount++
		m.mu.Unlock()
		m.logger.WarnContext(ctx, "price feed unavailable, skipping tick",
			slog.String("pair", m.pair),
			slog.String("error", err.Error()),
		)
		return
	}

	now := m.now().UTC()
	m.mu.Lock()
	m.lastTick = now
	m.lastPrice = price
	m.mu.Unlock()

	orders, err := m.store.ListActive(ctx)
	if err != nil {
		m.mu.Lock()
		m.errorCount++
		m.mu.Unlock()
		m.logger.ErrorContext(ctx, "list active orders failed",
			slog.String("error", err.Error()),
		)
		return
	}

	fired := make([]domain.Order, 0, len(orders))
	for _, o := range orders {
		if o.Expired(now) {
			m.expireOrder(ctx, o)
			continue
		}
		if trigger.Fired(o, price) {
			fired = append(fired, o)
		}
	}

	if len(fired) == 0 {
		return
	}

	m.logger.InfoContext(ctx, "orders fired",
		slog.Int("count", len(fired)),
		slog.Float64("price", price),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(params.MaxConcurrentExecutions)
	for _, o := range fired {
		g.Go(func() error {
			outcome, err := m.coord.ExecuteOrder(gctx, o, price, params.ExecutionTimeout)
			m.mu.Lock()
			switch {
			case err != nil:
				m.errorCount++
			case outcome == OutcomeExecuted:
				m.executedCount++
			}
			m.mu.Unlock()
			if err != nil {
				m.logger.ErrorContext(gctx, "dispatch failed",
					slog.String("order_id", o.ID),
					slog.String("error", err.Error()),
				)
			}
			// Dispatch errors are isolated per order; never abort the group.
			return nil
		})
	}
	_ = g.Wait()
}

// expireOrder transitions one active order past its lifetime to expired. A
// lost race means someone else already moved it.
func (m *Monitor) expireOrder(ctx context.Context, o domain.Order) {
	expired := domain.OrderStatusExpired
	ok, err := m.store.ConditionalUpdate(ctx, o.ID, domain.OrderStatusActive, domain.OrderPatch{
		Status: &expired,
	})
	if err != nil {
		m.mu.Lock()
		m.errorCount++
		m.mu.Unlock()
		m.logger.ErrorContext(ctx, "expire order failed",
			slog.String("order_id", o.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !ok {
		return
	}

	m.mu.Lock()
	m.expiredCount++
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "order expired",
		slog.String("order_id", o.ID),
		slog.String("pair", o.Pair()),
	)
	if m.audit != nil {
		if err := m.audit.Log(ctx, "order.expired", map[string]any{"order_id": o.ID}); err != nil {
			m.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if m.notifier != nil {
		_ = m.notifier.Notify(ctx, notify.Alert{
			Event:   notify.EventOrderExpired,
			Title:   "Order expired",
			Body:    "order passed its expiry before the trigger fired",
			OrderID: o.ID,
			Pair:    o.Pair(),
		})
	}
}

// recoverStuck releases orders stranded in claimed by a crash between claim
// and outcome recording. With a lock manager, only one replica sweeps.
func (m *Monitor) recoverStuck(ctx context.Context, grace time.Duration) {
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, recoveryLockKey, grace)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				return
			}
			m.logger.WarnContext(ctx, "recovery lock acquire failed",
				slog.String("error", err.Error()),
			)
			return
		}
		defer unlock()
	}

	cutoff := m.now().UTC().Add(-grace)
	released, err := m.store.ReleaseStuck(ctx, cutoff)
	if err != nil {
		m.mu.Lock()
		m.errorCount++
		m.mu.Unlock()
		m.logger.ErrorContext(ctx, "recovery sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if released > 0 {
		m.logger.WarnContext(ctx, "released stuck orders",
			slog.Int64("count", released),
			slog.Time("cutoff", cutoff),
		)
		if m.audit != nil {
			if err := m.audit.Log(ctx, "recovery.released", map[string]any{"count": released}); err != nil {
				m.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Simulate evaluates every active order against a hypothetical price. No
// state is read beyond the active list and none is written.
func (m *Monitor) Simulate(ctx context.Context, price float64) ([]domain.SimulationResult, error) {
	if price <= 0 {
		return nil, &domain.ValidationError{Reason: "simulation price must be > 0"}
	}
	orders, err := m.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("monitor: simulate: %w", err)
	}
	return trigger.Simulate(orders, price), nil
}

// Status reports the loop's current state and counters.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		Running:       m.running,
		LastPrice:     m.lastPrice,
		TotalTicks:    m.totalTicks,
		ExecutedCount: m.executedCount,
		ExpiredCount:  m.expiredCount,
		ErrorCount:    m.errorCount,
	}
	if m.running {
		started := m.startedAt
		st.StartedAt = &started
		st.UptimeSeconds = m.now().UTC().Sub(started).Seconds()
	}
	if !m.lastTick.IsZero() {
		last := m.lastTick
		st.LastTick = &last
	}
	return st
}

// Config returns the current loop parameters.
func (m *Monitor) Config() Params {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.params
}

// UpdateConfig applies a partial parameter update. Changes take effect on the
// next tick; the loop does not restart.
func (m *Monitor) UpdateConfig(patch ParamsPatch) (Params, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.params
	if patch.PollInterval != nil {
		next.PollInterval = *patch.PollInterval
	}
	if patch.MaxConcurrentExecutions != nil {
		next.MaxConcurrentExecutions = *patch.MaxConcurrentExecutions
	}
	if patch.ExecutionTimeout != nil {
		next.ExecutionTimeout = *patch.ExecutionTimeout
	}
	if patch.RecoveryGrace != nil {
		next.RecoveryGrace = *patch.RecoveryGrace
	}
	if patch.RecoveryEveryTicks != nil {
		next.RecoveryEveryTicks = *patch.RecoveryEveryTicks
	}

	if err := next.validate(); err != nil {
		return m.params, err
	}

	m.params = next
	m.logger.Info("monitor parameters updated",
		slog.Duration("poll_interval", next.PollInterval),
		slog.Int("max_concurrent_executions", next.MaxConcurrentExecutions),
		slog.Duration("execution_timeout", next.ExecutionTimeout),
	)
	return next, nil
}
