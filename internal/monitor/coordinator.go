package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quayside-labs/swapsentinel/internal/domain"
	"github.com/quayside-labs/swapsentinel/internal/notify"
)

// Outcome classifies what one dispatch attempt did to an order.
type Outcome int

const (
	// OutcomeSkipped means the claim was lost to a concurrent writer; the
	// order was left untouched by this attempt.
	OutcomeSkipped Outcome = iota
	// OutcomeExecuted means the swap succeeded and the order is terminal.
	OutcomeExecuted
	// OutcomeRetried means the attempt failed and the order went back to
	// active with its retry count incremented.
	OutcomeRetried
	// OutcomeFailed means the attempt failed with retries exhausted.
	OutcomeFailed
)

// Coordinator drives one fired order from claim to recorded outcome. The
// claim is a compare-and-swap on the stored status, so overlapping ticks and
// concurrent replicas race at most one winner per order.
type Coordinator struct {
	store    domain.OrderStore
	executor domain.SwapExecutor
	audit    domain.AuditStore
	notifier *notify.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewCoordinator creates a Coordinator. audit and notifier may be nil.
func NewCoordinator(
	store domain.OrderStore,
	executor domain.SwapExecutor,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Coordinator {
	return &Coordinator{
		store:    store,
		executor: executor,
		audit:    audit,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "coordinator")),
		now:      time.Now,
	}
}

// ExecuteOrder claims the order, runs the swap bounded by timeout, and
// records the outcome. A lost claim is a benign no-op: some other attempt owns
// the order.
func (c *Coordinator) ExecuteOrder(ctx context.Context, o domain.Order, price float64, timeout time.Duration) (Outcome, error) {
	claimedAt := c.now().UTC()
	claimed := domain.OrderStatusClaimed
	ok, err := c.store.ConditionalUpdate(ctx, o.ID, domain.OrderStatusActive, domain.OrderPatch{
		Status:    &claimed,
		ClaimedAt: &claimedAt,
	})
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("monitor: claim %s: %w", o.ID, err)
	}
	if !ok {
		c.logger.DebugContext(ctx, "claim lost",
			slog.String("order_id", o.ID),
		)
		return OutcomeSkipped, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	result, execErr := c.executor.Execute(execCtx, domain.SwapRequest{
		OrderID:        o.ID,
		Account:        o.Account,
		FromAsset:      o.FromAsset,
		ToAsset:        o.ToAsset,
		AmountIn:       o.AmountIn,
		MaxSlippageBps: o.MaxSlippageBps,
		QuotedPrice:    price,
	})
	cancel()

	// Outcome writes must land even when the tick's context has been
	// cancelled by shutdown; otherwise the order is stranded in claimed until
	// the recovery sweep finds it.
	recordCtx, recordCancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer recordCancel()

	if execErr == nil && result.Success {
		return c.recordSuccess(recordCtx, o, price, result)
	}

	reason := result.Message
	if execErr != nil {
		reason = execErr.Error()
	}
	return c.recordFailure(recordCtx, o, reason)
}

// recordSuccess moves the claimed order to executed with its fill details.
func (c *Coordinator) recordSuccess(ctx context.Context, o domain.Order, price float64, result domain.SwapResult) (Outcome, error) {
	executedAt := c.now().UTC()
	executed := domain.OrderStatusExecuted
	ok, err := c.store.ConditionalUpdate(ctx, o.ID, domain.OrderStatusClaimed, domain.OrderPatch{
		Status:         &executed,
		ExecutedAt:     &executedAt,
		ExecutedPrice:  &price,
		ExecutedAmount: &result.ExecutedAmount,
		ExecutionRef:   &result.Reference,
	})
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("monitor: record success %s: %w", o.ID, err)
	}
	if !ok {
		// The recovery sweep released the claim mid-flight. The fill already
		// happened, so record it unconditionally rather than lose it.
		c.logger.WarnContext(ctx, "claim released during execution, recording fill unconditionally",
			slog.String("order_id", o.ID),
		)
		if _, err := c.store.Update(ctx, o.ID, domain.OrderPatch{
			Status:         &executed,
			ExecutedAt:     &executedAt,
			ExecutedPrice:  &price,
			ExecutedAmount: &result.ExecutedAmount,
			ExecutionRef:   &result.Reference,
		}); err != nil {
			return OutcomeSkipped, fmt.Errorf("monitor: record success %s: %w", o.ID, err)
		}
	}

	c.logger.InfoContext(ctx, "order executed",
		slog.String("order_id", o.ID),
		slog.String("pair", o.Pair()),
		slog.Float64("price", price),
		slog.String("reference", result.Reference),
	)

	c.auditLog(ctx, "order.executed", map[string]any{
		"order_id":  o.ID,
		"pair":      o.Pair(),
		"price":     price,
		"reference": result.Reference,
	})
	c.notifyEvent(ctx, notify.Alert{
		Event: notify.EventOrderExecuted,
		Title: "Order executed",
		Body: fmt.Sprintf("%g %s swapped at %g (%s)",
			o.AmountIn, o.FromAsset, price, result.Reference),
		OrderID: o.ID,
		Pair:    o.Pair(),
	})

	return OutcomeExecuted, nil
}

// recordFailure increments the retry count and either reverts the order to
// active for the next tick or fails it terminally. The stored count never
// exceeds MaxRetries; an order created with max_retries = 0 fails on its
// first attempt with the count still at zero.
func (c *Coordinator) recordFailure(ctx context.Context, o domain.Order, reason string) (Outcome, error) {
	retries := o.RetryCount + 1

	if retries >= o.MaxRetries {
		retries = o.MaxRetries
		failed := domain.OrderStatusFailed
		ok, err := c.store.ConditionalUpdate(ctx, o.ID, domain.OrderStatusClaimed, domain.OrderPatch{
			Status:        &failed,
			RetryCount:    &retries,
			FailureReason: &reason,
			ClearClaim:    true,
		})
		if err != nil {
			return OutcomeSkipped, fmt.Errorf("monitor: record failure %s: %w", o.ID, err)
		}
		if !ok {
			return OutcomeSkipped, nil
		}

		c.logger.ErrorContext(ctx, "order failed, retries exhausted",
			slog.String("order_id", o.ID),
			slog.Int("retry_count", retries),
			slog.Int("max_retries", o.MaxRetries),
			slog.String("reason", reason),
		)
		c.auditLog(ctx, "order.failed", map[string]any{
			"order_id":    o.ID,
			"retry_count": retries,
			"reason":      reason,
		})
		c.notifyEvent(ctx, notify.Alert{
			Event:   notify.EventOrderFailed,
			Title:   "Order failed",
			Body:    "retries exhausted: " + reason,
			OrderID: o.ID,
			Pair:    o.Pair(),
		})

		return OutcomeFailed, nil
	}

	active := domain.OrderStatusActive
	ok, err := c.store.ConditionalUpdate(ctx, o.ID, domain.OrderStatusClaimed, domain.OrderPatch{
		Status:        &active,
		RetryCount:    &retries,
		FailureReason: &reason,
		ClearClaim:    true,
	})
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("monitor: revert %s: %w", o.ID, err)
	}
	if !ok {
		return OutcomeSkipped, nil
	}

	c.logger.WarnContext(ctx, "execution attempt failed, order returned to active",
		slog.String("order_id", o.ID),
		slog.Int("retry_count", retries),
		slog.Int("max_retries", o.MaxRetries),
		slog.String("reason", reason),
	)

	return OutcomeRetried, nil
}

func (c *Coordinator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Coordinator) notifyEvent(ctx context.Context, a notify.Alert) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(ctx, a); err != nil {
		c.logger.WarnContext(ctx, "notification failed",
			slog.String("event", a.Event),
			slog.String("error", err.Error()),
		)
	}
}
