// Package service implements the order gateway: creation-time validation,
// adjustment, and cancellation. It is the single place a contradictory or
// immediately-firing order is refused.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quayside-labs/swapsentinel/internal/config"
	"github.com/quayside-labs/swapsentinel/internal/domain"
	"github.com/quayside-labs/swapsentinel/internal/trigger"
)

// CreateOrderRequest carries the parameters of a new conditional swap order.
type CreateOrderRequest struct {
	Account        string  `json:"account"`
	FromAsset      string  `json:"from_asset"`
	ToAsset        string  `json:"to_asset"`
	AmountIn       float64 `json:"amount_in"`
	MaxSlippageBps float64 `json:"max_slippage_bps"`

	ThresholdPrice float64                 `json:"threshold_price"`
	Condition      domain.TriggerCondition `json:"condition"`

	// Lifetime bounds the order's validity from creation. Zero means the
	// configured maximum lifetime.
	Lifetime   time.Duration `json:"lifetime,omitempty"`
	MaxRetries *int          `json:"max_retries,omitempty"`
}

// AdjustOrderRequest carries the only fields mutable while an order is
// Active. The trigger itself is immutable after creation.
type AdjustOrderRequest struct {
	MaxSlippageBps *float64   `json:"max_slippage_bps,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// OrderService is the validation gateway in front of the order store. All
// creation, adjustment, and cancellation flows through it; the monitor and
// coordinator own every other mutation.
type OrderService struct {
	store   domain.OrderStore
	feed    domain.PriceFeed
	limiter domain.RateLimiter
	audit   domain.AuditStore
	bounds  config.OrderBounds
	logger  *slog.Logger
	now     func() time.Time
}

// NewOrderService creates an OrderService. limiter and audit may be nil.
func NewOrderService(
	store domain.OrderStore,
	feed domain.PriceFeed,
	limiter domain.RateLimiter,
	audit domain.AuditStore,
	bounds config.OrderBounds,
	logger *slog.Logger,
) *OrderService {
	return &OrderService{
		store:   store,
		feed:    feed,
		limiter: limiter,
		audit:   audit,
		bounds:  bounds,
		logger:  logger.With(slog.String("component", "order_service")),
		now:     time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *OrderService) WithClock(now func() time.Time) *OrderService {
	s.now = now
	return s
}

// CreateOrder validates the request against the configured bounds and the
// current market price, and persists an Active order. An order whose trigger
// condition is already satisfied at the creation-time price is rejected:
// firing must represent a change in condition state, never an artifact of
// already-satisfied data.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (domain.Order, error) {
	if s.limiter != nil && s.bounds.CreateRatePerMinute > 0 {
		allowed, err := s.limiter.Allow(ctx, "orders:create:"+req.Account, s.bounds.CreateRatePerMinute, time.Minute)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order_service: rate limiter: %w", err)
		}
		if !allowed {
			return domain.Order{}, domain.ErrRateLimited
		}
	}

	if err := s.checkBounds(req); err != nil {
		return domain.Order{}, err
	}

	// Apply defaults.
	slippage := req.MaxSlippageBps
	if slippage == 0 {
		slippage = s.bounds.DefaultSlippageBps
	}
	maxRetries := s.bounds.DefaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	lifetime := req.Lifetime
	if lifetime == 0 {
		lifetime = s.bounds.MaxLifetime.Duration
	}

	now := s.now().UTC()
	expires := now.Add(lifetime)

	order := domain.Order{
		ID:             uuid.New().String(),
		Account:        req.Account,
		FromAsset:      req.FromAsset,
		ToAsset:        req.ToAsset,
		AmountIn:       req.AmountIn,
		MaxSlippageBps: slippage,
		ThresholdPrice: req.ThresholdPrice,
		Condition:      req.Condition,
		Status:         domain.OrderStatusActive,
		RetryCount:     0,
		MaxRetries:     maxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      &expires,
	}

	// Creation requires a price sample: an order we cannot check against the
	// market right now is refused rather than persisted blind.
	price, err := s.feed.CurrentPrice(ctx, order.Pair())
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: fetch creation price for %s: %w", order.Pair(), err)
	}

	if trigger.Fired(order, price) {
		return domain.Order{}, alreadyFiredError(order, price)
	}

	if err := s.store.Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("order_service: create order: %w", err)
	}

	s.auditLog(ctx, "order.created", map[string]any{
		"order_id":  order.ID,
		"account":   order.Account,
		"pair":      order.Pair(),
		"condition": string(order.Condition),
		"threshold": order.ThresholdPrice,
		"price_at_creation": price,
	})

	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", order.ID),
		slog.String("pair", order.Pair()),
		slog.String("condition", string(order.Condition)),
		slog.Float64("threshold", order.ThresholdPrice),
		slog.Float64("creation_price", price),
	)

	return order, nil
}

// checkBounds enforces the configured creation-time limits.
func (s *OrderService) checkBounds(req CreateOrderRequest) error {
	if req.Account == "" {
		return &domain.ValidationError{Reason: "account is required"}
	}
	if req.FromAsset == "" || req.ToAsset == "" {
		return &domain.ValidationError{Reason: "from_asset and to_asset are required"}
	}
	if req.AmountIn <= 0 {
		return &domain.ValidationError{Reason: "amount_in must be > 0"}
	}
	if !req.Condition.Valid() {
		return &domain.ValidationError{Reason: fmt.Sprintf("condition must be %q or %q", domain.TriggerAbove, domain.TriggerBelow)}
	}
	if req.ThresholdPrice < s.bounds.MinTriggerPrice || req.ThresholdPrice > s.bounds.MaxTriggerPrice {
		return &domain.ValidationError{Reason: fmt.Sprintf(
			"threshold_price must lie within [%g, %g]", s.bounds.MinTriggerPrice, s.bounds.MaxTriggerPrice)}
	}
	if req.MaxSlippageBps != 0 &&
		(req.MaxSlippageBps < s.bounds.MinSlippageBps || req.MaxSlippageBps > s.bounds.MaxSlippageBps) {
		return &domain.ValidationError{Reason: fmt.Sprintf(
			"max_slippage_bps must lie within [%g, %g]", s.bounds.MinSlippageBps, s.bounds.MaxSlippageBps)}
	}
	if req.MaxRetries != nil &&
		(*req.MaxRetries < s.bounds.MinMaxRetries || *req.MaxRetries > s.bounds.MaxMaxRetries) {
		return &domain.ValidationError{Reason: fmt.Sprintf(
			"max_retries must lie within [%d, %d]", s.bounds.MinMaxRetries, s.bounds.MaxMaxRetries)}
	}
	if req.Lifetime < 0 || req.Lifetime > s.bounds.MaxLifetime.Duration {
		return &domain.ValidationError{Reason: fmt.Sprintf(
			"lifetime must lie within (0, %s]", s.bounds.MaxLifetime.Duration)}
	}
	return nil
}

// alreadyFiredError builds the structured rejection for an order whose
// condition is already satisfied at the creation-time price.
func alreadyFiredError(o domain.Order, price float64) *domain.ValidationError {
	direction := "price must fall below the threshold before an above trigger can arm"
	if o.Condition == domain.TriggerBelow {
		direction = "price must rise above the threshold before a below trigger can arm"
	}
	return &domain.ValidationError{
		Reason:            "trigger condition already satisfied at current price",
		RequiredDirection: direction,
		CurrentPrice:      price,
		Threshold:         o.ThresholdPrice,
		Distance:          price - o.ThresholdPrice,
	}
}

// CancelOrder transitions an Active order to Cancelled. Orders that are
// claimed (execution in flight) or already terminal are not modifiable; the
// caller may retry after the claim resolves.
func (s *OrderService) CancelOrder(ctx context.Context, id, account string) (domain.Order, error) {
	order, err := s.store.GetByID(ctx, id, account)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: cancel %s: %w", id, err)
	}
	if order.Status != domain.OrderStatusActive {
		return domain.Order{}, fmt.Errorf("order_service: cancel %s in status %s: %w",
			id, order.Status, domain.ErrNotModifiable)
	}

	cancelled := domain.OrderStatusCancelled
	ok, err := s.store.ConditionalUpdate(ctx, id, domain.OrderStatusActive, domain.OrderPatch{
		Status: &cancelled,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: cancel %s: %w", id, err)
	}
	if !ok {
		// Lost the race against a claim or an expiry sweep.
		return domain.Order{}, fmt.Errorf("order_service: cancel %s: state changed concurrently: %w",
			id, domain.ErrNotModifiable)
	}

	s.auditLog(ctx, "order.cancelled", map[string]any{"order_id": id, "account": account})

	order.Status = domain.OrderStatusCancelled
	return order, nil
}

// AdjustOrder updates slippage and/or expiry on an Active order. The trigger
// condition and threshold are immutable after creation.
func (s *OrderService) AdjustOrder(ctx context.Context, id, account string, req AdjustOrderRequest) (domain.Order, error) {
	if req.MaxSlippageBps == nil && req.ExpiresAt == nil {
		return domain.Order{}, &domain.ValidationError{Reason: "nothing to adjust"}
	}
	if req.MaxSlippageBps != nil &&
		(*req.MaxSlippageBps < s.bounds.MinSlippageBps || *req.MaxSlippageBps > s.bounds.MaxSlippageBps) {
		return domain.Order{}, &domain.ValidationError{Reason: fmt.Sprintf(
			"max_slippage_bps must lie within [%g, %g]", s.bounds.MinSlippageBps, s.bounds.MaxSlippageBps)}
	}
	if req.ExpiresAt != nil {
		max := s.now().UTC().Add(s.bounds.MaxLifetime.Duration)
		if req.ExpiresAt.Before(s.now().UTC()) || req.ExpiresAt.After(max) {
			return domain.Order{}, &domain.ValidationError{Reason: fmt.Sprintf(
				"expires_at must lie between now and %s", max.Format(time.RFC3339))}
		}
	}

	order, err := s.store.GetByID(ctx, id, account)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: adjust %s: %w", id, err)
	}
	if order.Status != domain.OrderStatusActive {
		return domain.Order{}, fmt.Errorf("order_service: adjust %s in status %s: %w",
			id, order.Status, domain.ErrNotModifiable)
	}

	ok, err := s.store.ConditionalUpdate(ctx, id, domain.OrderStatusActive, domain.OrderPatch{
		MaxSlippageBps: req.MaxSlippageBps,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: adjust %s: %w", id, err)
	}
	if !ok {
		return domain.Order{}, fmt.Errorf("order_service: adjust %s: state changed concurrently: %w",
			id, domain.ErrNotModifiable)
	}

	return s.store.GetByID(ctx, id, account)
}

// GetOrder retrieves a single order scoped to its owning account.
func (s *OrderService) GetOrder(ctx context.Context, id, account string) (domain.Order, error) {
	order, err := s.store.GetByID(ctx, id, account)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order_service: get %s: %w", id, err)
	}
	return order, nil
}

// ListOrders returns the account's orders, newest first.
func (s *OrderService) ListOrders(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Order, error) {
	orders, err := s.store.ListByAccount(ctx, account, opts)
	if err != nil {
		return nil, fmt.Errorf("order_service: list for %s: %w", account, err)
	}
	return orders, nil
}

func (s *OrderService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
