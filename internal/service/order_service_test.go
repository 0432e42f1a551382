package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside-labs/swapsentinel/internal/config"
	"github.com/quayside-labs/swapsentinel/internal/domain"
	"github.com/quayside-labs/swapsentinel/internal/service"
)

type fakeStore struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newFakeStore(orders ...domain.Order) *fakeStore {
	s := &fakeStore{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeStore) Create(_ context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *fakeStore) GetByID(_ context.Context, id, account string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Account != account {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *fakeStore) ListActive(context.Context) ([]domain.Order, error) { return nil, nil }

func (s *fakeStore) ListByAccount(_ context.Context, account string, _ domain.ListOpts) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.Account == account {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *fakeStore) ConditionalUpdate(_ context.Context, id string, expected domain.OrderStatus, patch domain.OrderPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if o.Status != expected {
		return false, nil
	}
	if patch.Status != nil {
		o.Status = *patch.Status
	}
	if patch.MaxSlippageBps != nil {
		o.MaxSlippageBps = *patch.MaxSlippageBps
	}
	if patch.ExpiresAt != nil {
		o.ExpiresAt = patch.ExpiresAt
	}
	s.orders[id] = o
	return true, nil
}

func (s *fakeStore) Update(_ context.Context, id string, _ domain.OrderPatch) (domain.Order, error) {
	return s.orders[id], nil
}

func (s *fakeStore) ReleaseStuck(context.Context, time.Time) (int64, error) { return 0, nil }

func (s *fakeStore) ListTerminalBefore(context.Context, time.Time) ([]domain.Order, error) {
	return nil, nil
}

type fakeFeed struct {
	price float64
	err   error
}

func (f *fakeFeed) CurrentPrice(context.Context, string) (float64, error) {
	return f.price, f.err
}

type fakeLimiter struct {
	allowed bool
	key     string
}

func (l *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.key = key
	return l.allowed, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(store domain.OrderStore, feed domain.PriceFeed, limiter domain.RateLimiter) *service.OrderService {
	return service.NewOrderService(store, feed, limiter, nil, config.Defaults().Orders, testLogger())
}

func validRequest() service.CreateOrderRequest {
	return service.CreateOrderRequest{
		Account:        "acct-1",
		FromAsset:      "WETH",
		ToAsset:        "USDC",
		AmountIn:       2,
		ThresholdPrice: 0.10,
		Condition:      domain.TriggerAbove,
	}
}

func TestCreateOrder(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, &fakeFeed{price: 0.08}, nil)

	order, err := svc.CreateOrder(context.Background(), validRequest())

	require.NoError(t, err)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, domain.OrderStatusActive, order.Status)
	assert.Equal(t, "WETH/USDC", order.Pair())

	// Defaults applied.
	bounds := config.Defaults().Orders
	assert.Equal(t, bounds.DefaultSlippageBps, order.MaxSlippageBps)
	assert.Equal(t, bounds.DefaultMaxRetries, order.MaxRetries)
	require.NotNil(t, order.ExpiresAt)

	stored, err := store.GetByID(context.Background(), order.ID, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)
}

func TestCreateOrderRejectsAlreadyFired(t *testing.T) {
	// An above trigger at 0.10 while the market already trades at 0.12.
	svc := newService(newFakeStore(), &fakeFeed{price: 0.12}, nil)

	_, err := svc.CreateOrder(context.Background(), validRequest())

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, domain.ErrInvalidOrder)
	assert.Equal(t, 0.12, verr.CurrentPrice)
	assert.Equal(t, 0.10, verr.Threshold)
	assert.InDelta(t, 0.02, verr.Distance, 1e-9)
	assert.Contains(t, verr.RequiredDirection, "fall below")
}

func TestCreateOrderRejectsBelowAlreadyFired(t *testing.T) {
	req := validRequest()
	req.Condition = domain.TriggerBelow
	req.ThresholdPrice = 0.20
	svc := newService(newFakeStore(), &fakeFeed{price: 0.12}, nil)

	_, err := svc.CreateOrder(context.Background(), req)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.RequiredDirection, "rise above")
}

func TestCreateOrderRefusedWithoutPrice(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, &fakeFeed{err: errors.New("quote service down")}, nil)

	_, err := svc.CreateOrder(context.Background(), validRequest())

	require.Error(t, err)
	assert.Empty(t, store.orders, "an order that cannot be priced must not be persisted")
}

func TestCreateOrderBounds(t *testing.T) {
	bounds := config.Defaults().Orders
	tooManyRetries := bounds.MaxMaxRetries + 1
	badSlippage := bounds.MaxSlippageBps + 1

	cases := []struct {
		name   string
		mutate func(*service.CreateOrderRequest)
	}{
		{"missing account", func(r *service.CreateOrderRequest) { r.Account = "" }},
		{"missing asset", func(r *service.CreateOrderRequest) { r.ToAsset = "" }},
		{"non-positive amount", func(r *service.CreateOrderRequest) { r.AmountIn = 0 }},
		{"bad condition", func(r *service.CreateOrderRequest) { r.Condition = "sideways" }},
		{"threshold below floor", func(r *service.CreateOrderRequest) { r.ThresholdPrice = 0 }},
		{"threshold above ceiling", func(r *service.CreateOrderRequest) { r.ThresholdPrice = bounds.MaxTriggerPrice * 2 }},
		{"slippage out of range", func(r *service.CreateOrderRequest) { r.MaxSlippageBps = badSlippage }},
		{"retries out of range", func(r *service.CreateOrderRequest) { r.MaxRetries = &tooManyRetries }},
		{"lifetime too long", func(r *service.CreateOrderRequest) { r.Lifetime = bounds.MaxLifetime.Duration + time.Hour }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newService(newFakeStore(), &fakeFeed{price: 0.08}, nil)
			req := validRequest()
			tc.mutate(&req)

			_, err := svc.CreateOrder(context.Background(), req)

			assert.ErrorIs(t, err, domain.ErrInvalidOrder)
		})
	}
}

func TestCreateOrderRateLimited(t *testing.T) {
	limiter := &fakeLimiter{allowed: false}
	svc := newService(newFakeStore(), &fakeFeed{price: 0.08}, limiter)

	_, err := svc.CreateOrder(context.Background(), validRequest())

	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Equal(t, "orders:create:acct-1", limiter.key)
}

func TestCancelOrder(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, &fakeFeed{price: 0.08}, nil)

	order, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	cancelled, err := svc.CancelOrder(context.Background(), order.ID, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status)

	stored, err := store.GetByID(context.Background(), order.ID, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
}

func TestCancelOrderNotModifiable(t *testing.T) {
	for _, status := range []domain.OrderStatus{
		domain.OrderStatusClaimed,
		domain.OrderStatusExecuted,
		domain.OrderStatusCancelled,
		domain.OrderStatusFailed,
		domain.OrderStatusExpired,
	} {
		t.Run(string(status), func(t *testing.T) {
			store := newFakeStore(domain.Order{ID: "o1", Account: "acct-1", Status: status})
			svc := newService(store, &fakeFeed{price: 0.08}, nil)

			_, err := svc.CancelOrder(context.Background(), "o1", "acct-1")

			assert.ErrorIs(t, err, domain.ErrNotModifiable)
		})
	}
}

func TestCancelOrderWrongAccount(t *testing.T) {
	store := newFakeStore(domain.Order{ID: "o1", Account: "acct-1", Status: domain.OrderStatusActive})
	svc := newService(store, &fakeFeed{price: 0.08}, nil)

	_, err := svc.CancelOrder(context.Background(), "o1", "acct-2")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAdjustOrder(t *testing.T) {
	store := newFakeStore()
	svc := newService(store, &fakeFeed{price: 0.08}, nil)

	order, err := svc.CreateOrder(context.Background(), validRequest())
	require.NoError(t, err)

	slippage := 75.0
	adjusted, err := svc.AdjustOrder(context.Background(), order.ID, "acct-1", service.AdjustOrderRequest{
		MaxSlippageBps: &slippage,
	})

	require.NoError(t, err)
	assert.Equal(t, 75.0, adjusted.MaxSlippageBps)
	assert.Equal(t, order.ThresholdPrice, adjusted.ThresholdPrice, "the trigger is immutable")
}

func TestAdjustOrderValidation(t *testing.T) {
	store := newFakeStore(domain.Order{ID: "o1", Account: "acct-1", Status: domain.OrderStatusActive})
	svc := newService(store, &fakeFeed{price: 0.08}, nil)

	_, err := svc.AdjustOrder(context.Background(), "o1", "acct-1", service.AdjustOrderRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder, "empty patch")

	bad := 10_000.0
	_, err = svc.AdjustOrder(context.Background(), "o1", "acct-1", service.AdjustOrderRequest{MaxSlippageBps: &bad})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder, "slippage out of range")

	past := time.Now().UTC().Add(-time.Hour)
	_, err = svc.AdjustOrder(context.Background(), "o1", "acct-1", service.AdjustOrderRequest{ExpiresAt: &past})
	assert.ErrorIs(t, err, domain.ErrInvalidOrder, "expiry in the past")
}

func TestListOrders(t *testing.T) {
	store := newFakeStore(
		domain.Order{ID: "o1", Account: "acct-1", Status: domain.OrderStatusActive},
		domain.Order{ID: "o2", Account: "acct-1", Status: domain.OrderStatusExecuted},
		domain.Order{ID: "o3", Account: "acct-2", Status: domain.OrderStatusActive},
	)
	svc := newService(store, &fakeFeed{price: 0.08}, nil)

	orders, err := svc.ListOrders(context.Background(), "acct-1", domain.ListOpts{Limit: 10})

	require.NoError(t, err)
	assert.Len(t, orders, 2)
}
