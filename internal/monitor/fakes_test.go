package monitor

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/quayside-labs/swapsentinel/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory domain.OrderStore with the same compare-and-swap
// semantics as the postgres implementation.
type memStore struct {
	mu      sync.Mutex
	orders  map[string]domain.Order
	listErr error
}

func newMemStore(orders ...domain.Order) *memStore {
	s := &memStore{orders: make(map[string]domain.Order)}
	for _, o := range orders {
		s.orders[o.ID] = o
	}
	return s
}

func (s *memStore) get(id string) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders[id]
}

func (s *memStore) put(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *memStore) Create(_ context.Context, o domain.Order) error {
	s.put(o)
	return nil
}

func (s *memStore) GetByID(_ context.Context, id, account string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Account != account {
		return domain.Order{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memStore) ListActive(_ context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.Order
	for _, o := range s.orders {
		if o.Status == domain.OrderStatusActive {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ListByAccount(_ context.Context, account string, _ domain.ListOpts) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.Account == account {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) ConditionalUpdate(_ context.Context, id string, expected domain.OrderStatus, patch domain.OrderPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if o.Status != expected {
		return false, nil
	}
	applyPatch(&o, patch)
	s.orders[id] = o
	return true, nil
}

func (s *memStore) Update(_ context.Context, id string, patch domain.OrderPatch) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	applyPatch(&o, patch)
	s.orders[id] = o
	return o, nil
}

func (s *memStore) ReleaseStuck(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var released int64
	for id, o := range s.orders {
		if o.Status == domain.OrderStatusClaimed && o.ClaimedAt != nil && o.ClaimedAt.Before(cutoff) {
			o.Status = domain.OrderStatusActive
			o.ClaimedAt = nil
			s.orders[id] = o
			released++
		}
	}
	return released, nil
}

func (s *memStore) ListTerminalBefore(_ context.Context, before time.Time) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.Status.Terminal() && o.UpdatedAt.Before(before) {
			out = append(out, o)
		}
	}
	return out, nil
}

func applyPatch(o *domain.Order, patch domain.OrderPatch) {
	if patch.Status != nil {
		o.Status = *patch.Status
	}
	if patch.RetryCount != nil {
		o.RetryCount = *patch.RetryCount
	}
	if patch.MaxSlippageBps != nil {
		o.MaxSlippageBps = *patch.MaxSlippageBps
	}
	if patch.ExpiresAt != nil {
		o.ExpiresAt = patch.ExpiresAt
	}
	if patch.ClaimedAt != nil {
		o.ClaimedAt = patch.ClaimedAt
	}
	if patch.ClearClaim {
		o.ClaimedAt = nil
	}
	if patch.ExecutedAt != nil {
		o.ExecutedAt = patch.ExecutedAt
	}
	if patch.ExecutedPrice != nil {
		o.ExecutedPrice = *patch.ExecutedPrice
	}
	if patch.ExecutedAmount != nil {
		o.ExecutedAmount = *patch.ExecutedAmount
	}
	if patch.ExecutionRef != nil {
		o.ExecutionRef = *patch.ExecutionRef
	}
	if patch.FailureReason != nil {
		o.FailureReason = *patch.FailureReason
	}
	o.UpdatedAt = time.Now().UTC()
}

// stubExecutor runs a caller-supplied function per swap and counts calls.
type stubExecutor struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error)
}

func (e *stubExecutor) Execute(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fn == nil {
		return domain.SwapResult{
			Success:        true,
			Reference:      "stub-ref",
			ExecutedAmount: req.AmountIn * req.QuotedPrice,
		}, nil
	}
	return e.fn(ctx, req)
}

func (e *stubExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// stubFeed returns a fixed price or a fixed error.
type stubFeed struct {
	mu    sync.Mutex
	price float64
	err   error
}

func (f *stubFeed) CurrentPrice(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.price, nil
}

func (f *stubFeed) set(price float64, err error) {
	f.mu.Lock()
	f.price, f.err = price, err
	f.mu.Unlock()
}

// stubLocks grants or refuses every acquisition.
type stubLocks struct {
	held     bool
	acquired int
}

func (l *stubLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if l.held {
		return nil, domain.ErrLockHeld
	}
	l.acquired++
	return func() {}, nil
}
