package domain

import (
	"context"
	"io"
	"time"
)

// OrderStore persists conditional swap orders. ConditionalUpdate is the sole
// serialization point across overlapping ticks: it must apply the patch only
// when the stored status still equals expected, atomically.
type OrderStore interface {
	Create(ctx context.Context, order Order) error
	GetByID(ctx context.Context, id, account string) (Order, error)
	// ListActive returns every order with status = active.
	ListActive(ctx context.Context) ([]Order, error)
	ListByAccount(ctx context.Context, account string, opts ListOpts) ([]Order, error)
	// ConditionalUpdate applies patch only if the stored status equals
	// expected. It returns false (and no error) when the guard fails.
	ConditionalUpdate(ctx context.Context, id string, expected OrderStatus, patch OrderPatch) (bool, error)
	// Update applies patch unconditionally and returns the updated order.
	Update(ctx context.Context, id string, patch OrderPatch) (Order, error)
	// ReleaseStuck resets orders claimed before cutoff back to active and
	// returns how many were released. Backstop for crashes between claim and
	// outcome recording.
	ReleaseStuck(ctx context.Context, cutoff time.Time) (int64, error)
	// ListTerminalBefore returns terminal orders last updated before the
	// cutoff, for archival.
	ListTerminalBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// PriceFeed supplies the current market price for an asset pair.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, pair string) (float64, error)
}

// PriceCache provides fast access to the latest observed price per pair.
type PriceCache interface {
	SetPrice(ctx context.Context, pair string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, pair string) (float64, time.Time, error)
}

// RateLimiter provides distributed rate limiting for the creation gateway.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking so that only one process runs the
// recovery sweep at a time when multiple replicas share a store.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of lifecycle events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver exports settled order history to blob storage. Deleting archived
// rows from the primary store stays an external data-retention concern.
type Archiver interface {
	ArchiveOrders(ctx context.Context, before time.Time) (int64, error)
}
