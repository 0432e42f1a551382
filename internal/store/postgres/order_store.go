package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quayside-labs/swapsentinel/internal/domain"
)

const orderColumns = `id, account, from_asset, to_asset, amount_in, max_slippage_bps,
	threshold_price, condition, status, retry_count, max_retries,
	created_at, updated_at, expires_at, claimed_at, executed_at,
	executed_price, executed_amount, execution_ref, failure_reason`

// OrderStore persists orders in PostgreSQL. ConditionalUpdate relies on the
// row-level atomicity of a single UPDATE with a status guard in the WHERE
// clause, so no explicit transaction is needed for claims.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the client's pool.
func NewOrderStore(client *Client) *OrderStore {
	return &OrderStore{pool: client.Pool()}
}

// Create inserts a new order row.
func (s *OrderStore) Create(ctx context.Context, o domain.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (
			id, account, from_asset, to_asset, amount_in, max_slippage_bps,
			threshold_price, condition, status, retry_count, max_retries,
			created_at, updated_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		o.ID, o.Account, o.FromAsset, o.ToAsset, o.AmountIn, o.MaxSlippageBps,
		o.ThresholdPrice, string(o.Condition), string(o.Status), o.RetryCount, o.MaxRetries,
		o.CreatedAt, o.UpdatedAt, o.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID fetches one order scoped to its owning account.
func (s *OrderStore) GetByID(ctx context.Context, id, account string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND account = $2`, id, account)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: get order %s: %w", id, err)
	}
	return o, nil
}

// ListActive returns every order currently eligible for trigger evaluation.
func (s *OrderStore) ListActive(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at`,
		string(domain.OrderStatusActive))
	if err != nil {
		return nil, fmt.Errorf("postgres: list active orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ListByAccount returns the account's orders, newest first.
func (s *OrderStore) ListByAccount(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Order, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE account = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		account, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders for %s: %w", account, err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// ConditionalUpdate applies the patch only while the stored status still
// equals expected. Returns false with no error when the guard misses; the
// caller treats that as a lost race, not a failure.
func (s *OrderStore) ConditionalUpdate(ctx context.Context, id string, expected domain.OrderStatus, patch domain.OrderPatch) (bool, error) {
	set, args := buildPatch(patch)
	args = append(args, id, string(expected))
	sql := fmt.Sprintf(`UPDATE orders SET %s WHERE id = $%d AND status = $%d`,
		set, len(args)-1, len(args))

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return false, fmt.Errorf("postgres: conditional update %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Update applies the patch unconditionally and returns the updated order.
func (s *OrderStore) Update(ctx context.Context, id string, patch domain.OrderPatch) (domain.Order, error) {
	set, args := buildPatch(patch)
	args = append(args, id)
	sql := fmt.Sprintf(`UPDATE orders SET %s WHERE id = $%d RETURNING %s`,
		set, len(args), orderColumns)

	row := s.pool.QueryRow(ctx, sql, args...)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrNotFound
		}
		return domain.Order{}, fmt.Errorf("postgres: update order %s: %w", id, err)
	}
	return o, nil
}

// ReleaseStuck reverts orders that were claimed before cutoff back to active.
func (s *OrderStore) ReleaseStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders
		SET status = $1, claimed_at = NULL, updated_at = now()
		WHERE status = $2 AND claimed_at < $3`,
		string(domain.OrderStatusActive), string(domain.OrderStatusClaimed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: release stuck orders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListTerminalBefore returns terminal orders last touched before the cutoff.
func (s *OrderStore) ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN ($1,$2,$3,$4) AND updated_at < $5
		ORDER BY updated_at`,
		string(domain.OrderStatusExecuted), string(domain.OrderStatusCancelled),
		string(domain.OrderStatusFailed), string(domain.OrderStatusExpired),
		before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

// buildPatch renders the SET clause and positional args for a patch.
// updated_at always moves.
func buildPatch(p domain.OrderPatch) (string, []any) {
	sets := []string{"updated_at = now()"}
	args := []any{}

	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.RetryCount != nil {
		add("retry_count", *p.RetryCount)
	}
	if p.MaxSlippageBps != nil {
		add("max_slippage_bps", *p.MaxSlippageBps)
	}
	if p.ExpiresAt != nil {
		add("expires_at", *p.ExpiresAt)
	}
	if p.ClaimedAt != nil {
		add("claimed_at", *p.ClaimedAt)
	}
	if p.ClearClaim {
		sets = append(sets, "claimed_at = NULL")
	}
	if p.ExecutedAt != nil {
		add("executed_at", *p.ExecutedAt)
	}
	if p.ExecutedPrice != nil {
		add("executed_price", *p.ExecutedPrice)
	}
	if p.ExecutedAmount != nil {
		add("executed_amount", *p.ExecutedAmount)
	}
	if p.ExecutionRef != nil {
		add("execution_ref", *p.ExecutionRef)
	}
	if p.FailureReason != nil {
		add("failure_reason", *p.FailureReason)
	}

	return strings.Join(sets, ", "), args
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o              domain.Order
		condition      string
		status         string
		executedPrice  *float64
		executedAmount *float64
		executionRef   *string
		failureReason  *string
	)
	err := row.Scan(
		&o.ID, &o.Account, &o.FromAsset, &o.ToAsset, &o.AmountIn, &o.MaxSlippageBps,
		&o.ThresholdPrice, &condition, &status, &o.RetryCount, &o.MaxRetries,
		&o.CreatedAt, &o.UpdatedAt, &o.ExpiresAt, &o.ClaimedAt, &o.ExecutedAt,
		&executedPrice, &executedAmount, &executionRef, &failureReason,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.Condition = domain.TriggerCondition(condition)
	o.Status = domain.OrderStatus(status)
	if executedPrice != nil {
		o.ExecutedPrice = *executedPrice
	}
	if executedAmount != nil {
		o.ExecutedAmount = *executedAmount
	}
	if executionRef != nil {
		o.ExecutionRef = *executionRef
	}
	if failureReason != nil {
		o.FailureReason = *failureReason
	}
	return o, nil
}

func scanOrders(rows pgx.Rows) ([]domain.Order, error) {
	orders := []domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate orders: %w", err)
	}
	return orders, nil
}
