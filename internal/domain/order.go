package domain

import (
	"fmt"
	"time"
)

// TriggerCondition is the directional comparator relating the observed market
// price to the order's threshold.
type TriggerCondition string

const (
	// TriggerAbove fires once price rises to or past the threshold.
	TriggerAbove TriggerCondition = "above"
	// TriggerBelow fires once price falls to or past the threshold.
	TriggerBelow TriggerCondition = "below"
)

// Valid reports whether the condition is one of the recognized comparators.
func (c TriggerCondition) Valid() bool {
	return c == TriggerAbove || c == TriggerBelow
}

// OrderStatus tracks the order lifecycle.
type OrderStatus string

const (
	// OrderStatusActive orders are evaluated on every monitor tick.
	OrderStatusActive OrderStatus = "active"
	// OrderStatusClaimed marks an order reserved by exactly one coordinator
	// while its swap is in flight. It is transient, never terminal.
	OrderStatusClaimed OrderStatus = "claimed"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusExpired   OrderStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusExecuted, OrderStatusCancelled, OrderStatusFailed, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Order is a conditional swap order: trade FromAsset into ToAsset once the
// market price of the pair crosses ThresholdPrice in the configured direction.
type Order struct {
	ID      string `json:"id"`
	Account string `json:"account"`

	// Trade parameters.
	FromAsset      string  `json:"from_asset"`
	ToAsset        string  `json:"to_asset"`
	AmountIn       float64 `json:"amount_in"`
	MaxSlippageBps float64 `json:"max_slippage_bps"`

	// Trigger. Immutable after creation.
	ThresholdPrice float64          `json:"threshold_price"`
	Condition      TriggerCondition `json:"condition"`

	// Lifecycle.
	Status     OrderStatus `json:"status"`
	RetryCount int         `json:"retry_count"`
	MaxRetries int         `json:"max_retries"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
	ClaimedAt  *time.Time  `json:"claimed_at,omitempty"`

	// Outcome. Populated only on terminal success (or FailureReason on Failed).
	ExecutedAt     *time.Time `json:"executed_at,omitempty"`
	ExecutedPrice  float64    `json:"executed_price,omitempty"`
	ExecutedAmount float64    `json:"executed_amount,omitempty"`
	ExecutionRef   string     `json:"execution_ref,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

// Pair returns the market pair identifier the order is priced against,
// e.g. "WETH/USDC".
func (o Order) Pair() string {
	return fmt.Sprintf("%s/%s", o.FromAsset, o.ToAsset)
}

// Expired reports whether the order's lifetime has elapsed at the given time.
// Orders without an expiry never expire.
func (o Order) Expired(at time.Time) bool {
	return o.ExpiresAt != nil && at.After(*o.ExpiresAt)
}

// RetriesExhausted reports whether another execution failure must transition
// the order to Failed rather than back to Active.
func (o Order) RetriesExhausted() bool {
	return o.RetryCount >= o.MaxRetries
}

// OrderPatch is a partial update applied by Update / ConditionalUpdate.
// Nil fields are left untouched.
type OrderPatch struct {
	Status         *OrderStatus
	RetryCount     *int
	MaxSlippageBps *float64
	ExpiresAt      *time.Time
	ClaimedAt      *time.Time
	ClearClaim     bool
	ExecutedAt     *time.Time
	ExecutedPrice  *float64
	ExecutedAmount *float64
	ExecutionRef   *string
	FailureReason  *string
}

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// SimulationResult is one row of a dry-run evaluation: would this order fire
// at the hypothetical price? No state is touched.
type SimulationResult struct {
	OrderID   string  `json:"order_id"`
	Pair      string  `json:"pair"`
	Condition string  `json:"condition"`
	Threshold float64 `json:"threshold"`
	WouldFire bool    `json:"would_fire"`
}
