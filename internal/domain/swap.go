package domain

import "context"

// SwapRequest carries the validated trade parameters handed to the executor
// once an order has fired and been claimed.
type SwapRequest struct {
	OrderID        string
	Account        string
	FromAsset      string
	ToAsset        string
	AmountIn       float64
	MaxSlippageBps float64
	// QuotedPrice is the price sample that caused firing. The executor derives
	// its minimum acceptable output from it and the slippage bound.
	QuotedPrice float64
}

// SwapResult reports the outcome of a single execution attempt.
type SwapResult struct {
	Success bool
	// Reference identifies the execution on the venue, e.g. a transaction hash.
	Reference      string
	ExecutedAmount float64
	Message        string
}

// SwapExecutor attempts the underlying trade. Implementations must respect
// ctx cancellation; the coordinator bounds every call with a timeout.
type SwapExecutor interface {
	Execute(ctx context.Context, req SwapRequest) (SwapResult, error)
}
