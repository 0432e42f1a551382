// Package swap implements the execution backends for fired orders: an
// on-chain EVM router executor and a paper executor for dry runs.
package swap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quayside-labs/swapsentinel/internal/domain"
)

// PaperExecutor simulates swap execution without touching any venue. Fills
// happen at the quoted price; slippage and fees are ignored.
type PaperExecutor struct {
	logger *slog.Logger
}

// NewPaperExecutor creates a PaperExecutor.
func NewPaperExecutor(logger *slog.Logger) *PaperExecutor {
	return &PaperExecutor{
		logger: logger.With(slog.String("component", "paper_executor")),
	}
}

// Execute simulates a fill at the quoted price.
func (e *PaperExecutor) Execute(ctx context.Context, req domain.SwapRequest) (domain.SwapResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.SwapResult{}, fmt.Errorf("swap: paper execute %s: %w", req.OrderID, err)
	}
	if req.QuotedPrice <= 0 {
		return domain.SwapResult{}, fmt.Errorf("swap: paper execute %s: non-positive quote %g",
			req.OrderID, req.QuotedPrice)
	}

	ref := "paper-" + uuid.New().String()
	out := req.AmountIn * req.QuotedPrice

	e.logger.InfoContext(ctx, "paper fill",
		slog.String("order_id", req.OrderID),
		slog.String("reference", ref),
		slog.Float64("amount_in", req.AmountIn),
		slog.Float64("amount_out", out),
		slog.Float64("price", req.QuotedPrice),
	)

	return domain.SwapResult{
		Success:        true,
		Reference:      ref,
		ExecutedAmount: out,
		Message:        "paper fill",
	}, nil
}

// Compile-time interface check.
var _ domain.SwapExecutor = (*PaperExecutor)(nil)
