package swap

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside-labs/swapsentinel/internal/domain"
)

func TestPaperExecutorFillsAtQuote(t *testing.T) {
	e := NewPaperExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)))

	result, err := e.Execute(context.Background(), domain.SwapRequest{
		OrderID:     "o1",
		FromAsset:   "WETH",
		ToAsset:     "USDC",
		AmountIn:    2,
		QuotedPrice: 1800,
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3600.0, result.ExecutedAmount)
	assert.True(t, strings.HasPrefix(result.Reference, "paper-"))
}

func TestPaperExecutorRejectsBadQuote(t *testing.T) {
	e := NewPaperExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := e.Execute(context.Background(), domain.SwapRequest{OrderID: "o1", AmountIn: 1})

	assert.Error(t, err)
}

func TestPaperExecutorHonorsCancelledContext(t *testing.T) {
	e := NewPaperExecutor(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, domain.SwapRequest{OrderID: "o1", AmountIn: 1, QuotedPrice: 1})

	assert.ErrorIs(t, err, context.Canceled)
}
