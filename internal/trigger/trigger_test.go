package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quayside-labs/swapsentinel/internal/domain"
)

func order(cond domain.TriggerCondition, threshold float64) domain.Order {
	return domain.Order{
		ID:             "o1",
		FromAsset:      "WETH",
		ToAsset:        "USDC",
		Condition:      cond,
		ThresholdPrice: threshold,
	}
}

func TestFired(t *testing.T) {
	cases := []struct {
		name      string
		cond      domain.TriggerCondition
		threshold float64
		price     float64
		fired     bool
	}{
		{"above not reached", domain.TriggerAbove, 0.10, 0.09, false},
		{"above at boundary", domain.TriggerAbove, 0.10, 0.10, true},
		{"above crossed", domain.TriggerAbove, 0.10, 0.11, true},
		{"below not reached", domain.TriggerBelow, 0.10, 0.11, false},
		{"below at boundary", domain.TriggerBelow, 0.10, 0.10, true},
		{"below crossed", domain.TriggerBelow, 0.10, 0.09, true},
		{"unknown condition never fires", domain.TriggerCondition("sideways"), 0.10, 0.10, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			o := order(tc.cond, tc.threshold)
			assert.Equal(t, tc.fired, Fired(o, tc.price))
		})
	}
}

// Armed and Fired must partition every price: exactly one holds.
func TestArmedFiredExclusive(t *testing.T) {
	prices := []float64{0.01, 0.0999, 0.10, 0.1001, 5, 1000}
	for _, cond := range []domain.TriggerCondition{domain.TriggerAbove, domain.TriggerBelow} {
		o := order(cond, 0.10)
		for _, p := range prices {
			assert.NotEqual(t, Armed(o, p), Fired(o, p),
				"cond=%s price=%g", cond, p)
		}
	}
}

// An above trigger at 0.10 stays armed through samples below the threshold
// and fires at the first sample at or past it. The firing price is the
// observed sample, not the threshold.
func TestAboveTriggerSequence(t *testing.T) {
	o := order(domain.TriggerAbove, 0.10)

	assert.True(t, Armed(o, 0.08))
	assert.True(t, Armed(o, 0.09))
	assert.True(t, Fired(o, 0.11))
}

func TestSimulate(t *testing.T) {
	orders := []domain.Order{
		order(domain.TriggerAbove, 0.10),
		order(domain.TriggerBelow, 0.05),
		order(domain.TriggerBelow, 0.20),
	}

	results := Simulate(orders, 0.12)

	assert.Len(t, results, 3)
	assert.True(t, results[0].WouldFire)
	assert.False(t, results[1].WouldFire)
	assert.True(t, results[2].WouldFire)
	assert.Equal(t, "WETH/USDC", results[0].Pair)
}

func TestSimulateEmpty(t *testing.T) {
	assert.Empty(t, Simulate(nil, 1.0))
}
