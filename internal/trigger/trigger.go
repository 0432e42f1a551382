// Package trigger holds the pure decision logic for conditional orders.
// Nothing here performs I/O; the monitor feeds it one price sample per tick
// and acts on the verdicts.
package trigger

import "github.com/quayside-labs/swapsentinel/internal/domain"

// Armed reports that the order's condition is currently false: price has not
// yet reached the threshold from the required direction.
func Armed(o domain.Order, price float64) bool {
	return !Fired(o, price)
}

// Fired reports that the order's condition is currently true. For an "above"
// trigger the boundary itself fires (price >= threshold); symmetrically for
// "below". Exactly one of Armed/Fired holds for any price/threshold pair.
func Fired(o domain.Order, price float64) bool {
	switch o.Condition {
	case domain.TriggerAbove:
		return price >= o.ThresholdPrice
	case domain.TriggerBelow:
		return price <= o.ThresholdPrice
	default:
		return false
	}
}

// Simulate evaluates every order against a hypothetical price without
// touching any state.
func Simulate(orders []domain.Order, price float64) []domain.SimulationResult {
	results := make([]domain.SimulationResult, 0, len(orders))
	for _, o := range orders {
		results = append(results, domain.SimulationResult{
			OrderID:   o.ID,
			Pair:      o.Pair(),
			Condition: string(o.Condition),
			Threshold: o.ThresholdPrice,
			WouldFire: Fired(o, price),
		})
	}
	return results
}
