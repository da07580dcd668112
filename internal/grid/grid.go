// Package grid expands sweep ranges into the ordered set of valid parameter
// tuples.
package grid

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/saze24/backtester/internal/domain"
)

// MinEdgePct is the minimum number of percentage points take-profit must
// exceed stop-loss by.
const MinEdgePct = 1

type combo struct {
	fast, slow, sl, tp int
}

// Generate returns every tuple in the cartesian product of r's inclusive
// ranges that satisfies fast < slow and take-profit >= stop-loss + 1%.
// Tuples are ordered lexicographically by (fast, slow, stop-loss,
// take-profit). An empty result is valid.
func Generate(r domain.Ranges) ([]domain.ParameterTuple, error) {
	if err := Check(r); err != nil {
		return nil, err
	}

	combos := lo.CrossJoinBy4(
		span(r.FastMALow, r.FastMAHigh),
		span(r.SlowMALow, r.SlowMAHigh),
		span(r.StopLossLow, r.StopLossHigh),
		span(r.TakeProfitLow, r.TakeProfitHigh),
		func(fast, slow, sl, tp int) combo {
			return combo{fast: fast, slow: slow, sl: sl, tp: tp}
		},
	)

	// Percent bounds are compared as integers so the minimum edge is exact.
	valid := lo.Filter(combos, func(c combo, _ int) bool {
		return c.fast < c.slow && c.tp >= c.sl+MinEdgePct
	})

	return lo.Map(valid, func(c combo, _ int) domain.ParameterTuple {
		return domain.ParameterTuple{
			FastMA:     c.fast,
			SlowMA:     c.slow,
			StopLoss:   float64(c.sl) / 100,
			TakeProfit: float64(c.tp) / 100,
		}
	}), nil
}

// Check returns ErrInvalidRange when any high bound is below its low bound.
func Check(r domain.Ranges) error {
	bounds := []struct {
		name      string
		low, high int
	}{
		{"fast_ma", r.FastMALow, r.FastMAHigh},
		{"slow_ma", r.SlowMALow, r.SlowMAHigh},
		{"stop_loss", r.StopLossLow, r.StopLossHigh},
		{"take_profit", r.TakeProfitLow, r.TakeProfitHigh},
	}
	for _, b := range bounds {
		if b.high < b.low {
			return fmt.Errorf("%s: high %d < low %d: %w", b.name, b.high, b.low, domain.ErrInvalidRange)
		}
	}
	return nil
}

// Count returns the size of the unfiltered cartesian product of r.
func Count(r domain.Ranges) int {
	if Check(r) != nil {
		return 0
	}
	return (r.FastMAHigh - r.FastMALow + 1) *
		(r.SlowMAHigh - r.SlowMALow + 1) *
		(r.StopLossHigh - r.StopLossLow + 1) *
		(r.TakeProfitHigh - r.TakeProfitLow + 1)
}

func span(low, high int) []int {
	return lo.RangeFrom(low, high-low+1)
}
