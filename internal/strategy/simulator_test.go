package strategy

import (
	"reflect"
	"testing"
	"time"

	"github.com/saze24/backtester/internal/domain"
)

const (
	fastPeriod = 3
	slowPeriod = 5
)

// candle describes one test candle; fast and slow are the MA3/MA5 values.
type candle struct {
	open, high, low, close float64
	fast, slow             float64
}

func flat(fast, slow float64) candle {
	return candle{open: 100, high: 100.5, low: 99.5, close: 100, fast: fast, slow: slow}
}

func buildSeries(candles []candle) *domain.Series {
	t0 := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	s := &domain.Series{Instrument: "XBTUSD", Timeframe: "4H", Interval: 4 * time.Hour}
	for i, c := range candles {
		p := domain.PricePoint{
			Timestamp: t0.Add(time.Duration(i) * 4 * time.Hour),
			Open:      c.open,
			High:      c.high,
			Low:       c.low,
			Close:     c.close,
		}
		p.MA[fastPeriod-domain.MinMAPeriod] = c.fast
		p.MA[slowPeriod-domain.MinMAPeriod] = c.slow
		s.Points = append(s.Points, p)
	}
	return s
}

func params(sl, tp float64) domain.ParameterTuple {
	return domain.ParameterTuple{FastMA: fastPeriod, SlowMA: slowPeriod, StopLoss: sl, TakeProfit: tp}
}

func TestSimulateLongTakeProfit(t *testing.T) {
	s := buildSeries([]candle{
		flat(9, 10),  // fast below slow
		flat(11, 10), // crossed above
		{open: 100, high: 101, low: 99, close: 100, fast: 11, slow: 10},
		{open: 100, high: 106, low: 99, close: 104, fast: 11, slow: 10},
		flat(11, 10),
	})

	res := Simulate(params(0.02, 0.05), s)
	if len(res.Positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(res.Positions))
	}

	pos := res.Positions[0]
	if pos.Direction != domain.DirectionLong {
		t.Errorf("Direction = %q, want long", pos.Direction)
	}
	if !pos.OpenTime.Equal(s.Points[2].Timestamp) || pos.OpenPrice != 100 {
		t.Errorf("opened at %v/%v, want candle 2 open", pos.OpenTime, pos.OpenPrice)
	}
	if !pos.CloseTime.Equal(s.Points[3].Timestamp) {
		t.Errorf("CloseTime = %v, want candle 3", pos.CloseTime)
	}
	if pos.ClosePrice != 105 {
		t.Errorf("ClosePrice = %v, want 105", pos.ClosePrice)
	}
	if pos.PnL != 0.05 {
		t.Errorf("PnL = %v, want 0.05", pos.PnL)
	}
	if res.TotalPnL != 0.05 {
		t.Errorf("TotalPnL = %v, want 0.05", res.TotalPnL)
	}
}

func TestSimulateStopLossWinsTie(t *testing.T) {
	s := buildSeries([]candle{
		{open: 200, high: 201, low: 199, close: 200, fast: 11, slow: 10},
		{open: 200, high: 201, low: 199, close: 200, fast: 9, slow: 10},
		{open: 200, high: 201, low: 199, close: 200, fast: 9, slow: 10},
		{open: 200, high: 205, low: 190, close: 195, fast: 9, slow: 10},
		{open: 195, high: 196, low: 194, close: 195, fast: 9, slow: 10},
	})

	res := Simulate(params(0.02, 0.04), s)
	if len(res.Positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(res.Positions))
	}
	pos := res.Positions[0]
	if pos.Direction != domain.DirectionShort {
		t.Errorf("Direction = %q, want short", pos.Direction)
	}
	if pos.ClosePrice != 204 {
		t.Errorf("ClosePrice = %v, want 204 (stop-loss)", pos.ClosePrice)
	}
	if pos.PnL != -0.02 {
		t.Errorf("PnL = %v, want -0.02", pos.PnL)
	}
}

func TestSimulateUnrealizedAtEnd(t *testing.T) {
	long := buildSeries([]candle{
		flat(9, 10),
		flat(11, 10),
		flat(11, 10),
		flat(11, 10),
		{open: 100, high: 101.5, low: 100, close: 101.234, fast: 11, slow: 10},
	})
	res := Simulate(params(0.02, 0.05), long)
	if len(res.Positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(res.Positions))
	}
	pos := res.Positions[0]
	if pos.ClosePrice != 101.234 || !pos.CloseTime.Equal(long.End()) {
		t.Errorf("closed at %v/%v, want last close", pos.CloseTime, pos.ClosePrice)
	}
	if pos.PnL != 0.0123 {
		t.Errorf("PnL = %v, want 0.0123", pos.PnL)
	}
	if res.TotalPnL != 0.01 {
		t.Errorf("TotalPnL = %v, want 0.01", res.TotalPnL)
	}

	short := buildSeries([]candle{
		flat(11, 10),
		flat(9, 10),
		flat(9, 10),
		flat(9, 10),
		{open: 98, high: 99, low: 97.5, close: 97, fast: 9, slow: 10},
	})
	res = Simulate(params(0.02, 0.05), short)
	if len(res.Positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(res.Positions))
	}
	if res.Positions[0].PnL != 0.03 {
		t.Errorf("short unrealized PnL = %v, want 0.03", res.Positions[0].PnL)
	}
}

func TestSimulateLastCandleNotScanned(t *testing.T) {
	// The take-profit level is touched only on the final candle, which is
	// used for the end-of-series close instead.
	s := buildSeries([]candle{
		flat(9, 10),
		flat(11, 10),
		flat(11, 10),
		{open: 100, high: 110, low: 100, close: 104, fast: 11, slow: 10},
	})
	res := Simulate(params(0.02, 0.05), s)
	if len(res.Positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(res.Positions))
	}
	if got := res.Positions[0].PnL; got != 0.04 {
		t.Errorf("PnL = %v, want 0.04 unrealized", got)
	}
}

func TestSimulateShortSeries(t *testing.T) {
	s := buildSeries([]candle{flat(9, 10), flat(11, 10)})
	res := Simulate(params(0.02, 0.05), s)
	if len(res.Positions) != 0 || res.TotalPnL != 0 {
		t.Errorf("got %d positions, total %v; want none", len(res.Positions), res.TotalPnL)
	}

	res = Simulate(params(0.02, 0.05), &domain.Series{})
	if len(res.Positions) != 0 || res.TotalPnL != 0 {
		t.Errorf("empty series: got %d positions, total %v", len(res.Positions), res.TotalPnL)
	}
}

func TestSimulateCrossoverWithoutEntryCandle(t *testing.T) {
	s := buildSeries([]candle{flat(10, 10), flat(9, 10), flat(11, 10)})
	res := Simulate(params(0.02, 0.05), s)
	if len(res.Positions) != 0 {
		t.Errorf("got %d positions, want 0", len(res.Positions))
	}
}

func TestSimulateNoCrossover(t *testing.T) {
	s := buildSeries([]candle{flat(11, 10), flat(12, 10), flat(13, 10), flat(12, 10), flat(11, 10)})
	res := Simulate(params(0.02, 0.05), s)
	if len(res.Positions) != 0 || res.TotalPnL != 0 {
		t.Errorf("got %d positions, total %v; want none", len(res.Positions), res.TotalPnL)
	}
}

func TestSimulateSequenceDoesNotOverlap(t *testing.T) {
	s := buildSeries([]candle{
		flat(9, 10),
		flat(11, 10), // long crossover, entry at 2
		{open: 100, high: 103.5, low: 99.5, close: 103, fast: 11, slow: 10}, // take-profit 103
		flat(11, 10),
		flat(9, 10), // short crossover, entry at 5
		{open: 100, high: 102, low: 99.5, close: 101, fast: 9, slow: 10}, // stop-loss 102
		flat(9, 10),
		flat(11, 10), // long crossover, entry at 8
		flat(11, 10),
		{open: 100, high: 101, low: 100, close: 101, fast: 11, slow: 10},
	})

	res := Simulate(params(0.02, 0.03), s)
	if len(res.Positions) != 3 {
		t.Fatalf("got %d positions, want 3", len(res.Positions))
	}

	wantDirs := []domain.Direction{domain.DirectionLong, domain.DirectionShort, domain.DirectionLong}
	wantPnL := []float64{0.03, -0.02, 0.01}
	for i, pos := range res.Positions {
		if pos.Direction != wantDirs[i] {
			t.Errorf("position %d Direction = %q, want %q", i, pos.Direction, wantDirs[i])
		}
		if pos.PnL != wantPnL[i] {
			t.Errorf("position %d PnL = %v, want %v", i, pos.PnL, wantPnL[i])
		}
		if i > 0 && res.Positions[i-1].CloseTime.After(pos.OpenTime) {
			t.Errorf("position %d opens at %v before previous close %v", i, pos.OpenTime, res.Positions[i-1].CloseTime)
		}
	}
	if res.TotalPnL != 0.02 {
		t.Errorf("TotalPnL = %v, want 0.02", res.TotalPnL)
	}
}

func TestSimulateDeterministic(t *testing.T) {
	s := buildSeries([]candle{
		flat(9, 10), flat(11, 10), flat(11, 10), flat(9, 10),
		flat(9, 10), flat(11, 10), flat(11, 10), flat(11, 10),
	})
	a := Simulate(params(0.01, 0.02), s)
	b := Simulate(params(0.01, 0.02), s)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("Simulate is not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestTriggerPricesRoundToTick(t *testing.T) {
	p := params(0.02, 0.04)

	sl, tp := triggerPrices(domain.DirectionLong, 37432.7, p)
	if sl != 36684 || tp != 38930 {
		t.Errorf("long triggers = %v/%v, want 36684/38930", sl, tp)
	}

	sl, tp = triggerPrices(domain.DirectionShort, 37432.7, p)
	if sl != 38181.5 || tp != 35935.5 {
		t.Errorf("short triggers = %v/%v, want 38181.5/35935.5", sl, tp)
	}
}

func TestNextCrossover(t *testing.T) {
	s := buildSeries([]candle{flat(11, 10), flat(11, 10), flat(9, 10), flat(9, 10), flat(9, 10)})

	dir, entry, ok := nextCrossover(s.Points, fastPeriod, slowPeriod, 0)
	if !ok || dir != domain.DirectionShort || entry != 3 {
		t.Errorf("nextCrossover = %q/%d/%v, want short/3/true", dir, entry, ok)
	}

	if _, _, ok := nextCrossover(s.Points, fastPeriod, slowPeriod, 2); ok {
		t.Error("nextCrossover from 2 should find nothing")
	}
}
