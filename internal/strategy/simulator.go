// Package strategy simulates the moving-average crossover strategy with fixed
// stop-loss and take-profit over a price series.
package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/saze24/backtester/internal/domain"
)

// TickSize is the instrument's minimum price increment. Trigger prices are
// rounded to it.
const TickSize = 0.5

// Rounding applied to reported PnL figures.
const (
	unrealizedPlaces = 4
	totalPlaces      = 2
)

type state int

const (
	stateScanning state = iota
	stateInPosition
)

// exit is a trigger hit found while holding a position.
type exit struct {
	index int
	price float64
	pnl   float64
}

// Simulate replays s for parameters p and returns the resulting trade log.
// It holds at most one position at a time: a crossover opens a position at
// the open of the candle after the confirming candle, and the position is
// closed by its stop-loss or take-profit trigger, or at the last close when
// the series runs out. Simulate is pure; identical inputs yield identical
// results.
func Simulate(p domain.ParameterTuple, s *domain.Series) domain.RunResult {
	res := domain.RunResult{Params: p}
	pts := s.Points
	if len(pts) < 3 {
		return res
	}

	var (
		st  = stateScanning
		i   int
		pos domain.Position
	)
	for {
		switch st {
		case stateScanning:
			dir, entry, ok := nextCrossover(pts, p.FastMA, p.SlowMA, i)
			if !ok {
				return finalize(res)
			}
			pos = domain.Position{
				Direction: dir,
				OpenTime:  pts[entry].Timestamp,
				OpenPrice: pts[entry].Open,
			}
			i = entry
			st = stateInPosition

		case stateInPosition:
			ex, ok := scanExit(pts, pos, p, i)
			if !ok {
				res.Positions = append(res.Positions, closeAtEnd(pos, pts[len(pts)-1]))
				return finalize(res)
			}
			pos.CloseTime = pts[ex.index].Timestamp
			pos.ClosePrice = ex.price
			pos.PnL = ex.pnl
			res.Positions = append(res.Positions, pos)
			i = ex.index + 1
			st = stateScanning
		}
	}
}

// nextCrossover searches from index from for the first candle pair where the
// fast average crosses the slow one. It returns the direction to trade and
// the entry index (two candles after the crossover start). ok is false when
// no crossover with room for an entry candle remains.
func nextCrossover(pts []domain.PricePoint, fast, slow, from int) (dir domain.Direction, entry int, ok bool) {
	for i := from; i < len(pts)-1; i++ {
		f0, s0 := pts[i].MovingAverage(fast), pts[i].MovingAverage(slow)
		f1, s1 := pts[i+1].MovingAverage(fast), pts[i+1].MovingAverage(slow)

		switch {
		case f0 > s0 && f1 < s1:
			dir = domain.DirectionShort
		case f0 < s0 && f1 > s1:
			dir = domain.DirectionLong
		default:
			continue
		}

		if i+2 >= len(pts) {
			return "", 0, false
		}
		return dir, i + 2, true
	}
	return "", 0, false
}

// triggerPrices returns the stop-loss and take-profit prices for a position
// opened at openPrice, rounded to the nearest tick.
func triggerPrices(dir domain.Direction, openPrice float64, p domain.ParameterTuple) (stopLoss, takeProfit float64) {
	one := decimal.NewFromInt(1)
	price := decimal.NewFromFloat(openPrice)
	sl := decimal.NewFromFloat(p.StopLoss)
	tp := decimal.NewFromFloat(p.TakeProfit)

	if dir == domain.DirectionShort {
		return roundToTick(price.Mul(one.Add(sl))), roundToTick(price.Mul(one.Sub(tp)))
	}
	return roundToTick(price.Mul(one.Sub(sl))), roundToTick(price.Mul(one.Add(tp)))
}

// scanExit walks candles from index from looking for the first trigger hit.
// Stop-loss is checked before take-profit on the same candle. The last candle
// is reserved for the end-of-series close and is not scanned.
func scanExit(pts []domain.PricePoint, pos domain.Position, p domain.ParameterTuple, from int) (exit, bool) {
	slPrice, tpPrice := triggerPrices(pos.Direction, pos.OpenPrice, p)

	for j := from; j < len(pts)-1; j++ {
		c := pts[j]
		if pos.Direction == domain.DirectionShort {
			if c.High >= slPrice {
				return exit{index: j, price: slPrice, pnl: -p.StopLoss}, true
			}
			if c.Low <= tpPrice {
				return exit{index: j, price: tpPrice, pnl: p.TakeProfit}, true
			}
			continue
		}
		if c.Low <= slPrice {
			return exit{index: j, price: slPrice, pnl: -p.StopLoss}, true
		}
		if c.High >= tpPrice {
			return exit{index: j, price: tpPrice, pnl: p.TakeProfit}, true
		}
	}
	return exit{}, false
}

// closeAtEnd closes pos at the last candle's close with unrealized PnL.
func closeAtEnd(pos domain.Position, last domain.PricePoint) domain.Position {
	delta := last.Close - pos.OpenPrice
	if pos.Direction == domain.DirectionShort {
		delta = -delta
	}
	pos.CloseTime = last.Timestamp
	pos.ClosePrice = last.Close
	pos.PnL = round(delta/pos.OpenPrice, unrealizedPlaces)
	return pos
}

func finalize(res domain.RunResult) domain.RunResult {
	total := decimal.Zero
	for _, pos := range res.Positions {
		total = total.Add(decimal.NewFromFloat(pos.PnL))
	}
	res.TotalPnL = total.RoundBank(totalPlaces).InexactFloat64()
	return res
}

func roundToTick(v decimal.Decimal) float64 {
	tick := decimal.NewFromFloat(TickSize)
	return v.Div(tick).RoundBank(0).Mul(tick).InexactFloat64()
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).RoundBank(places).InexactFloat64()
}
