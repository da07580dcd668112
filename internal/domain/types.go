// Package domain defines the core types shared by the series, grid, strategy,
// engine, and store packages.
package domain

import (
	"math"
	"time"
)

// Moving-average periods precomputed for every PricePoint.
const (
	MinMAPeriod = 3
	MaxMAPeriod = 20
)

// TimeLayout is the timestamp layout used for persisted and displayed times.
const TimeLayout = "2006-01-02 15:04:05"

// Bar is a raw OHLCV candle as delivered by a series loader.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// PricePoint is one candle of a Series with its precomputed moving averages.
type PricePoint struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	MA        [MaxMAPeriod - MinMAPeriod + 1]float64
}

// MovingAverage returns the simple moving average of close over period
// candles ending at this point. It returns NaN for periods outside
// [MinMAPeriod, MaxMAPeriod] or when the window was incomplete.
func (p PricePoint) MovingAverage(period int) float64 {
	if period < MinMAPeriod || period > MaxMAPeriod {
		return math.NaN()
	}
	return p.MA[period-MinMAPeriod]
}

// Series is an immutable, time-ordered, evenly spaced sequence of PricePoints
// for one instrument and period.
type Series struct {
	ID         int64
	Instrument string
	Timeframe  string
	Interval   time.Duration
	Points     []PricePoint
}

// Len returns the number of candles in the series.
func (s *Series) Len() int { return len(s.Points) }

// Start returns the timestamp of the first candle, or the zero time.
func (s *Series) Start() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[0].Timestamp
}

// End returns the timestamp of the last candle, or the zero time.
func (s *Series) End() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[len(s.Points)-1].Timestamp
}

// ParameterTuple is one combination of strategy parameters. StopLoss and
// TakeProfit are fractional rates (0.05 = 5%).
type ParameterTuple struct {
	FastMA     int
	SlowMA     int
	StopLoss   float64
	TakeProfit float64
}

// Ranges holds the inclusive bounds of a sweep. Stop-loss and take-profit
// bounds are whole percentage points.
type Ranges struct {
	FastMALow      int
	FastMAHigh     int
	SlowMALow      int
	SlowMAHigh     int
	StopLossLow    int
	StopLossHigh   int
	TakeProfitLow  int
	TakeProfitHigh int
}

// Direction is the side of a simulated position.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Position is one simulated trade. It is opened on a crossover and closed
// exactly once, by a trigger or at the end of the series.
type Position struct {
	Direction  Direction
	OpenTime   time.Time
	OpenPrice  float64
	CloseTime  time.Time
	ClosePrice float64
	PnL        float64
}

// RunResult is the outcome of simulating one ParameterTuple over a Series.
// Positions are ordered by OpenTime.
type RunResult struct {
	Params    ParameterTuple
	TotalPnL  float64
	Positions []Position
}

// Test is one named sweep and its sweep metadata.
type Test struct {
	ID        int64
	Name      string
	RunID     string
	SeriesID  int64
	Ranges    Ranges
	CreatedAt time.Time

	Workers   int
	Attempted int
	Persisted int
	Failed    int
	Positions int
	Elapsed   time.Duration
}

// StrategyResult is a persisted RunResult row without its positions.
type StrategyResult struct {
	ID       int64
	TestID   int64
	Params   ParameterTuple
	TotalPnL float64
}

// StrategyGroup aggregates top results sharing the same moving-average pair.
type StrategyGroup struct {
	FastMA        int
	SlowMA        int
	AvgStopLoss   float64
	AvgTakeProfit float64
	AvgPnL        float64
	TopPnL        float64
	Frequency     int
}

// SweepReport summarises one sweep execution.
type SweepReport struct {
	TestID    int64
	RunID     string
	Workers   int
	Attempted int
	Persisted int
	Failed    int
	Positions int
	Elapsed   time.Duration
}
