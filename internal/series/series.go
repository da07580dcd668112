// Package series builds validated price series with precomputed moving
// averages from raw OHLCV bars, and loads those bars from CSV files or the
// Alpaca market-data API.
package series

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/saze24/backtester/internal/domain"
)

// maPlaces is the number of decimals moving averages are rounded to.
const maPlaces = 2

// Window bounds the candles kept in a built series. A zero Start or End
// leaves that side open.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// Issue is one integrity problem found in a run of bars.
type Issue struct {
	Timestamp time.Time
	Reason    string
}

// IntegrityError lists every offending timestamp of a series that failed
// validation. It matches domain.ErrSeriesIntegrity with errors.Is.
type IntegrityError struct {
	Issues []Issue
}

func (e *IntegrityError) Error() string {
	var gaps, prices, parts []string
	for _, is := range e.Issues {
		ts := is.Timestamp.UTC().Format(domain.TimeLayout)
		switch is.Reason {
		case ReasonGap:
			gaps = append(gaps, ts)
		case ReasonPrice:
			prices = append(prices, ts)
		default:
			parts = append(parts, is.Reason)
		}
	}

	if len(gaps) > 0 {
		parts = append(parts, "interval broken after "+strings.Join(gaps, ", "))
	}
	if len(prices) > 0 {
		parts = append(parts, "invalid prices at "+strings.Join(prices, ", "))
	}
	return fmt.Sprintf("%s: %s", domain.ErrSeriesIntegrity, strings.Join(parts, "; "))
}

func (e *IntegrityError) Unwrap() error { return domain.ErrSeriesIntegrity }

// Issue reasons.
const (
	ReasonGap   = "gap"
	ReasonPrice = "price"
	ReasonEmpty = "no candles"
)

// Validate checks that bars are spaced exactly interval apart and that every
// open, high, low and close is a finite positive number. It returns an
// *IntegrityError naming every offending timestamp, or nil. A gap is reported
// at the timestamp of the candle preceding it.
func Validate(bars []domain.Bar, interval time.Duration) error {
	if len(bars) == 0 {
		return &IntegrityError{Issues: []Issue{{Reason: ReasonEmpty}}}
	}

	var issues []Issue
	for i, b := range bars {
		if i > 0 && b.Timestamp.Sub(bars[i-1].Timestamp) != interval {
			issues = append(issues, Issue{Timestamp: bars[i-1].Timestamp, Reason: ReasonGap})
		}
	}
	for _, b := range bars {
		if !validPrices(b.Open, b.High, b.Low, b.Close) {
			issues = append(issues, Issue{Timestamp: b.Timestamp, Reason: ReasonPrice})
		}
	}

	if len(issues) > 0 {
		return &IntegrityError{Issues: issues}
	}
	return nil
}

// Check validates a built series the same way Validate checks raw bars.
// Sweeps refuse any series Check rejects.
func Check(s *domain.Series) error {
	if s == nil {
		return &IntegrityError{Issues: []Issue{{Reason: ReasonEmpty}}}
	}
	bars := make([]domain.Bar, len(s.Points))
	for i, p := range s.Points {
		bars[i] = domain.Bar{
			Symbol:    s.Instrument,
			Timestamp: p.Timestamp,
			Open:      p.Open,
			High:      p.High,
			Low:       p.Low,
			Close:     p.Close,
		}
	}
	if err := Validate(bars, s.Interval); err != nil {
		return fmt.Errorf("series %s %s: %w", s.Instrument, s.Timeframe, err)
	}
	return nil
}

// WarmupStart returns the timestamp of the earliest bar needed for every
// moving average at start to be complete.
func WarmupStart(start time.Time, interval time.Duration) time.Time {
	return start.Add(-time.Duration(domain.MaxMAPeriod) * interval)
}

// Build turns raw bars into a Series for window. Moving averages are computed
// over the whole bar history so that candles at the start of the window carry
// complete averages, then only the candles inside window are kept. The warm-up
// bars preceding the window and the window itself must pass Validate.
func Build(instrument, timeframe string, interval time.Duration, bars []domain.Bar, w Window) (*domain.Series, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("building %s series: interval must be positive", instrument)
	}

	sorted := slices.Clone(bars)
	slices.SortFunc(sorted, func(a, b domain.Bar) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	warmup := w
	if !w.Start.IsZero() {
		warmup.Start = WarmupStart(w.Start, interval)
	}
	var checked []domain.Bar
	for _, b := range sorted {
		if warmup.contains(b.Timestamp) {
			checked = append(checked, b)
		}
	}
	if err := Validate(checked, interval); err != nil {
		return nil, fmt.Errorf("building %s series: %w", instrument, err)
	}

	closes := make([]float64, len(sorted))
	for i, b := range sorted {
		closes[i] = b.Close
	}
	averages := movingAverages(closes)

	s := &domain.Series{
		Instrument: strings.ToUpper(instrument),
		Timeframe:  strings.ToUpper(timeframe),
		Interval:   interval,
	}
	for i, b := range sorted {
		if !w.contains(b.Timestamp) {
			continue
		}
		s.Points = append(s.Points, domain.PricePoint{
			Timestamp: b.Timestamp.UTC(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			MA:        averages[i],
		})
	}
	if len(s.Points) == 0 {
		return nil, fmt.Errorf("building %s series: %w", instrument, &IntegrityError{Issues: []Issue{{Reason: ReasonEmpty}}})
	}
	return s, nil
}

// movingAverages returns, for every index, the simple moving averages of
// closes for periods MinMAPeriod..MaxMAPeriod rounded to maPlaces. Entries
// whose window reaches before the first close are NaN.
func movingAverages(closes []float64) [][domain.MaxMAPeriod - domain.MinMAPeriod + 1]float64 {
	out := make([][domain.MaxMAPeriod - domain.MinMAPeriod + 1]float64, len(closes))
	for period := domain.MinMAPeriod; period <= domain.MaxMAPeriod; period++ {
		slot := period - domain.MinMAPeriod
		for i := range closes {
			if i < period-1 {
				out[i][slot] = math.NaN()
				continue
			}
			var sum float64
			for _, c := range closes[i-period+1 : i+1] {
				sum += c
			}
			if math.IsNaN(sum) || math.IsInf(sum, 0) {
				out[i][slot] = math.NaN()
				continue
			}
			out[i][slot] = decimal.NewFromFloat(sum / float64(period)).RoundBank(maPlaces).InexactFloat64()
		}
	}
	return out
}

func validPrices(prices ...float64) bool {
	for _, p := range prices {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			return false
		}
	}
	return true
}

// ParseTimeframe parses labels such as "4H", "15MIN" or "1D" into a candle
// interval.
func ParseTimeframe(tf string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(tf))
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n := 1
	if i > 0 {
		v, err := strconv.Atoi(s[:i])
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid timeframe %q", tf)
		}
		n = v
	}

	switch s[i:] {
	case "MIN", "T":
		return time.Duration(n) * time.Minute, nil
	case "H":
		return time.Duration(n) * time.Hour, nil
	case "D":
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid timeframe %q", tf)
}
