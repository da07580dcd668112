// Package report formats sweep results for display. Rates are kept as
// fractions everywhere else; they become percent strings only here.
package report

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/saze24/backtester/internal/domain"
)

var printer = message.NewPrinter(language.English)

// StrategyRow is a display row for one strategy result.
type StrategyRow struct {
	ID         int64  `json:"id"`
	TestID     int64  `json:"test_id"`
	FastMA     int    `json:"fast_ma"`
	SlowMA     int    `json:"slow_ma"`
	StopLoss   string `json:"stop_loss"`
	TakeProfit string `json:"take_profit"`
	TotalPnL   string `json:"total_pnl"`
}

// GroupRow is a display row for one strategy group. Rank starts at 0.
type GroupRow struct {
	Rank          int    `json:"rank"`
	FastMA        int    `json:"fast_ma"`
	SlowMA        int    `json:"slow_ma"`
	AvgStopLoss   string `json:"avg_stop_loss"`
	AvgTakeProfit string `json:"avg_take_profit"`
	TopPnL        string `json:"top_pnl"`
	AvgPnL        string `json:"avg_pnl"`
	Frequency     int    `json:"frequency"`
}

// PositionRow is a display row for one simulated trade.
type PositionRow struct {
	Direction  string  `json:"direction"`
	OpenTime   string  `json:"open_time"`
	OpenPrice  float64 `json:"open_price"`
	CloseTime  string  `json:"close_time"`
	ClosePrice float64 `json:"close_price"`
	PnL        string  `json:"pnl"`
}

// TestRow is a display row for a saved test.
type TestRow struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	RunID      string  `json:"run_id"`
	SeriesID   int64   `json:"series_id"`
	FastMA     [2]int  `json:"fast_ma"`
	SlowMA     [2]int  `json:"slow_ma"`
	StopLoss   [2]int  `json:"stop_loss_pct"`
	TakeProfit [2]int  `json:"take_profit_pct"`
	CreatedAt  string  `json:"created_at"`
	Workers    int     `json:"workers"`
	Tests      int     `json:"tests"`
	Persisted  int     `json:"persisted"`
	Failed     int     `json:"failed"`
	Positions  int     `json:"positions"`
	Seconds    float64 `json:"seconds"`
}

// SweepRow is the display form of a SweepReport.
type SweepRow struct {
	TestID    int64   `json:"test_id"`
	RunID     string  `json:"run_id"`
	Workers   int     `json:"workers"`
	Tests     int     `json:"tests"`
	Persisted int     `json:"persisted"`
	Failed    int     `json:"failed"`
	Positions int     `json:"positions"`
	Records   int     `json:"records"`
	Seconds   float64 `json:"seconds"`
	Summary   string  `json:"summary"`
}

// Percent renders a fractional rate as a percentage with one decimal, for
// example 0.05 as "5.0%".
func Percent(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "n/a"
	}
	return decimal.NewFromFloat(v).Shift(2).RoundBank(1).StringFixed(1) + "%"
}

// FormatStrategies converts results to display rows, keeping their order.
func FormatStrategies(results []domain.StrategyResult) []StrategyRow {
	rows := make([]StrategyRow, len(results))
	for i, r := range results {
		rows[i] = StrategyRow{
			ID:         r.ID,
			TestID:     r.TestID,
			FastMA:     r.Params.FastMA,
			SlowMA:     r.Params.SlowMA,
			StopLoss:   Percent(r.Params.StopLoss),
			TakeProfit: Percent(r.Params.TakeProfit),
			TotalPnL:   Percent(r.TotalPnL),
		}
	}
	return rows
}

// FormatGroups converts groups to display rows ranked in their given order.
func FormatGroups(groups []domain.StrategyGroup) []GroupRow {
	rows := make([]GroupRow, len(groups))
	for i, g := range groups {
		rows[i] = GroupRow{
			Rank:          i,
			FastMA:        g.FastMA,
			SlowMA:        g.SlowMA,
			AvgStopLoss:   Percent(g.AvgStopLoss),
			AvgTakeProfit: Percent(g.AvgTakeProfit),
			TopPnL:        Percent(g.TopPnL),
			AvgPnL:        Percent(g.AvgPnL),
			Frequency:     g.Frequency,
		}
	}
	return rows
}

// FormatPositions converts a trade log to display rows.
func FormatPositions(positions []domain.Position) []PositionRow {
	rows := make([]PositionRow, len(positions))
	for i, p := range positions {
		rows[i] = PositionRow{
			Direction:  string(p.Direction),
			OpenTime:   p.OpenTime.UTC().Format(domain.TimeLayout),
			OpenPrice:  p.OpenPrice,
			CloseTime:  p.CloseTime.UTC().Format(domain.TimeLayout),
			ClosePrice: p.ClosePrice,
			PnL:        Percent(p.PnL),
		}
	}
	return rows
}

// FormatTests converts saved tests to display rows.
func FormatTests(tests []domain.Test) []TestRow {
	rows := make([]TestRow, len(tests))
	for i, t := range tests {
		r := t.Ranges
		rows[i] = TestRow{
			ID:         t.ID,
			Name:       t.Name,
			RunID:      t.RunID,
			SeriesID:   t.SeriesID,
			FastMA:     [2]int{r.FastMALow, r.FastMAHigh},
			SlowMA:     [2]int{r.SlowMALow, r.SlowMAHigh},
			StopLoss:   [2]int{r.StopLossLow, r.StopLossHigh},
			TakeProfit: [2]int{r.TakeProfitLow, r.TakeProfitHigh},
			CreatedAt:  t.CreatedAt.UTC().Format(domain.TimeLayout),
			Workers:    t.Workers,
			Tests:      t.Attempted,
			Persisted:  t.Persisted,
			Failed:     t.Failed,
			Positions:  t.Positions,
			Seconds:    t.Elapsed.Seconds(),
		}
	}
	return rows
}

// Records is the number of rows a sweep inserted: the test row, one row per
// persisted result, and one per position.
func Records(rep *domain.SweepReport) int {
	return 1 + rep.Persisted + rep.Positions
}

// FormatSweep converts a sweep report to its display row.
func FormatSweep(rep *domain.SweepReport) SweepRow {
	return SweepRow{
		TestID:    rep.TestID,
		RunID:     rep.RunID,
		Workers:   rep.Workers,
		Tests:     rep.Attempted,
		Persisted: rep.Persisted,
		Failed:    rep.Failed,
		Positions: rep.Positions,
		Records:   Records(rep),
		Seconds:   rep.Elapsed.Seconds(),
		Summary:   SweepSummary(rep),
	}
}

// SweepSummary renders the one-line completion message for a sweep.
func SweepSummary(rep *domain.SweepReport) string {
	secs := int64(rep.Elapsed.Round(time.Second) / time.Second)
	return printer.Sprintf("%d workers completed %d tests and inserted %d records into the database in %d seconds",
		rep.Workers, rep.Attempted, Records(rep), secs)
}
