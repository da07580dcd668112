package report

import (
	"math"
	"testing"
	"time"

	"github.com/saze24/backtester/internal/domain"
)

func TestPercent(t *testing.T) {
	cases := map[float64]string{
		0.05:    "5.0%",
		0.1167:  "11.7%",
		-0.02:   "-2.0%",
		0:       "0.0%",
		0.0123:  "1.2%",
		1.25:    "125.0%",
		0.00125: "0.1%",
	}
	for in, want := range cases {
		if got := Percent(in); got != want {
			t.Errorf("Percent(%v) = %q, want %q", in, got, want)
		}
	}
	if got := Percent(math.NaN()); got != "n/a" {
		t.Errorf("Percent(NaN) = %q, want n/a", got)
	}
}

func TestFormatStrategies(t *testing.T) {
	rows := FormatStrategies([]domain.StrategyResult{
		{ID: 3, TestID: 1, Params: domain.ParameterTuple{FastMA: 5, SlowMA: 10, StopLoss: 0.02, TakeProfit: 0.04}, TotalPnL: 0.31},
	})
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	want := StrategyRow{ID: 3, TestID: 1, FastMA: 5, SlowMA: 10, StopLoss: "2.0%", TakeProfit: "4.0%", TotalPnL: "31.0%"}
	if rows[0] != want {
		t.Errorf("row = %+v, want %+v", rows[0], want)
	}
}

func TestFormatGroupsRanks(t *testing.T) {
	rows := FormatGroups([]domain.StrategyGroup{
		{FastMA: 5, SlowMA: 10, AvgStopLoss: 0.02, AvgTakeProfit: 0.04, AvgPnL: 0.1167, TopPnL: 0.2, Frequency: 3},
		{FastMA: 3, SlowMA: 8, AvgPnL: 0.05, Frequency: 4},
	})
	if rows[0].Rank != 0 || rows[1].Rank != 1 {
		t.Errorf("ranks = %d, %d", rows[0].Rank, rows[1].Rank)
	}
	if rows[0].AvgPnL != "11.7%" || rows[0].TopPnL != "20.0%" || rows[0].Frequency != 3 {
		t.Errorf("row 0 = %+v", rows[0])
	}
}

func TestFormatPositions(t *testing.T) {
	t0 := time.Date(2021, 6, 5, 4, 0, 0, 0, time.UTC)
	rows := FormatPositions([]domain.Position{
		{Direction: domain.DirectionShort, OpenTime: t0, OpenPrice: 37432.5, CloseTime: t0.Add(4 * time.Hour), ClosePrice: 35935, PnL: 0.04},
	})
	want := PositionRow{Direction: "short", OpenTime: "2021-06-05 04:00:00", OpenPrice: 37432.5, CloseTime: "2021-06-05 08:00:00", ClosePrice: 35935, PnL: "4.0%"}
	if rows[0] != want {
		t.Errorf("row = %+v, want %+v", rows[0], want)
	}
}

func TestFormatTests(t *testing.T) {
	rows := FormatTests([]domain.Test{{
		ID: 1, Name: "june", Ranges: domain.Ranges{FastMALow: 3, FastMAHigh: 8},
		Attempted: 120, Elapsed: 2500 * time.Millisecond,
	}})
	if rows[0].FastMA != [2]int{3, 8} || rows[0].Tests != 120 || rows[0].Seconds != 2.5 {
		t.Errorf("row = %+v", rows[0])
	}
}

func TestSweepSummary(t *testing.T) {
	rep := &domain.SweepReport{Workers: 8, Attempted: 12480, Persisted: 12480, Positions: 99500, Elapsed: 93*time.Second + 400*time.Millisecond}
	want := "8 workers completed 12,480 tests and inserted 111,981 records into the database in 93 seconds"
	if got := SweepSummary(rep); got != want {
		t.Errorf("SweepSummary =\n  %q\nwant\n  %q", got, want)
	}
}

func TestFormatSweep(t *testing.T) {
	rep := &domain.SweepReport{TestID: 7, RunID: "r", Workers: 2, Attempted: 10, Persisted: 9, Failed: 1, Positions: 30, Elapsed: 1500 * time.Millisecond}
	row := FormatSweep(rep)
	if row.TestID != 7 || row.Tests != 10 || row.Failed != 1 || row.Records != 40 || row.Seconds != 1.5 {
		t.Errorf("row = %+v", row)
	}
	if row.Summary != "2 workers completed 10 tests and inserted 40 records into the database in 2 seconds" {
		t.Errorf("summary = %q", row.Summary)
	}
}
