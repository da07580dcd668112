package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/saze24/backtester/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("xbtusd", "4h", 2021)
	want := filepath.Join("/data", "XBTUSD", "4H", "2021.parquet")
	if bp != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, want)
	}

	bp = ps.barPath("BTC/USD", "4H", 2021)
	if !strings.Contains(bp, "BTC-USD") {
		t.Errorf("barPath should replace the pair separator: %s", bp)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.Bar{
		{Timestamp: time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), Open: 37432.5, High: 37900, Low: 37100, Close: 37650.5, Volume: 5e6},
		{Timestamp: time.Date(2021, 6, 1, 4, 0, 0, 0, time.UTC), Open: 37650.5, High: 37800, Low: 37400, Close: 37500, Volume: 4e6},
	}
	if err := ps.WriteBars(ctx, "XBTUSD", "4H", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "XBTUSD", "4H", start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 37650.5 || got[1].Close != 37500 {
		t.Errorf("closes = %v/%v, want 37650.5/37500", got[0].Close, got[1].Close)
	}
	if got[0].Symbol != "XBTUSD" {
		t.Errorf("Symbol = %q, want XBTUSD", got[0].Symbol)
	}
	if !got[1].Timestamp.Equal(bars[1].Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got[1].Timestamp, bars[1].Timestamp)
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	ts := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)

	if err := ps.WriteBars(ctx, "XBTUSD", "4H", []domain.Bar{
		{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5},
	}); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}
	// Same timestamp replaces, new timestamp appends.
	if err := ps.WriteBars(ctx, "XBTUSD", "4H", []domain.Bar{
		{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.75},
		{Timestamp: ts.Add(4 * time.Hour), Open: 1.75, High: 2, Low: 1, Close: 1.8},
	}); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	got, err := ps.ReadBars(ctx, "XBTUSD", "4H", ts, ts.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 1.75 {
		t.Errorf("merged Close = %v, want 1.75", got[0].Close)
	}
}

func TestParquetStoreReadBarsOpenWindow(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()

	bars := []domain.Bar{
		{Timestamp: time.Date(2020, 12, 31, 20, 0, 0, 0, time.UTC), Open: 1, High: 1, Low: 1, Close: 1},
		{Timestamp: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), Open: 2, High: 2, Low: 2, Close: 2},
		{Timestamp: time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC), Open: 3, High: 3, Low: 3, Close: 3},
	}
	if err := ps.WriteBars(ctx, "XBTUSD", "4H", bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	all, err := ps.ReadBars(ctx, "XBTUSD", "4H", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(all) != 3 || all[0].Close != 1 || all[2].Close != 3 {
		t.Errorf("open read = %+v", all)
	}

	from, err := ps.ReadBars(ctx, "XBTUSD", "4H", bars[1].Timestamp, time.Time{})
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(from) != 2 || from[0].Close != 2 {
		t.Errorf("read from 2021 = %+v", from)
	}

	none, err := ps.ReadBars(ctx, "ETHUSD", "4H", time.Time{}, time.Time{})
	if err != nil || len(none) != 0 {
		t.Errorf("uncached instrument = %v, %v", none, err)
	}
}

func TestParquetStoreListInstruments(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	bar := []domain.Bar{{Timestamp: time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC), Open: 1, High: 1, Low: 1, Close: 1}}

	for _, inst := range []string{"XBTUSD", "BTC/USD"} {
		if err := ps.WriteBars(ctx, inst, "4H", bar); err != nil {
			t.Fatalf("WriteBars %s: %v", inst, err)
		}
	}

	got, err := ps.ListInstruments(ctx)
	if err != nil {
		t.Fatalf("ListInstruments: %v", err)
	}
	if len(got) != 2 || got[0] != "BTC/USD" || got[1] != "XBTUSD" {
		t.Errorf("ListInstruments = %v, want [BTC/USD XBTUSD]", got)
	}

	empty := NewParquetStore(filepath.Join(t.TempDir(), "missing"))
	if got, err := empty.ListInstruments(ctx); err != nil || len(got) != 0 {
		t.Errorf("ListInstruments on missing dir = %v, %v", got, err)
	}
}

func TestParquetExportResults(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	path := filepath.Join(ps.DataDir, "exports", "results.parquet")

	in := []domain.StrategyResult{
		{ID: 1, TestID: 7, Params: domain.ParameterTuple{FastMA: 5, SlowMA: 10, StopLoss: 0.02, TakeProfit: 0.05}, TotalPnL: 0.31},
		{ID: 2, TestID: 7, Params: domain.ParameterTuple{FastMA: 6, SlowMA: 12, StopLoss: 0.01, TakeProfit: 0.03}, TotalPnL: -0.04},
	}
	if err := ps.ExportResults(path, in); err != nil {
		t.Fatalf("ExportResults: %v", err)
	}

	got, err := ReadResults(path)
	if err != nil {
		t.Fatalf("ReadResults: %v", err)
	}
	if len(got) != len(in) {
		t.Fatalf("ReadResults returned %d rows, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i] != in[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], in[i])
		}
	}
}

// ---------------------------------------------------------------------------
// SQLite
// ---------------------------------------------------------------------------

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "backtester.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() returned error: %v", err)
		}
	})
	return s
}

func createTest(t *testing.T, s *SQLiteStore, name string) int64 {
	t.Helper()
	id, err := s.CreateTest(context.Background(), &domain.Test{
		Name:  name,
		RunID: "run-" + name,
		Ranges: domain.Ranges{
			FastMALow: 3, FastMAHigh: 8, SlowMALow: 5, SlowMAHigh: 12,
			StopLossLow: 1, StopLossHigh: 4, TakeProfitLow: 2, TakeProfitHigh: 6,
		},
	})
	if err != nil {
		t.Fatalf("CreateTest(%q): %v", name, err)
	}
	return id
}

func saveResult(t *testing.T, s *SQLiteStore, testID int64, fast, slow int, sl, tp, pnl float64, positions ...domain.Position) int64 {
	t.Helper()
	id, err := s.SaveRunResult(context.Background(), testID, &domain.RunResult{
		Params:    domain.ParameterTuple{FastMA: fast, SlowMA: slow, StopLoss: sl, TakeProfit: tp},
		TotalPnL:  pnl,
		Positions: positions,
	})
	if err != nil {
		t.Fatalf("SaveRunResult: %v", err)
	}
	return id
}

func TestSQLiteStoreOpen(t *testing.T) {
	s := openTestStore(t)
	if err := s.db.Ping(); err != nil {
		t.Fatalf("db.Ping() returned error: %v", err)
	}

	var mode string
	if err := s.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestCreateTestDuplicateName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id := createTest(t, s, "btc-june")
	if id == 0 {
		t.Fatal("CreateTest returned zero id")
	}

	_, err := s.CreateTest(ctx, &domain.Test{Name: "btc-june", RunID: "other"})
	if !errors.Is(err, domain.ErrDuplicateTestName) {
		t.Fatalf("CreateTest duplicate error = %v, want ErrDuplicateTestName", err)
	}

	tests, err := s.ListTests(ctx)
	if err != nil {
		t.Fatalf("ListTests: %v", err)
	}
	if len(tests) != 1 {
		t.Errorf("ListTests returned %d tests, want 1", len(tests))
	}
}

func TestUniqueViolationMapping(t *testing.T) {
	s := openTestStore(t)
	createTest(t, s, "dup")

	// Bypass the pre-check to hit the constraint directly.
	_, err := s.db.Exec(`INSERT INTO tests (name, run_id, fast_ma_low, fast_ma_high, slow_ma_low, slow_ma_high,
		stop_loss_low, stop_loss_high, take_profit_low, take_profit_high, created_at)
		VALUES ('dup', 'x', 1, 1, 1, 1, 1, 1, 1, 1, '')`)
	if !isUniqueViolation(err) {
		t.Errorf("isUniqueViolation(%v) = false, want true", err)
	}
}

func TestGetTestAndFinish(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id := createTest(t, s, "meta")

	rep := &domain.SweepReport{TestID: id, Workers: 4, Attempted: 10, Persisted: 9, Failed: 1, Positions: 42, Elapsed: 1500 * time.Millisecond}
	if err := s.FinishTest(ctx, rep); err != nil {
		t.Fatalf("FinishTest: %v", err)
	}

	got, err := s.GetTest(ctx, id)
	if err != nil {
		t.Fatalf("GetTest: %v", err)
	}
	if got.Name != "meta" || got.RunID != "run-meta" {
		t.Errorf("GetTest = %+v", got)
	}
	if got.Workers != 4 || got.Attempted != 10 || got.Persisted != 9 || got.Failed != 1 || got.Positions != 42 {
		t.Errorf("sweep metadata = %+v", got)
	}
	if got.Elapsed != 1500*time.Millisecond {
		t.Errorf("Elapsed = %v, want 1.5s", got.Elapsed)
	}
	if got.Ranges.SlowMAHigh != 12 || got.Ranges.TakeProfitHigh != 6 {
		t.Errorf("Ranges = %+v", got.Ranges)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	byName, err := s.GetTestByName(ctx, "meta")
	if err != nil || byName.ID != id {
		t.Errorf("GetTestByName = %+v, %v", byName, err)
	}

	if _, err := s.GetTest(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetTest(999) = %v, want ErrNotFound", err)
	}
	if err := s.FinishTest(ctx, &domain.SweepReport{TestID: 999}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("FinishTest(999) = %v, want ErrNotFound", err)
	}
}

func TestSaveRunResultRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	testID := createTest(t, s, "roundtrip")

	t0 := time.Date(2021, 6, 5, 4, 0, 0, 0, time.UTC)
	positions := []domain.Position{
		{Direction: domain.DirectionShort, OpenTime: t0, OpenPrice: 37432.5, CloseTime: t0.Add(4 * time.Hour), ClosePrice: 35935, PnL: 0.04},
		{Direction: domain.DirectionLong, OpenTime: t0.Add(24 * time.Hour), OpenPrice: 36000, CloseTime: t0.Add(48 * time.Hour), ClosePrice: 36500, PnL: 0.0139},
	}
	resultID := saveResult(t, s, testID, 5, 10, 0.02, 0.04, 0.05, positions...)

	top, err := s.TopStrategies(ctx, testID, 0)
	if err != nil {
		t.Fatalf("TopStrategies: %v", err)
	}
	if len(top) != 1 || top[0].TotalPnL != 0.05 || top[0].ID != resultID {
		t.Fatalf("TopStrategies = %+v", top)
	}
	if top[0].Params != (domain.ParameterTuple{FastMA: 5, SlowMA: 10, StopLoss: 0.02, TakeProfit: 0.04}) {
		t.Errorf("Params = %+v", top[0].Params)
	}

	got, err := s.Positions(ctx, resultID)
	if err != nil {
		t.Fatalf("Positions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Positions returned %d, want 2", len(got))
	}
	for i := range positions {
		if got[i] != positions[i] {
			t.Errorf("position %d = %+v, want %+v", i, got[i], positions[i])
		}
	}

	if _, err := s.Positions(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Positions(999) = %v, want ErrNotFound", err)
	}
}

func TestTopStrategiesOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	testID := createTest(t, s, "ranking")
	other := createTest(t, s, "other")

	first := saveResult(t, s, testID, 3, 5, 0.01, 0.02, 0.10)
	saveResult(t, s, testID, 3, 6, 0.01, 0.02, -0.05)
	best := saveResult(t, s, testID, 4, 6, 0.01, 0.02, 0.30)
	tie := saveResult(t, s, testID, 4, 7, 0.01, 0.02, 0.10)
	saveResult(t, s, other, 4, 7, 0.01, 0.02, 0.99)

	top, err := s.TopStrategies(ctx, testID, 3)
	if err != nil {
		t.Fatalf("TopStrategies: %v", err)
	}
	wantIDs := []int64{best, first, tie}
	if len(top) != len(wantIDs) {
		t.Fatalf("TopStrategies returned %d rows, want %d", len(top), len(wantIDs))
	}
	for i, id := range wantIDs {
		if top[i].ID != id {
			t.Errorf("rank %d = result %d, want %d", i, top[i].ID, id)
		}
	}
}

func TestTopGroupedStrategies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	testID := createTest(t, s, "groups")

	saveResult(t, s, testID, 5, 10, 0.01, 0.03, 0.10)
	saveResult(t, s, testID, 5, 10, 0.02, 0.04, 0.05)
	saveResult(t, s, testID, 5, 10, 0.03, 0.05, 0.20)
	// A pair seen twice does not pass min frequency 2.
	saveResult(t, s, testID, 3, 8, 0.01, 0.02, 0.50)
	saveResult(t, s, testID, 3, 8, 0.01, 0.03, 0.40)

	groups, err := s.TopGroupedStrategies(ctx, testID, 200, 2)
	if err != nil {
		t.Fatalf("TopGroupedStrategies: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1: %+v", len(groups), groups)
	}

	g := groups[0]
	if g.FastMA != 5 || g.SlowMA != 10 || g.Frequency != 3 {
		t.Errorf("group = %+v", g)
	}
	if g.AvgPnL != 0.1167 {
		t.Errorf("AvgPnL = %v, want 0.1167", g.AvgPnL)
	}
	if g.TopPnL != 0.20 {
		t.Errorf("TopPnL = %v, want 0.20", g.TopPnL)
	}
	if g.AvgStopLoss != 0.02 || g.AvgTakeProfit != 0.04 {
		t.Errorf("averages = %v/%v, want 0.02/0.04", g.AvgStopLoss, g.AvgTakeProfit)
	}

	// Restricting to the top 4 leaves the 5/10 pair with only two entries.
	groups, err = s.TopGroupedStrategies(ctx, testID, 4, 2)
	if err != nil {
		t.Fatalf("TopGroupedStrategies: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("got %d groups within top 4, want 0", len(groups))
	}

	details, err := s.GroupDetails(ctx, testID, 5, 10)
	if err != nil {
		t.Fatalf("GroupDetails: %v", err)
	}
	if len(details) != 3 || details[0].TotalPnL != 0.20 {
		t.Errorf("GroupDetails = %+v", details)
	}
}

func TestDeleteTestCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	testID := createTest(t, s, "cascade")

	pos := domain.Position{Direction: domain.DirectionLong, OpenTime: time.Now().UTC(), OpenPrice: 1, CloseTime: time.Now().UTC(), ClosePrice: 1.1, PnL: 0.1}
	resultID := saveResult(t, s, testID, 3, 5, 0.01, 0.02, 0.1, pos)

	if err := s.DeleteTest(ctx, testID); err != nil {
		t.Fatalf("DeleteTest: %v", err)
	}
	if _, err := s.GetResult(ctx, resultID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetResult after delete = %v, want ErrNotFound", err)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM positions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("%d positions survived the delete", n)
	}
	if err := s.DeleteTest(ctx, testID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second DeleteTest = %v, want ErrNotFound", err)
	}

	// The name is free again.
	createTest(t, s, "cascade")
}

func TestConcurrentSaveRunResult(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	testID := createTest(t, s, "concurrent")

	const n = 40
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.SaveRunResult(ctx, testID, &domain.RunResult{
				Params:   domain.ParameterTuple{FastMA: 3, SlowMA: 4 + i, StopLoss: 0.01, TakeProfit: 0.02},
				TotalPnL: float64(i) / 100,
				Positions: []domain.Position{
					{Direction: domain.DirectionLong, OpenTime: time.Now().UTC(), OpenPrice: 1, CloseTime: time.Now().UTC(), ClosePrice: 1, PnL: 0},
				},
			})
			if err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("SaveRunResult: %v", err)
	}

	top, err := s.TopStrategies(ctx, testID, 100)
	if err != nil {
		t.Fatalf("TopStrategies: %v", err)
	}
	if len(top) != n {
		t.Errorf("persisted %d results, want %d", len(top), n)
	}
}

func TestSeriesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
	ser := &domain.Series{Instrument: "XBTUSD", Timeframe: "4H", Interval: 4 * time.Hour}
	for i := 0; i < 3; i++ {
		p := domain.PricePoint{Timestamp: t0.Add(time.Duration(i) * 4 * time.Hour), Open: 100, High: 101, Low: 99, Close: 100.5}
		for j := range p.MA {
			p.MA[j] = math.NaN()
		}
		p.MA[0] = 100.25
		ser.Points = append(ser.Points, p)
	}

	id, err := s.SaveSeries(ctx, ser)
	if err != nil {
		t.Fatalf("SaveSeries: %v", err)
	}
	if ser.ID != id {
		t.Errorf("SaveSeries did not set ID")
	}

	got, err := s.LatestSeries(ctx, "xbtusd", "4h")
	if err != nil {
		t.Fatalf("LatestSeries: %v", err)
	}
	if got.ID != id || got.Len() != 3 || got.Interval != 4*time.Hour {
		t.Fatalf("LatestSeries = id %d len %d interval %v", got.ID, got.Len(), got.Interval)
	}
	if !got.Start().Equal(t0) {
		t.Errorf("Start() = %v, want %v", got.Start(), t0)
	}
	if got.Points[1].MovingAverage(3) != 100.25 {
		t.Errorf("MA3 = %v, want 100.25", got.Points[1].MovingAverage(3))
	}
	if !math.IsNaN(got.Points[1].MovingAverage(20)) {
		t.Errorf("MA20 = %v, want NaN", got.Points[1].MovingAverage(20))
	}

	if _, err := s.LoadSeries(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("LoadSeries(999) = %v, want ErrNotFound", err)
	}
	if _, err := s.LatestSeries(ctx, "ETHUSD", "4H"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("LatestSeries(ETHUSD) = %v, want ErrNotFound", err)
	}
}
