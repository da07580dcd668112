// Package sweep is the entry point for running a named parameter sweep:
// it validates the request, resolves and checks the series, records the
// test, and hands the grid to the engine.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/saze24/backtester/internal/domain"
	"github.com/saze24/backtester/internal/grid"
	"github.com/saze24/backtester/internal/report"
	"github.com/saze24/backtester/internal/series"
	"github.com/saze24/backtester/internal/store"
)

// Request bounds.
const (
	MaxTestNameLen = 100
	MinPct         = 1
	MaxPct         = 100
)

// Store is the persistence the service needs.
type Store interface {
	store.TestStore
	store.SeriesStore
}

// Runner executes a sweep over a grid.
type Runner interface {
	RunSweep(ctx context.Context, testID int64, tuples []domain.ParameterTuple, s *domain.Series) *domain.SweepReport
}

// Request describes one sweep. A zero SeriesID selects the latest series for
// the service's default instrument and timeframe.
type Request struct {
	TestName string
	Ranges   domain.Ranges
	SeriesID int64
}

// Payload is the wire form of a Request. Each range is an inclusive
// [low, high] pair; percentages are whole points.
type Payload struct {
	Name          string `json:"name"`
	SeriesID      int64  `json:"series_id,omitempty"`
	FastMA        [2]int `json:"fast_ma"`
	SlowMA        [2]int `json:"slow_ma"`
	StopLossPct   [2]int `json:"stop_loss_pct"`
	TakeProfitPct [2]int `json:"take_profit_pct"`
}

// Request converts p to a Request.
func (p Payload) Request() Request {
	return Request{
		TestName: p.Name,
		SeriesID: p.SeriesID,
		Ranges: domain.Ranges{
			FastMALow: p.FastMA[0], FastMAHigh: p.FastMA[1],
			SlowMALow: p.SlowMA[0], SlowMAHigh: p.SlowMA[1],
			StopLossLow: p.StopLossPct[0], StopLossHigh: p.StopLossPct[1],
			TakeProfitLow: p.TakeProfitPct[0], TakeProfitHigh: p.TakeProfitPct[1],
		},
	}
}

// Service runs sweeps.
type Service struct {
	store      Store
	runner     Runner
	instrument string
	timeframe  string
	log        *slog.Logger

	mu    sync.Mutex
	cache map[int64]*domain.Series
}

// NewService creates a Service. instrument and timeframe name the series
// used when a request does not pick one.
func NewService(st Store, r Runner, instrument, timeframe string) *Service {
	return &Service{
		store:      st,
		runner:     r,
		instrument: instrument,
		timeframe:  timeframe,
		log:        slog.Default().With("component", "sweep"),
		cache:      make(map[int64]*domain.Series),
	}
}

// Run executes req. Validation failures, a duplicate name, and an invalid
// series are reported before anything is written. Unit failures during the
// sweep are counted in the report, not returned.
func (s *Service) Run(ctx context.Context, req Request) (*domain.SweepReport, error) {
	name := strings.TrimSpace(req.TestName)
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ValidateRanges(req.Ranges); err != nil {
		return nil, err
	}

	if _, err := s.store.GetTestByName(ctx, name); err == nil {
		return nil, fmt.Errorf("test %q: %w", name, domain.ErrDuplicateTestName)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	ser, err := s.series(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}
	if err := series.Check(ser); err != nil {
		return nil, err
	}

	tuples, err := grid.Generate(req.Ranges)
	if err != nil {
		return nil, err
	}

	t := &domain.Test{
		Name:     name,
		RunID:    uuid.NewString(),
		SeriesID: ser.ID,
		Ranges:   req.Ranges,
	}
	testID, err := s.store.CreateTest(ctx, t)
	if err != nil {
		return nil, err
	}

	s.log.Info("running sweep",
		"test", name,
		"test_id", testID,
		"run_id", t.RunID,
		"series_id", ser.ID,
		"tuples", len(tuples),
		"candidates", grid.Count(req.Ranges),
	)

	rep := s.runner.RunSweep(ctx, testID, tuples, ser)
	rep.RunID = t.RunID

	if err := s.store.FinishTest(context.WithoutCancel(ctx), rep); err != nil {
		return rep, fmt.Errorf("recording sweep metadata: %w", err)
	}
	s.log.Info(report.SweepSummary(rep), "test_id", testID, "failed", rep.Failed)
	return rep, nil
}

// series returns the series for id, loading it once per id.
func (s *Service) series(ctx context.Context, id int64) (*domain.Series, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != 0 {
		if ser, ok := s.cache[id]; ok {
			return ser, nil
		}
	}

	var (
		ser *domain.Series
		err error
	)
	if id == 0 {
		ser, err = s.store.LatestSeries(ctx, s.instrument, s.timeframe)
	} else {
		ser, err = s.store.LoadSeries(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading series: %w", err)
	}
	s.cache[ser.ID] = ser
	return ser, nil
}

// ValidateName rejects empty and overlong test names.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", domain.ErrInvalidTestName)
	}
	if utf8.RuneCountInString(name) > MaxTestNameLen {
		return fmt.Errorf("name longer than %d characters: %w", MaxTestNameLen, domain.ErrInvalidTestName)
	}
	return nil
}

// ValidateRanges checks that every low bound is at most its high bound,
// that moving-average periods lie within the precomputed periods, and that
// percentages lie within [MinPct, MaxPct].
func ValidateRanges(r domain.Ranges) error {
	if err := grid.Check(r); err != nil {
		return err
	}

	bounds := []struct {
		name      string
		low, high int
		min, max  int
	}{
		{"fast_ma", r.FastMALow, r.FastMAHigh, domain.MinMAPeriod, domain.MaxMAPeriod},
		{"slow_ma", r.SlowMALow, r.SlowMAHigh, domain.MinMAPeriod, domain.MaxMAPeriod},
		{"stop_loss", r.StopLossLow, r.StopLossHigh, MinPct, MaxPct},
		{"take_profit", r.TakeProfitLow, r.TakeProfitHigh, MinPct, MaxPct},
	}
	for _, b := range bounds {
		if b.low < b.min || b.high > b.max {
			return fmt.Errorf("%s: [%d, %d] outside [%d, %d]: %w",
				b.name, b.low, b.high, b.min, b.max, domain.ErrInvalidRange)
		}
	}
	return nil
}
