// Package store defines storage interfaces for persisting and retrieving
// sweep tests, strategy results, positions, and price series.
package store

import (
	"context"
	"time"

	"github.com/saze24/backtester/internal/domain"
)

// Query defaults.
const (
	DefaultTopLimit     = 50
	DefaultGroupTopN    = 200
	DefaultMinFrequency = 3
)

// ResultWriter persists the outcome of one simulated parameter tuple.
type ResultWriter interface {
	// SaveRunResult stores r and all of its positions atomically under
	// testID and returns the new result ID.
	SaveRunResult(ctx context.Context, testID int64, r *domain.RunResult) (int64, error)
}

// TestStore persists and retrieves named sweeps.
type TestStore interface {
	// CreateTest inserts t and returns its ID. It fails with
	// domain.ErrDuplicateTestName when the name is taken.
	CreateTest(ctx context.Context, t *domain.Test) (int64, error)

	// FinishTest records the execution metadata of a completed sweep.
	FinishTest(ctx context.Context, r *domain.SweepReport) error

	// GetTest retrieves a test by ID.
	GetTest(ctx context.Context, id int64) (*domain.Test, error)

	// GetTestByName retrieves a test by its unique name.
	GetTestByName(ctx context.Context, name string) (*domain.Test, error)

	// ListTests returns all tests, newest first.
	ListTests(ctx context.Context) ([]domain.Test, error)

	// DeleteTest removes a test with its results and positions.
	DeleteTest(ctx context.Context, id int64) error
}

// ResultStore answers ranking queries over persisted results.
type ResultStore interface {
	ResultWriter

	// TopStrategies returns up to limit results of a test ordered by total
	// PnL descending.
	TopStrategies(ctx context.Context, testID int64, limit int) ([]domain.StrategyResult, error)

	// TopGroupedStrategies groups the topN results of a test by moving
	// average pair and returns groups seen more than minFrequency times,
	// ordered by average PnL descending.
	TopGroupedStrategies(ctx context.Context, testID int64, topN, minFrequency int) ([]domain.StrategyGroup, error)

	// GroupDetails returns every result of a test using the given pair.
	GroupDetails(ctx context.Context, testID int64, fastMA, slowMA int) ([]domain.StrategyResult, error)

	// GetResult retrieves a single result by ID.
	GetResult(ctx context.Context, id int64) (*domain.StrategyResult, error)

	// Positions returns the trade log of a result ordered by open time.
	Positions(ctx context.Context, resultID int64) ([]domain.Position, error)
}

// SeriesStore persists built price series.
type SeriesStore interface {
	// SaveSeries stores s and returns its ID.
	SaveSeries(ctx context.Context, s *domain.Series) (int64, error)

	// LoadSeries retrieves a series by ID.
	LoadSeries(ctx context.Context, id int64) (*domain.Series, error)

	// LatestSeries retrieves the most recently saved series for an
	// instrument and timeframe.
	LatestSeries(ctx context.Context, instrument, timeframe string) (*domain.Series, error)
}

// BarStore caches raw OHLCV bars.
type BarStore interface {
	// WriteBars persists bars for an instrument and timeframe, replacing any
	// stored bar with the same timestamp.
	WriteBars(ctx context.Context, instrument, timeframe string, bars []domain.Bar) error

	// ReadBars returns cached bars within [start, end] ordered by timestamp.
	ReadBars(ctx context.Context, instrument, timeframe string, start, end time.Time) ([]domain.Bar, error)

	// ListInstruments returns all instruments with cached bars.
	ListInstruments(ctx context.Context) ([]string, error)
}
