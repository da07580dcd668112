// Package api exposes sweeps and their results to remote callers. Backend
// holds the query logic shared by the gRPC service here and the HTTP API in
// internal/httpapi.
package api

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/saze24/backtester/internal/domain"
	"github.com/saze24/backtester/internal/report"
	"github.com/saze24/backtester/internal/store"
	"github.com/saze24/backtester/internal/sweep"
)

// Runner starts a sweep.
type Runner interface {
	Run(ctx context.Context, req sweep.Request) (*domain.SweepReport, error)
}

// Store is the persistence Backend reads from.
type Store interface {
	store.TestStore
	store.ResultStore
}

// Limits are the ranking defaults applied when a request leaves them unset.
type Limits struct {
	TopLimit     int
	GroupTopN    int
	MinFrequency int
}

// DefaultLimits returns the store defaults.
func DefaultLimits() Limits {
	return Limits{
		TopLimit:     store.DefaultTopLimit,
		GroupTopN:    store.DefaultGroupTopN,
		MinFrequency: store.DefaultMinFrequency,
	}
}

// PositionsView is a result with its trade log.
type PositionsView struct {
	Result    report.StrategyRow   `json:"result"`
	Positions []report.PositionRow `json:"positions"`
}

// Backend answers sweep and ranking requests with display rows.
type Backend struct {
	runner Runner
	store  Store
	limits Limits
	log    *slog.Logger
}

// NewBackend creates a Backend. Zero fields of limits take the store
// defaults.
func NewBackend(r Runner, st Store, limits Limits) *Backend {
	def := DefaultLimits()
	if limits.TopLimit <= 0 {
		limits.TopLimit = def.TopLimit
	}
	if limits.GroupTopN <= 0 {
		limits.GroupTopN = def.GroupTopN
	}
	if limits.MinFrequency <= 0 {
		limits.MinFrequency = def.MinFrequency
	}
	return &Backend{
		runner: r,
		store:  st,
		limits: limits,
		log:    slog.Default().With("component", "api"),
	}
}

// RunSweep runs the sweep described by p.
func (b *Backend) RunSweep(ctx context.Context, p sweep.Payload) (report.SweepRow, error) {
	rep, err := b.runner.Run(ctx, p.Request())
	if err != nil {
		return report.SweepRow{}, err
	}
	return report.FormatSweep(rep), nil
}

// ListTests returns every saved test, newest first.
func (b *Backend) ListTests(ctx context.Context) ([]report.TestRow, error) {
	tests, err := b.store.ListTests(ctx)
	if err != nil {
		return nil, err
	}
	return report.FormatTests(tests), nil
}

// GetTest returns one saved test.
func (b *Backend) GetTest(ctx context.Context, id int64) (report.TestRow, error) {
	t, err := b.store.GetTest(ctx, id)
	if err != nil {
		return report.TestRow{}, err
	}
	return report.FormatTests([]domain.Test{*t})[0], nil
}

// TopStrategies returns the best results of a test. limit <= 0 selects the
// configured default.
func (b *Backend) TopStrategies(ctx context.Context, testID int64, limit int) ([]report.StrategyRow, error) {
	if _, err := b.store.GetTest(ctx, testID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = b.limits.TopLimit
	}
	results, err := b.store.TopStrategies(ctx, testID, limit)
	if err != nil {
		return nil, err
	}
	return report.FormatStrategies(results), nil
}

// TopGroupedStrategies returns the ranked moving-average pair groups of a
// test. Non-positive topN and negative minFrequency select the configured
// defaults.
func (b *Backend) TopGroupedStrategies(ctx context.Context, testID int64, topN, minFrequency int) ([]report.GroupRow, error) {
	if _, err := b.store.GetTest(ctx, testID); err != nil {
		return nil, err
	}
	if topN <= 0 {
		topN = b.limits.GroupTopN
	}
	if minFrequency < 0 {
		minFrequency = b.limits.MinFrequency
	}
	groups, err := b.store.TopGroupedStrategies(ctx, testID, topN, minFrequency)
	if err != nil {
		return nil, err
	}
	return report.FormatGroups(groups), nil
}

// GroupDetails returns every result of a test using one moving-average pair.
func (b *Backend) GroupDetails(ctx context.Context, testID int64, fastMA, slowMA int) ([]report.StrategyRow, error) {
	if _, err := b.store.GetTest(ctx, testID); err != nil {
		return nil, err
	}
	if fastMA <= 0 || slowMA <= 0 {
		return nil, fmt.Errorf("moving-average pair %d/%d: %w", fastMA, slowMA, domain.ErrInvalidRange)
	}
	results, err := b.store.GroupDetails(ctx, testID, fastMA, slowMA)
	if err != nil {
		return nil, err
	}
	return report.FormatStrategies(results), nil
}

// Positions returns a result with its trade log.
func (b *Backend) Positions(ctx context.Context, resultID int64) (PositionsView, error) {
	r, err := b.store.GetResult(ctx, resultID)
	if err != nil {
		return PositionsView{}, err
	}
	positions, err := b.store.Positions(ctx, resultID)
	if err != nil {
		return PositionsView{}, err
	}
	return PositionsView{
		Result:    report.FormatStrategies([]domain.StrategyResult{*r})[0],
		Positions: report.FormatPositions(positions),
	}, nil
}

// DeleteTest removes a test with its results.
func (b *Backend) DeleteTest(ctx context.Context, id int64) error {
	if err := b.store.DeleteTest(ctx, id); err != nil {
		return err
	}
	b.log.Info("test deleted", "test_id", id)
	return nil
}
