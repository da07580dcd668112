// Package engine runs parameter sweeps: every tuple is simulated against a
// shared read-only series on a bounded pool of workers and its result is
// persisted through a ResultWriter.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/saze24/backtester/internal/domain"
	"github.com/saze24/backtester/internal/store"
	"github.com/saze24/backtester/internal/strategy"
)

// simulateFunc is the unit of work applied to each tuple.
type simulateFunc func(domain.ParameterTuple, *domain.Series) domain.RunResult

// Engine fans sweep units out over a fixed number of workers.
type Engine struct {
	writer   store.ResultWriter
	workers  int
	simulate simulateFunc
	log      *slog.Logger
}

// NewEngine creates an Engine that persists through w. A workers value of
// zero or less sizes the pool to the machine's physical core count.
func NewEngine(w store.ResultWriter, workers int) *Engine {
	if workers <= 0 {
		workers = PhysicalCores()
	}
	return &Engine{
		writer:   w,
		workers:  workers,
		simulate: strategy.Simulate,
		log:      slog.Default().With("component", "engine"),
	}
}

// PhysicalCores returns the number of physical CPU cores, falling back to
// the logical count when it cannot be detected.
func PhysicalCores() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Workers returns the pool size.
func (e *Engine) Workers() int { return e.workers }

// RunSweep simulates every tuple against s and persists each result under
// testID. It blocks until every tuple has been attempted. A failing unit is
// logged and skipped; it is never retried and never stops the sweep. Once
// started a sweep runs to completion: ctx only carries values to the writer.
func (e *Engine) RunSweep(ctx context.Context, testID int64, tuples []domain.ParameterTuple, s *domain.Series) *domain.SweepReport {
	ctx = context.WithoutCancel(ctx)

	var (
		persisted atomic.Int64
		failed    atomic.Int64
		positions atomic.Int64
		start     = time.Now()
	)

	e.log.Info("sweep started", "test_id", testID, "tuples", len(tuples), "workers", e.workers)

	var g errgroup.Group
	g.SetLimit(e.workers)
	for _, p := range tuples {
		g.Go(func() error {
			n, err := e.runUnit(ctx, testID, p, s)
			if err != nil {
				failed.Add(1)
				e.log.Error("sweep unit failed",
					"test_id", testID,
					"fast_ma", p.FastMA,
					"slow_ma", p.SlowMA,
					"stop_loss", p.StopLoss,
					"take_profit", p.TakeProfit,
					"err", err,
				)
				return nil
			}
			persisted.Add(1)
			positions.Add(int64(n))
			return nil
		})
	}
	_ = g.Wait()

	rep := &domain.SweepReport{
		TestID:    testID,
		Workers:   e.workers,
		Attempted: len(tuples),
		Persisted: int(persisted.Load()),
		Failed:    int(failed.Load()),
		Positions: int(positions.Load()),
		Elapsed:   time.Since(start),
	}
	e.log.Info("sweep complete",
		"test_id", testID,
		"attempted", rep.Attempted,
		"persisted", rep.Persisted,
		"failed", rep.Failed,
		"positions", rep.Positions,
		"elapsed", rep.Elapsed.Round(time.Millisecond),
	)
	return rep
}

// runUnit simulates one tuple and persists the result, returning the number
// of positions written. Panics are reported as ErrWorkerExecution.
func (e *Engine) runUnit(ctx context.Context, testID int64, p domain.ParameterTuple, s *domain.Series) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrWorkerExecution, r)
		}
	}()

	res := e.simulate(p, s)
	if _, err := e.writer.SaveRunResult(ctx, testID, &res); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrWorkerExecution, err)
	}
	return len(res.Positions), nil
}
