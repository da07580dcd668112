package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/saze24/backtester/internal/domain"
)

// Compile-time interface checks.
var _ TestStore = (*SQLiteStore)(nil)
var _ ResultStore = (*SQLiteStore)(nil)
var _ SeriesStore = (*SQLiteStore)(nil)

// avgPlaces is the rounding applied to grouped averages.
const avgPlaces = 4

// SQLiteStore implements TestStore, ResultStore, and SeriesStore backed by a
// SQLite database. It is safe for concurrent use; SQLite serialises writers.
type SQLiteStore struct {
	db  *sql.DB
	log *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(30000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}

	s := &SQLiteStore{
		db:  db,
		log: slog.Default().With("component", "sqlite-store"),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func maColumns() []string {
	cols := make([]string, 0, domain.MaxMAPeriod-domain.MinMAPeriod+1)
	for p := domain.MinMAPeriod; p <= domain.MaxMAPeriod; p++ {
		cols = append(cols, fmt.Sprintf("ma%d", p))
	}
	return cols
}

func (s *SQLiteStore) migrate() error {
	var maDefs []string
	for _, c := range maColumns() {
		maDefs = append(maDefs, c+" REAL")
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS instrument_periods (
			id               INTEGER PRIMARY KEY,
			instrument       TEXT    NOT NULL,
			timeframe        TEXT    NOT NULL,
			interval_seconds INTEGER NOT NULL,
			start_time       TEXT    NOT NULL,
			end_time         TEXT    NOT NULL,
			created_at       TEXT    NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS market_data (
			id                   INTEGER PRIMARY KEY,
			instrument_period_id INTEGER NOT NULL REFERENCES instrument_periods(id) ON DELETE CASCADE,
			timestamp            TEXT    NOT NULL,
			open                 REAL    NOT NULL,
			high                 REAL    NOT NULL,
			low                  REAL    NOT NULL,
			close                REAL    NOT NULL,
			` + strings.Join(maDefs, ",\n\t\t\t") + `,
			UNIQUE (instrument_period_id, timestamp)
		)`,
		`CREATE TABLE IF NOT EXISTS tests (
			id                   INTEGER PRIMARY KEY,
			name                 TEXT    NOT NULL UNIQUE,
			run_id               TEXT    NOT NULL,
			instrument_period_id INTEGER REFERENCES instrument_periods(id),
			fast_ma_low          INTEGER NOT NULL,
			fast_ma_high         INTEGER NOT NULL,
			slow_ma_low          INTEGER NOT NULL,
			slow_ma_high         INTEGER NOT NULL,
			stop_loss_low        INTEGER NOT NULL,
			stop_loss_high       INTEGER NOT NULL,
			take_profit_low      INTEGER NOT NULL,
			take_profit_high     INTEGER NOT NULL,
			created_at           TEXT    NOT NULL,
			workers              INTEGER NOT NULL DEFAULT 0,
			attempted            INTEGER NOT NULL DEFAULT 0,
			persisted            INTEGER NOT NULL DEFAULT 0,
			failed               INTEGER NOT NULL DEFAULT 0,
			positions            INTEGER NOT NULL DEFAULT 0,
			elapsed_ms           INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS strategy_results (
			id          INTEGER PRIMARY KEY,
			test_id     INTEGER NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
			fast_ma     INTEGER NOT NULL,
			slow_ma     INTEGER NOT NULL,
			stop_loss   REAL    NOT NULL,
			take_profit REAL    NOT NULL,
			total_pnl   REAL    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_results_rank
			ON strategy_results (test_id, total_pnl DESC, id)`,
		`CREATE INDEX IF NOT EXISTS idx_strategy_results_pair
			ON strategy_results (test_id, fast_ma, slow_ma)`,
		`CREATE TABLE IF NOT EXISTS positions (
			id                 INTEGER PRIMARY KEY,
			strategy_result_id INTEGER NOT NULL REFERENCES strategy_results(id) ON DELETE CASCADE,
			direction          TEXT    NOT NULL CHECK (direction IN ('long', 'short')),
			open_time          TEXT    NOT NULL,
			open_price         REAL    NOT NULL,
			close_time         TEXT    NOT NULL,
			close_price        REAL    NOT NULL,
			pnl                REAL    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_result
			ON positions (strategy_result_id, open_time)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// TestStore implementation
// ---------------------------------------------------------------------------

const testColumns = `id, name, run_id, COALESCE(instrument_period_id, 0),
	fast_ma_low, fast_ma_high, slow_ma_low, slow_ma_high,
	stop_loss_low, stop_loss_high, take_profit_low, take_profit_high,
	created_at, workers, attempted, persisted, failed, positions, elapsed_ms`

// CreateTest inserts a new test row. The name is checked before the insert
// and the UNIQUE constraint catches a concurrent writer that slips past the
// check; either way the store is left unchanged.
func (s *SQLiteStore) CreateTest(ctx context.Context, t *domain.Test) (int64, error) {
	if _, err := s.GetTestByName(ctx, t.Name); err == nil {
		return 0, fmt.Errorf("test %q: %w", t.Name, domain.ErrDuplicateTestName)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return 0, err
	}

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	var seriesID any
	if t.SeriesID != 0 {
		seriesID = t.SeriesID
	}

	r := t.Ranges
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tests (name, run_id, instrument_period_id,
			fast_ma_low, fast_ma_high, slow_ma_low, slow_ma_high,
			stop_loss_low, stop_loss_high, take_profit_low, take_profit_high,
			created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.RunID, seriesID,
		r.FastMALow, r.FastMAHigh, r.SlowMALow, r.SlowMAHigh,
		r.StopLossLow, r.StopLossHigh, r.TakeProfitLow, r.TakeProfitHigh,
		t.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("test %q: %w", t.Name, domain.ErrDuplicateTestName)
		}
		return 0, fmt.Errorf("inserting test %q: %w", t.Name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

// FinishTest records the execution metadata of a completed sweep.
func (s *SQLiteStore) FinishTest(ctx context.Context, r *domain.SweepReport) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tests
		SET workers = ?, attempted = ?, persisted = ?, failed = ?, positions = ?, elapsed_ms = ?
		WHERE id = ?`,
		r.Workers, r.Attempted, r.Persisted, r.Failed, r.Positions, r.Elapsed.Milliseconds(), r.TestID,
	)
	if err != nil {
		return fmt.Errorf("finishing test %d: %w", r.TestID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("test %d: %w", r.TestID, domain.ErrNotFound)
	}
	return nil
}

// GetTest retrieves a test by ID.
func (s *SQLiteStore) GetTest(ctx context.Context, id int64) (*domain.Test, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+testColumns+` FROM tests WHERE id = ?`, id)
	t, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("test %d: %w", id, domain.ErrNotFound)
	}
	return t, err
}

// GetTestByName retrieves a test by its unique name.
func (s *SQLiteStore) GetTestByName(ctx context.Context, name string) (*domain.Test, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+testColumns+` FROM tests WHERE name = ?`, name)
	t, err := scanTest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("test %q: %w", name, domain.ErrNotFound)
	}
	return t, err
}

// ListTests returns all tests, newest first.
func (s *SQLiteStore) ListTests(ctx context.Context) ([]domain.Test, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+testColumns+` FROM tests ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing tests: %w", err)
	}
	defer rows.Close()

	var tests []domain.Test
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		tests = append(tests, *t)
	}
	return tests, rows.Err()
}

// DeleteTest removes a test; results and positions cascade.
func (s *SQLiteStore) DeleteTest(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting test %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("test %d: %w", id, domain.ErrNotFound)
	}
	s.log.Info("deleted test", "test_id", id)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTest(sc scanner) (*domain.Test, error) {
	var (
		t         domain.Test
		createdAt string
		elapsedMS int64
	)
	err := sc.Scan(&t.ID, &t.Name, &t.RunID, &t.SeriesID,
		&t.Ranges.FastMALow, &t.Ranges.FastMAHigh, &t.Ranges.SlowMALow, &t.Ranges.SlowMAHigh,
		&t.Ranges.StopLossLow, &t.Ranges.StopLossHigh, &t.Ranges.TakeProfitLow, &t.Ranges.TakeProfitHigh,
		&createdAt, &t.Workers, &t.Attempted, &t.Persisted, &t.Failed, &t.Positions, &elapsedMS)
	if err != nil {
		return nil, err
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	t.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return &t, nil
}

// ---------------------------------------------------------------------------
// ResultStore implementation
// ---------------------------------------------------------------------------

// SaveRunResult stores a result row and its positions in one transaction.
func (s *SQLiteStore) SaveRunResult(ctx context.Context, testID int64, r *domain.RunResult) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	p := r.Params
	res, err := tx.ExecContext(ctx, `
		INSERT INTO strategy_results (test_id, fast_ma, slow_ma, stop_loss, take_profit, total_pnl)
		VALUES (?, ?, ?, ?, ?, ?)`,
		testID, p.FastMA, p.SlowMA, p.StopLoss, p.TakeProfit, r.TotalPnL,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting result %+v: %w", p, err)
	}
	resultID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if len(r.Positions) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO positions (strategy_result_id, direction, open_time, open_price, close_time, close_price, pnl)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return 0, fmt.Errorf("preparing positions: %w", err)
		}
		defer stmt.Close()

		for _, pos := range r.Positions {
			if _, err := stmt.ExecContext(ctx, resultID, string(pos.Direction),
				formatTime(pos.OpenTime), pos.OpenPrice,
				formatTime(pos.CloseTime), pos.ClosePrice, pos.PnL,
			); err != nil {
				return 0, fmt.Errorf("inserting position: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return resultID, nil
}

const resultColumns = `id, test_id, fast_ma, slow_ma, stop_loss, take_profit, total_pnl`

// TopStrategies returns the best results of a test. Ties on total PnL keep
// insertion order.
func (s *SQLiteStore) TopStrategies(ctx context.Context, testID int64, limit int) ([]domain.StrategyResult, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+`
		FROM strategy_results
		WHERE test_id = ?
		ORDER BY total_pnl DESC, id ASC
		LIMIT ?`, testID, limit)
	if err != nil {
		return nil, fmt.Errorf("top strategies for test %d: %w", testID, err)
	}
	return scanResults(rows)
}

// TopGroupedStrategies ranks moving-average pairs that recur among the topN
// results of a test. Each group reports its averages, its best PnL and how
// many of the topN results it holds.
func (s *SQLiteStore) TopGroupedStrategies(ctx context.Context, testID int64, topN, minFrequency int) ([]domain.StrategyGroup, error) {
	if topN <= 0 {
		topN = DefaultGroupTopN
	}
	if minFrequency < 0 {
		minFrequency = DefaultMinFrequency
	}

	rows, err := s.db.QueryContext(ctx, `
		WITH top AS (
			SELECT fast_ma, slow_ma, stop_loss, take_profit, total_pnl
			FROM strategy_results
			WHERE test_id = ?
			ORDER BY total_pnl DESC, id ASC
			LIMIT ?
		)
		SELECT fast_ma, slow_ma,
			AVG(stop_loss), AVG(take_profit), AVG(total_pnl), MAX(total_pnl),
			COUNT(*) AS freq
		FROM top
		GROUP BY fast_ma, slow_ma
		HAVING freq > ?
		ORDER BY AVG(total_pnl) DESC, fast_ma, slow_ma`, testID, topN, minFrequency)
	if err != nil {
		return nil, fmt.Errorf("grouped strategies for test %d: %w", testID, err)
	}
	defer rows.Close()

	var groups []domain.StrategyGroup
	for rows.Next() {
		var g domain.StrategyGroup
		if err := rows.Scan(&g.FastMA, &g.SlowMA, &g.AvgStopLoss, &g.AvgTakeProfit, &g.AvgPnL, &g.TopPnL, &g.Frequency); err != nil {
			return nil, err
		}
		g.AvgStopLoss = roundAvg(g.AvgStopLoss)
		g.AvgTakeProfit = roundAvg(g.AvgTakeProfit)
		g.AvgPnL = roundAvg(g.AvgPnL)
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GroupDetails returns every result of a test for one moving-average pair,
// best first.
func (s *SQLiteStore) GroupDetails(ctx context.Context, testID int64, fastMA, slowMA int) ([]domain.StrategyResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+`
		FROM strategy_results
		WHERE test_id = ? AND fast_ma = ? AND slow_ma = ?
		ORDER BY total_pnl DESC, id ASC`, testID, fastMA, slowMA)
	if err != nil {
		return nil, fmt.Errorf("group %d/%d for test %d: %w", fastMA, slowMA, testID, err)
	}
	return scanResults(rows)
}

// GetResult retrieves a single result by ID.
func (s *SQLiteStore) GetResult(ctx context.Context, id int64) (*domain.StrategyResult, error) {
	var r domain.StrategyResult
	err := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM strategy_results WHERE id = ?`, id).
		Scan(&r.ID, &r.TestID, &r.Params.FastMA, &r.Params.SlowMA, &r.Params.StopLoss, &r.Params.TakeProfit, &r.TotalPnL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Positions returns the trade log of a result ordered by open time.
func (s *SQLiteStore) Positions(ctx context.Context, resultID int64) ([]domain.Position, error) {
	if _, err := s.GetResult(ctx, resultID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT direction, open_time, open_price, close_time, close_price, pnl
		FROM positions
		WHERE strategy_result_id = ?
		ORDER BY open_time, id`, resultID)
	if err != nil {
		return nil, fmt.Errorf("positions for result %d: %w", resultID, err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var (
			p                   domain.Position
			dir, opened, closed string
		)
		if err := rows.Scan(&dir, &opened, &p.OpenPrice, &closed, &p.ClosePrice, &p.PnL); err != nil {
			return nil, err
		}
		p.Direction = domain.Direction(dir)
		p.OpenTime = parseTime(opened)
		p.CloseTime = parseTime(closed)
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanResults(rows *sql.Rows) ([]domain.StrategyResult, error) {
	defer rows.Close()

	var out []domain.StrategyResult
	for rows.Next() {
		var r domain.StrategyResult
		if err := rows.Scan(&r.ID, &r.TestID, &r.Params.FastMA, &r.Params.SlowMA,
			&r.Params.StopLoss, &r.Params.TakeProfit, &r.TotalPnL); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// SeriesStore implementation
// ---------------------------------------------------------------------------

// SaveSeries stores the series metadata and every candle in one transaction.
func (s *SQLiteStore) SaveSeries(ctx context.Context, ser *domain.Series) (int64, error) {
	if ser.Len() == 0 {
		return 0, fmt.Errorf("saving %s series: %w", ser.Instrument, domain.ErrSeriesIntegrity)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO instrument_periods (instrument, timeframe, interval_seconds, start_time, end_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ser.Instrument, ser.Timeframe, int64(ser.Interval/time.Second),
		formatTime(ser.Start()), formatTime(ser.End()), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting instrument period: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	cols := maColumns()
	placeholders := strings.Repeat(", ?", len(cols))
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO market_data (instrument_period_id, timestamp, open, high, low, close, `+strings.Join(cols, ", ")+`)
		VALUES (?, ?, ?, ?, ?, ?`+placeholders+`)`)
	if err != nil {
		return 0, fmt.Errorf("preparing market data: %w", err)
	}
	defer stmt.Close()

	args := make([]any, 0, 6+len(cols))
	for _, p := range ser.Points {
		args = append(args[:0], id, formatTime(p.Timestamp), p.Open, p.High, p.Low, p.Close)
		for _, ma := range p.MA {
			args = append(args, nullFloat(ma))
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("inserting candle %s: %w", formatTime(p.Timestamp), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	ser.ID = id
	s.log.Info("saved series", "series_id", id, "instrument", ser.Instrument,
		"timeframe", ser.Timeframe, "candles", ser.Len())
	return id, nil
}

// LoadSeries retrieves a series and its candles by ID.
func (s *SQLiteStore) LoadSeries(ctx context.Context, id int64) (*domain.Series, error) {
	ser := &domain.Series{ID: id}
	var intervalSec int64
	err := s.db.QueryRowContext(ctx, `
		SELECT instrument, timeframe, interval_seconds
		FROM instrument_periods WHERE id = ?`, id).
		Scan(&ser.Instrument, &ser.Timeframe, &intervalSec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("series %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	ser.Interval = time.Duration(intervalSec) * time.Second

	cols := maColumns()
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, `+strings.Join(cols, ", ")+`
		FROM market_data
		WHERE instrument_period_id = ?
		ORDER BY timestamp`, id)
	if err != nil {
		return nil, fmt.Errorf("loading series %d: %w", id, err)
	}
	defer rows.Close()

	mas := make([]sql.NullFloat64, len(cols))
	for rows.Next() {
		var (
			p  domain.PricePoint
			ts string
		)
		dest := []any{&ts, &p.Open, &p.High, &p.Low, &p.Close}
		for i := range mas {
			dest = append(dest, &mas[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		p.Timestamp = parseTime(ts)
		for i, ma := range mas {
			p.MA[i] = math.NaN()
			if ma.Valid {
				p.MA[i] = ma.Float64
			}
		}
		ser.Points = append(ser.Points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ser, nil
}

// LatestSeries retrieves the newest series for instrument and timeframe.
func (s *SQLiteStore) LatestSeries(ctx context.Context, instrument, timeframe string) (*domain.Series, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM instrument_periods
		WHERE instrument = ? AND timeframe = ?
		ORDER BY id DESC LIMIT 1`,
		strings.ToUpper(instrument), strings.ToUpper(timeframe)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("series %s %s: %w", instrument, timeframe, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return s.LoadSeries(ctx, id)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(domain.TimeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.ParseInLocation(domain.TimeLayout, s, time.UTC)
	return t
}

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func roundAvg(v float64) float64 {
	return decimal.NewFromFloat(v).RoundBank(avgPlaces).InexactFloat64()
}
