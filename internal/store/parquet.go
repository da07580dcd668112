package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/saze24/backtester/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk and exports
// sweep results for offline analysis.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for cached bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// ResultRecord is the Parquet schema for exported strategy results.
type ResultRecord struct {
	ID         int64   `parquet:"id"`
	TestID     int64   `parquet:"test_id"`
	FastMA     int32   `parquet:"fast_ma"`
	SlowMA     int32   `parquet:"slow_ma"`
	StopLoss   float64 `parquet:"stop_loss"`
	TakeProfit float64 `parquet:"take_profit"`
	TotalPnL   float64 `parquet:"total_pnl"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars to Parquet files organized by instrument, timeframe
// and year, merging with what is already on disk:
//
//	<DataDir>/<INSTRUMENT>/<TIMEFRAME>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(_ context.Context, instrument, timeframe string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		year := b.Timestamp.UTC().Year()
		groups[year] = append(groups[year], BarRecord{
			Symbol:    strings.ToUpper(instrument),
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	for year, records := range groups {
		path := s.barPath(instrument, timeframe, year)

		// Read existing records to merge.
		existing, _ := readParquetFile[BarRecord](path)
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%s/%d: %w", instrument, timeframe, year, err)
		}
	}
	return nil
}

// ReadBars reads cached bars for an instrument and timeframe within
// [start, end]. A zero start or end leaves that side open.
func (s *ParquetStore) ReadBars(_ context.Context, instrument, timeframe string, start, end time.Time) ([]domain.Bar, error) {
	years, err := s.barYears(instrument, timeframe)
	if err != nil {
		return nil, err
	}

	var bars []domain.Bar
	for _, year := range years {
		if (!start.IsZero() && year < start.UTC().Year()) || (!end.IsZero() && year > end.UTC().Year()) {
			continue
		}
		records, err := readParquetFile[BarRecord](s.barPath(instrument, timeframe, year))
		if err != nil {
			return nil, fmt.Errorf("reading %s %s %d: %w", instrument, timeframe, year, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if (!start.IsZero() && ts.Before(start)) || (!end.IsZero() && ts.After(end)) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:    r.Symbol,
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
			})
		}
	}
	return bars, nil
}

// barYears lists the years with a cached bar file, ascending.
func (s *ParquetStore) barYears(instrument, timeframe string) ([]int, error) {
	dir := filepath.Dir(s.barPath(instrument, timeframe, 0))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var years []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".parquet") {
			continue
		}
		if y, err := strconv.Atoi(strings.TrimSuffix(name, ".parquet")); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ListInstruments lists all instruments that have cached bars.
func (s *ParquetStore) ListInstruments(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var instruments []string
	for _, e := range entries {
		if e.IsDir() {
			instruments = append(instruments, strings.ReplaceAll(e.Name(), "-", "/"))
		}
	}
	sort.Strings(instruments)
	return instruments, nil
}

// ---------------------------------------------------------------------------
// Result export
// ---------------------------------------------------------------------------

// ExportResults writes results to a single Parquet file at path.
func (s *ParquetStore) ExportResults(path string, results []domain.StrategyResult) error {
	records := make([]ResultRecord, len(results))
	for i, r := range results {
		records[i] = ResultRecord{
			ID:         r.ID,
			TestID:     r.TestID,
			FastMA:     int32(r.Params.FastMA),
			SlowMA:     int32(r.Params.SlowMA),
			StopLoss:   r.Params.StopLoss,
			TakeProfit: r.Params.TakeProfit,
			TotalPnL:   r.TotalPnL,
		}
	}
	if err := writeParquetFile(path, records); err != nil {
		return fmt.Errorf("exporting results to %s: %w", path, err)
	}
	return nil
}

// ReadResults reads a file written by ExportResults.
func ReadResults(path string) ([]domain.StrategyResult, error) {
	records, err := readParquetFile[ResultRecord](path)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StrategyResult, len(records))
	for i, r := range records {
		out[i] = domain.StrategyResult{
			ID:     r.ID,
			TestID: r.TestID,
			Params: domain.ParameterTuple{
				FastMA:     int(r.FastMA),
				SlowMA:     int(r.SlowMA),
				StopLoss:   r.StopLoss,
				TakeProfit: r.TakeProfit,
			},
			TotalPnL: r.TotalPnL,
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file. Pair
// separators in crypto symbols become dashes.
func (s *ParquetStore) barPath(instrument, timeframe string, year int) string {
	dir := strings.ReplaceAll(strings.ToUpper(instrument), "/", "-")
	return filepath.Join(s.DataDir, dir, strings.ToUpper(timeframe), fmt.Sprintf("%d.parquet", year))
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by timestamp, preferring new
// records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
