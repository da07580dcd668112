package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/saze24/backtester/internal/config"
	"github.com/saze24/backtester/internal/domain"
	"github.com/saze24/backtester/internal/series"
	"github.com/saze24/backtester/internal/store"
	"github.com/saze24/backtester/internal/util"
)

func main() {
	csvPath := flag.String("csv", "", "CSV file to import (default: series.csv_path)")
	fromAlpaca := flag.Bool("alpaca", false, "download bars from Alpaca instead of reading a CSV")
	symbol := flag.String("symbol", "", "instrument (default: series.instrument)")
	timeframe := flag.String("timeframe", "", "candle timeframe such as 4H or 15MIN (default: series.timeframe)")
	start := flag.String("start", "", "first candle of the window, YYYY-MM-DD (default: series.start)")
	end := flag.String("end", "", "last candle of the window, YYYY-MM-DD (default: series.end)")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	sc := cfg.Series
	if *symbol != "" {
		sc.Instrument = *symbol
	}
	if *timeframe != "" {
		sc.Timeframe = *timeframe
	}
	if *start != "" {
		sc.Start = *start
	}
	if *end != "" {
		sc.End = *end
	}
	if *csvPath != "" {
		sc.CSVPath = *csvPath
	}
	instrument := strings.ToUpper(sc.Instrument)
	tf := strings.ToUpper(sc.Timeframe)

	interval, err := sc.Interval()
	if err != nil {
		log.Fatalf("invalid timeframe: %v", err)
	}
	window, err := sc.Window()
	if err != nil {
		log.Fatalf("invalid window: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var bars []domain.Bar
	switch {
	case *fromAlpaca:
		if window.Start.IsZero() {
			log.Fatal("-start is required with -alpaca")
		}
		fetchEnd := window.End
		if fetchEnd.IsZero() {
			fetchEnd = time.Now().UTC()
		}
		fetcher := series.NewAlpacaFetcher(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.RateLimitPerMin)
		bars, err = fetcher.FetchBars(ctx, instrument, interval, series.WarmupStart(window.Start, interval), fetchEnd)
	case sc.CSVPath != "":
		bars, err = series.LoadCSV(sc.CSVPath, instrument)
	default:
		log.Fatal("nothing to import: pass -csv or -alpaca")
	}
	if err != nil {
		log.Fatalf("loading bars: %v", err)
	}

	// Bars pass through the parquet cache so repeated imports merge.
	cache := store.NewParquetStore(cfg.Storage.DataDir)
	if err := cache.WriteBars(ctx, instrument, tf, bars); err != nil {
		log.Fatalf("caching bars: %v", err)
	}
	readStart := window.Start
	if !readStart.IsZero() {
		readStart = series.WarmupStart(readStart, interval)
	}
	cached, err := cache.ReadBars(ctx, instrument, tf, readStart, window.End)
	if err != nil {
		log.Fatalf("reading cached bars: %v", err)
	}

	ser, err := series.Build(instrument, tf, interval, cached, window)
	if err != nil {
		log.Fatalf("building series: %v", err)
	}

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	id, err := st.SaveSeries(ctx, ser)
	if err != nil {
		log.Fatalf("saving series: %v", err)
	}

	slog.Info("series imported",
		"series_id", id,
		"instrument", instrument,
		"timeframe", tf,
		"candles", ser.Len(),
		"start", ser.Start().Format(domain.TimeLayout),
		"end", ser.End().Format(domain.TimeLayout),
	)
	fmt.Printf("imported series %d: %s %s, %d candles from %s to %s\n",
		id, instrument, tf, ser.Len(),
		ser.Start().Format(domain.TimeLayout), ser.End().Format(domain.TimeLayout))
}
