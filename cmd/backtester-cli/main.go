package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/saze24/backtester/internal/api"
	"github.com/saze24/backtester/internal/config"
	"github.com/saze24/backtester/internal/engine"
	"github.com/saze24/backtester/internal/report"
	"github.com/saze24/backtester/internal/store"
	"github.com/saze24/backtester/internal/sweep"
	"github.com/saze24/backtester/internal/util"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: backtester-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version     Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  run         Run a named parameter sweep\n")
	fmt.Fprintf(os.Stderr, "  tests       List saved tests\n")
	fmt.Fprintf(os.Stderr, "  top         Show the best strategies of a test\n")
	fmt.Fprintf(os.Stderr, "  groups      Show strategies grouped by moving-average pair\n")
	fmt.Fprintf(os.Stderr, "  group       Show every strategy of one moving-average pair\n")
	fmt.Fprintf(os.Stderr, "  positions   Show the trade log of a strategy result\n")
	fmt.Fprintf(os.Stderr, "  delete      Delete a test and its results\n")
	fmt.Fprintf(os.Stderr, "  export      Write the results of a test to a parquet file\n")
	fmt.Fprintf(os.Stderr, "\nRun 'backtester-cli <command> -h' for command options.\n")
}

type app struct {
	cfg     *config.Config
	store   *store.SQLiteStore
	backend *api.Backend
	json    bool
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "version":
		fmt.Printf("backtester-cli %s\n", version)
		return
	case "-h", "--help", "help":
		usage()
		return
	}

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer st.Close()

	eng := engine.NewEngine(st, cfg.Sweep.Workers)
	svc := sweep.NewService(st, eng, cfg.Series.Instrument, cfg.Series.Timeframe)
	a := &app{
		cfg:   cfg,
		store: st,
		backend: api.NewBackend(svc, st, api.Limits{
			TopLimit:     cfg.Sweep.TopLimit,
			GroupTopN:    cfg.Sweep.GroupTopN,
			MinFrequency: cfg.Sweep.GroupMinFrequency,
		}),
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var runErr error
	switch cmd {
	case "run":
		runErr = a.run(ctx, args)
	case "tests":
		runErr = a.tests(ctx, args)
	case "top":
		runErr = a.top(ctx, args)
	case "groups":
		runErr = a.groups(ctx, args)
	case "group":
		runErr = a.group(ctx, args)
	case "positions":
		runErr = a.positions(ctx, args)
	case "delete":
		runErr = a.delete(ctx, args)
	case "export":
		runErr = a.export(ctx, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, runErr)
		os.Exit(1)
	}
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.BoolVar(&a.json, "json", false, "print JSON instead of a table")
	return fs
}

func (a *app) run(ctx context.Context, args []string) error {
	fs := a.flags("run")
	name := fs.String("name", "", "unique test name (required)")
	fast := fs.String("fast", "3-10", "fast moving-average periods, low-high")
	slow := fs.String("slow", "4-20", "slow moving-average periods, low-high")
	sl := fs.String("sl", "1-5", "stop-loss percentages, low-high")
	tp := fs.String("tp", "1-10", "take-profit percentages, low-high")
	seriesID := fs.Int64("series", 0, "series id (0 = latest for the configured instrument)")
	fs.Parse(args)

	p := sweep.Payload{Name: *name, SeriesID: *seriesID}
	var err error
	if p.FastMA, err = parseRange(*fast); err != nil {
		return fmt.Errorf("-fast: %w", err)
	}
	if p.SlowMA, err = parseRange(*slow); err != nil {
		return fmt.Errorf("-slow: %w", err)
	}
	if p.StopLossPct, err = parseRange(*sl); err != nil {
		return fmt.Errorf("-sl: %w", err)
	}
	if p.TakeProfitPct, err = parseRange(*tp); err != nil {
		return fmt.Errorf("-tp: %w", err)
	}

	row, err := a.backend.RunSweep(ctx, p)
	if err != nil {
		return err
	}
	if a.json {
		return printJSON(row)
	}
	fmt.Println(row.Summary)
	if row.Failed > 0 {
		fmt.Printf("%d tests failed; see the log for details\n", row.Failed)
	}
	fmt.Printf("test id %d, run id %s\n", row.TestID, row.RunID)
	return nil
}

func (a *app) tests(ctx context.Context, args []string) error {
	fs := a.flags("tests")
	fs.Parse(args)

	rows, err := a.backend.ListTests(ctx)
	if err != nil {
		return err
	}
	if a.json {
		return printJSON(rows)
	}
	tw := newTable("ID", "NAME", "CREATED", "FAST", "SLOW", "SL%", "TP%", "TESTS", "FAILED", "SECONDS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%.1f\n",
			r.ID, r.Name, r.CreatedAt, span(r.FastMA), span(r.SlowMA), span(r.StopLoss), span(r.TakeProfit),
			r.Tests, r.Failed, r.Seconds)
	}
	return tw.Flush()
}

func (a *app) top(ctx context.Context, args []string) error {
	fs := a.flags("top")
	testID := fs.Int64("test", 0, "test id (required)")
	limit := fs.Int("limit", 0, "number of strategies (0 = configured default)")
	fs.Parse(args)

	rows, err := a.backend.TopStrategies(ctx, *testID, *limit)
	if err != nil {
		return err
	}
	return a.printStrategies(rows)
}

func (a *app) groups(ctx context.Context, args []string) error {
	fs := a.flags("groups")
	testID := fs.Int64("test", 0, "test id (required)")
	topN := fs.Int("top", 0, "number of top strategies to group (0 = configured default)")
	minFreq := fs.Int("min-freq", -1, "keep groups seen more than this many times (-1 = configured default)")
	fs.Parse(args)

	rows, err := a.backend.TopGroupedStrategies(ctx, *testID, *topN, *minFreq)
	if err != nil {
		return err
	}
	if a.json {
		return printJSON(rows)
	}
	tw := newTable("RANK", "FAST", "SLOW", "AVG SL", "AVG TP", "TOP PNL", "AVG PNL", "FREQ")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\t%s\t%d\n",
			r.Rank, r.FastMA, r.SlowMA, r.AvgStopLoss, r.AvgTakeProfit, r.TopPnL, r.AvgPnL, r.Frequency)
	}
	return tw.Flush()
}

func (a *app) group(ctx context.Context, args []string) error {
	fs := a.flags("group")
	testID := fs.Int64("test", 0, "test id (required)")
	fast := fs.Int("fast", 0, "fast moving-average period (required)")
	slow := fs.Int("slow", 0, "slow moving-average period (required)")
	fs.Parse(args)

	rows, err := a.backend.GroupDetails(ctx, *testID, *fast, *slow)
	if err != nil {
		return err
	}
	return a.printStrategies(rows)
}

func (a *app) positions(ctx context.Context, args []string) error {
	fs := a.flags("positions")
	resultID := fs.Int64("result", 0, "strategy result id (required)")
	fs.Parse(args)

	view, err := a.backend.Positions(ctx, *resultID)
	if err != nil {
		return err
	}
	if a.json {
		return printJSON(view)
	}
	r := view.Result
	fmt.Printf("result %d: MA %d/%d, stop-loss %s, take-profit %s, total %s\n",
		r.ID, r.FastMA, r.SlowMA, r.StopLoss, r.TakeProfit, r.TotalPnL)
	tw := newTable("DIRECTION", "OPENED", "OPEN", "CLOSED", "CLOSE", "PNL")
	for _, p := range view.Positions {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%.2f\t%s\n",
			p.Direction, p.OpenTime, p.OpenPrice, p.CloseTime, p.ClosePrice, p.PnL)
	}
	return tw.Flush()
}

func (a *app) delete(ctx context.Context, args []string) error {
	fs := a.flags("delete")
	testID := fs.Int64("test", 0, "test id (required)")
	fs.Parse(args)

	if err := a.backend.DeleteTest(ctx, *testID); err != nil {
		return err
	}
	fmt.Printf("deleted test %d\n", *testID)
	return nil
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := a.flags("export")
	testID := fs.Int64("test", 0, "test id (required)")
	out := fs.String("out", "", "output parquet file (required)")
	fs.Parse(args)

	if *out == "" {
		return fmt.Errorf("-out is required")
	}
	if _, err := a.store.GetTest(ctx, *testID); err != nil {
		return err
	}
	results, err := a.store.TopStrategies(ctx, *testID, math.MaxInt32)
	if err != nil {
		return err
	}
	if err := store.NewParquetStore(a.cfg.Storage.DataDir).ExportResults(*out, results); err != nil {
		return err
	}
	fmt.Printf("exported %d results to %s\n", len(results), *out)
	return nil
}

func (a *app) printStrategies(rows []report.StrategyRow) error {
	if a.json {
		return printJSON(rows)
	}
	tw := newTable("ID", "FAST", "SLOW", "STOP LOSS", "TAKE PROFIT", "TOTAL PNL")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\t%s\n", r.ID, r.FastMA, r.SlowMA, r.StopLoss, r.TakeProfit, r.TotalPnL)
	}
	return tw.Flush()
}

func newTable(headers ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, h)
	}
	fmt.Fprintln(tw)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
