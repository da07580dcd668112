package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/saze24/backtester/internal/api"
	"github.com/saze24/backtester/internal/config"
	"github.com/saze24/backtester/internal/engine"
	"github.com/saze24/backtester/internal/httpapi"
	"github.com/saze24/backtester/internal/store"
	"github.com/saze24/backtester/internal/sweep"
	"github.com/saze24/backtester/internal/util"
)

func main() {
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
	backend := api.NewBackend(svc, st, api.Limits{
		TopLimit:     cfg.Sweep.TopLimit,
		GroupTopN:    cfg.Sweep.GroupTopN,
		MinFrequency: cfg.Sweep.GroupMinFrequency,
	})

	httpAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	grpcAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))

	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           httpapi.NewServer(backend).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcSrv := api.NewServer(grpcAddr, api.NewService(backend))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("backtester-server starting",
		"http", httpAddr,
		"grpc", grpcAddr,
		"workers", eng.Workers(),
		"instrument", cfg.Series.Instrument,
		"timeframe", cfg.Series.Timeframe,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		return httpSrv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return grpcSrv.ListenAndServe(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	slog.Info("backtester-server stopped")
}
