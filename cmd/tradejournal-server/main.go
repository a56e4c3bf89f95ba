package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"tradejournal/internal/api"
	"tradejournal/internal/backtest"
	"tradejournal/internal/config"
	"tradejournal/internal/httpapi"
	"tradejournal/internal/metrics"
	"tradejournal/internal/store"
	"tradejournal/internal/strategy/builtins"
	"tradejournal/internal/util"
)

func main() {
	cfgPath := config.Path()
	cfg, err := config.Load(cfgPath)
	if errors.Is(err, os.ErrNotExist) && os.Getenv(config.EnvPath) == "" {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating sqlite dir: %v", err)
	}
	results, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer results.Close()

	bars := store.NewParquetStore(cfg.Storage.DataDir)
	m := metrics.New()

	bt := backtest.NewBacktester(bars, builtins.NewRegistry(), cfg.Backtest.Market, m)
	opt := backtest.NewOptimizer(bt, backtest.OptimizerConfig{
		Workers:          cfg.Backtest.Workers,
		MaxCombinations:  cfg.Backtest.MaxCombinations,
		WarnCombinations: cfg.Backtest.WarnCombinations,
	}, m)

	backtests := httpapi.NewBacktestServer(bt, opt, results, cfg.Backtest.HistoryLimit)
	srv := api.NewServer(cfg.Server, backtests, m)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("tradejournal-server starting",
		"config", cfgPath,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"grpcPort", cfg.Server.GRPCPort,
		"dataDir", cfg.Storage.DataDir,
		"workers", cfg.Backtest.Workers,
		"auth", cfg.Server.AuthToken != "",
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("tradejournal-server stopped")
}
