package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tradejournal/internal/config"
	"tradejournal/internal/gather/us"
	"tradejournal/internal/store"
	"tradejournal/internal/util"
)

func main() {
	symbols := flag.String("symbols", "", "comma-separated symbols, overrides gather.us_daily.symbols")
	every := flag.Duration("every", 0, "repeat the backfill at this interval; 0 runs once")
	flag.Parse()

	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	job := cfg.Gather.USDaily
	if *symbols != "" {
		job.Symbols = strings.Split(*symbols, ",")
	}

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	gatherer := us.NewDailyBarGatherer(
		us.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
		pstore,
		us.DailyConfig{
			Symbols:         job.Symbols,
			StartDate:       job.StartDate,
			BatchSize:       job.BatchSize,
			MaxWorkers:      job.MaxWorkers,
			RateLimitPerMin: job.RateLimitPerMin,
			Feed:            cfg.Alpaca.Feed,
			DataDir:         cfg.Storage.DataDir,
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting us-daily-bars", "symbols", len(job.Symbols), "every", *every)
	for {
		if err := gatherer.Run(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if *every == 0 {
				log.Fatalf("gather error: %v", err)
			}
			slog.Error("gather pass failed", "error", err)
		}
		if *every == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(*every):
		}
	}
}
