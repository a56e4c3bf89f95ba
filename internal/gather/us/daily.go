// Package us gathers US equity daily bars from Alpaca into the bar store.
package us

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	_ "time/tzdata"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/time/rate"

	"tradejournal/internal/domain"
	"tradejournal/internal/gather"
	"tradejournal/internal/store"
	"tradejournal/internal/util"
)

var _ gather.Gatherer = (*DailyBarGatherer)(nil)

// BarClient is the subset of the Alpaca market-data client the gatherer
// needs. *marketdata.Client satisfies it.
type BarClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

var _ BarClient = (*marketdata.Client)(nil)

// NewAlpacaClient returns a market-data client for the given credentials.
// An empty dataURL uses the SDK default.
func NewAlpacaClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// DailyConfig parameterizes a DailyBarGatherer.
type DailyConfig struct {
	Symbols         []string
	StartDate       string // YYYY-MM-DD
	BatchSize       int    // symbols per API call
	MaxWorkers      int
	RateLimitPerMin int
	Feed            string // "sip" or "iex"
	DataDir         string // progress files live under <DataDir>/us/daily
}

// DailyBarGatherer backfills daily OHLCV bars for a configured symbol list.
// Reruns are idempotent: the store merges by timestamp and a pass that
// already finished for today's end date is skipped.
type DailyBarGatherer struct {
	client  BarClient
	store   store.BarStore
	cfg     DailyConfig
	limiter *rate.Limiter
	backoff util.Backoff
	now     func() time.Time
	log     *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer writing to s.
func NewDailyBarGatherer(client BarClient, s store.BarStore, cfg DailyConfig) *DailyBarGatherer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = 200
	}
	if cfg.Feed == "" {
		cfg.Feed = "sip"
	}
	cfg.Symbols = normalizeSymbols(cfg.Symbols)

	return &DailyBarGatherer{
		client:  client,
		store:   s,
		cfg:     cfg,
		limiter: util.NewRateLimiter(cfg.RateLimitPerMin),
		backoff: util.Backoff{Attempts: 3, Base: time.Second, Max: 30 * time.Second},
		now:     time.Now,
		log:     slog.Default().With("gatherer", "us-daily"),
	}
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "us-daily" }

// Run fetches daily bars from StartDate through the previous UTC day for
// every configured symbol and writes them to the bar store.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	start, err := time.Parse("2006-01-02", g.cfg.StartDate)
	if err != nil {
		return fmt.Errorf("%w: parsing start date %q: %v", domain.ErrConfiguration, g.cfg.StartDate, err)
	}
	today := g.now().UTC().Truncate(24 * time.Hour)
	rng := gather.DateRange{Start: start, End: today.Add(-time.Nanosecond)}
	if rng.Days() <= 0 {
		return fmt.Errorf("%w: start date %s is not in the past", domain.ErrConfiguration, g.cfg.StartDate)
	}
	if len(g.cfg.Symbols) == 0 {
		return fmt.Errorf("%w: no symbols configured", domain.ErrConfiguration)
	}
	endDateStr := rng.End.Format("2006-01-02")

	tracker, err := newProgressTracker(filepath.Join(g.cfg.DataDir, string(domain.MarketUS), "daily"))
	if err != nil {
		return fmt.Errorf("creating progress tracker: %w", err)
	}
	defer tracker.Close()

	last := tracker.LastCompleted()
	if last == endDateStr {
		g.log.Info("already completed", "endDate", endDateStr)
		return nil
	}
	if last != "" {
		if err := tracker.Reset(); err != nil {
			return fmt.Errorf("resetting tracker: %w", err)
		}
	}

	var remaining []string
	for _, sym := range g.cfg.Symbols {
		if !tracker.IsEmpty(sym) {
			remaining = append(remaining, sym)
		}
	}

	var batches [][]string
	for i := 0; i < len(remaining); i += g.cfg.BatchSize {
		batches = append(batches, remaining[i:min(i+g.cfg.BatchSize, len(remaining))])
	}

	g.log.Info("starting us-daily",
		"start", g.cfg.StartDate,
		"endDate", endDateStr,
		"symbols", len(remaining),
		"batches", len(batches),
	)

	batchCh := make(chan int, len(batches))
	for i := range batches {
		batchCh <- i
	}
	close(batchCh)

	var (
		wg        sync.WaitGroup
		totalBars atomic.Int64
		failed    atomic.Int64
		runStart  = time.Now()
	)

	workers := min(g.cfg.MaxWorkers, len(batches))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range batchCh {
				if ctx.Err() != nil {
					return
				}
				n, err := g.runBatch(ctx, tracker, batches[idx], rng)
				if err != nil {
					failed.Add(1)
					g.log.Error("batch failed",
						"batch", fmt.Sprintf("%d/%d", idx+1, len(batches)),
						"err", err,
					)
					continue
				}
				totalBars.Add(int64(n))
				g.log.Info("batch done",
					"batch", fmt.Sprintf("%d/%d", idx+1, len(batches)),
					"bars", n,
					"elapsed", time.Since(runStart).Round(time.Second),
				)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d of %d batches failed", n, len(batches))
	}
	if err := tracker.MarkCompleted(endDateStr); err != nil {
		return fmt.Errorf("marking completed: %w", err)
	}

	g.log.Info("complete",
		"bars", totalBars.Load(),
		"elapsed", time.Since(runStart).Round(time.Second),
	)
	return nil
}

// runBatch fetches, stores and records empties for one batch of symbols.
func (g *DailyBarGatherer) runBatch(ctx context.Context, tracker *progressTracker, batch []string, rng gather.DateRange) (int, error) {
	var bars []domain.Bar
	err := util.Retry(ctx, g.backoff, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var ferr error
		bars, ferr = g.fetchMultiBars(batch, rng)
		return ferr
	})
	if err != nil {
		return 0, err
	}

	hit := make(map[string]struct{})
	for _, b := range bars {
		hit[b.Symbol] = struct{}{}
	}
	var empty []string
	for _, sym := range batch {
		if _, ok := hit[sym]; !ok {
			empty = append(empty, sym)
		}
	}

	if len(bars) > 0 {
		if err := g.store.WriteBars(ctx, bars); err != nil {
			return 0, fmt.Errorf("writing bars: %w", err)
		}
	}
	if len(empty) > 0 {
		g.log.Warn("symbols returned no bars", "symbols", empty)
		if err := tracker.MarkEmpty(empty); err != nil {
			return 0, fmt.Errorf("marking empty: %w", err)
		}
	}
	return len(bars), nil
}

// fetchMultiBars fetches split- and dividend-adjusted daily bars for multiple
// symbols in a single API call.
func (g *DailyBarGatherer) fetchMultiBars(symbols []string, rng gather.DateRange) ([]domain.Bar, error) {
	multiBars, err := g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame:  marketdata.OneDay,
		Start:      rng.Start,
		End:        rng.End,
		Feed:       g.cfg.Feed,
		Adjustment: marketdata.All,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  tradingDate(ab.Timestamp),
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}

// newYork is the exchange time zone Alpaca daily bars are stamped in.
var newYork = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// tradingDate maps an Alpaca daily bar timestamp (New York midnight, so
// 04:00 or 05:00 UTC) to midnight UTC of the same trading date.
func tradingDate(ts time.Time) time.Time {
	y, m, d := ts.In(newYork).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// normalizeSymbols upper-cases, trims, de-duplicates and sorts symbols.
func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	var out []string
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
