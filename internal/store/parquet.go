package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"tradejournal/internal/domain"
)

var _ BarStore = (*ParquetStore)(nil)

// ParquetStore keeps daily bars in one Parquet file per symbol and year:
//
//	<root>/<market>/daily/<SYMBOL>/<YYYY>.parquet
//
// Rows inside a file are sorted by timestamp with no duplicates. Files are
// replaced atomically, so backtests reading while the gatherer writes see
// either the old or the new file, never a partial one.
type ParquetStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewParquetStore creates a ParquetStore rooted at dataDir.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{root: dataDir, locks: make(map[string]*sync.Mutex)}
}

// ---------------------------------------------------------------------------
// On-disk schema
// ---------------------------------------------------------------------------

// barRow is the Parquet schema for one daily bar.
type barRow struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"`
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

func rowOf(b domain.Bar) barRow {
	return barRow{
		Symbol:     strings.ToUpper(b.Symbol),
		Timestamp:  b.Timestamp.UnixMilli(),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		TradeCount: b.TradeCount,
		VWAP:       b.VWAP,
	}
}

func (r barRow) bar() domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

// barFile identifies one Parquet file.
type barFile struct {
	market string
	symbol string
	year   int
}

func (s *ParquetStore) path(f barFile) string {
	return filepath.Join(s.root, strings.ToLower(f.market), "daily", strings.ToUpper(f.symbol), fmt.Sprintf("%d.parquet", f.year))
}

// lock returns the mutex serializing writers of path.
func (s *ParquetStore) lock(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

// ---------------------------------------------------------------------------
// BarStore
// ---------------------------------------------------------------------------

// WriteBars writes bars under the US market.
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar) error {
	return s.WriteBarsForMarket(bars, string(domain.MarketUS))
}

// WriteBarsForMarket merges bars into the files of the given market. A bar
// whose symbol and date already exist replaces the stored one.
func (s *ParquetStore) WriteBarsForMarket(bars []domain.Bar, market string) error {
	groups := make(map[barFile][]barRow)
	for _, b := range bars {
		f := barFile{market: market, symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[f] = append(groups[f], rowOf(b))
	}

	for f, rows := range groups {
		if err := s.mergeInto(f, rows); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", f.symbol, f.year, err)
		}
	}
	return nil
}

func (s *ParquetStore) mergeInto(f barFile, incoming []barRow) error {
	path := s.path(f)
	l := s.lock(path)
	l.Lock()
	defer l.Unlock()

	existing, err := readRows(path)
	if err != nil {
		return err
	}
	return replaceFile(path, mergeRows(existing, incoming))
}

// ReadBars returns the bars of symbol in [start, end], ascending. Years
// without a file contribute nothing.
func (s *ParquetStore) ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error) {
	lo, hi := start.UnixMilli(), end.UnixMilli()

	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := readRows(s.path(barFile{market: market, symbol: symbol, year: year}))
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s/%d: %w", strings.ToUpper(symbol), year, err)
		}

		i := sort.Search(len(rows), func(i int) bool { return rows[i].Timestamp >= lo })
		for ; i < len(rows) && rows[i].Timestamp <= hi; i++ {
			bars = append(bars, rows[i].bar())
		}
	}
	return bars, nil
}

// ListSymbols returns the symbols of market that have at least one bar
// file, sorted.
func (s *ParquetStore) ListSymbols(_ context.Context, market string) ([]string, error) {
	dir := filepath.Join(s.root, strings.ToLower(market), "daily")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, _ := filepath.Glob(filepath.Join(dir, e.Name(), "*.parquet"))
		if len(files) > 0 {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// File helpers
// ---------------------------------------------------------------------------

// readRows returns the rows stored at path, or nil if there is no file.
func readRows(path string) ([]barRow, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return parquet.ReadFile[barRow](path)
}

// replaceFile writes rows to a temporary sibling of path and renames it
// into place.
func replaceFile(path string, rows []barRow) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".bars-*.parquet.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := parquet.NewGenericWriter[barRow](tmp)
	if _, err := w.Write(rows); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// mergeRows returns existing and incoming sorted by timestamp with one row
// per timestamp; incoming rows replace existing ones.
func mergeRows(existing, incoming []barRow) []barRow {
	all := make([]barRow, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })

	out := all[:0]
	for _, r := range all {
		if n := len(out); n > 0 && out[n-1].Timestamp == r.Timestamp {
			out[n-1] = r
			continue
		}
		out = append(out, r)
	}
	return out
}
