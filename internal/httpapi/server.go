package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradejournal/internal/backtest"
	"tradejournal/internal/domain"
	"tradejournal/internal/store"
)

const (
	maxBodyBytes    = 1 << 20
	maxHistoryLimit = 500
)

// ErrHistoryDisabled is returned by history operations when the server has
// no result store.
var ErrHistoryDisabled = errors.New("run history is not configured")

// BacktestServer serves the backtest HTTP API. The run and optimize methods
// are shared with the gRPC service.
type BacktestServer struct {
	bt           *backtest.Backtester
	opt          *backtest.Optimizer
	results      store.ResultStore
	historyLimit int
	log          *slog.Logger
}

// NewBacktestServer creates a BacktestServer. results may be nil, in which
// case runs are not saved and the history endpoints answer 503.
func NewBacktestServer(bt *backtest.Backtester, opt *backtest.Optimizer, results store.ResultStore, historyLimit int) *BacktestServer {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &BacktestServer{
		bt:           bt,
		opt:          opt,
		results:      results,
		historyLimit: historyLimit,
		log:          slog.Default().With("component", "httpapi"),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *BacktestServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/backtest/strategies", s.handleStrategies)
	mux.HandleFunc("POST /api/backtest/run", s.handleRun)
	mux.HandleFunc("POST /api/backtest/optimize", s.handleOptimize)
	mux.HandleFunc("GET /api/backtest/history", s.handleHistory)
	mux.HandleFunc("GET /api/backtest/{id}", s.handleGet)
}

// Handler returns an http.Handler with CORS middleware.
func (s *BacktestServer) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Strategies lists the registered strategies sorted by type.
func (s *BacktestServer) Strategies() []StrategyJSON {
	defs := s.bt.Registry().List()
	out := make([]StrategyJSON, len(defs))
	for i, d := range defs {
		out[i] = NewStrategyJSON(d)
	}
	return out
}

// RunBacktest runs one backtest and saves it to the history.
func (s *BacktestServer) RunBacktest(ctx context.Context, in BacktestRequestJSON) (*BacktestResultJSON, error) {
	req, err := in.ToRequest()
	if err != nil {
		return nil, err
	}
	res, err := s.bt.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	out := NewBacktestResultJSON(res)
	out.ID = s.save(ctx, store.KindBacktest, out.Symbol, out.Strategy.Type, out.TotalReturn, func(id string) any {
		out.ID = id
		return out
	})
	return out, nil
}

// Optimize runs a parameter search and saves it to the history. A search
// cut short by ctx still returns its partial result.
func (s *BacktestServer) Optimize(ctx context.Context, in OptimizationRequestJSON) (*OptimizationResultJSON, error) {
	req, err := in.ToRequest()
	if err != nil {
		return nil, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Base.Symbol))
	s.log.Debug("optimize request", "symbol", symbol, "ranges", sortedKeys(in.ParameterRanges))

	res, err := s.opt.Optimize(ctx, req)
	if err != nil {
		return nil, err
	}

	out := NewOptimizationResultJSON(res)
	var best float64
	if out.BestResult != nil {
		best = out.BestResult.TotalReturn
	}
	out.ID = s.save(ctx, store.KindOptimization, symbol, req.Base.Strategy.Type, best, func(id string) any {
		out.ID = id
		return out
	})
	return out, nil
}

// save persists a payload under a fresh ID and returns that ID, or "" when
// history is disabled or the write failed. It runs even when ctx is already
// cancelled, so a cut-short optimization is still recorded.
func (s *BacktestServer) save(ctx context.Context, kind, symbol string, st domain.StrategyType, totalReturn float64, payload func(id string) any) string {
	if s.results == nil {
		return ""
	}
	ctx = context.WithoutCancel(ctx)
	id := uuid.NewString()
	data, err := json.Marshal(payload(id))
	if err != nil {
		s.log.Error("encoding result for history", "error", err)
		return ""
	}
	rec := &store.ResultRecord{
		ResultSummary: store.ResultSummary{
			ID:           id,
			Kind:         kind,
			Symbol:       symbol,
			StrategyType: string(st),
			TotalReturn:  totalReturn,
		},
		Payload: data,
	}
	if err := s.results.SaveResult(ctx, rec); err != nil {
		s.log.Warn("saving result", "kind", kind, "error", err)
		return ""
	}
	return rec.ID
}

// History lists saved runs, newest first. A non-positive limit uses the
// configured default.
func (s *BacktestServer) History(ctx context.Context, limit int) ([]HistoryEntryJSON, error) {
	if s.results == nil {
		return nil, ErrHistoryDisabled
	}
	if limit <= 0 {
		limit = s.historyLimit
	}
	rows, err := s.results.ListResults(ctx, min(limit, maxHistoryLimit))
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntryJSON, len(rows))
	for i, r := range rows {
		out[i] = HistoryEntryJSON{
			ID:           r.ID,
			Kind:         r.Kind,
			Symbol:       r.Symbol,
			StrategyType: r.StrategyType,
			TotalReturn:  round(r.TotalReturn, percentPlaces),
			CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	return out, nil
}

// Result returns the saved JSON payload for id.
func (s *BacktestServer) Result(ctx context.Context, id string) ([]byte, error) {
	if s.results == nil {
		return nil, ErrHistoryDisabled
	}
	rec, err := s.results.GetResult(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Payload, nil
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *BacktestServer) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Strategies())
}

func (s *BacktestServer) handleRun(w http.ResponseWriter, r *http.Request) {
	var in BacktestRequestJSON
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.RunBacktest(r.Context(), in)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *BacktestServer) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var in OptimizationRequestJSON
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.Optimize(r.Context(), in)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *BacktestServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be a positive integer, got %q", v))
			return
		}
		limit = n
	}
	entries, err := s.History(r.Context(), limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Results: entries})
}

func (s *BacktestServer) handleGet(w http.ResponseWriter, r *http.Request) {
	payload, err := s.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// StatusFor maps an engine error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrDataIntegrity), errors.Is(err, backtest.ErrNoResults):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrHistoryDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *BacktestServer) writeErr(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeError(w, code, msg)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
