// Package api hosts the HTTP and gRPC listeners of the backtest service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"tradejournal/internal/config"
	"tradejournal/internal/httpapi"
	"tradejournal/internal/metrics"
)

const shutdownTimeout = 15 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	cfg       config.Server
	backtests *httpapi.BacktestServer
	metrics   *metrics.Metrics
	auth      func(http.Handler) http.Handler

	httpSrv *http.Server
	grpcSrv *grpc.Server
	log     *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAuth wraps the API routes in an authentication middleware. /metrics
// and /healthz stay open.
func WithAuth(mw func(http.Handler) http.Handler) Option {
	return func(s *Server) { s.auth = mw }
}

// NewServer creates a new Server configured from the given Config. m may be
// nil.
func NewServer(cfg config.Server, backtests *httpapi.BacktestServer, m *metrics.Metrics, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		backtests: backtests,
		metrics:   m,
		log:       slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil && cfg.AuthToken != "" {
		s.auth = BearerAuth(cfg.AuthToken)
	}

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.grpcSrv = grpc.NewServer(grpc.UnaryInterceptor(TokenInterceptor(cfg.AuthToken)))
	NewBacktestService(backtests).RegisterGRPC(s.grpcSrv)
	return s
}

// Handler returns the full HTTP handler: API routes, /metrics and /healthz,
// with request metrics recorded for every response.
func (s *Server) Handler() http.Handler {
	var apiHandler http.Handler = s.backtests.Handler()
	if s.auth != nil {
		apiHandler = s.auth(apiHandler)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", apiHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return metricsMiddleware(s.metrics, mux)
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs. A zero gRPC port disables
// the gRPC listener.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpSrv.Addr, err)
	}
	var grpcLn net.Listener
	if s.cfg.GRPCPort > 0 {
		addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.GRPCPort)
		grpcLn, err = net.Listen("tcp", addr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("listening on %s: %w", addr, err)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve runs both servers on the given listeners until ctx is cancelled or
// one of them fails, then shuts both down. grpcLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)
	// In-flight optimizations see the cancellation and return partial results.
	s.httpSrv.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		s.log.Info("http listening", "addr", httpLn.Addr().String())
		if err := s.httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if grpcLn != nil {
		g.Go(func() error {
			s.log.Info("grpc listening", "addr", grpcLn.Addr().String())
			if err := s.grpcSrv.Serve(grpcLn); err != nil {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers. The
// gRPC server is stopped hard if ctx expires first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")

	done := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(done)
	}()

	err := s.httpSrv.Shutdown(ctx)
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcSrv.Stop()
	}
	return err
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// BearerAuth requires "Authorization: Bearer <token>" on every request
// except CORS preflights.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions || validBearer(r.Header.Get("Authorization"), token) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("WWW-Authenticate", "Bearer")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RecordHTTPRequest(r.Method, rec.code, time.Since(start))
	})
}
