package api

import (
	"context"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"tradejournal/internal/backtest"
	"tradejournal/internal/config"
	"tradejournal/internal/domain"
	"tradejournal/internal/httpapi"
	"tradejournal/internal/metrics"
	"tradejournal/internal/store"
	"tradejournal/internal/strategy/builtins"
)

func newBacktestServer(t *testing.T) *httpapi.BacktestServer {
	t.Helper()
	ps := store.NewParquetStore(t.TempDir())
	day0 := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 250)
	for i := range bars {
		c := 100 + 10*math.Sin(float64(i)/8)
		bars[i] = domain.Bar{Symbol: "TEST", Timestamp: day0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	if err := ps.WriteBars(context.Background(), bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	bt := backtest.NewBacktester(ps, builtins.NewRegistry(), "us", nil)
	opt := backtest.NewOptimizer(bt, backtest.OptimizerConfig{Workers: 2}, nil)
	return httpapi.NewBacktestServer(bt, opt, nil, 0)
}

func TestNewServer(t *testing.T) {
	s := NewServer(config.Server{Host: "127.0.0.1", Port: 0}, newBacktestServer(t), nil)
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
}

// ---------------------------------------------------------------------------
// gRPC over bufconn
// ---------------------------------------------------------------------------

func dialBufconn(t *testing.T, token string) *BacktestServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer(grpc.UnaryInterceptor(TokenInterceptor(token)))
	NewBacktestService(newBacktestServer(t)).RegisterGRPC(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewBacktestServiceClient(conn)
}

func runRequest(t *testing.T, st string) *structpb.Struct {
	t.Helper()
	in, err := structpb.NewStruct(map[string]any{
		"symbol":              "TEST",
		"strategy":            map[string]any{"type": st},
		"startDate":           "2023-01-01",
		"endDate":             "2023-12-31",
		"initialCapital":      10000,
		"positionSizePercent": 50,
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	return in
}

func TestGRPCListStrategies(t *testing.T) {
	client := dialBufconn(t, "")
	out, err := client.ListStrategies(context.Background())
	if err != nil {
		t.Fatalf("ListStrategies: %v", err)
	}
	list := out.GetFields()["strategies"].GetListValue().GetValues()
	if len(list) != 6 {
		t.Fatalf("got %d strategies, want 6", len(list))
	}
	if got := list[0].GetStructValue().GetFields()["type"].GetStringValue(); got != "BOLLINGER_BAND" {
		t.Errorf("first strategy = %q, want BOLLINGER_BAND", got)
	}
}

func TestGRPCRunBacktest(t *testing.T) {
	client := dialBufconn(t, "")
	out, err := client.RunBacktest(context.Background(), runRequest(t, "MOVING_AVERAGE"))
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	f := out.GetFields()
	if got := f["initialCapital"].GetNumberValue(); got != 10000 {
		t.Errorf("initialCapital = %v, want 10000", got)
	}
	if got := len(f["equityCurve"].GetListValue().GetValues()); got != 250 {
		t.Errorf("equityCurve has %d points, want 250", got)
	}
}

func TestGRPCErrorCodes(t *testing.T) {
	client := dialBufconn(t, "")

	unknownField, _ := structpb.NewStruct(map[string]any{"bogus": true})
	noData := runRequest(t, "RSI")
	noData.Fields["symbol"] = structpb.NewStringValue("MISSING")

	tests := []struct {
		name string
		in   *structpb.Struct
		want codes.Code
	}{
		{"unknown strategy", runRequest(t, "NOPE"), codes.InvalidArgument},
		{"unknown field", unknownField, codes.InvalidArgument},
		{"no data", noData, codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.RunBacktest(context.Background(), tt.in)
			if got := status.Code(err); got != tt.want {
				t.Errorf("code = %v, want %v (err %v)", got, tt.want, err)
			}
		})
	}
}

func TestGRPCOptimize(t *testing.T) {
	client := dialBufconn(t, "")
	in := runRequest(t, "MOVING_AVERAGE")
	ranges, _ := structpb.NewValue(map[string]any{
		"shortPeriod": map[string]any{"min": 2, "max": 4, "step": 1},
		"longPeriod":  map[string]any{"min": 10, "max": 20, "step": 10},
	})
	in.Fields["parameterRanges"] = ranges
	in.Fields["target"] = structpb.NewStringValue("sharpeRatio")

	out, err := client.Optimize(context.Background(), in)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if got := out.GetFields()["totalCombinations"].GetNumberValue(); got != 6 {
		t.Errorf("totalCombinations = %v, want 6", got)
	}
}

func TestGRPCTokenInterceptor(t *testing.T) {
	client := dialBufconn(t, "s3cret")

	_, err := client.ListStrategies(context.Background())
	if got := status.Code(err); got != codes.Unauthenticated {
		t.Errorf("without token: code = %v, want Unauthenticated", got)
	}

	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer s3cret")
	if _, err := client.ListStrategies(ctx); err != nil {
		t.Errorf("with token: %v", err)
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{domain.ErrValidation, codes.InvalidArgument},
		{domain.ErrConfiguration, codes.InvalidArgument},
		{domain.ErrDataIntegrity, codes.FailedPrecondition},
		{backtest.ErrNoResults, codes.FailedPrecondition},
		{store.ErrNotFound, codes.NotFound},
		{io.ErrUnexpectedEOF, codes.Internal},
	}
	for _, tt := range tests {
		if got := CodeFor(tt.err); got != tt.want {
			t.Errorf("CodeFor(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

func TestHandlerRoutesAndMetrics(t *testing.T) {
	m := metrics.New()
	s := NewServer(config.Server{}, newBacktestServer(t), m)
	h := s.Handler()

	for _, path := range []string{"/healthz", "/api/backtest/strategies"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `tradejournal_http_requests_total{code="200",method="GET"} 2`) {
		t.Errorf("/metrics does not count the two earlier requests:\n%s", rec.Body.String())
	}
}

func TestBearerAuth(t *testing.T) {
	s := NewServer(config.Server{AuthToken: "s3cret"}, newBacktestServer(t), nil)
	h := s.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"no token", http.MethodGet, "/api/backtest/strategies", "", http.StatusUnauthorized},
		{"wrong token", http.MethodGet, "/api/backtest/strategies", "Bearer nope", http.StatusUnauthorized},
		{"good token", http.MethodGet, "/api/backtest/strategies", "Bearer s3cret", http.StatusOK},
		{"preflight", http.MethodOptions, "/api/backtest/run", "", http.StatusNoContent},
		{"health open", http.MethodGet, "/healthz", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := NewServer(config.Server{}, newBacktestServer(t), nil)

	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, httpLn, grpcLn) }()

	url := "http://" + httpLn.Addr().String() + "/healthz"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
