package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"tradejournal/internal/backtest"
	"tradejournal/internal/domain"
	"tradejournal/internal/httpapi"
	"tradejournal/internal/store"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "tradejournal.v1.BacktestService"

// BacktestServiceServer is the gRPC surface of the backtest engine. Messages
// are google.protobuf.Struct values carrying the same JSON shapes as the
// HTTP API.
type BacktestServiceServer interface {
	ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunBacktest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Optimize(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// BacktestService implements BacktestServiceServer over a BacktestServer.
type BacktestService struct {
	backtests *httpapi.BacktestServer
}

var _ BacktestServiceServer = (*BacktestService)(nil)

// NewBacktestService creates a BacktestService.
func NewBacktestService(backtests *httpapi.BacktestServer) *BacktestService {
	return &BacktestService{backtests: backtests}
}

// RegisterGRPC registers the service on the given gRPC server instance.
func (s *BacktestService) RegisterGRPC(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&backtestServiceDesc, s)
}

// ListStrategies returns {"strategies": [...]}. The request is ignored.
func (s *BacktestService) ListStrategies(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(map[string]any{"strategies": s.backtests.Strategies()})
}

// RunBacktest takes a backtest request object and returns the result object.
func (s *BacktestService) RunBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req httpapi.BacktestRequestJSON
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	out, err := s.backtests.RunBacktest(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(out)
}

// Optimize takes an optimization request object and returns the result.
func (s *BacktestService) Optimize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req httpapi.OptimizationRequestJSON
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	out, err := s.backtests.Optimize(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(out)
}

// fromStruct decodes a Struct into v with the HTTP API's strictness.
func fromStruct(in *structpb.Struct, v any) error {
	data, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "encoding request: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return out, nil
}

// CodeFor maps an engine error to a gRPC status code.
func CodeFor(err error) codes.Code {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConfiguration):
		return codes.InvalidArgument
	case errors.Is(err, domain.ErrDataIntegrity), errors.Is(err, backtest.ErrNoResults):
		return codes.FailedPrecondition
	case errors.Is(err, store.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

func grpcError(err error) error {
	code := CodeFor(err)
	if code == codes.Internal {
		return status.Error(code, "internal error")
	}
	return status.Error(code, err.Error())
}

// ---------------------------------------------------------------------------
// Service descriptor and client
// ---------------------------------------------------------------------------

type unaryCall func(BacktestServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktestServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktestServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BacktestServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListStrategies", Handler: unaryHandler("ListStrategies", BacktestServiceServer.ListStrategies)},
		{MethodName: "RunBacktest", Handler: unaryHandler("RunBacktest", BacktestServiceServer.RunBacktest)},
		{MethodName: "Optimize", Handler: unaryHandler("Optimize", BacktestServiceServer.Optimize)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tradejournal/v1/backtest.proto",
}

// BacktestServiceClient calls a remote BacktestService.
type BacktestServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewBacktestServiceClient creates a client over cc.
func NewBacktestServiceClient(cc grpc.ClientConnInterface) *BacktestServiceClient {
	return &BacktestServiceClient{cc: cc}
}

func (c *BacktestServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if in == nil {
		in = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListStrategies calls BacktestService.ListStrategies.
func (c *BacktestServiceClient) ListStrategies(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListStrategies", nil, opts...)
}

// RunBacktest calls BacktestService.RunBacktest.
func (c *BacktestServiceClient) RunBacktest(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "RunBacktest", in, opts...)
}

// Optimize calls BacktestService.Optimize.
func (c *BacktestServiceClient) Optimize(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Optimize", in, opts...)
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

// TokenInterceptor rejects calls whose "authorization" metadata is not
// "Bearer <token>". An empty token admits every call.
func TokenInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if token == "" {
			return handler(ctx, req)
		}
		md, _ := metadata.FromIncomingContext(ctx)
		for _, v := range md.Get("authorization") {
			if validBearer(v, token) {
				return handler(ctx, req)
			}
		}
		return nil, status.Error(codes.Unauthenticated, "missing or invalid token")
	}
}

func validBearer(header, token string) bool {
	got, ok := strings.CutPrefix(header, "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(got), []byte(token)) == 1
}
