package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"backtester/internal/domain"
	"backtester/internal/engine"
	"backtester/internal/store"
)

// The Backtester service exchanges google.protobuf.Struct messages holding
// the same JSON objects as the HTTP API.
const (
	backtesterServiceName = "backtester.v1.Backtester"

	runBacktestMethod    = "/" + backtesterServiceName + "/RunBacktest"
	getBacktestMethod    = "/" + backtesterServiceName + "/GetBacktest"
	listStrategiesMethod = "/" + backtesterServiceName + "/ListStrategies"
)

// BacktesterServer is the server API for the Backtester service.
type BacktesterServer interface {
	RunBacktest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetBacktest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListStrategies(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterBacktesterServer registers srv on gs.
func RegisterBacktesterServer(gs grpc.ServiceRegistrar, srv BacktesterServer) {
	gs.RegisterService(&backtesterServiceDesc, srv)
}

var backtesterServiceDesc = grpc.ServiceDesc{
	ServiceName: backtesterServiceName,
	HandlerType: (*BacktesterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunBacktest", Handler: unaryHandler(runBacktestMethod, BacktesterServer.RunBacktest)},
		{MethodName: "GetBacktest", Handler: unaryHandler(getBacktestMethod, BacktesterServer.GetBacktest)},
		{MethodName: "ListStrategies", Handler: unaryHandler(listStrategiesMethod, BacktesterServer.ListStrategies)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "backtester/v1/backtester.proto",
}

func unaryHandler(fullMethod string, call func(BacktesterServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(BacktesterServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(BacktesterServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ---------------------------------------------------------------------------
// Service implementation
// ---------------------------------------------------------------------------

type grpcService struct {
	bt       Backtester
	defaults engine.Request
}

var _ BacktesterServer = (*grpcService)(nil)

func (g *grpcService) RunBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := g.defaults
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	report, err := g.bt.Run(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(report)
}

func (g *grpcService) GetBacktest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := in.GetFields()["run_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "run_id is required")
	}
	report, err := g.bt.GetRun(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(report)
}

func (g *grpcService) ListStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(StrategiesResponse{Strategies: g.bt.Strategies()})
}

// observeUnary records the latency and status code of every gRPC call.
func (s *Server) observeUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		s.metrics.RecordRequest("grpc", info.FullMethod, status.Code(err).String(), time.Since(start))
		return resp, err
	}
}

// grpcError maps engine errors to gRPC status errors.
func grpcError(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrStrategyNotFound), errors.Is(err, store.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrConfigMissing):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrDataUnavailable):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding response: %v", err)
	}
	return st, nil
}

// fromStruct decodes st into v through its JSON encoding. Struct numbers
// are doubles, so integer fields above 2^53 lose precision.
func fromStruct(st *structpb.Struct, v any) error {
	data, err := json.Marshal(st.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// GRPCClient calls the Backtester service.
type GRPCClient struct {
	cc grpc.ClientConnInterface
}

// NewGRPCClient creates a GRPCClient on cc.
func NewGRPCClient(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

// RunBacktest runs req on the server. Zero fields take the server defaults.
func (c *GRPCClient) RunBacktest(ctx context.Context, req engine.Request) (*engine.Report, error) {
	fields := map[string]any{}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	// Drop zero values so the server defaults apply.
	for k, v := range fields {
		switch x := v.(type) {
		case string:
			if x == "" {
				delete(fields, k)
			}
		case float64:
			if x == 0 {
				delete(fields, k)
			}
		}
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return c.report(ctx, runBacktestMethod, in)
}

// GetBacktest loads a journaled run.
func (c *GRPCClient) GetBacktest(ctx context.Context, id string) (*engine.Report, error) {
	in, err := structpb.NewStruct(map[string]any{"run_id": id})
	if err != nil {
		return nil, err
	}
	return c.report(ctx, getBacktestMethod, in)
}

// ListStrategies lists the strategies the server can run.
func (c *GRPCClient) ListStrategies(ctx context.Context) ([]string, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listStrategiesMethod, &structpb.Struct{}, out); err != nil {
		return nil, err
	}
	var resp StrategiesResponse
	if err := fromStruct(out, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return resp.Strategies, nil
}

func (c *GRPCClient) report(ctx context.Context, method string, in *structpb.Struct) (*engine.Report, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return nil, err
	}
	var report engine.Report
	if err := fromStruct(out, &report); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &report, nil
}
