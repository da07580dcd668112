package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/saze24/backtester/internal/sweep"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "backtester.v1.Sweeper"

// Method names of the Sweeper service.
const (
	MethodRunSweep             = "RunSweep"
	MethodListTests            = "ListTests"
	MethodTopStrategies        = "TopStrategies"
	MethodTopGroupedStrategies = "TopGroupedStrategies"
	MethodGroupDetails         = "GroupDetails"
	MethodPositions            = "Positions"
	MethodDeleteTest           = "DeleteTest"
)

// FullMethod returns the invocation path of a Sweeper method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// SweeperServer is the server API of the Sweeper service. Every message is a
// google.protobuf.Struct holding the JSON form of the request or response.
type SweeperServer interface {
	RunSweep(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTests(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TopStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TopGroupedStrategies(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GroupDetails(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Positions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteTest(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(SweeperServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(SweeperServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(SweeperServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// SweeperServiceDesc describes the Sweeper service for grpc.Server.
var SweeperServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SweeperServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodRunSweep, SweeperServer.RunSweep),
		unary(MethodListTests, SweeperServer.ListTests),
		unary(MethodTopStrategies, SweeperServer.TopStrategies),
		unary(MethodTopGroupedStrategies, SweeperServer.TopGroupedStrategies),
		unary(MethodGroupDetails, SweeperServer.GroupDetails),
		unary(MethodPositions, SweeperServer.Positions),
		unary(MethodDeleteTest, SweeperServer.DeleteTest),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "backtester/v1/sweeper.proto",
}

// Service implements SweeperServer on top of a Backend.
type Service struct {
	backend *Backend
	log     *slog.Logger
}

var _ SweeperServer = (*Service)(nil)

// NewService creates a Service backed by b.
func NewService(b *Backend) *Service {
	return &Service{backend: b, log: slog.Default().With("component", "grpc")}
}

// RegisterGRPC registers the service on gs.
func (s *Service) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&SweeperServiceDesc, s)
}

// TestRequest selects a test.
type TestRequest struct {
	TestID int64 `json:"test_id"`
}

// TopRequest selects the best results of a test.
type TopRequest struct {
	TestID int64 `json:"test_id"`
	Limit  int   `json:"limit,omitempty"`
}

// GroupsRequest selects the grouped ranking of a test. A nil MinFrequency
// selects the default.
type GroupsRequest struct {
	TestID       int64 `json:"test_id"`
	TopN         int   `json:"top_n,omitempty"`
	MinFrequency *int  `json:"min_frequency,omitempty"`
}

// GroupDetailsRequest selects one moving-average pair of a test.
type GroupDetailsRequest struct {
	TestID int64 `json:"test_id"`
	FastMA int   `json:"fast_ma"`
	SlowMA int   `json:"slow_ma"`
}

// PositionsRequest selects a result.
type PositionsRequest struct {
	ResultID int64 `json:"result_id"`
}

// RunSweep runs a sweep and returns its report.
func (s *Service) RunSweep(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var p sweep.Payload
	if err := DecodeStruct(in, &p); err != nil {
		return nil, err
	}
	row, err := s.backend.RunSweep(ctx, p)
	if err != nil {
		s.log.Warn("sweep rejected", "name", p.Name, "error", err)
		return nil, toStatus(err)
	}
	return reply(map[string]any{"report": row})
}

// ListTests returns every saved test.
func (s *Service) ListTests(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	rows, err := s.backend.ListTests(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"tests": rows})
}

// TopStrategies returns the best results of a test.
func (s *Service) TopStrategies(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req TopRequest
	if err := DecodeStruct(in, &req); err != nil {
		return nil, err
	}
	rows, err := s.backend.TopStrategies(ctx, req.TestID, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"strategies": rows})
}

// TopGroupedStrategies returns the grouped ranking of a test.
func (s *Service) TopGroupedStrategies(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req GroupsRequest
	if err := DecodeStruct(in, &req); err != nil {
		return nil, err
	}
	minFreq := -1
	if req.MinFrequency != nil {
		minFreq = *req.MinFrequency
	}
	rows, err := s.backend.TopGroupedStrategies(ctx, req.TestID, req.TopN, minFreq)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"groups": rows})
}

// GroupDetails returns every result of a test using one pair.
func (s *Service) GroupDetails(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req GroupDetailsRequest
	if err := DecodeStruct(in, &req); err != nil {
		return nil, err
	}
	rows, err := s.backend.GroupDetails(ctx, req.TestID, req.FastMA, req.SlowMA)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"strategies": rows})
}

// Positions returns a result with its trade log.
func (s *Service) Positions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req PositionsRequest
	if err := DecodeStruct(in, &req); err != nil {
		return nil, err
	}
	view, err := s.backend.Positions(ctx, req.ResultID)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(view)
}

// DeleteTest removes a test.
func (s *Service) DeleteTest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req TestRequest
	if err := DecodeStruct(in, &req); err != nil {
		return nil, err
	}
	if err := s.backend.DeleteTest(ctx, req.TestID); err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]any{"deleted": req.TestID})
}

// EncodeStruct converts v to a Struct through its JSON form. v must encode
// to a JSON object.
func EncodeStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	return out, nil
}

// DecodeStruct fills v from the JSON form of in. A nil Struct leaves v
// unchanged.
func DecodeStruct(in *structpb.Struct, v any) error {
	if in == nil {
		return nil
	}
	b, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decoding message: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decoding message: %v", err)
	}
	return nil
}

func reply(v any) (*structpb.Struct, error) {
	out, err := EncodeStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
