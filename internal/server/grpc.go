package server

import (
	"context"
	"encoding/json"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

// TelemetryServiceName is the gRPC service agents can send heartbeats to
// instead of POST /telemetry. Messages are JSON, selected with the "json"
// content subtype.
const TelemetryServiceName = "fleet.v1.Telemetry"

const (
	HeartbeatMethod = "/" + TelemetryServiceName + "/Heartbeat"
	PingMethod      = "/" + TelemetryServiceName + "/Ping"
)

// JSONCodec carries the plain request structs over gRPC.
type JSONCodec struct{}

func (JSONCodec) Name() string {
	return "json"
}

func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(JSONCodec{})
}

// TelemetryServer is the handler type behind TelemetryServiceName.
type TelemetryServer interface {
	Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error)
	Ping(ctx context.Context, req *PingRequest) (*PingResponse, error)
}

var telemetryServiceDesc = grpc.ServiceDesc{
	ServiceName: TelemetryServiceName,
	HandlerType: (*TelemetryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Heartbeat", Handler: heartbeatHandler},
		{MethodName: "Ping", Handler: pingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fleet/v1/telemetry",
}

// RegisterGRPC registers the telemetry service on gs.
func (s *Service) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&telemetryServiceDesc, &grpcTelemetry{svc: s})
}

type grpcTelemetry struct {
	svc *Service
}

func (g *grpcTelemetry) Heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	res, err := g.svc.Heartbeat(ctx, *req)
	if err != nil {
		if errors.Is(err, ErrMachineIDRequired) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, "failed to record heartbeat")
	}
	resp := res.Response()
	return &resp, nil
}

func (g *grpcTelemetry) Ping(context.Context, *PingRequest) (*PingResponse, error) {
	return &PingResponse{Message: "pong"}, nil
}

func heartbeatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HeartbeatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).Heartbeat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HeartbeatMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TelemetryServer).Heartbeat(ctx, req.(*HeartbeatRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func pingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TelemetryServer).Ping(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PingMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(TelemetryServer).Ping(ctx, req.(*PingRequest))
	}
	return interceptor(ctx, in, info, handler)
}
