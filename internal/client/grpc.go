package client

import (
	"context"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/server"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GRPCClient sends heartbeats over the fleet.v1.Telemetry service.
type GRPCClient struct {
	conn *grpc.ClientConn
}

func DialGRPC(addr string, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(server.JSONCodec{}.Name())),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCClient{conn: conn}, nil
}

func (g *GRPCClient) Heartbeat(ctx context.Context, id string, m models.Metrics) (*server.HeartbeatResponse, error) {
	req := heartbeatRequest(id, m)
	var out server.HeartbeatResponse
	if err := g.conn.Invoke(ctx, server.HeartbeatMethod, &req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *GRPCClient) Ping(ctx context.Context) (string, error) {
	var out server.PingResponse
	if err := g.conn.Invoke(ctx, server.PingMethod, &server.PingRequest{}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (g *GRPCClient) Close() error {
	return g.conn.Close()
}
