// Package client dials the storefront gRPC backend.
package client

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dtroode/storefront-session/internal/model"
)

// GRPCClient wraps a client connection with its address and lifecycle methods.
type GRPCClient struct {
	conn *grpc.ClientConn
	addr string
}

// NewGRPCClient creates a connection to addr secured by securityLayer.
// Extra options, such as the session interceptors, are appended.
func NewGRPCClient(addr string, securityLayer model.SecurityLayer, opts ...grpc.DialOption) (*GRPCClient, error) {
	creds, err := securityLayer.TransportCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to build transport credentials: %w", err)
	}

	conn, err := grpc.NewClient(addr, append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &GRPCClient{conn: conn, addr: addr}, nil
}

// Health asks the backend health service for the status of service ("" for the whole server).
func (c *GRPCClient) Health(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus(), nil
}

// Close closes the connection.
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// Address returns the dialed address.
func (c *GRPCClient) Address() string {
	return c.addr
}
