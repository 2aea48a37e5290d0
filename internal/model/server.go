package model

import "google.golang.org/grpc/credentials"

// SecurityLayer provides transport credentials for outgoing gRPC connections.
type SecurityLayer interface {
	TransportCredentials() (credentials.TransportCredentials, error)
}
