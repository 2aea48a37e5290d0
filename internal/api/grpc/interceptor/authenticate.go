// Package interceptor adds session credentials to outgoing gRPC calls.
package interceptor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dtroode/storefront-session/internal/logger"
	"github.com/dtroode/storefront-session/internal/model"
	"github.com/dtroode/storefront-session/internal/session"
)

const authorizationKey = "authorization"

// SessionManager provides the bearer credential and recovers from rejected ones.
type SessionManager interface {
	Bearer(ctx context.Context) (string, bool)
	HandleUnauthorized(ctx context.Context, path, sent string) (string, error)
}

// Authenticate attaches the session credential to outgoing calls.
// Unary calls rejected with codes.Unauthenticated are retried once after a refresh.
type Authenticate struct {
	session SessionManager
	logger  *logger.Logger
}

// NewAuthenticate creates a new Authenticate interceptor.
func NewAuthenticate(session SessionManager, logger *logger.Logger) *Authenticate {
	return &Authenticate{session: session, logger: logger}
}

// UnaryClient is a grpc.UnaryClientInterceptor.
func (a *Authenticate) UnaryClient(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	callCtx, sent := a.withCredential(ctx)
	err := invoker(callCtx, method, req, reply, cc, opts...)
	if status.Code(err) != codes.Unauthenticated {
		return err
	}

	tok, refreshErr := a.session.HandleUnauthorized(ctx, method, sent)
	switch {
	case errors.Is(refreshErr, model.ErrRetryExhausted), errors.Is(refreshErr, model.ErrPublicEndpoint):
		return err
	case refreshErr != nil:
		return fmt.Errorf("%w: %w", refreshErr, err)
	}

	a.logger.DebugContext(ctx, "gRPC interceptor: retrying call after refresh",
		"method", method)

	retryCtx := metadata.AppendToOutgoingContext(session.WithRetried(ctx), authorizationKey, "Bearer "+tok)
	return invoker(retryCtx, method, req, reply, cc, opts...)
}

// StreamClient is a grpc.StreamClientInterceptor. Streams are not replayed,
// so a rejected stream is returned to the caller as is.
func (a *Authenticate) StreamClient(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	callCtx, _ := a.withCredential(ctx)
	return streamer(callCtx, desc, cc, method, opts...)
}

// withCredential returns ctx carrying the bearer metadata and the access token sent.
func (a *Authenticate) withCredential(ctx context.Context) (context.Context, string) {
	bearer, ok := a.session.Bearer(ctx)
	if !ok {
		return ctx, ""
	}
	return metadata.AppendToOutgoingContext(ctx, authorizationKey, bearer), strings.TrimPrefix(bearer, "Bearer ")
}
