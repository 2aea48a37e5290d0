package interceptor

import (
	"context"
	"log/slog"
	"strings"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/selector"
	"google.golang.org/grpc"

	"github.com/dtroode/storefront-session/internal/logger"
)

// Protected matches calls whose full method is not public. An entry ending in
// "/" covers a whole service, any other entry must match the method exactly.
func Protected(publicMethods []string) selector.Matcher {
	return selector.MatchFunc(func(_ context.Context, c interceptors.CallMeta) bool {
		method := c.FullMethod()
		for _, p := range publicMethods {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if method == p || (strings.HasSuffix(p, "/") && strings.HasPrefix(method, p)) {
				return false
			}
		}
		return true
	})
}

// Logger adapts logger.Logger to the go-grpc-middleware logging interface.
func Logger(l *logger.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		l.Log(ctx, slog.Level(lvl), msg, fields...)
	})
}

// DialOptions chains call logging and session authentication for a client connection.
func DialOptions(session SessionManager, logger *logger.Logger, publicMethods []string) []grpc.DialOption {
	authenticate := NewAuthenticate(session, logger)
	protected := Protected(publicMethods)
	logOpts := []logging.Option{logging.WithLogOnEvents(logging.FinishCall)}

	return []grpc.DialOption{
		grpc.WithChainUnaryInterceptor(
			logging.UnaryClientInterceptor(Logger(logger), logOpts...),
			selector.UnaryClientInterceptor(authenticate.UnaryClient, protected),
		),
		grpc.WithChainStreamInterceptor(
			logging.StreamClientInterceptor(Logger(logger), logOpts...),
			selector.StreamClientInterceptor(authenticate.StreamClient, protected),
		),
	}
}
