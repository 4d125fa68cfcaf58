package protocol

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const RequestIDKey = "x-request-id"

// RequestIDFromContext returns the request id attached by the client, if any.
func RequestIDFromContext(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDKey); len(ids) > 0 {
			return ids[0]
		}
	}
	return ""
}

// LoggingUnaryInterceptor tags every call with a request id and logs its outcome.
func LoggingUnaryInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		requestID := RequestIDFromContext(ctx)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		start := time.Now()
		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("request_id", requestID),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			fields = append(fields, zap.String("code", status.Code(err).String()), zap.Error(err))
			logger.Debug("RPC failed", fields...)
		} else {
			logger.Debug("RPC handled", fields...)
		}
		return resp, err
	}
}

// RequestIDClientInterceptor stamps outgoing calls with a fresh request id.
func RequestIDClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if md, ok := metadata.FromOutgoingContext(ctx); !ok || len(md.Get(RequestIDKey)) == 0 {
			ctx = metadata.AppendToOutgoingContext(ctx, RequestIDKey, uuid.NewString())
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
