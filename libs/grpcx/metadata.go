package grpcx

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// Metadata keys understood by the scheduling gRPC services.
const (
	RequestIDMetadataKey     = "x-request-id"
	OrganizationMetadataKey  = "x-organization-id"
	AuthorizationMetadataKey = "authorization"
)

const maxRequestIDLen = 128

type ctxKey int

const ctxKeyRequestID ctxKey = iota

func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

func NewRequestID() string {
	return uuid.NewString()
}

// FirstMetadata returns the first incoming value for key, or "".
func FirstMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

// callerCredentials attaches a fixed caller identity to every RPC on a connection. It is
// used by operator tools that act for one organization.
type callerCredentials struct {
	bearerToken    string
	organizationID string
	secure         bool
}

func (c callerCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	md := map[string]string{}
	if c.bearerToken != "" {
		md[AuthorizationMetadataKey] = "Bearer " + c.bearerToken
	}
	if c.organizationID != "" {
		md[OrganizationMetadataKey] = c.organizationID
	}
	return md, nil
}

func (c callerCredentials) RequireTransportSecurity() bool { return c.secure }

// UnaryClientRequestIDInterceptor forwards the caller's request id, preferring the HTTP one.
func UnaryClientRequestIDInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		id := httpx.RequestIDFromContext(ctx)
		if id == "" {
			id = RequestIDFromContext(ctx)
		}
		if id != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, RequestIDMetadataKey, id)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryServerRequestIDInterceptor adopts or mints a request id, echoes it in the response
// header and exposes it to both grpcx and httpx lookups.
func UnaryServerRequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		id := FirstMetadata(ctx, RequestIDMetadataKey)
		if id == "" || len(id) > maxRequestIDLen {
			id = NewRequestID()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadataKey, id))
		ctx = httpx.ContextWithRequestID(WithRequestID(ctx, id), id)
		return handler(ctx, req)
	}
}
