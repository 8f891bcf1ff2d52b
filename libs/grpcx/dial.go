package grpcx

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	// If nil, defaults to insecure credentials (local dev, or mTLS terminated at the mesh).
	TransportCredentials grpc.DialOption
	// BearerToken and OrganizationID, when set, are sent on every call.
	BearerToken    string
	OrganizationID string
}

// Dial builds a lazily-connecting client that speaks the JSON codec and propagates request ids.
func Dial(addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(JSONCodecName)),
	}
	secure := opts.TransportCredentials != nil
	if secure {
		dialOpts = append(dialOpts, opts.TransportCredentials)
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if opts.BearerToken != "" || opts.OrganizationID != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(callerCredentials{
			bearerToken:    opts.BearerToken,
			organizationID: opts.OrganizationID,
			secure:         secure,
		}))
	}
	dialOpts = append(dialOpts, extra...)

	return grpc.NewClient(addr, dialOpts...)
}
