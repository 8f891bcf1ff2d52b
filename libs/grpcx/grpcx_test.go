package grpcx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type echoRequest struct {
	Text  string `json:"text"`
	Panic bool   `json:"panic"`
}

type echoResponse struct {
	Text      string `json:"text"`
	RequestID string `json:"requestId"`
}

type echoServer interface {
	Echo(context.Context, *echoRequest) (*echoResponse, error)
}

type echoImpl struct{}

func (echoImpl) Echo(ctx context.Context, req *echoRequest) (*echoResponse, error) {
	if req.Panic {
		panic("boom")
	}
	return &echoResponse{Text: req.Text, RequestID: RequestIDFromContext(ctx)}, nil
}

var echoDesc = grpc.ServiceDesc{
	ServiceName: "test.Echo",
	HandlerType: (*echoServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Echo",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(echoRequest)
			if err := dec(in); err != nil {
				return nil, err
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/test.Echo/Echo"}
			h := func(ctx context.Context, req any) (any, error) {
				return srv.(echoServer).Echo(ctx, req.(*echoRequest))
			}
			if interceptor == nil {
				return h(ctx, in)
			}
			return interceptor(ctx, in, info, h)
		},
	}},
}

func startEcho(t *testing.T) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.RegisterService(&echoDesc, echoImpl{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := Dial("passthrough:///bufnet", DialOptions{},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestJSONCodecRoundTripAndRequestID(t *testing.T) {
	conn := startEcho(t)

	ctx := WithRequestID(context.Background(), "req-123")
	var header metadata.MD
	out := new(echoResponse)
	if err := conn.Invoke(ctx, "/test.Echo/Echo", &echoRequest{Text: "hi"}, out, grpc.Header(&header)); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Text != "hi" || out.RequestID != "req-123" {
		t.Fatalf("unexpected response %+v", out)
	}
	if got := header.Get(RequestIDMetadataKey); len(got) != 1 || got[0] != "req-123" {
		t.Fatalf("request id not echoed: %v", got)
	}
}

func TestServerRecoversPanics(t *testing.T) {
	conn := startEcho(t)

	err := conn.Invoke(context.Background(), "/test.Echo/Echo", &echoRequest{Panic: true}, new(echoResponse))
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal, got %v", err)
	}
}

type whoamiResponse struct {
	Authorization  string `json:"authorization"`
	OrganizationID string `json:"organizationId"`
}

func TestCallerCredentialsAttachIdentity(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "test.WhoAmI",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "WhoAmI",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				if err := dec(new(echoRequest)); err != nil {
					return nil, err
				}
				return &whoamiResponse{
					Authorization:  FirstMetadata(ctx, AuthorizationMetadataKey),
					OrganizationID: FirstMetadata(ctx, OrganizationMetadataKey),
				}, nil
			},
		}},
	}, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := Dial("passthrough:///bufnet", DialOptions{BearerToken: "tok", OrganizationID: "org-1"},
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	out := new(whoamiResponse)
	if err := conn.Invoke(context.Background(), "/test.WhoAmI/WhoAmI", &echoRequest{}, out); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Authorization != "Bearer tok" || out.OrganizationID != "org-1" {
		t.Fatalf("identity not attached: %+v", out)
	}
}
