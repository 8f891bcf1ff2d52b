package grpcserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/auth"
	"github.com/md-rashed-zaman/clinicsched/libs/grpcx"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeScheduler struct {
	orgID   string
	bookReq booking.BookRequest
	err     error
}

func (f *fakeScheduler) AvailableSlots(_ context.Context, req booking.SlotsRequest) (booking.Availability, error) {
	f.orgID = req.OrganizationID
	if f.err != nil {
		return booking.Availability{}, f.err
	}
	return booking.Availability{
		Date:            req.Date,
		ProfessionalID:  req.ProfessionalID,
		DurationMinutes: 60,
		Hours:           &model.BusinessHours{Weekday: req.Date.Weekday(), Start: 540, End: 1020, Enabled: true},
		BookedSlots:     []string{},
		Slots:           []model.TimeSlot{{Time: "09:00", DisplayTime: "9:00 AM", Status: model.SlotAvailable, IsBusinessHours: true}},
	}, nil
}

func (f *fakeScheduler) Book(_ context.Context, req booking.BookRequest) (model.Appointment, error) {
	f.orgID, f.bookReq = req.OrganizationID, req
	if f.err != nil {
		return model.Appointment{}, f.err
	}
	return model.Appointment{ID: "appt-1", OrganizationID: req.OrganizationID, Start: req.Start, End: req.End, Status: model.StatusScheduled}, nil
}

func (f *fakeScheduler) Cancel(_ context.Context, orgID, id, reason string) (model.Appointment, error) {
	f.orgID = orgID
	if f.err != nil {
		return model.Appointment{}, f.err
	}
	return model.Appointment{ID: id, OrganizationID: orgID, Status: model.StatusCancelled, CancelReason: reason}, nil
}

func (f *fakeScheduler) Location() *time.Location { return time.UTC }

func start(t *testing.T, s Scheduler, v *auth.Verifier) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpcx.NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)), TenantInterceptor(v))
	Register(srv, New(s))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpcx.Dial("passthrough:///bufnet", grpcx.DialOptions{},
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

func withOrg(orgID string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), grpcx.OrganizationMetadataKey, orgID)
}

func TestGetAvailableSlots(t *testing.T) {
	fs := &fakeScheduler{}
	conn := start(t, fs, nil)

	out := new(GetAvailableSlotsResponse)
	err := conn.Invoke(withOrg("org-1"), MethodGetAvailableSlots, &GetAvailableSlotsRequest{ProfessionalID: "prof-1", Date: "2026-03-02"}, out)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if fs.orgID != "org-1" {
		t.Fatalf("tenant not propagated: %q", fs.orgID)
	}
	if out.Date != "2026-03-02" || out.BusinessHours == nil || out.BusinessHours.StartTime != "09:00" {
		t.Fatalf("unexpected response %+v", out)
	}
	if len(out.AvailableSlots) != 1 || out.AvailableSlots[0].Status != model.SlotAvailable {
		t.Fatalf("unexpected slots %+v", out.AvailableSlots)
	}
}

func TestBookAppointment(t *testing.T) {
	fs := &fakeScheduler{}
	conn := start(t, fs, nil)

	out := new(AppointmentResponse)
	req := &BookAppointmentRequest{PatientID: "pat-1", ProfessionalID: "prof-1", Date: "2026-03-02", StartTime: "10:00", EndTime: "10:30", IdempotencyKey: "k1"}
	if err := conn.Invoke(withOrg("org-1"), MethodBookAppointment, req, out); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Appointment.ID != "appt-1" || out.Appointment.Status != model.StatusScheduled {
		t.Fatalf("unexpected appointment %+v", out.Appointment)
	}
	wantStart := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if !fs.bookReq.Start.Equal(wantStart) || !fs.bookReq.End.Equal(wantStart.Add(30*time.Minute)) {
		t.Fatalf("unexpected interval %s-%s", fs.bookReq.Start, fs.bookReq.End)
	}
	if fs.bookReq.IdempotencyKey != "k1" {
		t.Fatalf("idempotency key not forwarded")
	}
}

func TestErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{booking.ErrInvalidInterval, codes.InvalidArgument},
		{booking.ErrCrossTenantViolation, codes.PermissionDenied},
		{booking.ErrNotFound, codes.NotFound},
		{booking.ErrSlotUnavailable, codes.Aborted},
		{booking.ErrInvalidTransition, codes.FailedPrecondition},
		{booking.ErrLedgerBusy, codes.Unavailable},
		{io.ErrUnexpectedEOF, codes.Internal},
	}
	for _, tc := range cases {
		conn := start(t, &fakeScheduler{err: tc.err}, nil)
		err := conn.Invoke(withOrg("org-1"), MethodCancelAppointment, &CancelAppointmentRequest{AppointmentID: "appt-1"}, new(AppointmentResponse))
		if status.Code(err) != tc.want {
			t.Fatalf("%v: expected %s, got %v", tc.err, tc.want, err)
		}
		if tc.want == codes.Aborted && !strings.HasPrefix(status.Convert(err).Message(), booking.CodeSlotUnavailable) {
			t.Fatalf("wire code missing from message: %q", status.Convert(err).Message())
		}
	}
}

func TestInvalidArguments(t *testing.T) {
	conn := start(t, &fakeScheduler{}, nil)

	err := conn.Invoke(withOrg("org-1"), MethodBookAppointment, &BookAppointmentRequest{PatientID: "p", ProfessionalID: "x", Date: "2026-03-02", StartTime: "nine"}, new(AppointmentResponse))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
	err = conn.Invoke(withOrg("org-1"), MethodBookAppointment, &BookAppointmentRequest{PatientID: "p", ProfessionalID: "x", Date: "2026-03-02", StartTime: "24:00"}, new(AppointmentResponse))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("24:00 start: expected InvalidArgument, got %v", err)
	}
	err = conn.Invoke(withOrg("org-1"), MethodGetAvailableSlots, &GetAvailableSlotsRequest{ProfessionalID: "x", Date: "2026-03-02", DurationMinutes: -15}, new(GetAvailableSlotsResponse))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestTenantRequired(t *testing.T) {
	conn := start(t, &fakeScheduler{}, nil)
	err := conn.Invoke(context.Background(), MethodCancelAppointment, &CancelAppointmentRequest{AppointmentID: "a"}, new(AppointmentResponse))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestBearerTokenTenant(t *testing.T) {
	const secret = "test-secret"
	fs := &fakeScheduler{}
	conn := start(t, fs, auth.NewVerifier(secret, nil))

	token, err := auth.SignHS256(auth.Claims{
		OrganizationID: "org-9",
		Role:           "staff",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// x-organization-id is ignored once tokens are required.
	ctx := metadata.AppendToOutgoingContext(withOrg("org-1"), grpcx.AuthorizationMetadataKey, "Bearer "+token)
	if err := conn.Invoke(ctx, MethodCancelAppointment, &CancelAppointmentRequest{AppointmentID: "a"}, new(AppointmentResponse)); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if fs.orgID != "org-9" {
		t.Fatalf("expected tenant from token, got %q", fs.orgID)
	}

	err = conn.Invoke(withOrg("org-1"), MethodCancelAppointment, &CancelAppointmentRequest{AppointmentID: "a"}, new(AppointmentResponse))
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated without token, got %v", err)
	}
}
