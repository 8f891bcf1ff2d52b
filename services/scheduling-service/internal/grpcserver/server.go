// Package grpcserver exposes the booking coordinator as clinicsched.scheduling.v1.Scheduling.
// Messages are plain structs carried by the grpcx JSON codec.
package grpcserver

import (
	"context"
	"strings"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/auth"
	"github.com/md-rashed-zaman/clinicsched/libs/grpcx"
	"github.com/md-rashed-zaman/clinicsched/libs/tenancy"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "clinicsched.scheduling.v1.Scheduling"

	MethodGetAvailableSlots = "/" + ServiceName + "/GetAvailableSlots"
	MethodBookAppointment   = "/" + ServiceName + "/BookAppointment"
	MethodCancelAppointment = "/" + ServiceName + "/CancelAppointment"
)

// Scheduler is satisfied by *booking.Coordinator.
type Scheduler interface {
	AvailableSlots(ctx context.Context, req booking.SlotsRequest) (booking.Availability, error)
	Book(ctx context.Context, req booking.BookRequest) (model.Appointment, error)
	Cancel(ctx context.Context, organizationID, appointmentID, reason string) (model.Appointment, error)
	Location() *time.Location
}

type SchedulingServer interface {
	GetAvailableSlots(context.Context, *GetAvailableSlotsRequest) (*GetAvailableSlotsResponse, error)
	BookAppointment(context.Context, *BookAppointmentRequest) (*AppointmentResponse, error)
	CancelAppointment(context.Context, *CancelAppointmentRequest) (*AppointmentResponse, error)
}

type Server struct {
	scheduler Scheduler
}

func New(s Scheduler) *Server {
	return &Server{scheduler: s}
}

func Register(srv *grpc.Server, s SchedulingServer) {
	srv.RegisterService(&ServiceDesc, s)
}

func (s *Server) GetAvailableSlots(ctx context.Context, req *GetAvailableSlotsRequest) (*GetAvailableSlotsResponse, error) {
	orgID, err := organization(ctx)
	if err != nil {
		return nil, err
	}
	date, err := model.ParseDate(req.Date, s.scheduler.Location())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "date must be YYYY-MM-DD")
	}
	if req.DurationMinutes < 0 {
		return nil, toStatus(booking.ErrInvalidDuration)
	}
	avail, err := s.scheduler.AvailableSlots(ctx, booking.SlotsRequest{
		OrganizationID:  orgID,
		ProfessionalID:  strings.TrimSpace(req.ProfessionalID),
		ServiceID:       strings.TrimSpace(req.ServiceID),
		Date:            date,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	out := &GetAvailableSlotsResponse{
		Date:            avail.Date.Format(model.DateLayout),
		ProfessionalID:  avail.ProfessionalID,
		DurationMinutes: avail.DurationMinutes,
		BookedSlots:     avail.BookedSlots,
		AvailableSlots:  avail.Slots,
	}
	if avail.Hours.Open() {
		out.BusinessHours = &BusinessHoursWindow{StartTime: avail.Hours.Start.String(), EndTime: avail.Hours.End.String()}
	}
	return out, nil
}

func (s *Server) BookAppointment(ctx context.Context, req *BookAppointmentRequest) (*AppointmentResponse, error) {
	orgID, err := organization(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PatientID) == "" || strings.TrimSpace(req.ProfessionalID) == "" {
		return nil, status.Error(codes.InvalidArgument, "patientId and professionalId are required")
	}
	day, err := model.ParseDate(req.Date, s.scheduler.Location())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "date must be YYYY-MM-DD")
	}
	start, err := model.ParseStartClock(req.StartTime)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "startTime must be HH:MM before 24:00")
	}
	in := booking.BookRequest{
		OrganizationID: orgID,
		ProfessionalID: strings.TrimSpace(req.ProfessionalID),
		PatientID:      strings.TrimSpace(req.PatientID),
		ServiceID:      strings.TrimSpace(req.ServiceID),
		Start:          start.On(day),
		Notes:          strings.TrimSpace(req.Notes),
		IdempotencyKey: strings.TrimSpace(req.IdempotencyKey),
	}
	if req.EndTime != "" {
		end, err := model.ParseClock(req.EndTime)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "endTime must be HH:MM")
		}
		in.End = end.On(day)
	}
	appt, err := s.scheduler.Book(ctx, in)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AppointmentResponse{Appointment: appt}, nil
}

func (s *Server) CancelAppointment(ctx context.Context, req *CancelAppointmentRequest) (*AppointmentResponse, error) {
	orgID, err := organization(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.AppointmentID) == "" {
		return nil, status.Error(codes.InvalidArgument, "appointmentId is required")
	}
	appt, err := s.scheduler.Cancel(ctx, orgID, strings.TrimSpace(req.AppointmentID), strings.TrimSpace(req.Reason))
	if err != nil {
		return nil, toStatus(err)
	}
	return &AppointmentResponse{Appointment: appt}, nil
}

func organization(ctx context.Context) (string, error) {
	if orgID, ok := tenancy.OrganizationID(ctx); ok {
		return orgID, nil
	}
	return "", status.Error(codes.Unauthenticated, "missing organization")
}

// toStatus maps booking rejections onto gRPC codes; the wire code travels as the message prefix.
func toStatus(err error) error {
	code := booking.Kind(err)
	var c codes.Code
	switch code {
	case booking.CodeInvalidInterval, booking.CodeInvalidDuration:
		c = codes.InvalidArgument
	case booking.CodeCrossTenantViolation:
		c = codes.PermissionDenied
	case booking.CodeNotFound:
		c = codes.NotFound
	case booking.CodeSlotUnavailable:
		c = codes.Aborted
	case booking.CodeInvalidTransition:
		c = codes.FailedPrecondition
	case booking.CodeLedgerBusy:
		c = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(c, code+": "+err.Error())
}

// TenantInterceptor resolves the caller organization. With a verifier, a bearer token in the
// authorization metadata is required; without one, x-organization-id is trusted.
func TenantInterceptor(v *auth.Verifier) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		p, err := principal(ctx, v)
		if err != nil {
			return nil, err
		}
		return handler(tenancy.WithPrincipal(ctx, p), req)
	}
}

func principal(ctx context.Context, v *auth.Verifier) (tenancy.Principal, error) {
	if v == nil {
		orgID := grpcx.FirstMetadata(ctx, grpcx.OrganizationMetadataKey)
		if orgID == "" {
			return tenancy.Principal{}, status.Error(codes.Unauthenticated, "missing "+grpcx.OrganizationMetadataKey)
		}
		return tenancy.Principal{OrganizationID: orgID}, nil
	}
	raw := grpcx.FirstMetadata(ctx, grpcx.AuthorizationMetadataKey)
	token := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if !strings.HasPrefix(raw, "Bearer ") || token == "" {
		return tenancy.Principal{}, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	claims, err := v.Verify(ctx, token)
	if err != nil {
		return tenancy.Principal{}, status.Error(codes.Unauthenticated, "invalid token")
	}
	if claims.OrganizationID == "" {
		return tenancy.Principal{}, status.Error(codes.PermissionDenied, "token carries no organization")
	}
	return tenancy.Principal{UserID: claims.Subject, OrganizationID: claims.OrganizationID, Role: claims.Role}, nil
}
