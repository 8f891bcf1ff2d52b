package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/libs/tenancy"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// Scheduler is the booking surface the HTTP layer drives. *booking.Coordinator satisfies it.
type Scheduler interface {
	AvailableSlots(ctx context.Context, req booking.SlotsRequest) (booking.Availability, error)
	Book(ctx context.Context, req booking.BookRequest) (model.Appointment, error)
	Cancel(ctx context.Context, organizationID, appointmentID, reason string) (model.Appointment, error)
	Complete(ctx context.Context, organizationID, appointmentID string) (model.Appointment, error)
	NoShow(ctx context.Context, organizationID, appointmentID string) (model.Appointment, error)
	Get(ctx context.Context, organizationID, appointmentID string) (model.Appointment, error)
	List(ctx context.Context, organizationID, professionalID string, date time.Time) ([]model.Appointment, error)
	Location() *time.Location
}

const IdempotencyKeyHeader = "Idempotency-Key"

type SchedulingHandler struct {
	scheduler Scheduler
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewSchedulingHandler(s Scheduler, logger *slog.Logger) *SchedulingHandler {
	return &SchedulingHandler{scheduler: s, validate: newValidator(), logger: logger}
}

func (h *SchedulingHandler) Routes(r chi.Router) {
	r.Get("/professionals/{professionalID}/available-slots", h.AvailableSlots)
	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Book)
		r.Get("/{appointmentID}", h.Get)
		r.Post("/{appointmentID}/cancel", h.Cancel)
		r.Post("/{appointmentID}/complete", h.Complete)
		r.Post("/{appointmentID}/no-show", h.NoShow)
	})
}

type businessHoursWindow struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type availabilityResponse struct {
	Date            string               `json:"date"`
	ProfessionalID  string               `json:"professionalId"`
	DurationMinutes int                  `json:"durationMinutes"`
	BusinessHours   *businessHoursWindow `json:"businessHours"`
	BookedSlots     []string             `json:"bookedSlots"`
	AvailableSlots  []model.TimeSlot     `json:"availableSlots"`
}

func (h *SchedulingHandler) AvailableSlots(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organization(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	date, err := model.ParseDate(q.Get("date"), h.scheduler.Location())
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	duration := 0
	if raw := strings.TrimSpace(q.Get("durationMinutes")); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil || duration <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, booking.CodeInvalidDuration, "durationMinutes must be a positive integer")
			return
		}
	}

	avail, err := h.scheduler.AvailableSlots(r.Context(), booking.SlotsRequest{
		OrganizationID:  orgID,
		ProfessionalID:  chi.URLParam(r, "professionalID"),
		ServiceID:       strings.TrimSpace(q.Get("serviceId")),
		Date:            date,
		DurationMinutes: duration,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	resp := availabilityResponse{
		Date:            avail.Date.Format(model.DateLayout),
		ProfessionalID:  avail.ProfessionalID,
		DurationMinutes: avail.DurationMinutes,
		BookedSlots:     avail.BookedSlots,
		AvailableSlots:  avail.Slots,
	}
	if avail.Hours.Open() {
		resp.BusinessHours = &businessHoursWindow{StartTime: avail.Hours.Start.String(), EndTime: avail.Hours.End.String()}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type bookRequest struct {
	PatientID      string `json:"patientId" validate:"required"`
	ProfessionalID string `json:"professionalId" validate:"required"`
	ServiceID      string `json:"serviceId"`
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime      string `json:"startTime" validate:"required,startclock"`
	EndTime        string `json:"endTime" validate:"omitempty,clock"`
	Notes          string `json:"notes" validate:"max=2000"`
}

func (h *SchedulingHandler) Book(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organization(w, r)
	if !ok {
		return
	}
	var req bookRequest
	if !h.decode(w, r, &req) {
		return
	}

	day, err := model.ParseDate(req.Date, h.scheduler.Location())
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}
	start, _ := model.ParseStartClock(req.StartTime)
	in := booking.BookRequest{
		OrganizationID: orgID,
		ProfessionalID: strings.TrimSpace(req.ProfessionalID),
		PatientID:      strings.TrimSpace(req.PatientID),
		ServiceID:      strings.TrimSpace(req.ServiceID),
		Start:          start.On(day),
		Notes:          strings.TrimSpace(req.Notes),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
	}
	if req.EndTime != "" {
		end, _ := model.ParseClock(req.EndTime)
		in.End = end.On(day)
	}

	appt, err := h.scheduler.Book(r.Context(), in)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, appt)
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *SchedulingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organization(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 && !h.decode(w, r, &req) {
		return
	}
	appt, err := h.scheduler.Cancel(r.Context(), orgID, chi.URLParam(r, "appointmentID"), strings.TrimSpace(req.Reason))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *SchedulingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.scheduler.Complete)
}

func (h *SchedulingHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.scheduler.NoShow)
}

func (h *SchedulingHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) (model.Appointment, error)) {
	orgID, ok := organization(w, r)
	if !ok {
		return
	}
	appt, err := fn(r.Context(), orgID, chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

func (h *SchedulingHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organization(w, r)
	if !ok {
		return
	}
	appt, err := h.scheduler.Get(r.Context(), orgID, chi.URLParam(r, "appointmentID"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, appt)
}

type listResponse struct {
	Appointments []model.Appointment `json:"appointments"`
}

func (h *SchedulingHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := organization(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	profID := strings.TrimSpace(q.Get("professionalId"))
	if profID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "professionalId is required")
		return
	}
	date, err := model.ParseDate(q.Get("date"), h.scheduler.Location())
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	appts, err := h.scheduler.List(r.Context(), orgID, profID, date)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse{Appointments: appts})
}

func (h *SchedulingHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeAndValidate(w, r, h.validate, dst)
}

func (h *SchedulingHandler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	code := booking.Kind(err)
	status := statusFor(code)
	if status >= http.StatusInternalServerError && code != booking.CodeLedgerBusy {
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", httpx.RequestIDFromContext(r.Context()), "err", err)
		httpx.WriteError(w, status, code, "internal error")
		return
	}
	body := httpx.ErrorBody{Error: code, Message: err.Error()}
	if code == booking.CodeSlotUnavailable {
		body.Retry = "requery_availability"
	}
	if code == booking.CodeLedgerBusy {
		w.Header().Set("Retry-After", "1")
	}
	httpx.WriteJSON(w, status, body)
}

func statusFor(code string) int {
	switch code {
	case booking.CodeInvalidInterval, booking.CodeInvalidDuration:
		return http.StatusBadRequest
	case booking.CodeCrossTenantViolation:
		return http.StatusForbidden
	case booking.CodeNotFound:
		return http.StatusNotFound
	case booking.CodeSlotUnavailable, booking.CodeInvalidTransition:
		return http.StatusConflict
	case booking.CodeLedgerBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func organization(w http.ResponseWriter, r *http.Request) (string, bool) {
	orgID, ok := tenancy.OrganizationID(r.Context())
	if !ok {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "missing organization context")
		return "", false
	}
	return orgID, true
}

func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", "request body must be a JSON object")
		return false
	}
	if err := v.Struct(dst); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return false
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := model.ParseClock(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("startclock", func(fl validator.FieldLevel) bool {
		_, err := model.ParseStartClock(fl.Field().String())
		return err == nil
	})
	return v
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "clock":
		return fe.Field() + " must be HH:MM"
	case "startclock":
		return fe.Field() + " must be HH:MM before 24:00"
	case "datetime":
		return fe.Field() + " must be YYYY-MM-DD"
	default:
		return fe.Field() + " is invalid"
	}
}
