package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/clinicsched/libs/metrics"
	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/directory"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/ledger"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Ledger is the appointment store. *ledger.Repository satisfies it.
type Ledger interface {
	Begin(ctx context.Context) (ledger.Tx, error)
	Get(ctx context.Context, organizationID, appointmentID string) (model.Appointment, error)
	ListActive(ctx context.Context, organizationID, professionalID string, from, to time.Time) ([]model.Appointment, error)
	ListByProfessional(ctx context.Context, organizationID, professionalID string, from, to time.Time) ([]model.Appointment, error)
}

// Directory answers tenant membership questions. *directory.Repository satisfies it.
type Directory interface {
	ProfessionalOrganization(ctx context.Context, professionalID string) (string, error)
	PatientOrganization(ctx context.Context, patientID string) (string, error)
	Service(ctx context.Context, serviceID string) (model.Service, error)
}

// HoursSource returns the organization's record for one weekday, or nil when absent.
type HoursSource interface {
	Get(ctx context.Context, organizationID string, weekday time.Weekday) (*model.BusinessHours, error)
}

type Config struct {
	IntervalMinutes        int
	DefaultDurationMinutes int
	Range                  availability.Range
	Location               *time.Location
}

type Coordinator struct {
	ledger  Ledger
	dir     Directory
	hours   HoursSource
	logger  *slog.Logger
	metrics *metrics.SchedulingMetrics
	tracer  trace.Tracer
	cfg     Config
	now     func() time.Time
}

type Option func(*Coordinator)

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(l Ledger, dir Directory, hours HoursSource, logger *slog.Logger, cfg Config, opts ...Option) *Coordinator {
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = availability.DefaultIntervalMinutes
	}
	if cfg.DefaultDurationMinutes <= 0 {
		cfg.DefaultDurationMinutes = model.DefaultServiceDurationMinutes
	}
	if cfg.Range.End <= cfg.Range.Start {
		cfg.Range = availability.DefaultRange
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	c := &Coordinator{
		ledger: l,
		dir:    dir,
		hours:  hours,
		logger: logger,
		tracer: otelx.Tracer("scheduling/booking"),
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) Location() *time.Location { return c.cfg.Location }

type SlotsRequest struct {
	OrganizationID  string
	ProfessionalID  string
	ServiceID       string
	Date            time.Time
	DurationMinutes int
}

// Availability is the resolved grid for one professional and date.
type Availability struct {
	Date            time.Time
	ProfessionalID  string
	DurationMinutes int
	Hours           *model.BusinessHours
	BookedSlots     []string
	Slots           []model.TimeSlot
}

// AvailableSlots reads the current ledger state and resolves the slot grid. It takes no locks.
func (c *Coordinator) AvailableSlots(ctx context.Context, req SlotsRequest) (Availability, error) {
	ctx, span := c.tracer.Start(ctx, "booking.AvailableSlots", trace.WithAttributes(
		otelx.Tenant(req.OrganizationID, req.ProfessionalID)...,
	))
	defer span.End()

	out, err := c.availableSlots(ctx, req)
	if err != nil {
		c.metrics.ObserveSlotQuery(Kind(err))
		span.SetStatus(codes.Error, err.Error())
		return Availability{}, err
	}
	c.metrics.ObserveSlotQuery("ok")
	return out, nil
}

func (c *Coordinator) availableSlots(ctx context.Context, req SlotsRequest) (Availability, error) {
	if err := c.checkProfessional(ctx, req.OrganizationID, req.ProfessionalID); err != nil {
		return Availability{}, err
	}
	duration := req.DurationMinutes
	if duration == 0 {
		d, err := c.serviceDuration(ctx, req.OrganizationID, req.ServiceID)
		if err != nil {
			return Availability{}, err
		}
		duration = d
	}
	if duration <= 0 {
		return Availability{}, ErrInvalidDuration
	}

	day := model.StartOfDay(req.Date.In(c.cfg.Location))
	hours, err := c.hours.Get(ctx, req.OrganizationID, day.Weekday())
	if err != nil {
		return Availability{}, fmt.Errorf("load business hours: %w", err)
	}
	appts, err := c.ledger.ListActive(ctx, req.OrganizationID, req.ProfessionalID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return Availability{}, fmt.Errorf("list appointments: %w", err)
	}
	slots, err := availability.Resolve(availability.Query{
		Date:            day,
		ProfessionalID:  req.ProfessionalID,
		Hours:           hours,
		Appointments:    appts,
		DurationMinutes: duration,
		IntervalMinutes: c.cfg.IntervalMinutes,
		Range:           c.cfg.Range,
	})
	if err != nil {
		return Availability{}, err
	}
	if !hours.Open() {
		hours = nil
	}
	return Availability{
		Date:            day,
		ProfessionalID:  req.ProfessionalID,
		DurationMinutes: duration,
		Hours:           hours,
		BookedSlots:     availability.BookedTimes(appts, req.ProfessionalID, day),
		Slots:           slots,
	}, nil
}

type BookRequest struct {
	OrganizationID string
	ProfessionalID string
	PatientID      string
	ServiceID      string
	Start          time.Time
	// End is optional; zero means Start plus the service duration.
	End            time.Time
	Notes          string
	IdempotencyKey string
}

// Book validates req against the ledger as of commit time and inserts a scheduled appointment.
// Rejections are typed: match them with errors.Is or map them with Kind.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	started := c.now()
	ctx, span := c.tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		otelx.Tenant(req.OrganizationID, req.ProfessionalID)...,
	))
	defer span.End()

	appt, err := c.book(ctx, req)
	outcome := "booked"
	if err != nil {
		outcome = Kind(err)
		span.SetStatus(codes.Error, err.Error())
		level := slog.LevelInfo
		if outcome == CodeInternal {
			level = slog.LevelError
		}
		c.logger.Log(ctx, level, "booking rejected",
			"organization_id", req.OrganizationID,
			"professional_id", req.ProfessionalID,
			"start", req.Start,
			"code", outcome,
			"err", err,
		)
	} else {
		span.SetAttributes(otelx.AppointmentIDKey.String(appt.ID))
	}
	c.metrics.ObserveBooking(outcome, c.now().Sub(started))
	return appt, err
}

func (c *Coordinator) book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	start, end := req.Start, req.End
	if end.IsZero() && !start.IsZero() {
		d, err := c.serviceDuration(ctx, req.OrganizationID, req.ServiceID)
		if err != nil {
			return model.Appointment{}, err
		}
		end = start.Add(time.Duration(d) * time.Minute)
	}
	if start.IsZero() || !end.After(start) {
		return model.Appointment{}, ErrInvalidInterval
	}

	if err := c.checkProfessional(ctx, req.OrganizationID, req.ProfessionalID); err != nil {
		return model.Appointment{}, err
	}
	if err := c.checkTenant(ctx, req.OrganizationID, "patient", req.PatientID, c.dir.PatientOrganization); err != nil {
		return model.Appointment{}, err
	}
	if req.ServiceID != "" {
		if _, err := c.service(ctx, req.OrganizationID, req.ServiceID); err != nil {
			return model.Appointment{}, err
		}
	}

	tx, err := c.ledger.Begin(ctx)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		existingID, err := tx.LockIdempotencyKey(ctx, req.OrganizationID, key)
		if err != nil {
			return model.Appointment{}, mapLedgerErr(err)
		}
		if existingID != "" {
			appt, err := tx.Get(ctx, req.OrganizationID, existingID)
			if err != nil {
				return model.Appointment{}, mapLedgerErr(err)
			}
			return appt, nil
		}
	}

	day := model.StartOfDay(start.In(c.cfg.Location))
	lockStart := c.now()
	if err := tx.LockProfessionalDay(ctx, req.ProfessionalID, day); err != nil {
		return model.Appointment{}, mapLedgerErr(err)
	}
	c.metrics.ObserveLockWait(c.now().Sub(lockStart))

	until := day.AddDate(0, 0, 1)
	if end.After(until) {
		until = end
	}
	active, err := tx.ListActive(ctx, req.OrganizationID, req.ProfessionalID, day, until)
	if err != nil {
		return model.Appointment{}, mapLedgerErr(err)
	}
	hours, err := c.hours.Get(ctx, req.OrganizationID, day.Weekday())
	if err != nil {
		return model.Appointment{}, fmt.Errorf("load business hours: %w", err)
	}
	localStart, localEnd := start.In(c.cfg.Location), end.In(c.cfg.Location)
	switch availability.Classify(hours, active, req.ProfessionalID, localStart, localEnd) {
	case model.SlotAvailable:
	case model.SlotOutsideHours:
		return model.Appointment{}, fmt.Errorf("%w: outside business hours", ErrSlotUnavailable)
	default:
		return model.Appointment{}, fmt.Errorf("%w: overlaps an existing appointment", ErrSlotUnavailable)
	}

	now := c.now()
	appt := model.Appointment{
		ID:             uuid.NewString(),
		OrganizationID: req.OrganizationID,
		ProfessionalID: req.ProfessionalID,
		PatientID:      req.PatientID,
		ServiceID:      req.ServiceID,
		Start:          start,
		End:            end,
		Status:         model.StatusScheduled,
		Notes:          strings.TrimSpace(req.Notes),
		CreatedAt:      now,
	}
	if err := tx.Insert(ctx, appt); err != nil {
		return model.Appointment{}, mapLedgerErr(err)
	}
	evt, err := newEvent(TopicAppointmentBooked, appt, "", now)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Enqueue(ctx, evt); err != nil {
		return model.Appointment{}, fmt.Errorf("enqueue booked event: %w", err)
	}
	if key != "" {
		if err := tx.FinalizeIdempotency(ctx, req.OrganizationID, key, appt.ID); err != nil {
			return model.Appointment{}, mapLedgerErr(err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, mapLedgerErr(err)
	}
	return appt, nil
}

// Cancel frees the appointment's interval. Cancelling twice returns the cancelled appointment unchanged.
func (c *Coordinator) Cancel(ctx context.Context, organizationID, appointmentID, reason string) (model.Appointment, error) {
	return c.transition(ctx, organizationID, appointmentID, model.StatusCancelled, strings.TrimSpace(reason))
}

func (c *Coordinator) Complete(ctx context.Context, organizationID, appointmentID string) (model.Appointment, error) {
	return c.transition(ctx, organizationID, appointmentID, model.StatusCompleted, "")
}

func (c *Coordinator) NoShow(ctx context.Context, organizationID, appointmentID string) (model.Appointment, error) {
	return c.transition(ctx, organizationID, appointmentID, model.StatusNoShow, "")
}

// transition is a single-row status write; it never takes the professional/day lock.
func (c *Coordinator) transition(ctx context.Context, organizationID, appointmentID string, to model.AppointmentStatus, reason string) (model.Appointment, error) {
	ctx, span := c.tracer.Start(ctx, "booking.Transition", trace.WithAttributes(
		otelx.OrganizationIDKey.String(organizationID),
		otelx.AppointmentIDKey.String(appointmentID),
		otelx.AppointmentStatusKey.String(string(to)),
	))
	defer span.End()

	appt, err := c.applyTransition(ctx, organizationID, appointmentID, to, reason)
	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
		span.SetStatus(codes.Error, err.Error())
	}
	c.metrics.ObserveTransition(string(to), outcome)
	return appt, err
}

func (c *Coordinator) applyTransition(ctx context.Context, organizationID, appointmentID string, to model.AppointmentStatus, reason string) (model.Appointment, error) {
	tx, err := c.ledger.Begin(ctx)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := tx.GetForUpdate(ctx, organizationID, appointmentID)
	if err != nil {
		return model.Appointment{}, mapLedgerErr(err)
	}
	if appt.Status == to {
		return appt, nil
	}
	if appt.Status != model.StatusScheduled {
		return model.Appointment{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, appt.Status, to)
	}

	previous := appt.Status
	now := c.now()
	appt.Status = to
	topic := TopicAppointmentStatusChanged
	if to == model.StatusCancelled {
		appt.CancelledAt = &now
		appt.CancelReason = reason
		topic = TopicAppointmentCancelled
	}
	if err := tx.UpdateStatus(ctx, appt); err != nil {
		return model.Appointment{}, mapLedgerErr(err)
	}
	evt, err := newEvent(topic, appt, previous, now)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Enqueue(ctx, evt); err != nil {
		return model.Appointment{}, fmt.Errorf("enqueue %s event: %w", to, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, mapLedgerErr(err)
	}
	return appt, nil
}

func (c *Coordinator) Get(ctx context.Context, organizationID, appointmentID string) (model.Appointment, error) {
	appt, err := c.ledger.Get(ctx, organizationID, appointmentID)
	if err != nil {
		return model.Appointment{}, mapLedgerErr(err)
	}
	return appt, nil
}

// List returns the professional's appointments of any status that start on date.
func (c *Coordinator) List(ctx context.Context, organizationID, professionalID string, date time.Time) ([]model.Appointment, error) {
	if err := c.checkProfessional(ctx, organizationID, professionalID); err != nil {
		return nil, err
	}
	day := model.StartOfDay(date.In(c.cfg.Location))
	appts, err := c.ledger.ListByProfessional(ctx, organizationID, professionalID, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	if appts == nil {
		appts = []model.Appointment{}
	}
	return appts, nil
}

func (c *Coordinator) checkProfessional(ctx context.Context, organizationID, professionalID string) error {
	return c.checkTenant(ctx, organizationID, "professional", professionalID, c.dir.ProfessionalOrganization)
}

func (c *Coordinator) checkTenant(ctx context.Context, organizationID, kind, id string, lookup func(context.Context, string) (string, error)) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id is required", ErrNotFound, kind)
	}
	owner, err := lookup(ctx, id)
	if err != nil {
		return mapDirectoryErr(kind, id, err)
	}
	if owner != organizationID {
		return fmt.Errorf("%w: %s %s", ErrCrossTenantViolation, kind, id)
	}
	return nil
}

func (c *Coordinator) service(ctx context.Context, organizationID, serviceID string) (model.Service, error) {
	svc, err := c.dir.Service(ctx, serviceID)
	if err != nil {
		return model.Service{}, mapDirectoryErr("service", serviceID, err)
	}
	if svc.OrganizationID != organizationID {
		return model.Service{}, fmt.Errorf("%w: service %s", ErrCrossTenantViolation, serviceID)
	}
	return svc, nil
}

// serviceDuration resolves the booking length: the service's duration, else the configured default.
func (c *Coordinator) serviceDuration(ctx context.Context, organizationID, serviceID string) (int, error) {
	if serviceID == "" {
		return c.cfg.DefaultDurationMinutes, nil
	}
	svc, err := c.service(ctx, organizationID, serviceID)
	if err != nil {
		return 0, err
	}
	return svc.Duration(c.cfg.DefaultDurationMinutes), nil
}

func mapDirectoryErr(kind, id string, err error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return fmt.Errorf("lookup %s: %w", kind, err)
}

func mapLedgerErr(err error) error {
	switch {
	case errors.Is(err, ledger.ErrOverlap):
		return fmt.Errorf("%w: overlaps an existing appointment", ErrSlotUnavailable)
	case errors.Is(err, ledger.ErrBusy):
		return fmt.Errorf("%w: %v", ErrLedgerBusy, err)
	case errors.Is(err, ledger.ErrNotFound):
		return fmt.Errorf("%w: appointment", ErrNotFound)
	default:
		return err
	}
}
