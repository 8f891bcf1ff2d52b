package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

var (
	ErrNotFound = errors.New("appointment not found")
	// ErrOverlap is returned when the storage-level exclusion constraint rejects an insert.
	ErrOverlap = errors.New("appointment overlaps an existing appointment")
	// ErrBusy is returned when the professional/day lock could not be taken within the lock timeout.
	ErrBusy = errors.New("ledger busy")
)

// Tx is one ledger write transaction. Callers must Rollback if they do not Commit.
type Tx interface {
	// LockProfessionalDay serializes writers for one professional on one calendar day.
	LockProfessionalDay(ctx context.Context, professionalID string, day time.Time) error
	// ListActive returns the professional's non-cancelled appointments overlapping [from, to).
	ListActive(ctx context.Context, organizationID, professionalID string, from, to time.Time) ([]model.Appointment, error)
	Insert(ctx context.Context, appt model.Appointment) error
	Get(ctx context.Context, organizationID, appointmentID string) (model.Appointment, error)
	GetForUpdate(ctx context.Context, organizationID, appointmentID string) (model.Appointment, error)
	UpdateStatus(ctx context.Context, appt model.Appointment) error
	// LockIdempotencyKey claims key and returns the appointment id recorded by an earlier
	// successful request, or "" when the key is new.
	LockIdempotencyKey(ctx context.Context, organizationID, key string) (string, error)
	FinalizeIdempotency(ctx context.Context, organizationID, key, appointmentID string) error
	Enqueue(ctx context.Context, evt outbox.Event) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
