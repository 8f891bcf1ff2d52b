package booking

import (
	"errors"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
)

var (
	ErrInvalidInterval      = errors.New("end time must be after start time")
	ErrInvalidDuration      = availability.ErrInvalidDuration
	ErrCrossTenantViolation = errors.New("reference belongs to another organization")
	ErrSlotUnavailable      = errors.New("requested slot is not available")
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("status transition not allowed")
	ErrLedgerBusy           = errors.New("appointment ledger busy, retry shortly")
)

// Wire codes for rejections.
const (
	CodeInvalidInterval      = "invalid_interval"
	CodeInvalidDuration      = "invalid_duration"
	CodeCrossTenantViolation = "cross_tenant_violation"
	CodeSlotUnavailable      = "slot_unavailable"
	CodeNotFound             = "not_found"
	CodeInvalidTransition    = "invalid_transition"
	CodeLedgerBusy           = "ledger_busy"
	CodeInternal             = "internal"
)

// Kind maps err to its wire code; unknown errors are "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInterval):
		return CodeInvalidInterval
	case errors.Is(err, ErrInvalidDuration):
		return CodeInvalidDuration
	case errors.Is(err, ErrCrossTenantViolation):
		return CodeCrossTenantViolation
	case errors.Is(err, ErrSlotUnavailable):
		return CodeSlotUnavailable
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrLedgerBusy):
		return CodeLedgerBusy
	default:
		return CodeInternal
	}
}
