package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
)

const appointmentColumns = `id, organization_id, professional_id, patient_id, COALESCE(service_id, ''),
			start_time, end_time, status, COALESCE(notes, ''), cancelled_at, COALESCE(cancellation_reason, ''), created_at`

type Repository struct {
	pool        db.Querier
	outbox      *outbox.Repository
	lockTimeout time.Duration
}

func NewRepository(pool db.Querier, outboxRepo *outbox.Repository, lockTimeout time.Duration) *Repository {
	if lockTimeout <= 0 {
		lockTimeout = 3 * time.Second
	}
	return &Repository{pool: pool, outbox: outboxRepo, lockTimeout: lockTimeout}
}

func (r *Repository) Begin(ctx context.Context) (Tx, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	// Bounds every lock wait in the transaction: advisory, row and idempotency-key locks.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	return &pgTx{tx: tx, outbox: r.outbox}, nil
}

// ListActive reads outside any transaction; suitable for the availability grid only.
func (r *Repository) ListActive(ctx context.Context, organizationID, professionalID string, from, to time.Time) ([]model.Appointment, error) {
	return listActive(ctx, r.pool, organizationID, professionalID, from, to)
}

func (r *Repository) Get(ctx context.Context, organizationID, appointmentID string) (model.Appointment, error) {
	return getAppointment(ctx, r.pool, organizationID, appointmentID, false)
}

// ListByProfessional returns every appointment (any status) starting in [from, to).
func (r *Repository) ListByProfessional(ctx context.Context, organizationID, professionalID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE organization_id = $1
			AND professional_id = $2
			AND start_time >= $3
			AND start_time < $4
		ORDER BY start_time ASC
	`, organizationID, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func listActive(ctx context.Context, q queryer, organizationID, professionalID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE organization_id = $1
			AND professional_id = $2
			AND status <> 'cancelled'
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, organizationID, professionalID, from, to)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func getAppointment(ctx context.Context, q queryer, organizationID, appointmentID string, forUpdate bool) (model.Appointment, error) {
	sql := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE id = $1 AND organization_id = $2`
	if forUpdate {
		sql += `
		FOR UPDATE`
	}
	appt, err := scanAppointment(q.QueryRow(ctx, sql, appointmentID, organizationID))
	if err != nil {
		switch {
		case db.IsNotFound(err):
			return model.Appointment{}, ErrNotFound
		case db.IsLockTimeout(err):
			return model.Appointment{}, ErrBusy
		}
		return model.Appointment{}, err
	}
	return appt, nil
}

func scanAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.OrganizationID,
		&appt.ProfessionalID,
		&appt.PatientID,
		&appt.ServiceID,
		&appt.Start,
		&appt.End,
		&status,
		&appt.Notes,
		&appt.CancelledAt,
		&appt.CancelReason,
		&appt.CreatedAt,
	)
	appt.Status = model.AppointmentStatus(status)
	return appt, err
}

type pgTx struct {
	tx     pgx.Tx
	outbox *outbox.Repository
}

func (t *pgTx) LockProfessionalDay(ctx context.Context, professionalID string, day time.Time) error {
	key := professionalID + "|" + day.Format(model.DateLayout)
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		if db.IsLockTimeout(err) {
			return fmt.Errorf("%w: %s", ErrBusy, key)
		}
		return err
	}
	return nil
}

func (t *pgTx) ListActive(ctx context.Context, organizationID, professionalID string, from, to time.Time) ([]model.Appointment, error) {
	return listActive(ctx, t.tx, organizationID, professionalID, from, to)
}

func (t *pgTx) Insert(ctx context.Context, appt model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, organization_id, professional_id, patient_id, service_id, start_time, end_time, status, notes, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, NULLIF($9, ''), $10)
	`, appt.ID, appt.OrganizationID, appt.ProfessionalID, appt.PatientID, appt.ServiceID,
		appt.Start, appt.End, string(appt.Status), appt.Notes, appt.CreatedAt)
	switch {
	case err == nil:
		return nil
	case db.IsExclusionViolation(err):
		return ErrOverlap
	case db.IsLockTimeout(err):
		return ErrBusy
	default:
		return err
	}
}

func (t *pgTx) Get(ctx context.Context, organizationID, appointmentID string) (model.Appointment, error) {
	return getAppointment(ctx, t.tx, organizationID, appointmentID, false)
}

func (t *pgTx) GetForUpdate(ctx context.Context, organizationID, appointmentID string) (model.Appointment, error) {
	return getAppointment(ctx, t.tx, organizationID, appointmentID, true)
}

func (t *pgTx) UpdateStatus(ctx context.Context, appt model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			cancelled_at = $4,
			cancellation_reason = NULLIF($5, '')
		WHERE id = $1 AND organization_id = $2
	`, appt.ID, appt.OrganizationID, string(appt.Status), appt.CancelledAt, appt.CancelReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) LockIdempotencyKey(ctx context.Context, organizationID, key string) (string, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (organization_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (organization_id, idempotency_key) DO NOTHING
	`, organizationID, key)
	if err != nil {
		return "", err
	}

	var appointmentID string
	err = t.tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, '')
		FROM booking_idempotency_keys
		WHERE organization_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, organizationID, key).Scan(&appointmentID)
	if err != nil {
		if db.IsLockTimeout(err) {
			return "", fmt.Errorf("%w: idempotency key %s", ErrBusy, key)
		}
		return "", err
	}
	return appointmentID, nil
}

func (t *pgTx) FinalizeIdempotency(ctx context.Context, organizationID, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			updated_at = now()
		WHERE organization_id = $1 AND idempotency_key = $2
	`, organizationID, key, appointmentID)
	return err
}

func (t *pgTx) Enqueue(ctx context.Context, evt outbox.Event) error {
	return t.outbox.Insert(ctx, t.tx, evt)
}

func (t *pgTx) Commit(ctx context.Context) error {
	err := t.tx.Commit(ctx)
	if err != nil && db.IsExclusionViolation(err) {
		return ErrOverlap
	}
	return err
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
