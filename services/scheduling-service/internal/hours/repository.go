package hours

import (
	"context"
	"errors"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

var ErrInvalidHours = errors.New("business hours must start before they end")

type Repository struct {
	pool db.Querier
}

func NewRepository(pool db.Querier) *Repository {
	return &Repository{pool: pool}
}

// Get returns nil, nil when the organization has no record for weekday.
func (r *Repository) Get(ctx context.Context, organizationID string, weekday time.Weekday) (*model.BusinessHours, error) {
	h := model.BusinessHours{OrganizationID: organizationID, Weekday: weekday}
	var start, end int
	err := r.pool.QueryRow(ctx, `
		SELECT start_minute, end_minute, enabled
		FROM business_hours
		WHERE organization_id = $1 AND weekday = $2
	`, organizationID, int(weekday)).Scan(&start, &end, &h.Enabled)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	h.Start, h.End = model.Clock(start), model.Clock(end)
	return &h, nil
}

func (r *Repository) List(ctx context.Context, organizationID string) ([]model.BusinessHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute, enabled
		FROM business_hours
		WHERE organization_id = $1
		ORDER BY weekday ASC
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BusinessHours
	for rows.Next() {
		var weekday, start, end int
		h := model.BusinessHours{OrganizationID: organizationID}
		if err := rows.Scan(&weekday, &start, &end, &h.Enabled); err != nil {
			return nil, err
		}
		h.Weekday, h.Start, h.End = time.Weekday(weekday), model.Clock(start), model.Clock(end)
		out = append(out, h)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) Upsert(ctx context.Context, h model.BusinessHours) error {
	if !h.Valid() {
		return ErrInvalidHours
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_hours (organization_id, weekday, start_minute, end_minute, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, weekday) DO UPDATE
		SET start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			enabled = EXCLUDED.enabled,
			updated_at = now()
	`, h.OrganizationID, int(h.Weekday), int(h.Start), int(h.End), h.Enabled)
	return err
}
