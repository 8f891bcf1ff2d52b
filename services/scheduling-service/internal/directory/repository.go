package directory

import (
	"context"
	"errors"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

var ErrNotFound = errors.New("directory entry not found")

// Repository reads the identity records owned by the organization and staff services.
type Repository struct {
	pool db.Querier
}

func NewRepository(pool db.Querier) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Professional(ctx context.Context, professionalID string) (model.Professional, error) {
	var p model.Professional
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, organization_id::text, name, active
		FROM professionals
		WHERE id::text = $1
	`, professionalID).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.Active)
	return p, notFound(err)
}

// ProfessionalOrganization returns the tenant that owns professionalID.
func (r *Repository) ProfessionalOrganization(ctx context.Context, professionalID string) (string, error) {
	p, err := r.Professional(ctx, professionalID)
	return p.OrganizationID, err
}

func (r *Repository) PatientOrganization(ctx context.Context, patientID string) (string, error) {
	var orgID string
	err := r.pool.QueryRow(ctx, `
		SELECT organization_id::text
		FROM patients
		WHERE id::text = $1
	`, patientID).Scan(&orgID)
	return orgID, notFound(err)
}

func (r *Repository) Service(ctx context.Context, serviceID string) (model.Service, error) {
	var s model.Service
	var duration *int
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, organization_id::text, name, duration_minutes
		FROM services
		WHERE id::text = $1
	`, serviceID).Scan(&s.ID, &s.OrganizationID, &s.Name, &duration)
	if duration != nil {
		s.DurationMinutes = *duration
	}
	return s, notFound(err)
}

func (r *Repository) Organization(ctx context.Context, organizationID string) (model.Organization, error) {
	var o model.Organization
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, slug, timezone
		FROM organizations
		WHERE id::text = $1
	`, organizationID).Scan(&o.ID, &o.Slug, &o.Timezone)
	return o, notFound(err)
}

func notFound(err error) error {
	if db.IsNotFound(err) {
		return ErrNotFound
	}
	return err
}
