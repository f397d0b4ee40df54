package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/database"
)

// Tenant lifecycle statuses. ARCHIVED short-circuits all reminder and
// renewal processing.
const (
	TenantStatusTrial    = "TRIAL"
	TenantStatusActive   = "ACTIVE"
	TenantStatusArchived = "ARCHIVED"
)

// Tenant is a provisioned customer (commune or association) with an active
// platform instance.
type Tenant struct {
	ID              string
	Name            string
	ContactName     string
	ContactEmail    string
	SIRET           *string
	VATExempt       bool
	LifecycleStatus string
	TrialEndsAt     *time.Time
	LeadID          *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// TenantRepository handles tenant persistence.
type TenantRepository struct {
	db *database.DB
}

// NewTenantRepository creates a new tenant repository.
func NewTenantRepository(db *database.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `
	id, name, contact_name, contact_email, siret, vat_exempt,
	lifecycle_status, trial_ends_at, lead_id, created_at, updated_at`

func scanTenant(row pgx.Row) (*Tenant, error) {
	t := &Tenant{}
	err := row.Scan(
		&t.ID, &t.Name, &t.ContactName, &t.ContactEmail, &t.SIRET, &t.VATExempt,
		&t.LifecycleStatus, &t.TrialEndsAt, &t.LeadID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Create inserts a tenant.
func (r *TenantRepository) Create(ctx context.Context, tenant *Tenant) error {
	query := `
		INSERT INTO tenants (name, contact_name, contact_email, siret, vat_exempt,
		                     lifecycle_status, trial_ends_at, lead_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		tenant.Name,
		tenant.ContactName,
		tenant.ContactEmail,
		tenant.SIRET,
		tenant.VATExempt,
		tenant.LifecycleStatus,
		tenant.TrialEndsAt,
		tenant.LeadID,
	).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create tenant")
	}

	return nil
}

// GetByID retrieves a tenant.
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

	tenant, err := scanTenant(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("tenant", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get tenant")
	}

	return tenant, nil
}

// SetLifecycleStatus updates the tenant's lifecycle status.
func (r *TenantRepository) SetLifecycleStatus(ctx context.Context, id, status string) error {
	query := `UPDATE tenants SET lifecycle_status = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update tenant status")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("tenant", id)
	}

	return nil
}

// ListTrialTenants returns non-archived trial tenants with a contact email
// and a trial still running at now. Input to the reminder scheduling phase.
func (r *TenantRepository) ListTrialTenants(ctx context.Context, now time.Time) ([]*Tenant, error) {
	query := `
		SELECT ` + tenantColumns + `
		FROM tenants
		WHERE lifecycle_status = 'TRIAL'
		  AND contact_email <> ''
		  AND trial_ends_at IS NOT NULL
		  AND trial_ends_at > $1
		ORDER BY trial_ends_at
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list trial tenants")
	}
	defer rows.Close()

	tenants := make([]*Tenant, 0)
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan tenant")
		}
		tenants = append(tenants, tenant)
	}

	return tenants, nil
}
