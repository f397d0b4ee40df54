package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/database"
)

// Lead pipeline stages. CONVERTED and LOST are terminal.
const (
	LeadStageNew              = "NEW"
	LeadStageContacted        = "CONTACTED"
	LeadStageQuoted           = "QUOTED"
	LeadStageAwaitingDecision = "AWAITING_DECISION"
	LeadStageAwaitingPayment  = "AWAITING_PAYMENT"
	LeadStageConverted        = "CONVERTED"
	LeadStageLost             = "LOST"
)

// Lead is a prospect (commune or association) moving through the commercial
// pipeline.
type Lead struct {
	ID               string
	OrganisationName string
	ContactName      string
	Email            string
	Phone            *string
	SIRET            *string
	PipelineStage    string
	PublicToken      string
	TenantID         *string
	Notes            *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LeadStageChange describes an event-driven pipeline advance performed
// inside a document transaction. The advance is best-effort: when the lead
// is already past AllowedFrom (or terminal) the document operation still
// commits.
type LeadStageChange struct {
	LeadID      string
	AllowedFrom []string
	To          string
}

// LeadRepository handles lead persistence.
type LeadRepository struct {
	db *database.DB
}

// NewLeadRepository creates a new lead repository.
func NewLeadRepository(db *database.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

const leadColumns = `
	id, organisation_name, contact_name, email, phone, siret,
	pipeline_stage, public_token, tenant_id, notes, created_at, updated_at`

func scanLead(row pgx.Row) (*Lead, error) {
	l := &Lead{}
	err := row.Scan(
		&l.ID, &l.OrganisationName, &l.ContactName, &l.Email, &l.Phone, &l.SIRET,
		&l.PipelineStage, &l.PublicToken, &l.TenantID, &l.Notes,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Create inserts a lead.
func (r *LeadRepository) Create(ctx context.Context, lead *Lead) error {
	query := `
		INSERT INTO leads (organisation_name, contact_name, email, phone, siret,
		                   pipeline_stage, public_token, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		lead.OrganisationName,
		lead.ContactName,
		lead.Email,
		lead.Phone,
		lead.SIRET,
		lead.PipelineStage,
		lead.PublicToken,
		lead.Notes,
	).Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create lead")
	}

	return nil
}

// GetByID retrieves a lead.
func (r *LeadRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`

	lead, err := scanLead(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("lead", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get lead")
	}

	return lead, nil
}

// GetByPublicToken retrieves a lead through its self-service portal token.
func (r *LeadRepository) GetByPublicToken(ctx context.Context, token string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE public_token = $1`

	lead, err := scanLead(r.db.QueryRow(ctx, query, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("lead", token)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get lead by token")
	}

	return lead, nil
}

// List retrieves leads, optionally filtered by pipeline stage.
func (r *LeadRepository) List(ctx context.Context, stage *string, limit, offset int) ([]*Lead, int64, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM leads WHERE 1=1`

	args := []any{}
	argCount := 1

	if stage != nil {
		query += fmt.Sprintf(" AND pipeline_stage = $%d", argCount)
		countQuery += fmt.Sprintf(" AND pipeline_stage = $%d", argCount)
		args = append(args, *stage)
		argCount++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to count leads")
	}

	rows, err := r.db.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list leads")
	}
	defer rows.Close()

	leads := make([]*Lead, 0)
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to scan lead")
		}
		leads = append(leads, lead)
	}

	return leads, total, nil
}

// UpdateStage moves a lead between pipeline stages, guarded on the current
// stage. Used for explicit staff transitions; callers get InvalidTransition
// on a stale or illegal move.
func (r *LeadRepository) UpdateStage(ctx context.Context, id, from, to string) error {
	query := `
		UPDATE leads
		SET pipeline_stage = $3, updated_at = NOW()
		WHERE id = $1 AND pipeline_stage = $2
	`

	tag, err := r.db.Exec(ctx, query, id, from, to)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update lead stage")
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidTransition("lead", from, to)
	}

	return nil
}

// AdvanceStage performs an event-driven, best-effort advance outside a
// transaction (quote creation, quote send). No-op when the lead has already
// moved past the allowed source stages.
func (r *LeadRepository) AdvanceStage(ctx context.Context, change *LeadStageChange) error {
	query := `
		UPDATE leads
		SET pipeline_stage = $3, updated_at = NOW()
		WHERE id = $1 AND pipeline_stage = ANY($2)
	`

	if _, err := r.db.Exec(ctx, query, change.LeadID, change.AllowedFrom, change.To); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to advance lead stage")
	}
	return nil
}

// LinkTenant records the tenant created from this lead and marks it
// CONVERTED.
func (r *LeadRepository) LinkTenant(ctx context.Context, id, tenantID string) error {
	query := `
		UPDATE leads
		SET tenant_id = $2, pipeline_stage = 'CONVERTED', updated_at = NOW()
		WHERE id = $1 AND pipeline_stage NOT IN ('CONVERTED', 'LOST')
	`

	tag, err := r.db.Exec(ctx, query, id, tenantID)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to link tenant to lead")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.CodeInvalidTransition, "lead is already terminal")
	}

	return nil
}

// updateLeadStage is the in-transaction variant of AdvanceStage, used by the
// quote accept flow.
func updateLeadStage(ctx context.Context, tx pgx.Tx, change *LeadStageChange) error {
	query := `
		UPDATE leads
		SET pipeline_stage = $3, updated_at = NOW()
		WHERE id = $1 AND pipeline_stage = ANY($2)
	`

	if _, err := tx.Exec(ctx, query, change.LeadID, change.AllowedFrom, change.To); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to advance lead stage")
	}
	return nil
}
