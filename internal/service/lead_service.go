package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/client"
	"github.com/civicqo/be-billing/internal/logger"
	"github.com/civicqo/be-billing/internal/repository"
)

// SIRETChecker validates a French SIRET identifier.
type SIRETChecker interface {
	Validate(ctx context.Context, siret string) client.SIRETResult
}

// LeadService owns the commercial pipeline for prospect municipalities.
type LeadService struct {
	leads   LeadStore
	tenants TenantStore
	siret   SIRETChecker
	log     *logger.Logger
}

// NewLeadService creates a new lead service.
func NewLeadService(leads LeadStore, tenants TenantStore, siret SIRETChecker, log *logger.Logger) *LeadService {
	return &LeadService{leads: leads, tenants: tenants, siret: siret, log: log}
}

// CreateLeadRequest is a create lead request.
type CreateLeadRequest struct {
	OrganisationName string
	ContactName      string
	Email            string
	Phone            *string
	SIRET            *string
	Notes            *string
}

// CreateLead registers a new prospect at stage NEW. A provided SIRET must
// pass validation; a registry outage degrades the check to format-only.
func (s *LeadService) CreateLead(ctx context.Context, req *CreateLeadRequest) (*repository.Lead, error) {
	if req.OrganisationName == "" {
		return nil, apperr.InvalidInput("organisation_name", "organisation name is required")
	}
	if req.Email == "" {
		return nil, apperr.InvalidInput("email", "contact email is required")
	}

	if req.SIRET != nil && *req.SIRET != "" {
		result := s.siret.Validate(ctx, *req.SIRET)
		if !result.IsValid {
			return nil, apperr.InvalidInput("siret", result.Error)
		}
	}

	lead := &repository.Lead{
		OrganisationName: req.OrganisationName,
		ContactName:      req.ContactName,
		Email:            req.Email,
		Phone:            req.Phone,
		SIRET:            req.SIRET,
		PipelineStage:    repository.LeadStageNew,
		PublicToken:      uuid.NewString(),
		Notes:            req.Notes,
	}

	if err := s.leads.Create(ctx, lead); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("lead_id", lead.ID).
		Str("organisation", lead.OrganisationName).
		Msg("Lead created")

	return lead, nil
}

// GetLead retrieves a lead by ID.
func (s *LeadService) GetLead(ctx context.Context, id string) (*repository.Lead, error) {
	return s.leads.GetByID(ctx, id)
}

// GetLeadByToken retrieves a lead through its portal token.
func (s *LeadService) GetLeadByToken(ctx context.Context, token string) (*repository.Lead, error) {
	return s.leads.GetByPublicToken(ctx, token)
}

// ListLeads lists leads with filtering and pagination.
func (s *LeadService) ListLeads(ctx context.Context, stage *string, page, pageSize int) ([]*repository.Lead, int64, error) {
	offset := (page - 1) * pageSize
	return s.leads.List(ctx, stage, pageSize, offset)
}

// pipelineEdges enumerates the staff-driven stage transitions. LOST is
// reachable from any non-terminal stage and handled separately.
var pipelineEdges = map[string]string{
	repository.LeadStageNew:              repository.LeadStageContacted,
	repository.LeadStageContacted:        repository.LeadStageQuoted,
	repository.LeadStageQuoted:           repository.LeadStageAwaitingDecision,
	repository.LeadStageAwaitingDecision: repository.LeadStageAwaitingPayment,
	repository.LeadStageAwaitingPayment:  repository.LeadStageConverted,
}

// TransitionStage applies a staff-driven pipeline move, validating the
// edge. Terminal stages (CONVERTED, LOST) accept no further transitions.
func (s *LeadService) TransitionStage(ctx context.Context, id, to string) (*repository.Lead, error) {
	lead, err := s.leads.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	from := lead.PipelineStage
	if from == repository.LeadStageConverted || from == repository.LeadStageLost {
		return nil, apperr.InvalidTransition("lead", from, to)
	}

	switch to {
	case repository.LeadStageLost:
		// allowed from any non-terminal stage
	default:
		if pipelineEdges[from] != to {
			return nil, apperr.InvalidTransition("lead", from, to)
		}
	}

	if err := s.leads.UpdateStage(ctx, id, from, to); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("lead_id", id).
		Str("from", from).
		Str("to", to).
		Msg("Lead stage transitioned")

	return s.leads.GetByID(ctx, id)
}

// ConvertToTenant provisions a TRIAL tenant from the lead and moves the
// lead to CONVERTED. Idempotent on an already-converted lead.
func (s *LeadService) ConvertToTenant(ctx context.Context, id string, trialDays int) (*repository.Tenant, error) {
	lead, err := s.leads.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if lead.TenantID != nil {
		return s.tenants.GetByID(ctx, *lead.TenantID)
	}
	if lead.PipelineStage == repository.LeadStageLost {
		return nil, apperr.InvalidTransition("lead", lead.PipelineStage, repository.LeadStageConverted)
	}

	trialEnd := time.Now().UTC().AddDate(0, 0, trialDays)
	tenant := &repository.Tenant{
		Name:            lead.OrganisationName,
		ContactName:     lead.ContactName,
		ContactEmail:    lead.Email,
		SIRET:           lead.SIRET,
		LifecycleStatus: repository.TenantStatusTrial,
		TrialEndsAt:     &trialEnd,
		LeadID:          &lead.ID,
	}
	if err := s.tenants.Create(ctx, tenant); err != nil {
		return nil, err
	}

	if err := s.leads.LinkTenant(ctx, id, tenant.ID); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("lead_id", id).
		Str("tenant_id", tenant.ID).
		Time("trial_ends_at", trialEnd).
		Msg("Lead converted to trial tenant")

	return tenant, nil
}
