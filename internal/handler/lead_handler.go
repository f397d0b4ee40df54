package handler

import (
	"net/http"

	"github.com/civicqo/be-billing/internal/logger"
	"github.com/civicqo/be-billing/internal/service"
)

// LeadHandler handles lead pipeline HTTP requests.
type LeadHandler struct {
	leads *service.LeadService
	log   *logger.Logger
}

// NewLeadHandler creates a new lead handler.
func NewLeadHandler(leads *service.LeadService, log *logger.Logger) *LeadHandler {
	return &LeadHandler{leads: leads, log: log}
}

type createLeadRequest struct {
	OrganisationName string  `json:"organisation_name" validate:"required"`
	ContactName      string  `json:"contact_name" validate:"required"`
	Email            string  `json:"email" validate:"required,email"`
	Phone            *string `json:"phone"`
	SIRET            *string `json:"siret"`
	Notes            *string `json:"notes"`
}

// CreateLead handles POST /api/v1/leads.
func (h *LeadHandler) CreateLead(w http.ResponseWriter, r *http.Request) {
	var req createLeadRequest
	if !decodeBody(w, r, &req) {
		return
	}

	lead, err := h.leads.CreateLead(r.Context(), &service.CreateLeadRequest{
		OrganisationName: req.OrganisationName,
		ContactName:      req.ContactName,
		Email:            req.Email,
		Phone:            req.Phone,
		SIRET:            req.SIRET,
		Notes:            req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, lead)
}

// GetLead handles GET /api/v1/leads/{id}.
func (h *LeadHandler) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.leads.GetLead(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, lead)
}

// ListLeads handles GET /api/v1/leads.
func (h *LeadHandler) ListLeads(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)

	leads, total, err := h.leads.ListLeads(r.Context(), optionalQuery(r, "stage"), page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"leads": leads,
		"meta":  listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

type transitionLeadRequest struct {
	Stage string `json:"stage" validate:"required"`
}

// TransitionLead handles POST /api/v1/leads/{id}/transition.
func (h *LeadHandler) TransitionLead(w http.ResponseWriter, r *http.Request) {
	var req transitionLeadRequest
	if !decodeBody(w, r, &req) {
		return
	}

	lead, err := h.leads.TransitionStage(r.Context(), r.PathValue("id"), req.Stage)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, lead)
}

type convertLeadRequest struct {
	TrialDays int `json:"trial_days" validate:"omitempty,min=1,max=365"`
}

// ConvertLead handles POST /api/v1/leads/{id}/convert.
func (h *LeadHandler) ConvertLead(w http.ResponseWriter, r *http.Request) {
	var req convertLeadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TrialDays == 0 {
		req.TrialDays = 30
	}

	tenant, err := h.leads.ConvertToTenant(r.Context(), r.PathValue("id"), req.TrialDays)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, tenant)
}
