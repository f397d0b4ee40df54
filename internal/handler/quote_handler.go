package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/civicqo/be-billing/internal/logger"
	"github.com/civicqo/be-billing/internal/service"
)

// QuoteHandler handles quote lifecycle HTTP requests.
type QuoteHandler struct {
	quotes *service.QuoteService
	log    *logger.Logger
}

// NewQuoteHandler creates a new quote handler.
func NewQuoteHandler(quotes *service.QuoteService, log *logger.Logger) *QuoteHandler {
	return &QuoteHandler{quotes: quotes, log: log}
}

type quoteLineRequest struct {
	Description string           `json:"description"`
	Quantity    int64            `json:"quantity" validate:"required,min=1"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	PlanCode    *string          `json:"plan_code"`
	AddonCode   *string          `json:"addon_code"`
}

func (q quoteLineRequest) toService() service.QuoteLineRequest {
	return service.QuoteLineRequest{
		Description: q.Description,
		Quantity:    q.Quantity,
		UnitPrice:   q.UnitPrice,
		PlanCode:    q.PlanCode,
		AddonCode:   q.AddonCode,
	}
}

type createQuoteRequest struct {
	LeadID          *string            `json:"lead_id"`
	TenantID        *string            `json:"tenant_id"`
	PaymentMethod   *string            `json:"payment_method" validate:"omitempty,oneof=CARD ADMINISTRATIVE_MANDATE"`
	BillingInterval *string            `json:"billing_interval" validate:"omitempty,oneof=MONTHLY YEARLY"`
	VATExempt       bool               `json:"vat_exempt"`
	Notes           *string            `json:"notes"`
	Lines           []quoteLineRequest `json:"lines" validate:"required,min=1,dive"`
	CreatedBy       string             `json:"created_by" validate:"required"`
}

// CreateQuote handles POST /api/v1/quotes.
func (h *QuoteHandler) CreateQuote(w http.ResponseWriter, r *http.Request) {
	var req createQuoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	lines := make([]service.QuoteLineRequest, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, l.toService())
	}

	quote, err := h.quotes.CreateQuote(r.Context(), &service.CreateQuoteRequest{
		LeadID:          req.LeadID,
		TenantID:        req.TenantID,
		PaymentMethod:   req.PaymentMethod,
		BillingInterval: req.BillingInterval,
		VATExempt:       req.VATExempt,
		Notes:           req.Notes,
		Lines:           lines,
		CreatedBy:       req.CreatedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, quote)
}

// GetQuote handles GET /api/v1/quotes/{id}.
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.quotes.GetQuote(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// GetQuoteByToken handles GET /api/v1/public/quotes/{token}.
func (h *QuoteHandler) GetQuoteByToken(w http.ResponseWriter, r *http.Request) {
	quote, err := h.quotes.GetQuoteByToken(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// ListQuotes handles GET /api/v1/quotes.
func (h *QuoteHandler) ListQuotes(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)

	quotes, total, err := h.quotes.ListQuotes(r.Context(),
		optionalQuery(r, "status"), optionalQuery(r, "lead_id"), page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quotes": quotes,
		"meta":   listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

// AddLine handles POST /api/v1/quotes/{id}/lines.
func (h *QuoteHandler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req quoteLineRequest
	if !decodeBody(w, r, &req) {
		return
	}

	quote, err := h.quotes.AddLineItem(r.Context(), r.PathValue("id"), req.toService())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// RemoveLine handles DELETE /api/v1/quotes/{id}/lines/{lineID}.
func (h *QuoteHandler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	quote, err := h.quotes.RemoveLineItem(r.Context(), r.PathValue("id"), r.PathValue("lineID"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

type setPaymentMethodRequest struct {
	PaymentMethod string `json:"payment_method" validate:"required,oneof=CARD ADMINISTRATIVE_MANDATE"`
}

// SetPaymentMethod handles POST /api/v1/quotes/{id}/payment-method.
func (h *QuoteHandler) SetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req setPaymentMethodRequest
	if !decodeBody(w, r, &req) {
		return
	}

	quote, err := h.quotes.SetPaymentMethod(r.Context(), r.PathValue("id"), req.PaymentMethod)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// SendQuote handles POST /api/v1/quotes/{id}/send.
func (h *QuoteHandler) SendQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.quotes.SendQuote(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

type acceptQuoteRequest struct {
	AcceptedBy string `json:"accepted_by" validate:"required"`
}

// AcceptQuote handles POST /api/v1/quotes/{id}/accept.
func (h *QuoteHandler) AcceptQuote(w http.ResponseWriter, r *http.Request) {
	var req acceptQuoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	quote, order, err := h.quotes.AcceptQuote(r.Context(), r.PathValue("id"), req.AcceptedBy)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"quote": quote,
		"order": order,
	})
}

// RejectQuote handles POST /api/v1/quotes/{id}/reject.
func (h *QuoteHandler) RejectQuote(w http.ResponseWriter, r *http.Request) {
	quote, err := h.quotes.RejectQuote(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

type mandateDecisionRequest struct {
	Actor string `json:"actor" validate:"required"`
}

// ApproveMandate handles POST /api/v1/quotes/{id}/mandate/approve.
func (h *QuoteHandler) ApproveMandate(w http.ResponseWriter, r *http.Request) {
	var req mandateDecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	quote, err := h.quotes.ApproveMandate(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// RejectMandate handles POST /api/v1/quotes/{id}/mandate/reject.
func (h *QuoteHandler) RejectMandate(w http.ResponseWriter, r *http.Request) {
	var req mandateDecisionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	quote, err := h.quotes.RejectMandate(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// QuotePDF handles GET /api/v1/quotes/{id}/pdf.
func (h *QuoteHandler) QuotePDF(w http.ResponseWriter, r *http.Request) {
	quote, err := h.quotes.GetQuote(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	pdf, err := h.quotes.RenderPDF(r.Context(), quote.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writePDF(w, quote.QuoteNumber+".pdf", pdf)
}
