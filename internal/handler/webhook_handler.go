package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/logger"
	"github.com/civicqo/be-billing/internal/service"
)

// WebhookHandler consumes card processor lifecycle events. The card rail
// is opaque: the processor bills the customer and this endpoint mirrors
// the resulting entitlement windows.
type WebhookHandler struct {
	subscriptions *service.SubscriptionService
	signingSecret string
	log           *logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(subscriptions *service.SubscriptionService, signingSecret string, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{subscriptions: subscriptions, signingSecret: signingSecret, log: log}
}

type paymentWebhookPayload struct {
	Type           string     `json:"type" validate:"required"`
	TenantID       string     `json:"tenant_id" validate:"required,uuid"`
	PeriodEnd      *time.Time `json:"period_end"`
	DurationMonths int        `json:"duration_months"`
}

// HandlePayment handles POST /webhooks/payment.
func (h *WebhookHandler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, apperr.InvalidInput("body", "failed to read request body"))
		return
	}

	if h.signingSecret != "" && !h.verifySignature(body, r.Header.Get("X-Webhook-Signature")) {
		h.log.Warn().Msg("payment webhook signature mismatch")
		writeJSON(w, http.StatusUnauthorized, errorResponse{Code: "UNAUTHORIZED", Message: "invalid signature"})
		return
	}

	var payload paymentWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, apperr.InvalidInput("body", "invalid request body"))
		return
	}
	if err := validate.Struct(&payload); err != nil {
		writeError(w, apperr.Wrap(err, apperr.CodeInvalidInput, "request validation failed"))
		return
	}

	sub, err := h.subscriptions.ActivateFromCardWebhook(r.Context(), &service.PaymentWebhookEvent{
		Type:           payload.Type,
		TenantID:       payload.TenantID,
		PeriodEnd:      payload.PeriodEnd,
		DurationMonths: payload.DurationMonths,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"subscription": sub})
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.signingSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
