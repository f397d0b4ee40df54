package handler

import (
	"net/http"
	"time"

	"github.com/civicqo/be-billing/internal/logger"
	"github.com/civicqo/be-billing/internal/repository"
	"github.com/civicqo/be-billing/internal/service"
)

// SubscriptionHandler handles subscription and reminder HTTP requests.
type SubscriptionHandler struct {
	subscriptions *service.SubscriptionService
	reminders     *service.ReminderService
	log           *logger.Logger
}

// NewSubscriptionHandler creates a new subscription handler.
func NewSubscriptionHandler(subscriptions *service.SubscriptionService, reminders *service.ReminderService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions, reminders: reminders, log: log}
}

// subscriptionViewModel adds the derived access status to a window.
type subscriptionViewModel struct {
	*repository.Subscription
	EffectiveStatus string
}

func (h *SubscriptionHandler) view(sub *repository.Subscription) subscriptionViewModel {
	return subscriptionViewModel{
		Subscription:    sub,
		EffectiveStatus: h.subscriptions.EffectiveStatus(sub, time.Now().UTC()),
	}
}

// GetSubscription handles GET /api/v1/subscriptions/{id}.
func (h *SubscriptionHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.GetSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.view(sub))
}

// GetCurrentSubscription handles GET /api/v1/tenants/{id}/subscription.
func (h *SubscriptionHandler) GetCurrentSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscriptions.GetCurrentForTenant(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.view(sub))
}

// ListTenantSubscriptions handles GET /api/v1/tenants/{id}/subscriptions.
func (h *SubscriptionHandler) ListTenantSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subscriptions.ListForTenant(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	views := make([]subscriptionViewModel, 0, len(subs))
	for _, sub := range subs {
		views = append(views, h.view(sub))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": views})
}

type renewSubscriptionRequest struct {
	Months int `json:"months" validate:"omitempty,min=1,max=60"`
}

// RenewSubscription handles POST /api/v1/tenants/{id}/subscription/renew.
func (h *SubscriptionHandler) RenewSubscription(w http.ResponseWriter, r *http.Request) {
	var req renewSubscriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Months == 0 {
		req.Months = 12
	}

	sub, err := h.subscriptions.Renew(r.Context(), r.PathValue("id"), req.Months)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.view(sub))
}

// ListReminders handles GET /api/v1/reminders.
func (h *SubscriptionHandler) ListReminders(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)

	reminders, total, err := h.reminders.ListReminders(r.Context(), optionalQuery(r, "status"), page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reminders": reminders,
		"meta":      listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}
