package service

import (
	"context"
	"time"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/config"
	"github.com/civicqo/be-billing/internal/logger"
	"github.com/civicqo/be-billing/internal/repository"
)

// SubscriptionService owns entitlement windows: activation after mandate
// payment or card webhook, renewals, and the derived access status the
// rest of the product reads.
type SubscriptionService struct {
	subscriptions SubscriptionStore
	tenants       TenantStore
	leads         LeadStore
	billing       config.BillingConfig
	log           *logger.Logger

	nowFn func() time.Time
}

// NewSubscriptionService creates a new subscription service.
func NewSubscriptionService(
	subscriptions SubscriptionStore,
	tenants TenantStore,
	leads LeadStore,
	billing config.BillingConfig,
	log *logger.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		subscriptions: subscriptions,
		tenants:       tenants,
		leads:         leads,
		billing:       billing,
		log:           log,
		nowFn:         func() time.Time { return time.Now().UTC() },
	}
}

// GetSubscription retrieves a subscription with its derived status.
func (s *SubscriptionService) GetSubscription(ctx context.Context, id string) (*repository.Subscription, error) {
	sub, err := s.subscriptions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// GetCurrentForTenant returns the tenant's current window.
func (s *SubscriptionService) GetCurrentForTenant(ctx context.Context, tenantID string) (*repository.Subscription, error) {
	return s.subscriptions.GetCurrent(ctx, tenantID)
}

// ListForTenant returns the tenant's full window history, newest first.
func (s *SubscriptionService) ListForTenant(ctx context.Context, tenantID string) ([]*repository.Subscription, error) {
	return s.subscriptions.ListForTenant(ctx, tenantID)
}

// ActivateFromInvoice opens the yearly mandate window after an invoice is
// paid. A lead-originated order provisions the tenant first; an existing
// tenant is switched to ACTIVE. When a current window already exists the
// new one starts at the later of the payment date and the previous end so
// early renewal never shortens the entitlement.
func (s *SubscriptionService) ActivateFromInvoice(ctx context.Context, invoice *repository.Invoice, order *repository.Order, paidAt time.Time) (*repository.Subscription, error) {
	// Idempotent: a window already opened by this invoice is returned as is,
	// so a replayed payment never opens a second one.
	if existing, eerr := s.subscriptions.GetByInvoiceID(ctx, invoice.ID); eerr == nil {
		return existing, nil
	} else if !apperr.Is(eerr, apperr.CodeNotFound) {
		return nil, eerr
	}

	tenantID, err := s.resolveTenant(ctx, order)
	if err != nil {
		return nil, err
	}

	start := paidAt
	if current, cerr := s.subscriptions.GetCurrent(ctx, tenantID); cerr == nil {
		if current.EndDate.After(start) {
			start = current.EndDate
		}
	} else if !apperr.Is(cerr, apperr.CodeNotFound) {
		return nil, cerr
	}

	sub := &repository.Subscription{
		TenantID:       tenantID,
		Rail:           repository.RailMandate,
		InvoiceID:      &invoice.ID,
		Status:         repository.SubscriptionStatusActive,
		StartDate:      start,
		EndDate:        start.AddDate(0, 12, 0),
		DurationMonths: 12,
	}

	if err := s.subscriptions.OpenWindow(ctx, sub); err != nil {
		return nil, err
	}

	if err := s.tenants.SetLifecycleStatus(ctx, tenantID, repository.TenantStatusActive); err != nil {
		s.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("failed to mark tenant active")
	}

	s.log.Info().
		Str("subscription_id", sub.ID).
		Str("tenant_id", tenantID).
		Str("invoice_id", invoice.ID).
		Time("start_date", sub.StartDate).
		Time("end_date", sub.EndDate).
		Msg("Subscription activated from invoice")

	return sub, nil
}

// resolveTenant returns the order's tenant, provisioning one from the
// originating lead when the order predates tenant creation.
func (s *SubscriptionService) resolveTenant(ctx context.Context, order *repository.Order) (string, error) {
	if order.TenantID != nil {
		return *order.TenantID, nil
	}
	if order.LeadID == nil {
		return "", apperr.InvalidInput("order", "order has neither tenant nor lead")
	}

	lead, err := s.leads.GetByID(ctx, *order.LeadID)
	if err != nil {
		return "", err
	}
	if lead.TenantID != nil {
		return *lead.TenantID, nil
	}

	tenant := &repository.Tenant{
		Name:            lead.OrganisationName,
		ContactName:     lead.ContactName,
		ContactEmail:    lead.Email,
		SIRET:           lead.SIRET,
		VATExempt:       order.VATExempt,
		LifecycleStatus: repository.TenantStatusActive,
		LeadID:          &lead.ID,
	}
	if err := s.tenants.Create(ctx, tenant); err != nil {
		return "", err
	}

	s.log.Info().
		Str("tenant_id", tenant.ID).
		Str("lead_id", lead.ID).
		Msg("Tenant provisioned from lead")

	return tenant.ID, nil
}

// PaymentWebhookEvent is a normalized card processor event.
type PaymentWebhookEvent struct {
	Type           string
	TenantID       string
	PeriodEnd      *time.Time
	DurationMonths int
}

// Card processor event types.
const (
	WebhookSubscriptionActivated = "subscription.activated"
	WebhookSubscriptionCancelled = "subscription.cancelled"
)

// ActivateFromCardWebhook applies a card processor lifecycle event. The
// card rail is opaque: the processor owns billing and this engine only
// mirrors the entitlement window.
func (s *SubscriptionService) ActivateFromCardWebhook(ctx context.Context, event *PaymentWebhookEvent) (*repository.Subscription, error) {
	tenant, err := s.tenants.GetByID(ctx, event.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant.LifecycleStatus == repository.TenantStatusArchived {
		return nil, apperr.InvalidTransition("tenant", tenant.LifecycleStatus, repository.TenantStatusActive)
	}

	switch event.Type {
	case WebhookSubscriptionActivated:
		now := s.nowFn()
		months := event.DurationMonths
		if months < 1 {
			months = 1
		}
		end := now.AddDate(0, months, 0)
		if event.PeriodEnd != nil {
			end = *event.PeriodEnd
		}

		sub := &repository.Subscription{
			TenantID:       event.TenantID,
			Rail:           repository.RailCard,
			Status:         repository.SubscriptionStatusActive,
			StartDate:      now,
			EndDate:        end,
			DurationMonths: months,
			IsCurrent:      true,
		}
		if err := s.subscriptions.OpenWindow(ctx, sub); err != nil {
			return nil, err
		}
		if err := s.tenants.SetLifecycleStatus(ctx, event.TenantID, repository.TenantStatusActive); err != nil {
			s.log.Warn().Err(err).Str("tenant_id", event.TenantID).Msg("failed to mark tenant active")
		}

		s.log.Info().
			Str("subscription_id", sub.ID).
			Str("tenant_id", event.TenantID).
			Time("end_date", sub.EndDate).
			Msg("Subscription activated from card webhook")

		return sub, nil

	case WebhookSubscriptionCancelled:
		current, err := s.subscriptions.GetCurrent(ctx, event.TenantID)
		if err != nil {
			return nil, err
		}
		if err := s.subscriptions.SetStatus(ctx, current.ID, repository.SubscriptionStatusExpired); err != nil {
			return nil, err
		}

		s.log.Info().
			Str("subscription_id", current.ID).
			Str("tenant_id", event.TenantID).
			Msg("Subscription cancelled from card webhook")

		current.Status = repository.SubscriptionStatusExpired
		return current, nil

	default:
		return nil, apperr.InvalidInput("type", "unknown webhook event type")
	}
}

// Renew opens a follow-on window on the tenant's current rail. The new
// window starts at the later of now and the previous end date so renewing
// ahead of expiry never costs entitlement days.
func (s *SubscriptionService) Renew(ctx context.Context, tenantID string, months int) (*repository.Subscription, error) {
	if months < 1 {
		return nil, apperr.InvalidInput("months", "duration must be at least 1 month")
	}

	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.LifecycleStatus == repository.TenantStatusArchived {
		return nil, apperr.InvalidTransition("tenant", tenant.LifecycleStatus, repository.TenantStatusActive)
	}

	current, err := s.subscriptions.GetCurrent(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	now := s.nowFn()
	start := now
	if current.EndDate.After(start) {
		start = current.EndDate
	}

	sub := &repository.Subscription{
		TenantID:       tenantID,
		Rail:           current.Rail,
		Status:         repository.SubscriptionStatusActive,
		StartDate:      start,
		EndDate:        start.AddDate(0, months, 0),
		DurationMonths: months,
	}
	if err := s.subscriptions.OpenWindow(ctx, sub); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("subscription_id", sub.ID).
		Str("tenant_id", tenantID).
		Int("months", months).
		Time("end_date", sub.EndDate).
		Msg("Subscription renewed")

	return sub, nil
}

// EffectiveStatus derives the access level from the stored status and the
// grace policy. The stored value never changes at expiry; GRACE_PERIOD and
// READ_ONLY exist only on read.
func (s *SubscriptionService) EffectiveStatus(sub *repository.Subscription, now time.Time) string {
	if sub.Status != repository.SubscriptionStatusActive {
		return sub.Status
	}
	if !now.After(sub.EndDate) {
		return repository.SubscriptionStatusActive
	}
	graceEnd := sub.EndDate.AddDate(0, 0, s.billing.GraceDays)
	if !now.After(graceEnd) {
		return repository.SubscriptionStatusGracePeriod
	}
	return repository.SubscriptionStatusReadOnly
}
