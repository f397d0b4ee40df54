package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/civicqo/be-billing/internal/repository"
)

// Persistence interfaces implemented by internal/repository. Services
// depend on these so the state machines can be exercised against in-memory
// stores in tests.

// NumberAllocator hands out sequential document numbers.
type NumberAllocator interface {
	Next(ctx context.Context, docType string) (string, error)
}

// QuoteStore persists quotes and their lines.
type QuoteStore interface {
	Create(ctx context.Context, quote *repository.Quote) error
	GetByID(ctx context.Context, id string) (*repository.Quote, error)
	GetByPublicToken(ctx context.Context, token string) (*repository.Quote, error)
	List(ctx context.Context, status, leadID *string, limit, offset int) ([]*repository.Quote, int64, error)
	UpdateStatus(ctx context.Context, id, from, to string) error
	UpdateMandateStatus(ctx context.Context, id, from, to string) error
	AddLine(ctx context.Context, quoteID string, line *repository.QuoteLineItem, subtotal, taxAmount, total decimal.Decimal) error
	RemoveLine(ctx context.Context, quoteID, lineID string, subtotal, taxAmount, total decimal.Decimal) error
	ReplaceLines(ctx context.Context, quote *repository.Quote) error
	Accept(ctx context.Context, quoteID, acceptedBy string, order *repository.Order, leadStage *repository.LeadStageChange) error
}

// OrderStore persists mandate orders.
type OrderStore interface {
	GetByID(ctx context.Context, id string) (*repository.Order, error)
	GetByQuoteID(ctx context.Context, quoteID string) (*repository.Order, error)
	List(ctx context.Context, status *string, limit, offset int) ([]*repository.Order, int64, error)
	AttachPurchaseOrder(ctx context.Context, id, bcNumber string) error
	Validate(ctx context.Context, id, validatedBy string) error
	Terminate(ctx context.Context, id, to string, reason *string) error
	CreateInvoice(ctx context.Context, orderID string, invoice *repository.Invoice) (*repository.Invoice, bool, error)
}

// InvoiceStore persists mandate invoices.
type InvoiceStore interface {
	GetByID(ctx context.Context, id string) (*repository.Invoice, error)
	GetByOrderID(ctx context.Context, orderID string) (*repository.Invoice, error)
	List(ctx context.Context, status *string, limit, offset int) ([]*repository.Invoice, int64, error)
	MarkSent(ctx context.Context, id string) error
	MarkPaid(ctx context.Context, id string, paidAt time.Time) error
	Cancel(ctx context.Context, id string) error
}

// LeadStore persists leads.
type LeadStore interface {
	Create(ctx context.Context, lead *repository.Lead) error
	GetByID(ctx context.Context, id string) (*repository.Lead, error)
	GetByPublicToken(ctx context.Context, token string) (*repository.Lead, error)
	List(ctx context.Context, stage *string, limit, offset int) ([]*repository.Lead, int64, error)
	UpdateStage(ctx context.Context, id, from, to string) error
	AdvanceStage(ctx context.Context, change *repository.LeadStageChange) error
	LinkTenant(ctx context.Context, id, tenantID string) error
}

// TenantStore persists tenants.
type TenantStore interface {
	Create(ctx context.Context, tenant *repository.Tenant) error
	GetByID(ctx context.Context, id string) (*repository.Tenant, error)
	SetLifecycleStatus(ctx context.Context, id, status string) error
	ListTrialTenants(ctx context.Context, now time.Time) ([]*repository.Tenant, error)
}

// SubscriptionStore persists subscription windows.
type SubscriptionStore interface {
	GetByID(ctx context.Context, id string) (*repository.Subscription, error)
	GetByInvoiceID(ctx context.Context, invoiceID string) (*repository.Subscription, error)
	GetCurrent(ctx context.Context, tenantID string) (*repository.Subscription, error)
	ListForTenant(ctx context.Context, tenantID string) ([]*repository.Subscription, error)
	OpenWindow(ctx context.Context, sub *repository.Subscription) error
	SetStatus(ctx context.Context, id, status string) error
	ListExpiringMandate(ctx context.Context, now time.Time) ([]*repository.ExpiringSubscription, error)
}

// ReminderStore persists renewal reminders.
type ReminderStore interface {
	Ensure(ctx context.Context, rem *repository.RenewalReminder) (bool, error)
	ListDue(ctx context.Context, now time.Time) ([]*repository.RenewalReminder, error)
	List(ctx context.Context, status *string, limit, offset int) ([]*repository.RenewalReminder, int64, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	RecordFailure(ctx context.Context, id, lastError string, maxRetries int) error
	Cancel(ctx context.Context, id string) error
}

var (
	_ NumberAllocator   = (*repository.SequenceRepository)(nil)
	_ QuoteStore        = (*repository.QuoteRepository)(nil)
	_ OrderStore        = (*repository.OrderRepository)(nil)
	_ InvoiceStore      = (*repository.InvoiceRepository)(nil)
	_ LeadStore         = (*repository.LeadRepository)(nil)
	_ TenantStore       = (*repository.TenantRepository)(nil)
	_ SubscriptionStore = (*repository.SubscriptionRepository)(nil)
	_ ReminderStore     = (*repository.ReminderRepository)(nil)
)
