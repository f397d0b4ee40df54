package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/database"
)

// Stored subscription statuses. GRACE_PERIOD and READ_ONLY are derived at
// read time from end_date and the grace policy, never stored.
const (
	SubscriptionStatusActive            = "ACTIVE"
	SubscriptionStatusPendingActivation = "PENDING_ACTIVATION"
	SubscriptionStatusExpired           = "EXPIRED"

	// Derived display statuses.
	SubscriptionStatusGracePeriod = "GRACE_PERIOD"
	SubscriptionStatusReadOnly    = "READ_ONLY"
)

// Originating payment rails.
const (
	RailCard    = "CARD"
	RailMandate = "MANDATE"
)

// Subscription is one entitlement window for a tenant. Renewal opens a new
// window instead of mutating this one, preserving history; exactly one
// window per tenant is current.
type Subscription struct {
	ID             string
	TenantID       string
	Rail           string
	InvoiceID      *string
	Status         string
	StartDate      time.Time
	EndDate        time.Time
	DurationMonths int
	IsCurrent      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ExpiringSubscription joins a current mandate subscription with the tenant
// contact data needed for renewal reminders.
type ExpiringSubscription struct {
	Subscription
	TenantName  string
	TenantEmail string
}

// SubscriptionRepository handles subscription persistence.
type SubscriptionRepository struct {
	db *database.DB
}

// NewSubscriptionRepository creates a new subscription repository.
func NewSubscriptionRepository(db *database.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `
	id, tenant_id, rail, invoice_id, status, start_date, end_date,
	duration_months, is_current, created_at, updated_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	s := &Subscription{}
	err := row.Scan(
		&s.ID, &s.TenantID, &s.Rail, &s.InvoiceID, &s.Status,
		&s.StartDate, &s.EndDate, &s.DurationMonths, &s.IsCurrent,
		&s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetByID retrieves a subscription.
func (r *SubscriptionRepository) GetByID(ctx context.Context, id string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("subscription", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get subscription")
	}

	return sub, nil
}

// GetByInvoiceID retrieves the subscription window opened by an invoice
// payment, if any.
func (r *SubscriptionRepository) GetByInvoiceID(ctx context.Context, invoiceID string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE invoice_id = $1`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, invoiceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("subscription for invoice", invoiceID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get subscription by invoice")
	}

	return sub, nil
}

// GetCurrent retrieves the tenant's current subscription window.
func (r *SubscriptionRepository) GetCurrent(ctx context.Context, tenantID string) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE tenant_id = $1 AND is_current`

	sub, err := scanSubscription(r.db.QueryRow(ctx, query, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("current subscription for tenant", tenantID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get current subscription")
	}

	return sub, nil
}

// ListForTenant returns all subscription windows for a tenant, newest first.
func (r *SubscriptionRepository) ListForTenant(ctx context.Context, tenantID string) ([]*Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE tenant_id = $1
		ORDER BY start_date DESC
	`

	rows, err := r.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list subscriptions")
	}
	defer rows.Close()

	subs := make([]*Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan subscription")
		}
		subs = append(subs, sub)
	}

	return subs, nil
}

// OpenWindow closes the tenant's current window (if any) and inserts the new
// one as current, in a single transaction. The partial unique index on
// (tenant_id) WHERE is_current makes a concurrent double-open impossible.
func (r *SubscriptionRepository) OpenWindow(ctx context.Context, sub *Subscription) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		closeQuery := `
			UPDATE subscriptions
			SET is_current = FALSE,
			    status = CASE WHEN end_date <= NOW() THEN 'EXPIRED' ELSE status END,
			    updated_at = NOW()
			WHERE tenant_id = $1 AND is_current
		`
		if _, err := tx.Exec(ctx, closeQuery, sub.TenantID); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to close current subscription")
		}

		insertQuery := `
			INSERT INTO subscriptions (tenant_id, rail, invoice_id, status, start_date,
			                           end_date, duration_months, is_current)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, insertQuery,
			sub.TenantID,
			sub.Rail,
			sub.InvoiceID,
			sub.Status,
			sub.StartDate,
			sub.EndDate,
			sub.DurationMonths,
		).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.Newf(apperr.CodeConflict, "concurrent subscription window creation for tenant %s", sub.TenantID)
			}
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create subscription window")
		}

		sub.IsCurrent = true
		return nil
	})
}

// SetStatus updates the stored status of a subscription.
func (r *SubscriptionRepository) SetStatus(ctx context.Context, id, status string) error {
	query := `UPDATE subscriptions SET status = $2, updated_at = NOW() WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update subscription status")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("subscription", id)
	}

	return nil
}

// ListExpiringMandate returns current, active mandate-rail subscriptions of
// non-archived tenants whose window ends after now. Input to the reminder
// scheduling phase.
func (r *SubscriptionRepository) ListExpiringMandate(ctx context.Context, now time.Time) ([]*ExpiringSubscription, error) {
	query := `
		SELECT s.id, s.tenant_id, s.rail, s.invoice_id, s.status, s.start_date,
		       s.end_date, s.duration_months, s.is_current, s.created_at, s.updated_at,
		       t.name, t.contact_email
		FROM subscriptions s
		JOIN tenants t ON t.id = s.tenant_id
		WHERE s.is_current
		  AND s.rail = 'MANDATE'
		  AND s.status = 'ACTIVE'
		  AND s.end_date > $1
		  AND t.lifecycle_status <> 'ARCHIVED'
		  AND t.contact_email <> ''
		ORDER BY s.end_date
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list expiring subscriptions")
	}
	defer rows.Close()

	subs := make([]*ExpiringSubscription, 0)
	for rows.Next() {
		es := &ExpiringSubscription{}
		err := rows.Scan(
			&es.ID, &es.TenantID, &es.Rail, &es.InvoiceID, &es.Status,
			&es.StartDate, &es.EndDate, &es.DurationMonths, &es.IsCurrent,
			&es.CreatedAt, &es.UpdatedAt,
			&es.TenantName, &es.TenantEmail,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan expiring subscription")
		}
		subs = append(subs, es)
	}

	return subs, nil
}
