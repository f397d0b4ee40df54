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

// Reminder statuses. FAILED and CANCELLED are terminal for the scheduler.
const (
	ReminderStatusPending   = "PENDING"
	ReminderStatusSent      = "SENT"
	ReminderStatusFailed    = "FAILED"
	ReminderStatusCancelled = "CANCELLED"
)

// Escalation levels of the expiry countdown.
const (
	ReminderLevelJ60 = 1
	ReminderLevelJ30 = 2
	ReminderLevelJ15 = 3
)

// RenewalReminder is one scheduled expiry notification. SubscriptionID is
// nil while the tenant is in trial. At most one non-cancelled reminder
// exists per (tenant, window, level); the partial unique index enforces it.
type RenewalReminder struct {
	ID             string
	TenantID       string
	SubscriptionID *string
	ReminderLevel  int
	ScheduledFor   time.Time
	Status         string
	SentAt         *time.Time
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ReminderRepository handles renewal reminder persistence.
type ReminderRepository struct {
	db *database.DB
}

// NewReminderRepository creates a new reminder repository.
func NewReminderRepository(db *database.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

const reminderColumns = `
	id, tenant_id, subscription_id, reminder_level, scheduled_for, status,
	sent_at, retry_count, last_error, created_at, updated_at`

func scanReminder(row pgx.Row) (*RenewalReminder, error) {
	rem := &RenewalReminder{}
	err := row.Scan(
		&rem.ID, &rem.TenantID, &rem.SubscriptionID, &rem.ReminderLevel,
		&rem.ScheduledFor, &rem.Status, &rem.SentAt, &rem.RetryCount,
		&rem.LastError, &rem.CreatedAt, &rem.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rem, nil
}

// Ensure inserts the reminder if no non-cancelled reminder exists for the
// same (tenant, window, level). Returns true when a row was created. A
// duplicate is a silent no-op, so the scheduling phase is idempotent and
// safe under concurrent runs.
func (r *ReminderRepository) Ensure(ctx context.Context, rem *RenewalReminder) (bool, error) {
	query := `
		INSERT INTO renewal_reminders (tenant_id, subscription_id, reminder_level,
		                               scheduled_for, status)
		VALUES ($1, $2, $3, $4, 'PENDING')
		ON CONFLICT (tenant_id, COALESCE(subscription_id, '00000000-0000-0000-0000-000000000000'::uuid), reminder_level)
			WHERE status <> 'CANCELLED'
		DO NOTHING
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		rem.TenantID,
		rem.SubscriptionID,
		rem.ReminderLevel,
		rem.ScheduledFor,
	).Scan(&rem.ID, &rem.CreatedAt, &rem.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Conflict: the reminder already exists.
		return false, nil
	}
	if err != nil {
		return false, apperr.Wrap(err, apperr.CodeInternal, "failed to ensure reminder")
	}

	rem.Status = ReminderStatusPending
	return true, nil
}

// ListDue returns PENDING reminders whose scheduled time has passed.
func (r *ReminderRepository) ListDue(ctx context.Context, now time.Time) ([]*RenewalReminder, error) {
	query := `
		SELECT ` + reminderColumns + `
		FROM renewal_reminders
		WHERE status = 'PENDING' AND scheduled_for <= $1
		ORDER BY scheduled_for
	`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list due reminders")
	}
	defer rows.Close()

	reminders := make([]*RenewalReminder, 0)
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan reminder")
		}
		reminders = append(reminders, rem)
	}

	return reminders, nil
}

// List returns reminders, optionally filtered by status, for follow-up
// inspection of FAILED sends.
func (r *ReminderRepository) List(ctx context.Context, status *string, limit, offset int) ([]*RenewalReminder, int64, error) {
	query := `SELECT ` + reminderColumns + ` FROM renewal_reminders WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM renewal_reminders WHERE 1=1`

	args := []any{}
	argCount := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		countQuery += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *status)
		argCount++
	}

	query += " ORDER BY scheduled_for DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to count reminders")
	}

	rows, err := r.db.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list reminders")
	}
	defer rows.Close()

	reminders := make([]*RenewalReminder, 0)
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to scan reminder")
		}
		reminders = append(reminders, rem)
	}

	return reminders, total, nil
}

// MarkSent records a confirmed delivery. Guarded on PENDING so a concurrent
// run that already resolved the reminder wins and this call is a no-op
// conflict.
func (r *ReminderRepository) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	query := `
		UPDATE renewal_reminders
		SET status = 'SENT', sent_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`

	tag, err := r.db.Exec(ctx, query, id, sentAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to mark reminder sent")
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidTransition("reminder", ReminderStatusPending, ReminderStatusSent)
	}

	return nil
}

// RecordFailure increments the retry counter and stores the error. Once
// retryCount reaches maxRetries the reminder goes FAILED (terminal);
// otherwise it stays PENDING for the next run.
func (r *ReminderRepository) RecordFailure(ctx context.Context, id, lastError string, maxRetries int) error {
	query := `
		UPDATE renewal_reminders
		SET retry_count = retry_count + 1,
		    last_error = $2,
		    status = CASE WHEN retry_count + 1 >= $3 THEN 'FAILED' ELSE status END,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`

	tag, err := r.db.Exec(ctx, query, id, lastError, maxRetries)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to record reminder failure")
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidTransition("reminder", ReminderStatusPending, ReminderStatusFailed)
	}

	return nil
}

// Cancel marks a reminder CANCELLED (archived tenant, renewed window).
func (r *ReminderRepository) Cancel(ctx context.Context, id string) error {
	query := `
		UPDATE renewal_reminders
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to cancel reminder")
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidTransition("reminder", ReminderStatusPending, ReminderStatusCancelled)
	}

	return nil
}
