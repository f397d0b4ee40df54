package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/database"
)

// Quote statuses. ACCEPTED, REJECTED and EXPIRED are terminal.
const (
	QuoteStatusDraft    = "DRAFT"
	QuoteStatusSent     = "SENT"
	QuoteStatusAccepted = "ACCEPTED"
	QuoteStatusRejected = "REJECTED"
	QuoteStatusExpired  = "EXPIRED"
)

// Payment methods.
const (
	PaymentMethodCard    = "CARD"
	PaymentMethodMandate = "ADMINISTRATIVE_MANDATE"
)

// Administrative mandate approval sub-statuses. Non-nil exactly when the
// quote is on the mandate rail.
const (
	MandateStatusPending  = "PENDING"
	MandateStatusApproved = "APPROVED"
	MandateStatusRejected = "REJECTED"
)

// Quote is a commercial proposal (devis) issued to a lead or an existing
// tenant.
type Quote struct {
	ID                          string
	QuoteNumber                 string
	Status                      string
	PaymentMethod               *string
	BillingInterval             string
	AdministrativeMandateStatus *string
	LeadID                      *string
	TenantID                    *string
	PublicToken                 string
	ValidUntil                  time.Time
	VATExempt                   bool
	Subtotal                    decimal.Decimal
	TaxRate                     decimal.Decimal
	TaxAmount                   decimal.Decimal
	Total                       decimal.Decimal
	Notes                       *string
	SentAt                      *time.Time
	AcceptedAt                  *time.Time
	AcceptedBy                  *string
	CreatedBy                   *string
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
	Lines                       []*QuoteLineItem
}

// QuoteLineItem is an ordered line on a quote. PlanCode/AddonCode are set
// for catalog lines so the engine can re-price them when the payment method
// changes; free-form lines leave both nil.
type QuoteLineItem struct {
	ID          string
	QuoteID     string
	Position    int
	Description string
	Quantity    int64
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
	PlanCode    *string
	AddonCode   *string
	CreatedAt   time.Time
}

// QuoteRepository handles quote persistence.
type QuoteRepository struct {
	db *database.DB
}

// NewQuoteRepository creates a new quote repository.
func NewQuoteRepository(db *database.DB) *QuoteRepository {
	return &QuoteRepository{db: db}
}

const quoteColumns = `
	id, quote_number, status, payment_method, billing_interval,
	administrative_mandate_status, lead_id, tenant_id, public_token,
	valid_until, vat_exempt, subtotal, tax_rate, tax_amount, total,
	notes, sent_at, accepted_at, accepted_by, created_by, created_at, updated_at`

func scanQuote(row pgx.Row) (*Quote, error) {
	q := &Quote{}
	err := row.Scan(
		&q.ID, &q.QuoteNumber, &q.Status, &q.PaymentMethod, &q.BillingInterval,
		&q.AdministrativeMandateStatus, &q.LeadID, &q.TenantID, &q.PublicToken,
		&q.ValidUntil, &q.VATExempt, &q.Subtotal, &q.TaxRate, &q.TaxAmount, &q.Total,
		&q.Notes, &q.SentAt, &q.AcceptedAt, &q.AcceptedBy, &q.CreatedBy,
		&q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Create inserts a quote and its lines in one transaction.
func (r *QuoteRepository) Create(ctx context.Context, quote *Quote) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO quotes (quote_number, status, payment_method, billing_interval,
			                    administrative_mandate_status, lead_id, tenant_id, public_token,
			                    valid_until, vat_exempt, subtotal, tax_rate, tax_amount, total,
			                    notes, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, query,
			quote.QuoteNumber,
			quote.Status,
			quote.PaymentMethod,
			quote.BillingInterval,
			quote.AdministrativeMandateStatus,
			quote.LeadID,
			quote.TenantID,
			quote.PublicToken,
			quote.ValidUntil,
			quote.VATExempt,
			quote.Subtotal,
			quote.TaxRate,
			quote.TaxAmount,
			quote.Total,
			quote.Notes,
			quote.CreatedBy,
		).Scan(&quote.ID, &quote.CreatedAt, &quote.UpdatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create quote")
		}

		for _, line := range quote.Lines {
			if err := insertQuoteLine(ctx, tx, quote.ID, line); err != nil {
				return err
			}
		}

		return nil
	})
}

func insertQuoteLine(ctx context.Context, tx pgx.Tx, quoteID string, line *QuoteLineItem) error {
	query := `
		INSERT INTO quote_line_items (quote_id, position, description, quantity,
		                              unit_price, total, plan_code, addon_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := tx.QueryRow(ctx, query,
		quoteID,
		line.Position,
		line.Description,
		line.Quantity,
		line.UnitPrice,
		line.Total,
		line.PlanCode,
		line.AddonCode,
	).Scan(&line.ID, &line.CreatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create quote line")
	}
	line.QuoteID = quoteID
	return nil
}

// GetByID retrieves a quote with its lines.
func (r *QuoteRepository) GetByID(ctx context.Context, id string) (*Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE id = $1`

	quote, err := scanQuote(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("quote", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get quote")
	}

	lines, err := r.GetLines(ctx, quote.ID)
	if err != nil {
		return nil, err
	}
	quote.Lines = lines

	return quote, nil
}

// GetByPublicToken retrieves a quote through its self-service portal token.
func (r *QuoteRepository) GetByPublicToken(ctx context.Context, token string) (*Quote, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE public_token = $1`

	quote, err := scanQuote(r.db.QueryRow(ctx, query, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("quote", token)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get quote by token")
	}

	lines, err := r.GetLines(ctx, quote.ID)
	if err != nil {
		return nil, err
	}
	quote.Lines = lines

	return quote, nil
}

// GetLines retrieves the ordered line items of a quote.
func (r *QuoteRepository) GetLines(ctx context.Context, quoteID string) ([]*QuoteLineItem, error) {
	query := `
		SELECT id, quote_id, position, description, quantity, unit_price, total,
		       plan_code, addon_code, created_at
		FROM quote_line_items
		WHERE quote_id = $1
		ORDER BY position
	`

	rows, err := r.db.Query(ctx, query, quoteID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get quote lines")
	}
	defer rows.Close()

	lines := make([]*QuoteLineItem, 0)
	for rows.Next() {
		line := &QuoteLineItem{}
		err := rows.Scan(
			&line.ID, &line.QuoteID, &line.Position, &line.Description,
			&line.Quantity, &line.UnitPrice, &line.Total,
			&line.PlanCode, &line.AddonCode, &line.CreatedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan quote line")
		}
		lines = append(lines, line)
	}

	return lines, nil
}

// List retrieves quotes with optional status and lead filters.
func (r *QuoteRepository) List(ctx context.Context, status, leadID *string, limit, offset int) ([]*Quote, int64, error) {
	query := `SELECT ` + quoteColumns + ` FROM quotes WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM quotes WHERE 1=1`

	args := []any{}
	argCount := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		countQuery += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *status)
		argCount++
	}

	if leadID != nil {
		query += fmt.Sprintf(" AND lead_id = $%d", argCount)
		countQuery += fmt.Sprintf(" AND lead_id = $%d", argCount)
		args = append(args, *leadID)
		argCount++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to count quotes")
	}

	rows, err := r.db.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list quotes")
	}
	defer rows.Close()

	quotes := make([]*Quote, 0)
	for rows.Next() {
		quote, err := scanQuote(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to scan quote")
		}
		quotes = append(quotes, quote)
	}

	return quotes, total, nil
}

// UpdateStatus moves a quote between statuses. The from-status guard in the
// WHERE clause makes concurrent conflicting transitions lose cleanly.
func (r *QuoteRepository) UpdateStatus(ctx context.Context, id, from, to string) error {
	query := `
		UPDATE quotes
		SET status = $3,
		    sent_at = CASE WHEN $3 = 'SENT' THEN NOW() ELSE sent_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
	`

	tag, err := r.db.Exec(ctx, query, id, from, to)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update quote status")
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidTransition("quote", from, to)
	}

	return nil
}

// UpdateMandateStatus moves the administrative mandate sub-status, guarded
// on the current value.
func (r *QuoteRepository) UpdateMandateStatus(ctx context.Context, id, from, to string) error {
	query := `
		UPDATE quotes
		SET administrative_mandate_status = $3, updated_at = NOW()
		WHERE id = $1 AND administrative_mandate_status = $2
	`

	tag, err := r.db.Exec(ctx, query, id, from, to)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update mandate status")
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidTransition("mandate approval", from, to)
	}

	return nil
}

// AddLine appends a line and rewrites the stored totals in one transaction.
func (r *QuoteRepository) AddLine(ctx context.Context, quoteID string, line *QuoteLineItem, subtotal, taxAmount, total decimal.Decimal) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if err := insertQuoteLine(ctx, tx, quoteID, line); err != nil {
			return err
		}
		return updateQuoteTotals(ctx, tx, quoteID, subtotal, taxAmount, total)
	})
}

// RemoveLine deletes a line and rewrites the stored totals in one transaction.
func (r *QuoteRepository) RemoveLine(ctx context.Context, quoteID, lineID string, subtotal, taxAmount, total decimal.Decimal) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM quote_line_items WHERE id = $1 AND quote_id = $2`, lineID, quoteID)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to remove quote line")
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("quote line", lineID)
		}
		return updateQuoteTotals(ctx, tx, quoteID, subtotal, taxAmount, total)
	})
}

// ReplaceLines rewrites all lines and the payment terms in one transaction.
// Used when switching a draft to the mandate rail re-prices every catalog
// line to its yearly price.
func (r *QuoteRepository) ReplaceLines(ctx context.Context, quote *Quote) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM quote_line_items WHERE quote_id = $1`, quote.ID); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to clear quote lines")
		}

		for _, line := range quote.Lines {
			if err := insertQuoteLine(ctx, tx, quote.ID, line); err != nil {
				return err
			}
		}

		query := `
			UPDATE quotes
			SET payment_method = $2,
			    billing_interval = $3,
			    administrative_mandate_status = $4,
			    subtotal = $5, tax_rate = $6, tax_amount = $7, total = $8,
			    updated_at = NOW()
			WHERE id = $1 AND status = 'DRAFT'
		`
		tag, err := tx.Exec(ctx, query,
			quote.ID, quote.PaymentMethod, quote.BillingInterval,
			quote.AdministrativeMandateStatus,
			quote.Subtotal, quote.TaxRate, quote.TaxAmount, quote.Total)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to update quote terms")
		}
		if tag.RowsAffected() == 0 {
			return apperr.DocumentLocked("quote", quote.Status)
		}
		return nil
	})
}

func updateQuoteTotals(ctx context.Context, tx pgx.Tx, quoteID string, subtotal, taxAmount, total decimal.Decimal) error {
	query := `
		UPDATE quotes
		SET subtotal = $2, tax_amount = $3, total = $4, updated_at = NOW()
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, query, quoteID, subtotal, taxAmount, total); err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update quote totals")
	}
	return nil
}

// Accept transitions a quote SENT -> ACCEPTED and, on the mandate rail,
// creates the derived order and advances the lead, all in one transaction.
// The row lock on the quote makes two concurrent accepts serialize; the
// loser sees a non-SENT status and fails with InvalidTransition, so a
// second order can never be derived.
func (r *QuoteRepository) Accept(ctx context.Context, quoteID, acceptedBy string, order *Order, leadStage *LeadStageChange) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM quotes WHERE id = $1 FOR UPDATE`, quoteID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("quote", quoteID)
		}
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to lock quote")
		}
		if status != QuoteStatusSent {
			return apperr.InvalidTransition("quote", status, QuoteStatusAccepted)
		}

		query := `
			UPDATE quotes
			SET status = 'ACCEPTED', accepted_at = NOW(), accepted_by = $2, updated_at = NOW()
			WHERE id = $1
		`
		if _, err := tx.Exec(ctx, query, quoteID, acceptedBy); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to accept quote")
		}

		if order != nil {
			if err := insertOrder(ctx, tx, order); err != nil {
				return err
			}
		}

		if leadStage != nil {
			if err := updateLeadStage(ctx, tx, leadStage); err != nil {
				return err
			}
		}

		return nil
	})
}

// isUniqueViolation reports a Postgres unique-constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
