package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/database"
)

// Invoice statuses (mandate rail). OVERDUE is never stored: it is computed
// at read time from the due date (see Invoice.IsOverdue).
const (
	InvoiceStatusDraft     = "DRAFT"
	InvoiceStatusSent      = "SENT"
	InvoiceStatusPaid      = "PAID"
	InvoiceStatusCancelled = "CANCELLED"

	// InvoiceStatusOverdue is a display-only value used in API responses.
	InvoiceStatusOverdue = "OVERDUE"
)

// Invoice is a mandate-rail invoice (facture) derived 1:1 from an accepted
// order.
type Invoice struct {
	ID            string
	InvoiceNumber string
	OrderID       string
	TenantID      *string
	Status        string
	DueDate       time.Time
	PeriodStart   time.Time
	PeriodEnd     time.Time
	VATExempt     bool
	Subtotal      decimal.Decimal
	TaxRate       decimal.Decimal
	TaxAmount     decimal.Decimal
	Total         decimal.Decimal
	SentAt        *time.Time
	PaidAt        *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Lines         []*InvoiceLine
}

// InvoiceLine is a line on a mandate invoice, copied from the order's
// frozen snapshot at creation.
type InvoiceLine struct {
	ID          string
	InvoiceID   string
	Position    int
	Description string
	Quantity    int64
	UnitPrice   decimal.Decimal
	Total       decimal.Decimal
	CreatedAt   time.Time
}

// IsOverdue reports whether the invoice is awaiting payment past its due
// date. Computed on read so the stored status and the derived display value
// can never diverge.
func (i *Invoice) IsOverdue(now time.Time) bool {
	return i.Status == InvoiceStatusSent && now.After(i.DueDate)
}

// DisplayStatus returns the stored status, substituting OVERDUE when the
// due date has passed on an awaiting-payment invoice.
func (i *Invoice) DisplayStatus(now time.Time) string {
	if i.IsOverdue(now) {
		return InvoiceStatusOverdue
	}
	return i.Status
}

// InvoiceRepository handles invoice persistence.
type InvoiceRepository struct {
	db *database.DB
}

// NewInvoiceRepository creates a new invoice repository.
func NewInvoiceRepository(db *database.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

const invoiceColumns = `
	id, invoice_number, order_id, tenant_id, status, due_date,
	period_start, period_end, vat_exempt, subtotal, tax_rate, tax_amount,
	total, sent_at, paid_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	inv := &Invoice{}
	err := row.Scan(
		&inv.ID, &inv.InvoiceNumber, &inv.OrderID, &inv.TenantID, &inv.Status,
		&inv.DueDate, &inv.PeriodStart, &inv.PeriodEnd, &inv.VATExempt,
		&inv.Subtotal, &inv.TaxRate, &inv.TaxAmount, &inv.Total,
		&inv.SentAt, &inv.PaidAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// insertInvoice writes an invoice and its lines inside an existing
// transaction (order invoicing runs under the order row lock).
func insertInvoice(ctx context.Context, tx pgx.Tx, invoice *Invoice) error {
	query := `
		INSERT INTO invoices (invoice_number, order_id, tenant_id, status, due_date,
		                      period_start, period_end, vat_exempt,
		                      subtotal, tax_rate, tax_amount, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		invoice.InvoiceNumber,
		invoice.OrderID,
		invoice.TenantID,
		invoice.Status,
		invoice.DueDate,
		invoice.PeriodStart,
		invoice.PeriodEnd,
		invoice.VATExempt,
		invoice.Subtotal,
		invoice.TaxRate,
		invoice.TaxAmount,
		invoice.Total,
	).Scan(&invoice.ID, &invoice.CreatedAt, &invoice.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.DocumentLocked("order", OrderStatusInvoiced)
		}
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create invoice")
	}

	for _, line := range invoice.Lines {
		lineQuery := `
			INSERT INTO invoice_line_items (invoice_id, position, description, quantity,
			                                unit_price, total)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at
		`
		err := tx.QueryRow(ctx, lineQuery,
			invoice.ID, line.Position, line.Description,
			line.Quantity, line.UnitPrice, line.Total,
		).Scan(&line.ID, &line.CreatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to create invoice line")
		}
		line.InvoiceID = invoice.ID
	}

	return nil
}

// GetByID retrieves an invoice with its lines.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	invoice, err := scanInvoice(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invoice", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get invoice")
	}

	lines, err := r.GetLines(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	invoice.Lines = lines

	return invoice, nil
}

// GetByOrderID retrieves the invoice derived from an order.
func (r *InvoiceRepository) GetByOrderID(ctx context.Context, orderID string) (*Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE order_id = $1`

	invoice, err := scanInvoice(r.db.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invoice for order", orderID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get invoice by order")
	}

	lines, err := r.GetLines(ctx, invoice.ID)
	if err != nil {
		return nil, err
	}
	invoice.Lines = lines

	return invoice, nil
}

// GetLines retrieves the ordered lines of an invoice.
func (r *InvoiceRepository) GetLines(ctx context.Context, invoiceID string) ([]*InvoiceLine, error) {
	query := `
		SELECT id, invoice_id, position, description, quantity, unit_price, total, created_at
		FROM invoice_line_items
		WHERE invoice_id = $1
		ORDER BY position
	`

	rows, err := r.db.Query(ctx, query, invoiceID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get invoice lines")
	}
	defer rows.Close()

	lines := make([]*InvoiceLine, 0)
	for rows.Next() {
		line := &InvoiceLine{}
		err := rows.Scan(
			&line.ID, &line.InvoiceID, &line.Position, &line.Description,
			&line.Quantity, &line.UnitPrice, &line.Total, &line.CreatedAt,
		)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan invoice line")
		}
		lines = append(lines, line)
	}

	return lines, nil
}

// List retrieves invoices, optionally filtered by stored status.
func (r *InvoiceRepository) List(ctx context.Context, status *string, limit, offset int) ([]*Invoice, int64, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM invoices WHERE 1=1`

	args := []any{}
	argCount := 1

	if status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		countQuery += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *status)
		argCount++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to count invoices")
	}

	rows, err := r.db.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list invoices")
	}
	defer rows.Close()

	invoices := make([]*Invoice, 0)
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to scan invoice")
		}
		invoices = append(invoices, invoice)
	}

	return invoices, total, nil
}

// MarkSent moves an invoice DRAFT -> SENT.
func (r *InvoiceRepository) MarkSent(ctx context.Context, id string) error {
	query := `
		UPDATE invoices
		SET status = 'SENT', sent_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'DRAFT'
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to mark invoice sent")
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidTransition("invoice", InvoiceStatusDraft, InvoiceStatusSent)
	}

	return nil
}

// MarkPaid moves an invoice SENT -> PAID.
func (r *InvoiceRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time) error {
	query := `
		UPDATE invoices
		SET status = 'PAID', paid_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'SENT'
	`

	tag, err := r.db.Exec(ctx, query, id, paidAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to mark invoice paid")
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidTransition("invoice", InvoiceStatusSent, InvoiceStatusPaid)
	}

	return nil
}

// Cancel moves an invoice to CANCELLED from DRAFT or SENT.
func (r *InvoiceRepository) Cancel(ctx context.Context, id string) error {
	query := `
		UPDATE invoices
		SET status = 'CANCELLED', updated_at = NOW()
		WHERE id = $1 AND status IN ('DRAFT', 'SENT')
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to cancel invoice")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.CodeInvalidTransition, "invoice is already paid or cancelled")
	}

	return nil
}
