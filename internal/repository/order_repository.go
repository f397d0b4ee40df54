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

// Order statuses (mandate rail). REJECTED and CANCELLED are terminal;
// INVOICED is reached exactly once.
const (
	OrderStatusPendingValidation = "PENDING_VALIDATION"
	OrderStatusPendingBC         = "PENDING_BC"
	OrderStatusAccepted          = "ACCEPTED"
	OrderStatusInvoiced          = "INVOICED"
	OrderStatusRejected          = "REJECTED"
	OrderStatusCancelled         = "CANCELLED"
)

// AddonSnapshot freezes an add-on's pricing at order creation. Stored as
// JSONB so later catalog changes never touch issued documents.
type AddonSnapshot struct {
	Code      string          `json:"code"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// Order is a purchase order (bon de commande) derived 1:1 from an accepted
// administrative-mandate quote.
type Order struct {
	ID             string
	OrderNumber    string
	QuoteID        string
	LeadID         *string
	TenantID       *string
	Status         string
	BCNumber       *string
	PlanCode       string
	PlanName       string
	PlanAmount     decimal.Decimal
	AddonsSnapshot []AddonSnapshot
	VATExempt      bool
	Subtotal       decimal.Decimal
	TaxRate        decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
	RejectedReason *string
	ValidatedBy    *string
	ValidatedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OrderRepository handles order persistence.
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new order repository.
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `
	id, order_number, quote_id, lead_id, tenant_id, status, bc_number,
	plan_code, plan_name, plan_amount, addons_snapshot, vat_exempt,
	subtotal, tax_rate, tax_amount, total, rejected_reason,
	validated_by, validated_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	o := &Order{}
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.QuoteID, &o.LeadID, &o.TenantID, &o.Status,
		&o.BCNumber, &o.PlanCode, &o.PlanName, &o.PlanAmount, &o.AddonsSnapshot,
		&o.VATExempt, &o.Subtotal, &o.TaxRate, &o.TaxAmount, &o.Total,
		&o.RejectedReason, &o.ValidatedBy, &o.ValidatedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// insertOrder writes an order inside an existing transaction. The unique
// constraint on quote_id backs up the quote row lock: even if two accepts
// somehow raced past it, the second insert fails instead of duplicating.
func insertOrder(ctx context.Context, tx pgx.Tx, order *Order) error {
	query := `
		INSERT INTO orders (order_number, quote_id, lead_id, tenant_id, status,
		                    plan_code, plan_name, plan_amount, addons_snapshot, vat_exempt,
		                    subtotal, tax_rate, tax_amount, total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		order.OrderNumber,
		order.QuoteID,
		order.LeadID,
		order.TenantID,
		order.Status,
		order.PlanCode,
		order.PlanName,
		order.PlanAmount,
		order.AddonsSnapshot,
		order.VATExempt,
		order.Subtotal,
		order.TaxRate,
		order.TaxAmount,
		order.Total,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return apperr.DocumentLocked("quote", QuoteStatusAccepted)
		}
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create order")
	}

	return nil
}

// GetByID retrieves an order.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get order")
	}

	return order, nil
}

// GetByQuoteID retrieves the order derived from a quote.
func (r *OrderRepository) GetByQuoteID(ctx context.Context, quoteID string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE quote_id = $1`

	order, err := scanOrder(r.db.QueryRow(ctx, query, quoteID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order for quote", quoteID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get order by quote")
	}

	return order, nil
}

// List retrieves orders, optionally filtered by status.
func (r *OrderRepository) List(ctx context.Context, status *string, limit, offset int) ([]*Order, int64, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM orders WHERE 1=1`

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
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to count orders")
	}

	rows, err := r.db.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to list orders")
	}
	defer rows.Close()

	orders := make([]*Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(err, apperr.CodeInternal, "failed to scan order")
		}
		orders = append(orders, order)
	}

	return orders, total, nil
}

// AttachPurchaseOrder records the client's BC number, moving the order
// PENDING_VALIDATION -> PENDING_BC.
func (r *OrderRepository) AttachPurchaseOrder(ctx context.Context, id, bcNumber string) error {
	query := `
		UPDATE orders
		SET status = 'PENDING_BC', bc_number = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING_VALIDATION'
	`

	tag, err := r.db.Exec(ctx, query, id, bcNumber)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to attach purchase order")
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidTransition("order", OrderStatusPendingValidation, OrderStatusPendingBC)
	}

	return nil
}

// Validate records staff validation of the BC, moving PENDING_BC -> ACCEPTED.
func (r *OrderRepository) Validate(ctx context.Context, id, validatedBy string) error {
	query := `
		UPDATE orders
		SET status = 'ACCEPTED', validated_by = $2, validated_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING_BC'
	`

	tag, err := r.db.Exec(ctx, query, id, validatedBy)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to validate order")
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidTransition("order", OrderStatusPendingBC, OrderStatusAccepted)
	}

	return nil
}

// Terminate moves an order to REJECTED or CANCELLED from any non-INVOICED,
// non-terminal state.
func (r *OrderRepository) Terminate(ctx context.Context, id, to string, reason *string) error {
	query := `
		UPDATE orders
		SET status = $2, rejected_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('INVOICED', 'REJECTED', 'CANCELLED')
	`

	tag, err := r.db.Exec(ctx, query, id, to, reason)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to terminate order")
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.CodeInvalidTransition, "order is already terminal or invoiced")
	}

	return nil
}

// CreateInvoice derives the invoice from an ACCEPTED order, exactly once.
// The order row is locked for the duration; re-invoking on an INVOICED order
// returns the existing invoice instead of creating a duplicate.
func (r *OrderRepository) CreateInvoice(ctx context.Context, orderID string, invoice *Invoice) (*Invoice, bool, error) {
	var existing *Invoice
	created := false

	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var status string
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("order", orderID)
		}
		if err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to lock order")
		}

		if status == OrderStatusInvoiced {
			row := tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE order_id = $1`, orderID)
			existing, err = scanInvoice(row)
			if err != nil {
				return apperr.Wrap(err, apperr.CodeInternal, "failed to load existing invoice")
			}
			return nil
		}

		if status != OrderStatusAccepted {
			return apperr.InvalidTransition("order", status, OrderStatusInvoiced)
		}

		if err := insertInvoice(ctx, tx, invoice); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE orders SET status = 'INVOICED', updated_at = NOW() WHERE id = $1`, orderID); err != nil {
			return apperr.Wrap(err, apperr.CodeInternal, "failed to mark order invoiced")
		}

		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if !created {
		return existing, false, nil
	}
	return invoice, true, nil
}
