package service

import (
	"context"
	"time"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/client"
	"github.com/civicqo/be-billing/internal/config"
	"github.com/civicqo/be-billing/internal/logger"
	"github.com/civicqo/be-billing/internal/pricing"
	"github.com/civicqo/be-billing/internal/repository"
)

// OrderService owns the mandate purchase-order lifecycle and the invoices
// derived from validated orders.
type OrderService struct {
	orders        OrderStore
	invoices      InvoiceStore
	leads         LeadStore
	tenants       TenantStore
	sequences     NumberAllocator
	subscriptions *SubscriptionService
	mailer        client.Mailer
	pdf           client.PDFRenderer
	billing       config.BillingConfig
	log           *logger.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(
	orders OrderStore,
	invoices InvoiceStore,
	leads LeadStore,
	tenants TenantStore,
	sequences NumberAllocator,
	subscriptions *SubscriptionService,
	mailer client.Mailer,
	pdf client.PDFRenderer,
	billing config.BillingConfig,
	log *logger.Logger,
) *OrderService {
	return &OrderService{
		orders:        orders,
		invoices:      invoices,
		leads:         leads,
		tenants:       tenants,
		sequences:     sequences,
		subscriptions: subscriptions,
		mailer:        mailer,
		pdf:           pdf,
		billing:       billing,
		log:           log,
	}
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, id string) (*repository.Order, error) {
	return s.orders.GetByID(ctx, id)
}

// ListOrders lists orders with filtering and pagination.
func (s *OrderService) ListOrders(ctx context.Context, status *string, page, pageSize int) ([]*repository.Order, int64, error) {
	offset := (page - 1) * pageSize
	return s.orders.List(ctx, status, pageSize, offset)
}

// AttachPurchaseOrder records the collectivity's bon de commande reference
// and moves the order PENDING_VALIDATION -> PENDING_BC.
func (s *OrderService) AttachPurchaseOrder(ctx context.Context, orderID, bcNumber string) (*repository.Order, error) {
	if bcNumber == "" {
		return nil, apperr.InvalidInput("bc_number", "purchase order reference is required")
	}

	if err := s.orders.AttachPurchaseOrder(ctx, orderID, bcNumber); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("bc_number", bcNumber).
		Msg("Purchase order attached")

	return s.orders.GetByID(ctx, orderID)
}

// ValidateOrder moves an order PENDING_BC -> ACCEPTED after an operator
// has checked the attached bon de commande.
func (s *OrderService) ValidateOrder(ctx context.Context, orderID, validatedBy string) (*repository.Order, error) {
	if err := s.orders.Validate(ctx, orderID, validatedBy); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("validated_by", validatedBy).
		Msg("Order validated")

	return s.orders.GetByID(ctx, orderID)
}

// RejectOrder terminates an order with a rejection reason.
func (s *OrderService) RejectOrder(ctx context.Context, orderID string, reason *string) (*repository.Order, error) {
	if err := s.orders.Terminate(ctx, orderID, repository.OrderStatusRejected, reason); err != nil {
		return nil, err
	}

	s.log.Info().Str("order_id", orderID).Msg("Order rejected")
	return s.orders.GetByID(ctx, orderID)
}

// CancelOrder terminates an order without fault.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string, reason *string) (*repository.Order, error) {
	if err := s.orders.Terminate(ctx, orderID, repository.OrderStatusCancelled, reason); err != nil {
		return nil, err
	}

	s.log.Info().Str("order_id", orderID).Msg("Order cancelled")
	return s.orders.GetByID(ctx, orderID)
}

// CreateInvoice derives the yearly invoice from an ACCEPTED order. The
// operation is idempotent: calling it again on an INVOICED order returns
// the existing invoice without consuming a new invoice number.
func (s *OrderService) CreateInvoice(ctx context.Context, orderID string) (*repository.Invoice, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status == repository.OrderStatusInvoiced {
		return s.invoices.GetByOrderID(ctx, orderID)
	}
	if order.Status != repository.OrderStatusAccepted {
		return nil, apperr.InvalidTransition("order", order.Status, repository.OrderStatusInvoiced)
	}

	number, err := s.sequences.Next(ctx, repository.DocTypeInvoice)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	invoice := &repository.Invoice{
		InvoiceNumber: number,
		OrderID:       order.ID,
		TenantID:      order.TenantID,
		Status:        repository.InvoiceStatusDraft,
		DueDate:       now.AddDate(0, 0, s.billing.InvoiceDueDays),
		PeriodStart:   now,
		PeriodEnd:     now.AddDate(0, 12, 0),
		VATExempt:     order.VATExempt,
		Subtotal:      order.Subtotal,
		TaxRate:       order.TaxRate,
		TaxAmount:     order.TaxAmount,
		Total:         order.Total,
		Lines:         invoiceLinesFromOrder(order),
	}

	created, wasCreated, err := s.orders.CreateInvoice(ctx, orderID, invoice)
	if err != nil {
		return nil, err
	}

	if wasCreated {
		s.log.Info().
			Str("order_id", orderID).
			Str("invoice_id", created.ID).
			Str("invoice_number", created.InvoiceNumber).
			Str("total", created.Total.StringFixed(2)).
			Msg("Invoice created from order")
	} else {
		s.log.Info().
			Str("order_id", orderID).
			Str("invoice_id", created.ID).
			Msg("Invoice creation raced, returning existing invoice")
	}

	return created, nil
}

// invoiceLinesFromOrder copies the order's frozen pricing snapshot onto
// invoice lines so the invoice never depends on the live catalog.
func invoiceLinesFromOrder(order *repository.Order) []*repository.InvoiceLine {
	lines := []*repository.InvoiceLine{{
		Position:    1,
		Description: order.PlanName,
		Quantity:    1,
		UnitPrice:   order.PlanAmount,
		Total:       order.PlanAmount,
	}}

	for i, addon := range order.AddonsSnapshot {
		lines = append(lines, &repository.InvoiceLine{
			Position:    i + 2,
			Description: addon.Name,
			Quantity:    addon.Quantity,
			UnitPrice:   addon.UnitPrice,
			Total:       pricing.Line{Quantity: addon.Quantity, UnitPrice: addon.UnitPrice}.Total(),
		})
	}

	return lines
}

// GetInvoice retrieves an invoice by ID.
func (s *OrderService) GetInvoice(ctx context.Context, id string) (*repository.Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

// ListInvoices lists invoices with filtering and pagination.
func (s *OrderService) ListInvoices(ctx context.Context, status *string, page, pageSize int) ([]*repository.Invoice, int64, error) {
	offset := (page - 1) * pageSize
	return s.invoices.List(ctx, status, pageSize, offset)
}

// SendInvoice moves an invoice DRAFT -> SENT and emails it to the tenant
// contact. Delivery failures are logged and do not roll back the
// transition.
func (s *OrderService) SendInvoice(ctx context.Context, invoiceID string) (*repository.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	if err := s.invoices.MarkSent(ctx, invoiceID); err != nil {
		return nil, err
	}

	if to, name := s.invoiceRecipient(ctx, invoice); to != "" {
		err := s.mailer.SendInvoiceNotification(ctx, to, name, invoice.InvoiceNumber, invoice.Total, invoice.DueDate)
		if err != nil {
			s.log.Warn().Err(err).Str("invoice_id", invoiceID).Msg("invoice email delivery failed (non-fatal)")
		}
	}

	s.log.Info().
		Str("invoice_id", invoiceID).
		Str("invoice_number", invoice.InvoiceNumber).
		Msg("Invoice sent")

	return s.invoices.GetByID(ctx, invoiceID)
}

func (s *OrderService) invoiceRecipient(ctx context.Context, invoice *repository.Invoice) (email, name string) {
	if invoice.TenantID != nil {
		if tenant, err := s.tenants.GetByID(ctx, *invoice.TenantID); err == nil {
			return tenant.ContactEmail, tenant.ContactName
		}
		return "", ""
	}

	order, err := s.orders.GetByID(ctx, invoice.OrderID)
	if err != nil || order.LeadID == nil {
		return "", ""
	}
	if lead, lerr := s.leads.GetByID(ctx, *order.LeadID); lerr == nil {
		return lead.Email, lead.ContactName
	}
	return "", ""
}

// PayInvoice records payment on a SENT invoice, opens the yearly
// subscription window and, for lead-originated orders, converts the lead.
// Re-running it on a PAID invoice resumes activation instead of failing, so
// a crash between the paid write and the window open is recoverable.
func (s *OrderService) PayInvoice(ctx context.Context, invoiceID string, paidAt time.Time) (*repository.Invoice, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	switch invoice.Status {
	case repository.InvoiceStatusSent:
		if err := s.invoices.MarkPaid(ctx, invoiceID, paidAt); err != nil {
			return nil, err
		}
	case repository.InvoiceStatusPaid:
		if invoice.PaidAt != nil {
			paidAt = *invoice.PaidAt
		}
	default:
		return nil, apperr.InvalidTransition("invoice", invoice.Status, repository.InvoiceStatusPaid)
	}

	order, err := s.orders.GetByID(ctx, invoice.OrderID)
	if err != nil {
		return nil, err
	}

	sub, err := s.subscriptions.ActivateFromInvoice(ctx, invoice, order, paidAt)
	if err != nil {
		return nil, err
	}

	if order.LeadID != nil && sub != nil {
		if err := s.leads.LinkTenant(ctx, *order.LeadID, sub.TenantID); err != nil {
			s.log.Warn().Err(err).Str("lead_id", *order.LeadID).Msg("failed to convert lead after payment")
		}
	}

	s.log.Info().
		Str("invoice_id", invoiceID).
		Str("invoice_number", invoice.InvoiceNumber).
		Time("paid_at", paidAt).
		Msg("Invoice paid")

	return s.invoices.GetByID(ctx, invoiceID)
}

// CancelInvoice voids a DRAFT or SENT invoice.
func (s *OrderService) CancelInvoice(ctx context.Context, invoiceID string) (*repository.Invoice, error) {
	if err := s.invoices.Cancel(ctx, invoiceID); err != nil {
		return nil, err
	}

	s.log.Info().Str("invoice_id", invoiceID).Msg("Invoice cancelled")
	return s.invoices.GetByID(ctx, invoiceID)
}

// RenderOrderPDF renders the purchase order to PDF.
func (s *OrderService) RenderOrderPDF(ctx context.Context, orderID string) ([]byte, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.pdf.RenderMandateOrder(ctx, order)
}

// RenderInvoicePDF renders the invoice to PDF. The mandate variant carries
// the order's purchase order reference; an invoice whose order cannot be
// loaded renders standalone.
func (s *OrderService) RenderInvoicePDF(ctx context.Context, invoiceID string) ([]byte, error) {
	invoice, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	order, oerr := s.orders.GetByID(ctx, invoice.OrderID)
	if oerr != nil {
		s.log.Warn().Err(oerr).Str("invoice_id", invoiceID).Msg("rendering invoice without order context")
		return s.pdf.RenderInvoice(ctx, invoice)
	}
	return s.pdf.RenderMandateInvoice(ctx, invoice, order)
}
