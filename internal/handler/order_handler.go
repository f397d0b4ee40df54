package handler

import (
	"net/http"
	"time"

	"github.com/civicqo/be-billing/internal/logger"
	"github.com/civicqo/be-billing/internal/repository"
	"github.com/civicqo/be-billing/internal/service"
)

// OrderHandler handles mandate order and invoice HTTP requests.
type OrderHandler struct {
	orders *service.OrderService
	log    *logger.Logger
}

// NewOrderHandler creates a new order handler.
func NewOrderHandler(orders *service.OrderService, log *logger.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, log: log}
}

// GetOrder handles GET /api/v1/orders/{id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// ListOrders handles GET /api/v1/orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)

	orders, total, err := h.orders.ListOrders(r.Context(), optionalQuery(r, "status"), page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"meta":   listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

type attachBCRequest struct {
	BCNumber string `json:"bc_number" validate:"required"`
}

// AttachBC handles POST /api/v1/orders/{id}/bc.
func (h *OrderHandler) AttachBC(w http.ResponseWriter, r *http.Request) {
	var req attachBCRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.orders.AttachPurchaseOrder(r.Context(), r.PathValue("id"), req.BCNumber)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

type validateOrderRequest struct {
	ValidatedBy string `json:"validated_by" validate:"required"`
}

// ValidateOrder handles POST /api/v1/orders/{id}/validate.
func (h *OrderHandler) ValidateOrder(w http.ResponseWriter, r *http.Request) {
	var req validateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.orders.ValidateOrder(r.Context(), r.PathValue("id"), req.ValidatedBy)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

type terminateOrderRequest struct {
	Reason *string `json:"reason"`
}

// RejectOrder handles POST /api/v1/orders/{id}/reject.
func (h *OrderHandler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	var req terminateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.orders.RejectOrder(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// CancelOrder handles POST /api/v1/orders/{id}/cancel.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req terminateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// CreateInvoice handles POST /api/v1/orders/{id}/invoice. Repeated calls
// return the same invoice.
func (h *OrderHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.orders.CreateInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, invoiceView(invoice))
}

// OrderPDF handles GET /api/v1/orders/{id}/pdf.
func (h *OrderHandler) OrderPDF(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	pdf, err := h.orders.RenderOrderPDF(r.Context(), order.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writePDF(w, order.OrderNumber+".pdf", pdf)
}

// invoiceViewModel decorates an invoice with its derived display status so
// an overdue document reads OVERDUE without that ever being stored.
type invoiceViewModel struct {
	*repository.Invoice
	DisplayStatus string
}

func invoiceView(inv *repository.Invoice) invoiceViewModel {
	return invoiceViewModel{Invoice: inv, DisplayStatus: inv.DisplayStatus(time.Now().UTC())}
}

func invoiceViews(invoices []*repository.Invoice) []invoiceViewModel {
	now := time.Now().UTC()
	views := make([]invoiceViewModel, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, invoiceViewModel{Invoice: inv, DisplayStatus: inv.DisplayStatus(now)})
	}
	return views
}

// GetInvoice handles GET /api/v1/invoices/{id}.
func (h *OrderHandler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.orders.GetInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, invoiceView(invoice))
}

// ListInvoices handles GET /api/v1/invoices.
func (h *OrderHandler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	page, pageSize := pagination(r)

	invoices, total, err := h.orders.ListInvoices(r.Context(), optionalQuery(r, "status"), page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invoices": invoiceViews(invoices),
		"meta":     listMeta{Page: page, PageSize: pageSize, Total: total},
	})
}

// SendInvoice handles POST /api/v1/invoices/{id}/send.
func (h *OrderHandler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.orders.SendInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, invoiceView(invoice))
}

type payInvoiceRequest struct {
	PaidAt *time.Time `json:"paid_at"`
}

// PayInvoice handles POST /api/v1/invoices/{id}/pay.
func (h *OrderHandler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	var req payInvoiceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	paidAt := time.Now().UTC()
	if req.PaidAt != nil {
		paidAt = *req.PaidAt
	}

	invoice, err := h.orders.PayInvoice(r.Context(), r.PathValue("id"), paidAt)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, invoiceView(invoice))
}

// CancelInvoice handles POST /api/v1/invoices/{id}/cancel.
func (h *OrderHandler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.orders.CancelInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, invoiceView(invoice))
}

// InvoicePDF handles GET /api/v1/invoices/{id}/pdf.
func (h *OrderHandler) InvoicePDF(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.orders.GetInvoice(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	pdf, err := h.orders.RenderInvoicePDF(r.Context(), invoice.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writePDF(w, invoice.InvoiceNumber+".pdf", pdf)
}
