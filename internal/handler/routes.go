package handler

import "net/http"

// Routes mounts every handler on a mux. Method and path wildcards use the
// net/http pattern syntax.
func Routes(
	leads *LeadHandler,
	quotes *QuoteHandler,
	orders *OrderHandler,
	subscriptions *SubscriptionHandler,
	webhooks *WebhookHandler,
) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Leads
	mux.HandleFunc("POST /api/v1/leads", leads.CreateLead)
	mux.HandleFunc("GET /api/v1/leads", leads.ListLeads)
	mux.HandleFunc("GET /api/v1/leads/{id}", leads.GetLead)
	mux.HandleFunc("POST /api/v1/leads/{id}/transition", leads.TransitionLead)
	mux.HandleFunc("POST /api/v1/leads/{id}/convert", leads.ConvertLead)

	// Quotes
	mux.HandleFunc("POST /api/v1/quotes", quotes.CreateQuote)
	mux.HandleFunc("GET /api/v1/quotes", quotes.ListQuotes)
	mux.HandleFunc("GET /api/v1/quotes/{id}", quotes.GetQuote)
	mux.HandleFunc("POST /api/v1/quotes/{id}/lines", quotes.AddLine)
	mux.HandleFunc("DELETE /api/v1/quotes/{id}/lines/{lineID}", quotes.RemoveLine)
	mux.HandleFunc("POST /api/v1/quotes/{id}/payment-method", quotes.SetPaymentMethod)
	mux.HandleFunc("POST /api/v1/quotes/{id}/send", quotes.SendQuote)
	mux.HandleFunc("POST /api/v1/quotes/{id}/accept", quotes.AcceptQuote)
	mux.HandleFunc("POST /api/v1/quotes/{id}/reject", quotes.RejectQuote)
	mux.HandleFunc("POST /api/v1/quotes/{id}/mandate/approve", quotes.ApproveMandate)
	mux.HandleFunc("POST /api/v1/quotes/{id}/mandate/reject", quotes.RejectMandate)
	mux.HandleFunc("GET /api/v1/quotes/{id}/pdf", quotes.QuotePDF)
	mux.HandleFunc("GET /api/v1/public/quotes/{token}", quotes.GetQuoteByToken)

	// Orders
	mux.HandleFunc("GET /api/v1/orders", orders.ListOrders)
	mux.HandleFunc("GET /api/v1/orders/{id}", orders.GetOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/bc", orders.AttachBC)
	mux.HandleFunc("POST /api/v1/orders/{id}/validate", orders.ValidateOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/invoice", orders.CreateInvoice)
	mux.HandleFunc("POST /api/v1/orders/{id}/reject", orders.RejectOrder)
	mux.HandleFunc("POST /api/v1/orders/{id}/cancel", orders.CancelOrder)
	mux.HandleFunc("GET /api/v1/orders/{id}/pdf", orders.OrderPDF)

	// Invoices
	mux.HandleFunc("GET /api/v1/invoices", orders.ListInvoices)
	mux.HandleFunc("GET /api/v1/invoices/{id}", orders.GetInvoice)
	mux.HandleFunc("POST /api/v1/invoices/{id}/send", orders.SendInvoice)
	mux.HandleFunc("POST /api/v1/invoices/{id}/pay", orders.PayInvoice)
	mux.HandleFunc("POST /api/v1/invoices/{id}/cancel", orders.CancelInvoice)
	mux.HandleFunc("GET /api/v1/invoices/{id}/pdf", orders.InvoicePDF)

	// Subscriptions and reminders
	mux.HandleFunc("GET /api/v1/subscriptions/{id}", subscriptions.GetSubscription)
	mux.HandleFunc("GET /api/v1/tenants/{id}/subscription", subscriptions.GetCurrentSubscription)
	mux.HandleFunc("GET /api/v1/tenants/{id}/subscriptions", subscriptions.ListTenantSubscriptions)
	mux.HandleFunc("POST /api/v1/tenants/{id}/subscription/renew", subscriptions.RenewSubscription)
	mux.HandleFunc("GET /api/v1/reminders", subscriptions.ListReminders)

	// Card processor callbacks
	mux.HandleFunc("POST /webhooks/payment", webhooks.HandlePayment)

	return mux
}
