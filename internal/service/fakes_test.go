package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/repository"
)

// In-memory stores backing the service tests. They enforce the same
// guards as the SQL repositories: from-status checks, uniqueness, and the
// transactional coupling of Accept and CreateInvoice.

type fakeSequences struct {
	mu       sync.Mutex
	counters map[string]int64
}

func newFakeSequences() *fakeSequences {
	return &fakeSequences{counters: make(map[string]int64)}
}

func (f *fakeSequences) Next(_ context.Context, docType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[docType]++
	return repository.FormatDocumentNumber(docType, time.Now().UTC().Year(), f.counters[docType]), nil
}

type fakeQuotes struct {
	mu     sync.Mutex
	quotes map[string]*repository.Quote
	orders *fakeOrders
	leads  *fakeLeads
	nextID int
}

func newFakeQuotes(orders *fakeOrders, leads *fakeLeads) *fakeQuotes {
	return &fakeQuotes{quotes: make(map[string]*repository.Quote), orders: orders, leads: leads}
}

func (f *fakeQuotes) id() string {
	f.nextID++
	return fmt.Sprintf("quote-%d", f.nextID)
}

func copyQuote(q *repository.Quote) *repository.Quote {
	cp := *q
	cp.Lines = make([]*repository.QuoteLineItem, len(q.Lines))
	for i, l := range q.Lines {
		lc := *l
		cp.Lines[i] = &lc
	}
	return &cp
}

func (f *fakeQuotes) Create(_ context.Context, quote *repository.Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	quote.ID = f.id()
	quote.CreatedAt = time.Now().UTC()
	quote.UpdatedAt = quote.CreatedAt
	for i, l := range quote.Lines {
		l.ID = fmt.Sprintf("%s-line-%d", quote.ID, i+1)
		l.QuoteID = quote.ID
	}
	f.quotes[quote.ID] = copyQuote(quote)
	return nil
}

func (f *fakeQuotes) GetByID(_ context.Context, id string) (*repository.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[id]
	if !ok {
		return nil, apperr.NotFound("quote", id)
	}
	return copyQuote(q), nil
}

func (f *fakeQuotes) GetByPublicToken(_ context.Context, token string) (*repository.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range f.quotes {
		if q.PublicToken == token {
			return copyQuote(q), nil
		}
	}
	return nil, apperr.NotFound("quote", token)
}

func (f *fakeQuotes) List(_ context.Context, status, leadID *string, limit, offset int) ([]*repository.Quote, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Quote
	for _, q := range f.quotes {
		if status != nil && q.Status != *status {
			continue
		}
		if leadID != nil && (q.LeadID == nil || *q.LeadID != *leadID) {
			continue
		}
		out = append(out, copyQuote(q))
	}
	return out, int64(len(out)), nil
}

func (f *fakeQuotes) UpdateStatus(_ context.Context, id, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[id]
	if !ok {
		return apperr.NotFound("quote", id)
	}
	if q.Status != from {
		return apperr.InvalidTransition("quote", q.Status, to)
	}
	q.Status = to
	if to == repository.QuoteStatusSent {
		now := time.Now().UTC()
		q.SentAt = &now
	}
	return nil
}

func (f *fakeQuotes) UpdateMandateStatus(_ context.Context, id, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[id]
	if !ok {
		return apperr.NotFound("quote", id)
	}
	if q.AdministrativeMandateStatus == nil || *q.AdministrativeMandateStatus != from {
		current := "none"
		if q.AdministrativeMandateStatus != nil {
			current = *q.AdministrativeMandateStatus
		}
		return apperr.InvalidTransition("mandate", current, to)
	}
	status := to
	q.AdministrativeMandateStatus = &status
	return nil
}

func (f *fakeQuotes) AddLine(_ context.Context, quoteID string, line *repository.QuoteLineItem, subtotal, taxAmount, total decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[quoteID]
	if !ok {
		return apperr.NotFound("quote", quoteID)
	}
	lc := *line
	lc.ID = fmt.Sprintf("%s-line-%d", quoteID, len(q.Lines)+1)
	lc.QuoteID = quoteID
	q.Lines = append(q.Lines, &lc)
	q.Subtotal, q.TaxAmount, q.Total = subtotal, taxAmount, total
	return nil
}

func (f *fakeQuotes) RemoveLine(_ context.Context, quoteID, lineID string, subtotal, taxAmount, total decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[quoteID]
	if !ok {
		return apperr.NotFound("quote", quoteID)
	}
	kept := q.Lines[:0]
	found := false
	for _, l := range q.Lines {
		if l.ID == lineID {
			found = true
			continue
		}
		kept = append(kept, l)
	}
	if !found {
		return apperr.NotFound("quote line", lineID)
	}
	q.Lines = kept
	q.Subtotal, q.TaxAmount, q.Total = subtotal, taxAmount, total
	return nil
}

func (f *fakeQuotes) ReplaceLines(_ context.Context, quote *repository.Quote) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	q, ok := f.quotes[quote.ID]
	if !ok {
		return apperr.NotFound("quote", quote.ID)
	}
	if q.Status != repository.QuoteStatusDraft {
		return apperr.DocumentLocked("quote", q.Status)
	}
	f.quotes[quote.ID] = copyQuote(quote)
	return nil
}

func (f *fakeQuotes) Accept(ctx context.Context, quoteID, acceptedBy string, order *repository.Order, leadStage *repository.LeadStageChange) error {
	f.mu.Lock()
	q, ok := f.quotes[quoteID]
	if !ok {
		f.mu.Unlock()
		return apperr.NotFound("quote", quoteID)
	}
	if q.Status != repository.QuoteStatusSent {
		f.mu.Unlock()
		return apperr.InvalidTransition("quote", q.Status, repository.QuoteStatusAccepted)
	}
	q.Status = repository.QuoteStatusAccepted
	now := time.Now().UTC()
	q.AcceptedAt = &now
	q.AcceptedBy = &acceptedBy
	f.mu.Unlock()

	if order != nil {
		if err := f.orders.insert(order); err != nil {
			return err
		}
	}
	if leadStage != nil {
		_ = f.leads.AdvanceStage(ctx, leadStage)
	}
	return nil
}

type fakeOrders struct {
	mu       sync.Mutex
	orders   map[string]*repository.Order
	invoices *fakeInvoices
	nextID   int
}

func newFakeOrders(invoices *fakeInvoices) *fakeOrders {
	return &fakeOrders{orders: make(map[string]*repository.Order), invoices: invoices}
}

func (f *fakeOrders) insert(order *repository.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.QuoteID == order.QuoteID {
			return apperr.DocumentLocked("order", o.Status)
		}
	}
	f.nextID++
	order.ID = fmt.Sprintf("order-%d", f.nextID)
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	cp := *order
	f.orders[order.ID] = &cp
	return nil
}

func (f *fakeOrders) GetByID(_ context.Context, id string) (*repository.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, apperr.NotFound("order", id)
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrders) GetByQuoteID(_ context.Context, quoteID string) (*repository.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.QuoteID == quoteID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("order for quote", quoteID)
}

func (f *fakeOrders) List(_ context.Context, status *string, limit, offset int) ([]*repository.Order, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Order
	for _, o := range f.orders {
		if status != nil && o.Status != *status {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (f *fakeOrders) AttachPurchaseOrder(_ context.Context, id, bcNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return apperr.NotFound("order", id)
	}
	if o.Status != repository.OrderStatusPendingValidation {
		return apperr.InvalidTransition("order", o.Status, repository.OrderStatusPendingBC)
	}
	o.Status = repository.OrderStatusPendingBC
	o.BCNumber = &bcNumber
	return nil
}

func (f *fakeOrders) Validate(_ context.Context, id, validatedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return apperr.NotFound("order", id)
	}
	if o.Status != repository.OrderStatusPendingBC {
		return apperr.InvalidTransition("order", o.Status, repository.OrderStatusAccepted)
	}
	o.Status = repository.OrderStatusAccepted
	now := time.Now().UTC()
	o.ValidatedBy = &validatedBy
	o.ValidatedAt = &now
	return nil
}

func (f *fakeOrders) Terminate(_ context.Context, id, to string, reason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return apperr.NotFound("order", id)
	}
	switch o.Status {
	case repository.OrderStatusInvoiced, repository.OrderStatusRejected, repository.OrderStatusCancelled:
		return apperr.InvalidTransition("order", o.Status, to)
	}
	o.Status = to
	o.RejectedReason = reason
	return nil
}

func (f *fakeOrders) CreateInvoice(ctx context.Context, orderID string, invoice *repository.Invoice) (*repository.Invoice, bool, error) {
	f.mu.Lock()
	o, ok := f.orders[orderID]
	if !ok {
		f.mu.Unlock()
		return nil, false, apperr.NotFound("order", orderID)
	}
	if o.Status == repository.OrderStatusInvoiced {
		f.mu.Unlock()
		existing, err := f.invoices.GetByOrderID(ctx, orderID)
		return existing, false, err
	}
	if o.Status != repository.OrderStatusAccepted {
		f.mu.Unlock()
		return nil, false, apperr.InvalidTransition("order", o.Status, repository.OrderStatusInvoiced)
	}
	o.Status = repository.OrderStatusInvoiced
	f.mu.Unlock()

	if err := f.invoices.insert(invoice); err != nil {
		return nil, false, err
	}
	return invoice, true, nil
}

type fakeInvoices struct {
	mu       sync.Mutex
	invoices map[string]*repository.Invoice
	nextID   int
}

func newFakeInvoices() *fakeInvoices {
	return &fakeInvoices{invoices: make(map[string]*repository.Invoice)}
}

func copyInvoice(i *repository.Invoice) *repository.Invoice {
	cp := *i
	cp.Lines = make([]*repository.InvoiceLine, len(i.Lines))
	for j, l := range i.Lines {
		lc := *l
		cp.Lines[j] = &lc
	}
	return &cp
}

func (f *fakeInvoices) insert(invoice *repository.Invoice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	invoice.ID = fmt.Sprintf("invoice-%d", f.nextID)
	invoice.CreatedAt = time.Now().UTC()
	invoice.UpdatedAt = invoice.CreatedAt
	for i, l := range invoice.Lines {
		l.ID = fmt.Sprintf("%s-line-%d", invoice.ID, i+1)
		l.InvoiceID = invoice.ID
	}
	f.invoices[invoice.ID] = copyInvoice(invoice)
	return nil
}

func (f *fakeInvoices) GetByID(_ context.Context, id string) (*repository.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice", id)
	}
	return copyInvoice(inv), nil
}

func (f *fakeInvoices) GetByOrderID(_ context.Context, orderID string) (*repository.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, inv := range f.invoices {
		if inv.OrderID == orderID {
			return copyInvoice(inv), nil
		}
	}
	return nil, apperr.NotFound("invoice for order", orderID)
}

func (f *fakeInvoices) List(_ context.Context, status *string, limit, offset int) ([]*repository.Invoice, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Invoice
	for _, inv := range f.invoices {
		if status != nil && inv.Status != *status {
			continue
		}
		out = append(out, copyInvoice(inv))
	}
	return out, int64(len(out)), nil
}

func (f *fakeInvoices) MarkSent(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return apperr.NotFound("invoice", id)
	}
	if inv.Status != repository.InvoiceStatusDraft {
		return apperr.InvalidTransition("invoice", inv.Status, repository.InvoiceStatusSent)
	}
	inv.Status = repository.InvoiceStatusSent
	now := time.Now().UTC()
	inv.SentAt = &now
	return nil
}

func (f *fakeInvoices) MarkPaid(_ context.Context, id string, paidAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return apperr.NotFound("invoice", id)
	}
	if inv.Status != repository.InvoiceStatusSent {
		return apperr.InvalidTransition("invoice", inv.Status, repository.InvoiceStatusPaid)
	}
	inv.Status = repository.InvoiceStatusPaid
	inv.PaidAt = &paidAt
	return nil
}

func (f *fakeInvoices) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok {
		return apperr.NotFound("invoice", id)
	}
	if inv.Status != repository.InvoiceStatusDraft && inv.Status != repository.InvoiceStatusSent {
		return apperr.InvalidTransition("invoice", inv.Status, repository.InvoiceStatusCancelled)
	}
	inv.Status = repository.InvoiceStatusCancelled
	return nil
}

type fakeLeads struct {
	mu     sync.Mutex
	leads  map[string]*repository.Lead
	nextID int
}

func newFakeLeads() *fakeLeads {
	return &fakeLeads{leads: make(map[string]*repository.Lead)}
}

func (f *fakeLeads) Create(_ context.Context, lead *repository.Lead) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	lead.ID = fmt.Sprintf("lead-%d", f.nextID)
	lead.CreatedAt = time.Now().UTC()
	lead.UpdatedAt = lead.CreatedAt
	cp := *lead
	f.leads[lead.ID] = &cp
	return nil
}

func (f *fakeLeads) GetByID(_ context.Context, id string) (*repository.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return nil, apperr.NotFound("lead", id)
	}
	cp := *l
	return &cp, nil
}

func (f *fakeLeads) GetByPublicToken(_ context.Context, token string) (*repository.Lead, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.leads {
		if l.PublicToken == token {
			cp := *l
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("lead", token)
}

func (f *fakeLeads) List(_ context.Context, stage *string, limit, offset int) ([]*repository.Lead, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Lead
	for _, l := range f.leads {
		if stage != nil && l.PipelineStage != *stage {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (f *fakeLeads) UpdateStage(_ context.Context, id, from, to string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return apperr.NotFound("lead", id)
	}
	if l.PipelineStage != from {
		return apperr.InvalidTransition("lead", l.PipelineStage, to)
	}
	l.PipelineStage = to
	return nil
}

func (f *fakeLeads) AdvanceStage(_ context.Context, change *repository.LeadStageChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[change.LeadID]
	if !ok {
		return apperr.NotFound("lead", change.LeadID)
	}
	for _, from := range change.AllowedFrom {
		if l.PipelineStage == from {
			l.PipelineStage = change.To
			return nil
		}
	}
	// best-effort advance: stage already past, no-op
	return nil
}

func (f *fakeLeads) LinkTenant(_ context.Context, id, tenantID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.leads[id]
	if !ok {
		return apperr.NotFound("lead", id)
	}
	l.TenantID = &tenantID
	l.PipelineStage = repository.LeadStageConverted
	return nil
}

type fakeTenants struct {
	mu      sync.Mutex
	tenants map[string]*repository.Tenant
	nextID  int
}

func newFakeTenants() *fakeTenants {
	return &fakeTenants{tenants: make(map[string]*repository.Tenant)}
}

func (f *fakeTenants) Create(_ context.Context, tenant *repository.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	tenant.ID = fmt.Sprintf("tenant-%d", f.nextID)
	tenant.CreatedAt = time.Now().UTC()
	tenant.UpdatedAt = tenant.CreatedAt
	cp := *tenant
	f.tenants[tenant.ID] = &cp
	return nil
}

func (f *fakeTenants) GetByID(_ context.Context, id string) (*repository.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, apperr.NotFound("tenant", id)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTenants) SetLifecycleStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return apperr.NotFound("tenant", id)
	}
	t.LifecycleStatus = status
	return nil
}

func (f *fakeTenants) ListTrialTenants(_ context.Context, now time.Time) ([]*repository.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Tenant
	for _, t := range f.tenants {
		if t.LifecycleStatus != repository.TenantStatusTrial {
			continue
		}
		if t.ContactEmail == "" || t.TrialEndsAt == nil || !t.TrialEndsAt.After(now) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

type fakeSubscriptions struct {
	mu      sync.Mutex
	subs    map[string]*repository.Subscription
	tenants *fakeTenants
	nextID  int
}

func newFakeSubscriptions(tenants *fakeTenants) *fakeSubscriptions {
	return &fakeSubscriptions{subs: make(map[string]*repository.Subscription), tenants: tenants}
}

func (f *fakeSubscriptions) GetByID(_ context.Context, id string) (*repository.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return nil, apperr.NotFound("subscription", id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSubscriptions) GetByInvoiceID(_ context.Context, invoiceID string) (*repository.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.InvoiceID != nil && *s.InvoiceID == invoiceID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("subscription for invoice", invoiceID)
}

func (f *fakeSubscriptions) GetCurrent(_ context.Context, tenantID string) (*repository.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.TenantID == tenantID && s.IsCurrent {
			cp := *s
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("current subscription for tenant", tenantID)
}

func (f *fakeSubscriptions) ListForTenant(_ context.Context, tenantID string) ([]*repository.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.Subscription
	for _, s := range f.subs {
		if s.TenantID == tenantID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeSubscriptions) OpenWindow(_ context.Context, sub *repository.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.TenantID == sub.TenantID && s.IsCurrent {
			s.IsCurrent = false
		}
	}
	f.nextID++
	sub.ID = fmt.Sprintf("sub-%d", f.nextID)
	sub.IsCurrent = true
	sub.CreatedAt = time.Now().UTC()
	sub.UpdatedAt = sub.CreatedAt
	cp := *sub
	f.subs[sub.ID] = &cp
	return nil
}

func (f *fakeSubscriptions) SetStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.subs[id]
	if !ok {
		return apperr.NotFound("subscription", id)
	}
	s.Status = status
	return nil
}

func (f *fakeSubscriptions) ListExpiringMandate(_ context.Context, now time.Time) ([]*repository.ExpiringSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.ExpiringSubscription
	for _, s := range f.subs {
		if !s.IsCurrent || s.Rail != repository.RailMandate || s.Status != repository.SubscriptionStatusActive {
			continue
		}
		if !s.EndDate.After(now) {
			continue
		}
		tenant, ok := f.tenants.tenants[s.TenantID]
		if !ok || tenant.LifecycleStatus == repository.TenantStatusArchived || tenant.ContactEmail == "" {
			continue
		}
		cp := *s
		out = append(out, &repository.ExpiringSubscription{
			Subscription: cp,
			TenantName:   tenant.Name,
			TenantEmail:  tenant.ContactEmail,
		})
	}
	return out, nil
}

type fakeReminders struct {
	mu        sync.Mutex
	reminders map[string]*repository.RenewalReminder
	nextID    int
}

func newFakeReminders() *fakeReminders {
	return &fakeReminders{reminders: make(map[string]*repository.RenewalReminder)}
}

func (f *fakeReminders) Ensure(_ context.Context, rem *repository.RenewalReminder) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reminders {
		if r.Status == repository.ReminderStatusCancelled {
			continue
		}
		if r.TenantID != rem.TenantID || r.ReminderLevel != rem.ReminderLevel {
			continue
		}
		if (r.SubscriptionID == nil) != (rem.SubscriptionID == nil) {
			continue
		}
		if r.SubscriptionID != nil && *r.SubscriptionID != *rem.SubscriptionID {
			continue
		}
		return false, nil
	}
	f.nextID++
	rem.ID = fmt.Sprintf("rem-%d", f.nextID)
	rem.Status = repository.ReminderStatusPending
	rem.CreatedAt = time.Now().UTC()
	rem.UpdatedAt = rem.CreatedAt
	cp := *rem
	f.reminders[rem.ID] = &cp
	return true, nil
}

func (f *fakeReminders) ListDue(_ context.Context, now time.Time) ([]*repository.RenewalReminder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.RenewalReminder
	for _, r := range f.reminders {
		if r.Status == repository.ReminderStatusPending && !r.ScheduledFor.After(now) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeReminders) List(_ context.Context, status *string, limit, offset int) ([]*repository.RenewalReminder, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repository.RenewalReminder
	for _, r := range f.reminders {
		if status != nil && r.Status != *status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (f *fakeReminders) MarkSent(_ context.Context, id string, sentAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reminders[id]
	if !ok {
		return apperr.NotFound("reminder", id)
	}
	if r.Status != repository.ReminderStatusPending {
		return apperr.InvalidTransition("reminder", r.Status, repository.ReminderStatusSent)
	}
	r.Status = repository.ReminderStatusSent
	r.SentAt = &sentAt
	return nil
}

func (f *fakeReminders) RecordFailure(_ context.Context, id, lastError string, maxRetries int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reminders[id]
	if !ok {
		return apperr.NotFound("reminder", id)
	}
	r.RetryCount++
	r.LastError = &lastError
	if r.RetryCount >= maxRetries {
		r.Status = repository.ReminderStatusFailed
	}
	return nil
}

func (f *fakeReminders) Cancel(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reminders[id]
	if !ok {
		return apperr.NotFound("reminder", id)
	}
	r.Status = repository.ReminderStatusCancelled
	return nil
}

// fakeMailer records sends and can be told to fail.
type fakeMailer struct {
	mu       sync.Mutex
	sent     []string
	failWith error
}

func (m *fakeMailer) record(kind, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.sent = append(m.sent, kind+":"+to)
	return nil
}

func (m *fakeMailer) SendQuoteNotification(_ context.Context, to, _, _ string, _ decimal.Decimal, _ time.Time, _ string) error {
	return m.record("quote", to)
}

func (m *fakeMailer) SendInvoiceNotification(_ context.Context, to, _, _ string, _ decimal.Decimal, _ time.Time) error {
	return m.record("invoice", to)
}

func (m *fakeMailer) SendTrialExpiryReminder(_ context.Context, to, _ string, _ time.Time, _ string) error {
	return m.record("trial", to)
}

func (m *fakeMailer) SendSubscriptionExpiryReminder(_ context.Context, to, _ string, _ time.Time, _ string) error {
	return m.record("subscription", to)
}

func (m *fakeMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// fakePDF returns a fixed payload.
type fakePDF struct{}

func (fakePDF) RenderQuote(_ context.Context, _ *repository.Quote) ([]byte, error) {
	return []byte("%PDF-quote"), nil
}

func (fakePDF) RenderInvoice(_ context.Context, _ *repository.Invoice) ([]byte, error) {
	return []byte("%PDF-invoice"), nil
}

func (fakePDF) RenderMandateOrder(_ context.Context, _ *repository.Order) ([]byte, error) {
	return []byte("%PDF-order"), nil
}

func (fakePDF) RenderMandateInvoice(_ context.Context, _ *repository.Invoice, _ *repository.Order) ([]byte, error) {
	return []byte("%PDF-mandate-invoice"), nil
}
