package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/repository"
)

type orderFixture struct {
	svc      *OrderService
	subs     *SubscriptionService
	orders   *fakeOrders
	invoices *fakeInvoices
	leads    *fakeLeads
	tenants  *fakeTenants
	subStore *fakeSubscriptions
	mailer   *fakeMailer
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	invoices := newFakeInvoices()
	orders := newFakeOrders(invoices)
	leads := newFakeLeads()
	tenants := newFakeTenants()
	subStore := newFakeSubscriptions(tenants)
	mailer := &fakeMailer{}

	subs := NewSubscriptionService(subStore, tenants, leads, testBilling(), testLogger())
	svc := NewOrderService(orders, invoices, leads, tenants, newFakeSequences(),
		subs, mailer, fakePDF{}, testBilling(), testLogger())

	return &orderFixture{
		svc: svc, subs: subs, orders: orders, invoices: invoices,
		leads: leads, tenants: tenants, subStore: subStore, mailer: mailer,
	}
}

func (f *orderFixture) newAcceptedOrder(t *testing.T, leadID *string) *repository.Order {
	t.Helper()
	order := &repository.Order{
		OrderNumber: "BDC-2026-0001",
		QuoteID:     "quote-src",
		LeadID:      leadID,
		Status:      repository.OrderStatusPendingValidation,
		PlanCode:    "commune",
		PlanName:    "Abonnement Commune (annuel)",
		PlanAmount:  decimal.RequireFromString("990.00"),
		AddonsSnapshot: []repository.AddonSnapshot{
			{Code: "sms", Name: "Option SMS", Quantity: 1, UnitPrice: decimal.RequireFromString("190.00")},
		},
		Subtotal:  decimal.RequireFromString("1180.00"),
		TaxRate:   decimal.RequireFromString("20"),
		TaxAmount: decimal.RequireFromString("236.00"),
		Total:     decimal.RequireFromString("1416.00"),
	}
	require.NoError(t, f.orders.insert(order))

	_, err := f.svc.AttachPurchaseOrder(context.Background(), order.ID, "BC-2026-117")
	require.NoError(t, err)
	validated, err := f.svc.ValidateOrder(context.Background(), order.ID, "ops@example.fr")
	require.NoError(t, err)
	return validated
}

func TestOrderBCWorkflow(t *testing.T) {
	f := newOrderFixture(t)
	order := &repository.Order{
		OrderNumber: "BDC-2026-0009",
		QuoteID:     "q9",
		Status:      repository.OrderStatusPendingValidation,
		PlanCode:    "essentiel",
		PlanName:    "Abonnement Essentiel (annuel)",
		PlanAmount:  decimal.RequireFromString("490.00"),
		Subtotal:    decimal.RequireFromString("490.00"),
		TaxRate:     decimal.RequireFromString("20"),
		TaxAmount:   decimal.RequireFromString("98.00"),
		Total:       decimal.RequireFromString("588.00"),
	}
	require.NoError(t, f.orders.insert(order))

	// validation before the BC is attached is rejected
	_, err := f.svc.ValidateOrder(context.Background(), order.ID, "ops@example.fr")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))

	got, err := f.svc.AttachPurchaseOrder(context.Background(), order.ID, "BC-42")
	require.NoError(t, err)
	assert.Equal(t, repository.OrderStatusPendingBC, got.Status)
	require.NotNil(t, got.BCNumber)
	assert.Equal(t, "BC-42", *got.BCNumber)

	got, err = f.svc.ValidateOrder(context.Background(), order.ID, "ops@example.fr")
	require.NoError(t, err)
	assert.Equal(t, repository.OrderStatusAccepted, got.Status)
	assert.NotNil(t, got.ValidatedAt)
}

func TestCreateInvoiceIdempotent(t *testing.T) {
	f := newOrderFixture(t)
	order := f.newAcceptedOrder(t, nil)

	first, err := f.svc.CreateInvoice(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceStatusDraft, first.Status)
	assert.True(t, first.Total.Equal(order.Total))
	require.Len(t, first.Lines, 2)
	assert.Equal(t, "Abonnement Commune (annuel)", first.Lines[0].Description)

	// repeat call returns the same invoice, same number
	second, err := f.svc.CreateInvoice(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.InvoiceNumber, second.InvoiceNumber)

	invoices, total, err := f.svc.ListInvoices(context.Background(), nil, 1, 50)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, invoices, 1)
}

func TestCreateInvoiceRequiresAcceptedOrder(t *testing.T) {
	f := newOrderFixture(t)
	order := &repository.Order{
		OrderNumber: "BDC-2026-0010",
		QuoteID:     "q10",
		Status:      repository.OrderStatusPendingValidation,
		PlanCode:    "essentiel",
		PlanName:    "Abonnement Essentiel (annuel)",
		PlanAmount:  decimal.RequireFromString("490.00"),
		Subtotal:    decimal.RequireFromString("490.00"),
		TaxRate:     decimal.RequireFromString("20"),
		TaxAmount:   decimal.RequireFromString("98.00"),
		Total:       decimal.RequireFromString("588.00"),
	}
	require.NoError(t, f.orders.insert(order))

	_, err := f.svc.CreateInvoice(context.Background(), order.ID)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))
}

func TestPayInvoiceActivatesSubscriptionAndConvertsLead(t *testing.T) {
	f := newOrderFixture(t)
	lead := &repository.Lead{
		OrganisationName: "Mairie de Biot",
		ContactName:      "Paul Roux",
		Email:            "mairie@biot.fr",
		PipelineStage:    repository.LeadStageAwaitingPayment,
	}
	require.NoError(t, f.leads.Create(context.Background(), lead))

	order := f.newAcceptedOrder(t, &lead.ID)
	invoice, err := f.svc.CreateInvoice(context.Background(), order.ID)
	require.NoError(t, err)
	_, err = f.svc.SendInvoice(context.Background(), invoice.ID)
	require.NoError(t, err)

	paidAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	paid, err := f.svc.PayInvoice(context.Background(), invoice.ID, paidAt)
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	// the lead was provisioned into an active tenant
	gotLead, err := f.leads.GetByID(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.LeadStageConverted, gotLead.PipelineStage)
	require.NotNil(t, gotLead.TenantID)

	tenant, err := f.tenants.GetByID(context.Background(), *gotLead.TenantID)
	require.NoError(t, err)
	assert.Equal(t, repository.TenantStatusActive, tenant.LifecycleStatus)

	// a yearly mandate window opened at the payment date
	sub, err := f.subStore.GetCurrent(context.Background(), tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RailMandate, sub.Rail)
	assert.Equal(t, paidAt, sub.StartDate)
	assert.Equal(t, paidAt.AddDate(0, 12, 0), sub.EndDate)
}

func TestPayInvoiceReplaySafe(t *testing.T) {
	f := newOrderFixture(t)
	order := f.newAcceptedOrder(t, nil)
	tenant := &repository.Tenant{
		Name:            "Commune de Valbonne",
		ContactEmail:    "mairie@valbonne.fr",
		LifecycleStatus: repository.TenantStatusActive,
	}
	require.NoError(t, f.tenants.Create(context.Background(), tenant))
	f.orders.mu.Lock()
	f.orders.orders[order.ID].TenantID = &tenant.ID
	f.orders.mu.Unlock()

	invoice, err := f.svc.CreateInvoice(context.Background(), order.ID)
	require.NoError(t, err)
	_, err = f.svc.SendInvoice(context.Background(), invoice.ID)
	require.NoError(t, err)

	paidAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, err = f.svc.PayInvoice(context.Background(), invoice.ID, paidAt)
	require.NoError(t, err)

	// a replayed payment keeps the original date and opens no second window
	replayed, err := f.svc.PayInvoice(context.Background(), invoice.ID, paidAt.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.NotNil(t, replayed.PaidAt)
	assert.Equal(t, paidAt, *replayed.PaidAt)

	windows, err := f.subStore.ListForTenant(context.Background(), tenant.ID)
	require.NoError(t, err)
	assert.Len(t, windows, 1)
	assert.Equal(t, paidAt, windows[0].StartDate)
}

func TestPayInvoiceResumesInterruptedActivation(t *testing.T) {
	f := newOrderFixture(t)
	lead := &repository.Lead{
		OrganisationName: "Mairie de Gattières",
		ContactName:      "Claire Morel",
		Email:            "mairie@gattieres.fr",
		PipelineStage:    repository.LeadStageAwaitingPayment,
	}
	require.NoError(t, f.leads.Create(context.Background(), lead))

	order := f.newAcceptedOrder(t, &lead.ID)
	invoice, err := f.svc.CreateInvoice(context.Background(), order.ID)
	require.NoError(t, err)
	_, err = f.svc.SendInvoice(context.Background(), invoice.ID)
	require.NoError(t, err)

	// the paid write landed but the process died before activation
	paidAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, f.invoices.MarkPaid(context.Background(), invoice.ID, paidAt))

	paid, err := f.svc.PayInvoice(context.Background(), invoice.ID, paidAt.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceStatusPaid, paid.Status)

	gotLead, err := f.leads.GetByID(context.Background(), lead.ID)
	require.NoError(t, err)
	require.NotNil(t, gotLead.TenantID)

	// the window opened at the stored payment date, not the retry date
	sub, err := f.subStore.GetCurrent(context.Background(), *gotLead.TenantID)
	require.NoError(t, err)
	assert.Equal(t, paidAt, sub.StartDate)
}

func TestPayInvoiceRequiresSent(t *testing.T) {
	f := newOrderFixture(t)
	order := f.newAcceptedOrder(t, nil)
	invoice, err := f.svc.CreateInvoice(context.Background(), order.ID)
	require.NoError(t, err)

	_, err = f.svc.PayInvoice(context.Background(), invoice.ID, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))
}

func TestTerminateInvoicedOrderRejected(t *testing.T) {
	f := newOrderFixture(t)
	order := f.newAcceptedOrder(t, nil)
	_, err := f.svc.CreateInvoice(context.Background(), order.ID)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(context.Background(), order.ID, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))
}

func TestRenderInvoicePDFCarriesOrderContext(t *testing.T) {
	f := newOrderFixture(t)
	order := f.newAcceptedOrder(t, nil)
	invoice, err := f.svc.CreateInvoice(context.Background(), order.ID)
	require.NoError(t, err)

	pdf, err := f.svc.RenderInvoicePDF(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-mandate-invoice", string(pdf))
}

func TestSendInvoiceSurvivesMailFailure(t *testing.T) {
	f := newOrderFixture(t)
	f.mailer.failWith = apperr.New(apperr.CodeDeliveryFailure, "provider down")

	order := f.newAcceptedOrder(t, nil)
	invoice, err := f.svc.CreateInvoice(context.Background(), order.ID)
	require.NoError(t, err)

	sent, err := f.svc.SendInvoice(context.Background(), invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.InvoiceStatusSent, sent.Status)
}
