package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/config"
	"github.com/civicqo/be-billing/internal/logger"
	"github.com/civicqo/be-billing/internal/pricing"
	"github.com/civicqo/be-billing/internal/repository"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zerolog.Nop()}
}

func testBilling() config.BillingConfig {
	return config.BillingConfig{
		DefaultTaxRate:    20.0,
		QuoteValidityDays: 30,
		InvoiceDueDays:    30,
		GraceDays:         15,
	}
}

type quoteFixture struct {
	svc      *QuoteService
	quotes   *fakeQuotes
	orders   *fakeOrders
	invoices *fakeInvoices
	leads    *fakeLeads
	tenants  *fakeTenants
	mailer   *fakeMailer
	catalog  *pricing.Catalog
}

func newQuoteFixture(t *testing.T) *quoteFixture {
	t.Helper()
	invoices := newFakeInvoices()
	orders := newFakeOrders(invoices)
	leads := newFakeLeads()
	tenants := newFakeTenants()
	quotes := newFakeQuotes(orders, leads)
	mailer := &fakeMailer{}

	catalog := pricing.DefaultCatalog()
	svc := NewQuoteService(quotes, leads, tenants, newFakeSequences(),
		catalog, mailer, fakePDF{}, testBilling(),
		"https://app.example.fr", testLogger())

	return &quoteFixture{
		svc: svc, quotes: quotes, orders: orders, invoices: invoices,
		leads: leads, tenants: tenants, mailer: mailer, catalog: catalog,
	}
}

func (f *quoteFixture) newLead(t *testing.T) *repository.Lead {
	t.Helper()
	lead := &repository.Lead{
		OrganisationName: "Mairie de Valbonne",
		ContactName:      "Claire Martin",
		Email:            "mairie@valbonne.fr",
		PipelineStage:    repository.LeadStageNew,
		PublicToken:      "lead-token",
	}
	require.NoError(t, f.leads.Create(context.Background(), lead))
	return lead
}

func strPtr(s string) *string { return &s }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestCreateQuoteComputesTotals(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:    &lead.ID,
		CreatedBy: "sales@example.fr",
		Lines: []QuoteLineRequest{
			{Description: "Accompagnement au lancement", Quantity: 1, UnitPrice: decPtr("100.00")},
			{Description: "Formation des agents", Quantity: 1, UnitPrice: decPtr("100.00")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, repository.QuoteStatusDraft, quote.Status)
	assert.True(t, quote.Subtotal.Equal(decimal.RequireFromString("200.00")), "subtotal %s", quote.Subtotal)
	assert.True(t, quote.TaxAmount.Equal(decimal.RequireFromString("40.00")), "tax %s", quote.TaxAmount)
	assert.True(t, quote.Total.Equal(decimal.RequireFromString("240.00")), "total %s", quote.Total)
	assert.NotEmpty(t, quote.QuoteNumber)
	assert.NotEmpty(t, quote.PublicToken)

	// quote creation pushes the lead forward
	got, err := f.leads.GetByID(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.LeadStageQuoted, got.PipelineStage)
}

func TestCreateQuoteVATExempt(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:    &lead.ID,
		VATExempt: true,
		CreatedBy: "sales@example.fr",
		Lines: []QuoteLineRequest{
			{Description: "Abonnement", Quantity: 1, UnitPrice: decPtr("490.00")},
		},
	})
	require.NoError(t, err)

	assert.True(t, quote.TaxAmount.IsZero())
	assert.True(t, quote.Total.Equal(quote.Subtotal))
}

func TestCreateQuoteMandateForcesYearly(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:        &lead.ID,
		PaymentMethod: strPtr(repository.PaymentMethodMandate),
		CreatedBy:     "sales@example.fr",
		Lines: []QuoteLineRequest{
			{Quantity: 1, PlanCode: strPtr("commune")},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, string(pricing.IntervalYearly), quote.BillingInterval)
	require.NotNil(t, quote.AdministrativeMandateStatus)
	assert.Equal(t, repository.MandateStatusPending, *quote.AdministrativeMandateStatus)
	// yearly catalog price, not monthly
	assert.True(t, quote.Lines[0].UnitPrice.Equal(decimal.RequireFromString("990.00")),
		"unit price %s", quote.Lines[0].UnitPrice)
}

func TestCreateQuoteMandateRejectsMonthly(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	_, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:          &lead.ID,
		PaymentMethod:   strPtr(repository.PaymentMethodMandate),
		BillingInterval: strPtr(string(pricing.IntervalMonthly)),
		CreatedBy:       "sales@example.fr",
		Lines:           []QuoteLineRequest{{Quantity: 1, PlanCode: strPtr("commune")}},
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidInput))
}

func TestSetPaymentMethodRepricesCatalogLines(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:    &lead.ID,
		CreatedBy: "sales@example.fr",
		Lines: []QuoteLineRequest{
			{Quantity: 1, PlanCode: strPtr("essentiel")},
			{Quantity: 1, AddonCode: strPtr("sms")},
			{Description: "Reprise de données", Quantity: 1, UnitPrice: decPtr("150.00")},
		},
	})
	require.NoError(t, err)
	// monthly card pricing by default
	assert.True(t, quote.Lines[0].UnitPrice.Equal(decimal.RequireFromString("49.00")))
	assert.True(t, quote.Lines[1].UnitPrice.Equal(decimal.RequireFromString("19.00")))

	quote, err = f.svc.SetPaymentMethod(context.Background(), quote.ID, repository.PaymentMethodMandate)
	require.NoError(t, err)

	assert.Equal(t, string(pricing.IntervalYearly), quote.BillingInterval)
	assert.True(t, quote.Lines[0].UnitPrice.Equal(decimal.RequireFromString("490.00")))
	assert.True(t, quote.Lines[1].UnitPrice.Equal(decimal.RequireFromString("190.00")))
	// free-form line keeps its price
	assert.True(t, quote.Lines[2].UnitPrice.Equal(decimal.RequireFromString("150.00")))

	// totals follow the re-priced lines
	expected := decimal.RequireFromString("830.00")
	assert.True(t, quote.Subtotal.Equal(expected), "subtotal %s", quote.Subtotal)
}

func TestAddLineLockedAfterSend(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:    &lead.ID,
		CreatedBy: "sales@example.fr",
		Lines:     []QuoteLineRequest{{Description: "Ligne", Quantity: 1, UnitPrice: decPtr("10.00")}},
	})
	require.NoError(t, err)

	_, err = f.svc.SendQuote(context.Background(), quote.ID)
	require.NoError(t, err)

	_, err = f.svc.AddLineItem(context.Background(), quote.ID, QuoteLineRequest{
		Description: "Ligne tardive", Quantity: 1, UnitPrice: decPtr("5.00"),
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeDocumentLocked))
}

func TestSendQuoteEmailsAndAdvancesLead(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:    &lead.ID,
		CreatedBy: "sales@example.fr",
		Lines:     []QuoteLineRequest{{Description: "Ligne", Quantity: 1, UnitPrice: decPtr("10.00")}},
	})
	require.NoError(t, err)

	sent, err := f.svc.SendQuote(context.Background(), quote.ID)
	require.NoError(t, err)

	assert.Equal(t, repository.QuoteStatusSent, sent.Status)
	assert.NotNil(t, sent.SentAt)
	assert.Equal(t, 1, f.mailer.sentCount())

	got, err := f.leads.GetByID(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.LeadStageAwaitingDecision, got.PipelineStage)
}

func TestSendQuoteSurvivesMailFailure(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)
	f.mailer.failWith = apperr.New(apperr.CodeDeliveryFailure, "smtp down")

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:    &lead.ID,
		CreatedBy: "sales@example.fr",
		Lines:     []QuoteLineRequest{{Description: "Ligne", Quantity: 1, UnitPrice: decPtr("10.00")}},
	})
	require.NoError(t, err)

	sent, err := f.svc.SendQuote(context.Background(), quote.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.QuoteStatusSent, sent.Status)
}

func TestAcceptMandateQuoteCreatesOrder(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:        &lead.ID,
		PaymentMethod: strPtr(repository.PaymentMethodMandate),
		CreatedBy:     "sales@example.fr",
		Lines: []QuoteLineRequest{
			{Quantity: 1, PlanCode: strPtr("commune")},
			{Quantity: 2, AddonCode: strPtr("sms")},
		},
	})
	require.NoError(t, err)

	_, err = f.svc.SendQuote(context.Background(), quote.ID)
	require.NoError(t, err)

	accepted, order, err := f.svc.AcceptQuote(context.Background(), quote.ID, "maire@valbonne.fr")
	require.NoError(t, err)
	require.NotNil(t, order)

	assert.Equal(t, repository.QuoteStatusAccepted, accepted.Status)
	assert.Equal(t, repository.OrderStatusPendingValidation, order.Status)
	assert.Equal(t, "commune", order.PlanCode)
	require.Len(t, order.AddonsSnapshot, 1)
	assert.Equal(t, "sms", order.AddonsSnapshot[0].Code)
	assert.EqualValues(t, 2, order.AddonsSnapshot[0].Quantity)
	assert.True(t, order.Total.Equal(accepted.Total))

	got, err := f.leads.GetByID(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.LeadStageAwaitingPayment, got.PipelineStage)

	// second accept fails, no second order
	_, _, err = f.svc.AcceptQuote(context.Background(), quote.ID, "maire@valbonne.fr")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))
}

func TestCatalogChangeNeverRepricesAcceptedOrder(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:        &lead.ID,
		PaymentMethod: strPtr(repository.PaymentMethodMandate),
		CreatedBy:     "sales@example.fr",
		Lines: []QuoteLineRequest{
			{Quantity: 1, PlanCode: strPtr("commune")},
			{Quantity: 1, AddonCode: strPtr("sms")},
		},
	})
	require.NoError(t, err)
	_, err = f.svc.SendQuote(context.Background(), quote.ID)
	require.NoError(t, err)
	_, order, err := f.svc.AcceptQuote(context.Background(), quote.ID, "maire@valbonne.fr")
	require.NoError(t, err)
	require.NotNil(t, order)

	// commercial repricing after the deal closed
	plan := f.catalog.Plans["commune"]
	plan.YearlyPrice = decimal.NewFromInt(1200)
	f.catalog.Plans["commune"] = plan
	addon := f.catalog.Addons["sms"]
	addon.YearlyPrice = decimal.NewFromInt(250)
	f.catalog.Addons["sms"] = addon

	got, err := f.orders.GetByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, got.PlanAmount.Equal(decimal.RequireFromString("990")))
	require.Len(t, got.AddonsSnapshot, 1)
	assert.True(t, got.AddonsSnapshot[0].UnitPrice.Equal(decimal.RequireFromString("190")))

	// a fresh quote picks up the new prices
	fresh, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:        &lead.ID,
		PaymentMethod: strPtr(repository.PaymentMethodMandate),
		CreatedBy:     "sales@example.fr",
		Lines:         []QuoteLineRequest{{Quantity: 1, PlanCode: strPtr("commune")}},
	})
	require.NoError(t, err)
	require.Len(t, fresh.Lines, 1)
	assert.True(t, fresh.Lines[0].UnitPrice.Equal(decimal.NewFromInt(1200)))
}

func TestAcceptCardQuoteCreatesNoOrder(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:        &lead.ID,
		PaymentMethod: strPtr(repository.PaymentMethodCard),
		CreatedBy:     "sales@example.fr",
		Lines:         []QuoteLineRequest{{Quantity: 1, PlanCode: strPtr("essentiel")}},
	})
	require.NoError(t, err)

	_, err = f.svc.SendQuote(context.Background(), quote.ID)
	require.NoError(t, err)

	accepted, order, err := f.svc.AcceptQuote(context.Background(), quote.ID, "maire@valbonne.fr")
	require.NoError(t, err)
	assert.Equal(t, repository.QuoteStatusAccepted, accepted.Status)
	assert.Nil(t, order)
}

func TestQuoteLazyExpiry(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:    &lead.ID,
		CreatedBy: "sales@example.fr",
		Lines:     []QuoteLineRequest{{Description: "Ligne", Quantity: 1, UnitPrice: decPtr("10.00")}},
	})
	require.NoError(t, err)
	_, err = f.svc.SendQuote(context.Background(), quote.ID)
	require.NoError(t, err)

	// push validity into the past
	f.quotes.mu.Lock()
	f.quotes.quotes[quote.ID].ValidUntil = time.Now().UTC().Add(-time.Hour)
	f.quotes.mu.Unlock()

	got, err := f.svc.GetQuote(context.Background(), quote.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.QuoteStatusExpired, got.Status)

	// expired quotes cannot be accepted
	_, _, err = f.svc.AcceptQuote(context.Background(), quote.ID, "maire@valbonne.fr")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))
}

func TestMandateApprovalFlow(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:        &lead.ID,
		PaymentMethod: strPtr(repository.PaymentMethodMandate),
		CreatedBy:     "sales@example.fr",
		Lines:         []QuoteLineRequest{{Quantity: 1, PlanCode: strPtr("agglo")}},
	})
	require.NoError(t, err)

	approved, err := f.svc.ApproveMandate(context.Background(), quote.ID, "dgfip@example.fr")
	require.NoError(t, err)
	require.NotNil(t, approved.AdministrativeMandateStatus)
	assert.Equal(t, repository.MandateStatusApproved, *approved.AdministrativeMandateStatus)

	// approval is single-shot
	_, err = f.svc.ApproveMandate(context.Background(), quote.ID, "dgfip@example.fr")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))
}

func TestMandateApprovalRejectedOnCardRail(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:        &lead.ID,
		PaymentMethod: strPtr(repository.PaymentMethodCard),
		CreatedBy:     "sales@example.fr",
		Lines:         []QuoteLineRequest{{Quantity: 1, PlanCode: strPtr("essentiel")}},
	})
	require.NoError(t, err)

	_, err = f.svc.ApproveMandate(context.Background(), quote.ID, "dgfip@example.fr")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeInvalidTransition))
}

func TestRemoveLineRecomputesTotals(t *testing.T) {
	f := newQuoteFixture(t)
	lead := f.newLead(t)

	quote, err := f.svc.CreateQuote(context.Background(), &CreateQuoteRequest{
		LeadID:    &lead.ID,
		CreatedBy: "sales@example.fr",
		Lines: []QuoteLineRequest{
			{Description: "A", Quantity: 1, UnitPrice: decPtr("100.00")},
			{Description: "B", Quantity: 1, UnitPrice: decPtr("50.00")},
		},
	})
	require.NoError(t, err)

	updated, err := f.svc.RemoveLineItem(context.Background(), quote.ID, quote.Lines[1].ID)
	require.NoError(t, err)

	require.Len(t, updated.Lines, 1)
	assert.True(t, updated.Subtotal.Equal(decimal.RequireFromString("100.00")))
	assert.True(t, updated.Total.Equal(decimal.RequireFromString("120.00")))
}
