package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/civicqo/be-billing/internal/apperr"
	"github.com/civicqo/be-billing/internal/client"
	"github.com/civicqo/be-billing/internal/config"
	"github.com/civicqo/be-billing/internal/logger"
	"github.com/civicqo/be-billing/internal/pricing"
	"github.com/civicqo/be-billing/internal/repository"
)

// QuoteService owns the quote (devis) lifecycle: drafting, line mutation,
// sending, the administrative-mandate approval sub-workflow, and the atomic
// mandate-rail acceptance that derives the purchase order.
type QuoteService struct {
	quotes    QuoteStore
	leads     LeadStore
	tenants   TenantStore
	sequences NumberAllocator
	catalog   *pricing.Catalog
	mailer    client.Mailer
	pdf       client.PDFRenderer
	billing   config.BillingConfig
	portalURL string
	log       *logger.Logger
}

// NewQuoteService creates a new quote service.
func NewQuoteService(
	quotes QuoteStore,
	leads LeadStore,
	tenants TenantStore,
	sequences NumberAllocator,
	catalog *pricing.Catalog,
	mailer client.Mailer,
	pdf client.PDFRenderer,
	billing config.BillingConfig,
	portalURL string,
	log *logger.Logger,
) *QuoteService {
	return &QuoteService{
		quotes:    quotes,
		leads:     leads,
		tenants:   tenants,
		sequences: sequences,
		catalog:   catalog,
		mailer:    mailer,
		pdf:       pdf,
		billing:   billing,
		portalURL: portalURL,
		log:       log,
	}
}

// QuoteLineRequest describes one requested line. Catalog lines set PlanCode
// or AddonCode and leave UnitPrice nil; free-form lines set Description and
// UnitPrice explicitly.
type QuoteLineRequest struct {
	Description string
	Quantity    int64
	UnitPrice   *decimal.Decimal
	PlanCode    *string
	AddonCode   *string
}

// CreateQuoteRequest is a create quote request.
type CreateQuoteRequest struct {
	LeadID          *string
	TenantID        *string
	PaymentMethod   *string
	BillingInterval *string
	VATExempt       bool
	Notes           *string
	Lines           []QuoteLineRequest
	CreatedBy       string
}

// CreateQuote drafts a new quote. Selecting the administrative-mandate rail
// forces yearly billing; the card rail defaults to monthly.
func (s *QuoteService) CreateQuote(ctx context.Context, req *CreateQuoteRequest) (*repository.Quote, error) {
	if req.LeadID == nil && req.TenantID == nil {
		return nil, apperr.InvalidInput("lead_id", "a quote must reference a lead or a tenant")
	}
	if len(req.Lines) < 1 {
		return nil, apperr.InvalidInput("lines", "quote must have at least 1 line")
	}
	if req.PaymentMethod != nil &&
		*req.PaymentMethod != repository.PaymentMethodCard &&
		*req.PaymentMethod != repository.PaymentMethodMandate {
		return nil, apperr.InvalidInput("payment_method", "unknown payment method")
	}

	interval, err := resolveInterval(req.PaymentMethod, req.BillingInterval)
	if err != nil {
		return nil, err
	}

	vatExempt := req.VATExempt
	if req.TenantID != nil {
		tenant, err := s.tenants.GetByID(ctx, *req.TenantID)
		if err != nil {
			return nil, err
		}
		vatExempt = tenant.VATExempt
	}

	var mandateStatus *string
	if req.PaymentMethod != nil && *req.PaymentMethod == repository.PaymentMethodMandate {
		pending := repository.MandateStatusPending
		mandateStatus = &pending
	}

	lines := make([]*repository.QuoteLineItem, 0, len(req.Lines))
	for i, lr := range req.Lines {
		line, err := s.buildLine(i+1, lr, interval)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}

	number, err := s.sequences.Next(ctx, repository.DocTypeQuote)
	if err != nil {
		return nil, err
	}

	taxRate := decimal.NewFromFloat(s.billing.DefaultTaxRate)
	totals := quoteTotals(lines, taxRate, vatExempt)

	quote := &repository.Quote{
		QuoteNumber:                 number,
		Status:                      repository.QuoteStatusDraft,
		PaymentMethod:               req.PaymentMethod,
		BillingInterval:             string(interval),
		AdministrativeMandateStatus: mandateStatus,
		LeadID:                      req.LeadID,
		TenantID:                    req.TenantID,
		PublicToken:                 uuid.NewString(),
		ValidUntil:                  time.Now().UTC().AddDate(0, 0, s.billing.QuoteValidityDays),
		VATExempt:                   vatExempt,
		Subtotal:                    totals.Subtotal,
		TaxRate:                     totals.TaxRate,
		TaxAmount:                   totals.TaxAmount,
		Total:                       totals.Total,
		Notes:                       req.Notes,
		CreatedBy:                   &req.CreatedBy,
		Lines:                       lines,
	}

	if err := s.quotes.Create(ctx, quote); err != nil {
		return nil, err
	}

	if req.LeadID != nil {
		err := s.leads.AdvanceStage(ctx, &repository.LeadStageChange{
			LeadID:      *req.LeadID,
			AllowedFrom: []string{repository.LeadStageNew, repository.LeadStageContacted},
			To:          repository.LeadStageQuoted,
		})
		if err != nil {
			s.log.Warn().Err(err).Str("lead_id", *req.LeadID).Msg("failed to advance lead to QUOTED")
		}
	}

	s.log.Info().
		Str("quote_id", quote.ID).
		Str("quote_number", quote.QuoteNumber).
		Str("billing_interval", quote.BillingInterval).
		Str("total", quote.Total.StringFixed(2)).
		Int("line_count", len(quote.Lines)).
		Msg("Quote created")

	return quote, nil
}

// buildLine resolves a line request against the catalog at the given
// interval, or takes the explicit price for free-form lines.
func (s *QuoteService) buildLine(position int, lr QuoteLineRequest, interval pricing.BillingInterval) (*repository.QuoteLineItem, error) {
	if lr.Quantity < 1 {
		return nil, apperr.InvalidInput("quantity", "quantity must be at least 1")
	}

	line := &repository.QuoteLineItem{
		Position:    position,
		Description: lr.Description,
		Quantity:    lr.Quantity,
		PlanCode:    lr.PlanCode,
		AddonCode:   lr.AddonCode,
	}

	switch {
	case lr.PlanCode != nil:
		plan, ok := s.catalog.Plans[*lr.PlanCode]
		if !ok {
			return nil, apperr.NotFound("plan", *lr.PlanCode)
		}
		price, _ := s.catalog.Price(plan.Code, interval)
		line.UnitPrice = price
		if line.Description == "" {
			line.Description = fmt.Sprintf("Abonnement %s (%s)", plan.Name, intervalLabel(interval))
		}
	case lr.AddonCode != nil:
		addon, ok := s.catalog.Addons[*lr.AddonCode]
		if !ok {
			return nil, apperr.NotFound("addon", *lr.AddonCode)
		}
		price, _ := s.catalog.AddonPrice(addon.Code, interval)
		line.UnitPrice = price
		if line.Description == "" {
			line.Description = fmt.Sprintf("Option %s (%s)", addon.Name, intervalLabel(interval))
		}
	default:
		if lr.UnitPrice == nil {
			return nil, apperr.InvalidInput("unit_price", "free-form lines require a unit price")
		}
		if lr.UnitPrice.IsNegative() {
			return nil, apperr.InvalidInput("unit_price", "unit price cannot be negative")
		}
		if lr.Description == "" {
			return nil, apperr.InvalidInput("description", "free-form lines require a description")
		}
		line.UnitPrice = *lr.UnitPrice
	}

	line.Total = pricing.Line{Quantity: line.Quantity, UnitPrice: line.UnitPrice}.Total()
	return line, nil
}

// GetQuote retrieves a quote, lazily expiring it when validUntil has
// passed while it was still SENT. Expiry is evaluated on read, not by a
// background job.
func (s *QuoteService) GetQuote(ctx context.Context, id string) (*repository.Quote, error) {
	quote, err := s.quotes.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.maybeExpire(ctx, quote)
}

// GetQuoteByToken retrieves a quote through its public acceptance token.
func (s *QuoteService) GetQuoteByToken(ctx context.Context, token string) (*repository.Quote, error) {
	quote, err := s.quotes.GetByPublicToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.maybeExpire(ctx, quote)
}

func (s *QuoteService) maybeExpire(ctx context.Context, quote *repository.Quote) (*repository.Quote, error) {
	if quote.Status != repository.QuoteStatusSent || time.Now().UTC().Before(quote.ValidUntil) {
		return quote, nil
	}

	err := s.quotes.UpdateStatus(ctx, quote.ID, repository.QuoteStatusSent, repository.QuoteStatusExpired)
	if err != nil && !apperr.Is(err, apperr.CodeInvalidTransition) {
		return nil, err
	}
	quote.Status = repository.QuoteStatusExpired

	s.log.Info().
		Str("quote_id", quote.ID).
		Str("quote_number", quote.QuoteNumber).
		Time("valid_until", quote.ValidUntil).
		Msg("Quote expired")

	return quote, nil
}

// ListQuotes lists quotes with filtering and pagination.
func (s *QuoteService) ListQuotes(ctx context.Context, status, leadID *string, page, pageSize int) ([]*repository.Quote, int64, error) {
	offset := (page - 1) * pageSize
	return s.quotes.List(ctx, status, leadID, pageSize, offset)
}

// AddLineItem appends a line to a DRAFT quote and recomputes its totals.
func (s *QuoteService) AddLineItem(ctx context.Context, quoteID string, lr QuoteLineRequest) (*repository.Quote, error) {
	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.Status != repository.QuoteStatusDraft {
		return nil, apperr.DocumentLocked("quote", quote.Status)
	}

	line, err := s.buildLine(len(quote.Lines)+1, lr, pricing.BillingInterval(quote.BillingInterval))
	if err != nil {
		return nil, err
	}

	totals := quoteTotals(append(quote.Lines, line), quote.TaxRate, quote.VATExempt)
	if err := s.quotes.AddLine(ctx, quoteID, line, totals.Subtotal, totals.TaxAmount, totals.Total); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("quote_id", quoteID).
		Str("description", line.Description).
		Str("total", totals.Total.StringFixed(2)).
		Msg("Quote line added")

	return s.quotes.GetByID(ctx, quoteID)
}

// RemoveLineItem deletes a line from a DRAFT quote and recomputes totals.
func (s *QuoteService) RemoveLineItem(ctx context.Context, quoteID, lineID string) (*repository.Quote, error) {
	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.Status != repository.QuoteStatusDraft {
		return nil, apperr.DocumentLocked("quote", quote.Status)
	}

	remaining := make([]*repository.QuoteLineItem, 0, len(quote.Lines))
	found := false
	for _, line := range quote.Lines {
		if line.ID == lineID {
			found = true
			continue
		}
		remaining = append(remaining, line)
	}
	if !found {
		return nil, apperr.NotFound("quote line", lineID)
	}

	totals := quoteTotals(remaining, quote.TaxRate, quote.VATExempt)
	if err := s.quotes.RemoveLine(ctx, quoteID, lineID, totals.Subtotal, totals.TaxAmount, totals.Total); err != nil {
		return nil, err
	}

	return s.quotes.GetByID(ctx, quoteID)
}

// SetPaymentMethod changes the payment rail of a DRAFT quote. Switching to
// the administrative mandate re-prices every catalog line to its yearly
// price and opens the mandate approval sub-workflow; switching to card
// keeps the current interval.
func (s *QuoteService) SetPaymentMethod(ctx context.Context, quoteID, method string) (*repository.Quote, error) {
	if method != repository.PaymentMethodCard && method != repository.PaymentMethodMandate {
		return nil, apperr.InvalidInput("payment_method", "unknown payment method")
	}

	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.Status != repository.QuoteStatusDraft {
		return nil, apperr.DocumentLocked("quote", quote.Status)
	}

	interval := pricing.BillingInterval(quote.BillingInterval)
	var mandateStatus *string
	if method == repository.PaymentMethodMandate {
		// Mandates cannot be billed monthly.
		interval = pricing.IntervalYearly
		pending := repository.MandateStatusPending
		mandateStatus = &pending
	}

	for _, line := range quote.Lines {
		switch {
		case line.PlanCode != nil:
			price, perr := s.catalog.Price(*line.PlanCode, interval)
			if perr != nil {
				return nil, perr
			}
			line.UnitPrice = price
		case line.AddonCode != nil:
			price, perr := s.catalog.AddonPrice(*line.AddonCode, interval)
			if perr != nil {
				return nil, perr
			}
			line.UnitPrice = price
		default:
			continue
		}
		line.Total = pricing.Line{Quantity: line.Quantity, UnitPrice: line.UnitPrice}.Total()
	}

	totals := quoteTotals(quote.Lines, quote.TaxRate, quote.VATExempt)
	quote.PaymentMethod = &method
	quote.BillingInterval = string(interval)
	quote.AdministrativeMandateStatus = mandateStatus
	quote.Subtotal = totals.Subtotal
	quote.TaxAmount = totals.TaxAmount
	quote.Total = totals.Total

	if err := s.quotes.ReplaceLines(ctx, quote); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("quote_id", quoteID).
		Str("payment_method", method).
		Str("billing_interval", string(interval)).
		Str("total", quote.Total.StringFixed(2)).
		Msg("Quote payment method changed")

	return s.quotes.GetByID(ctx, quoteID)
}

// SendQuote moves a quote DRAFT -> SENT and emails it to the contact. A
// delivery failure does not roll the transition back; it is logged and the
// quote can be re-sent from the portal link.
func (s *QuoteService) SendQuote(ctx context.Context, quoteID string) (*repository.Quote, error) {
	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if len(quote.Lines) < 1 {
		return nil, apperr.InvalidInput("lines", "cannot send a quote without lines")
	}

	if err := s.quotes.UpdateStatus(ctx, quoteID, repository.QuoteStatusDraft, repository.QuoteStatusSent); err != nil {
		return nil, err
	}

	to, contactName := s.resolveRecipient(ctx, quote)
	if to != "" {
		acceptURL := fmt.Sprintf("%s/devis/%s", s.portalURL, quote.PublicToken)
		err := s.mailer.SendQuoteNotification(ctx, to, contactName, quote.QuoteNumber, quote.Total, quote.ValidUntil, acceptURL)
		if err != nil {
			s.log.Warn().Err(err).Str("quote_id", quoteID).Msg("quote email delivery failed (non-fatal)")
		}
	}

	if quote.LeadID != nil {
		err := s.leads.AdvanceStage(ctx, &repository.LeadStageChange{
			LeadID:      *quote.LeadID,
			AllowedFrom: []string{repository.LeadStageNew, repository.LeadStageContacted, repository.LeadStageQuoted},
			To:          repository.LeadStageAwaitingDecision,
		})
		if err != nil {
			s.log.Warn().Err(err).Str("lead_id", *quote.LeadID).Msg("failed to advance lead to AWAITING_DECISION")
		}
	}

	s.log.Info().
		Str("quote_id", quoteID).
		Str("quote_number", quote.QuoteNumber).
		Msg("Quote sent")

	return s.quotes.GetByID(ctx, quoteID)
}

func (s *QuoteService) resolveRecipient(ctx context.Context, quote *repository.Quote) (email, name string) {
	if quote.LeadID != nil {
		if lead, err := s.leads.GetByID(ctx, *quote.LeadID); err == nil {
			return lead.Email, lead.ContactName
		}
	}
	if quote.TenantID != nil {
		if tenant, err := s.tenants.GetByID(ctx, *quote.TenantID); err == nil {
			return tenant.ContactEmail, tenant.ContactName
		}
	}
	return "", ""
}

// AcceptQuote transitions a SENT quote to ACCEPTED. On the administrative
// mandate rail it atomically derives the purchase order with a frozen
// pricing snapshot and advances the lead to AWAITING_PAYMENT; two
// concurrent accepts serialize on the quote row and the loser fails.
func (s *QuoteService) AcceptQuote(ctx context.Context, quoteID, acceptedBy string) (*repository.Quote, *repository.Order, error) {
	quote, err := s.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, nil, err
	}
	if quote.Status != repository.QuoteStatusSent {
		return nil, nil, apperr.InvalidTransition("quote", quote.Status, repository.QuoteStatusAccepted)
	}
	if quote.PaymentMethod == nil {
		return nil, nil, apperr.InvalidInput("payment_method", "quote has no payment method selected")
	}

	var order *repository.Order
	if *quote.PaymentMethod == repository.PaymentMethodMandate {
		order, err = s.buildOrderSnapshot(ctx, quote)
		if err != nil {
			return nil, nil, err
		}
	}

	var leadStage *repository.LeadStageChange
	if quote.LeadID != nil {
		leadStage = &repository.LeadStageChange{
			LeadID: *quote.LeadID,
			AllowedFrom: []string{
				repository.LeadStageNew, repository.LeadStageContacted,
				repository.LeadStageQuoted, repository.LeadStageAwaitingDecision,
			},
			To: repository.LeadStageAwaitingPayment,
		}
	}

	if err := s.quotes.Accept(ctx, quoteID, acceptedBy, order, leadStage); err != nil {
		return nil, nil, err
	}

	evt := s.log.Info().
		Str("quote_id", quoteID).
		Str("quote_number", quote.QuoteNumber).
		Str("payment_method", *quote.PaymentMethod).
		Str("accepted_by", acceptedBy)
	if order != nil {
		evt = evt.Str("order_id", order.ID).Str("order_number", order.OrderNumber)
	}
	evt.Msg("Quote accepted")

	accepted, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, nil, err
	}
	return accepted, order, nil
}

// buildOrderSnapshot freezes the quote's plan and add-on pricing onto a new
// order so later catalog changes never alter the issued document.
func (s *QuoteService) buildOrderSnapshot(ctx context.Context, quote *repository.Quote) (*repository.Order, error) {
	order := &repository.Order{
		QuoteID:   quote.ID,
		LeadID:    quote.LeadID,
		TenantID:  quote.TenantID,
		Status:    repository.OrderStatusPendingValidation,
		VATExempt: quote.VATExempt,
		Subtotal:  quote.Subtotal,
		TaxRate:   quote.TaxRate,
		TaxAmount: quote.TaxAmount,
		Total:     quote.Total,
	}

	for _, line := range quote.Lines {
		switch {
		case line.PlanCode != nil:
			order.PlanCode = *line.PlanCode
			order.PlanName = line.Description
			order.PlanAmount = line.Total
		case line.AddonCode != nil:
			order.AddonsSnapshot = append(order.AddonsSnapshot, repository.AddonSnapshot{
				Code:      *line.AddonCode,
				Name:      line.Description,
				Quantity:  line.Quantity,
				UnitPrice: line.UnitPrice,
			})
		}
	}

	if order.PlanCode == "" {
		return nil, apperr.InvalidInput("lines", "mandate quote must carry a catalog plan line")
	}

	number, err := s.sequences.Next(ctx, repository.DocTypeOrder)
	if err != nil {
		return nil, err
	}
	order.OrderNumber = number

	return order, nil
}

// RejectQuote moves a quote SENT -> REJECTED.
func (s *QuoteService) RejectQuote(ctx context.Context, quoteID string) (*repository.Quote, error) {
	if err := s.quotes.UpdateStatus(ctx, quoteID, repository.QuoteStatusSent, repository.QuoteStatusRejected); err != nil {
		return nil, err
	}

	s.log.Info().Str("quote_id", quoteID).Msg("Quote rejected")
	return s.quotes.GetByID(ctx, quoteID)
}

// ApproveMandate approves the administrative mandate on a mandate-rail
// quote whose sub-status is PENDING.
func (s *QuoteService) ApproveMandate(ctx context.Context, quoteID, approvedBy string) (*repository.Quote, error) {
	return s.resolveMandate(ctx, quoteID, approvedBy, repository.MandateStatusApproved)
}

// RejectMandate rejects the administrative mandate on a mandate-rail quote
// whose sub-status is PENDING.
func (s *QuoteService) RejectMandate(ctx context.Context, quoteID, rejectedBy string) (*repository.Quote, error) {
	return s.resolveMandate(ctx, quoteID, rejectedBy, repository.MandateStatusRejected)
}

func (s *QuoteService) resolveMandate(ctx context.Context, quoteID, actor, to string) (*repository.Quote, error) {
	quote, err := s.quotes.GetByID(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.PaymentMethod == nil || *quote.PaymentMethod != repository.PaymentMethodMandate {
		return nil, apperr.Newf(apperr.CodeInvalidTransition, "quote is not on the administrative mandate rail")
	}

	if err := s.quotes.UpdateMandateStatus(ctx, quoteID, repository.MandateStatusPending, to); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("quote_id", quoteID).
		Str("mandate_status", to).
		Str("actor", actor).
		Msg("Mandate approval resolved")

	return s.quotes.GetByID(ctx, quoteID)
}

// RenderPDF renders the quote to PDF through the render collaborator.
func (s *QuoteService) RenderPDF(ctx context.Context, quoteID string) ([]byte, error) {
	quote, err := s.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	return s.pdf.RenderQuote(ctx, quote)
}

// quoteTotals recomputes document totals from line items.
func quoteTotals(lines []*repository.QuoteLineItem, taxRate decimal.Decimal, vatExempt bool) pricing.Totals {
	priced := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		priced = append(priced, pricing.Line{Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}
	return pricing.ComputeTotals(priced, taxRate, vatExempt)
}

func resolveInterval(paymentMethod, requested *string) (pricing.BillingInterval, error) {
	if paymentMethod != nil && *paymentMethod == repository.PaymentMethodMandate {
		if requested != nil && *requested == string(pricing.IntervalMonthly) {
			return "", apperr.InvalidInput("billing_interval", "administrative mandates are billed yearly")
		}
		return pricing.IntervalYearly, nil
	}

	if requested != nil {
		switch *requested {
		case string(pricing.IntervalMonthly):
			return pricing.IntervalMonthly, nil
		case string(pricing.IntervalYearly):
			return pricing.IntervalYearly, nil
		default:
			return "", apperr.InvalidInput("billing_interval", "unknown billing interval")
		}
	}

	// Card rail defaults to monthly.
	return pricing.IntervalMonthly, nil
}

func intervalLabel(interval pricing.BillingInterval) string {
	if interval == pricing.IntervalYearly {
		return "annuel"
	}
	return "mensuel"
}
