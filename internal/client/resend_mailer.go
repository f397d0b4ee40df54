package client

import (
	"context"
	"fmt"
	"time"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/civicqo/be-billing/internal/apperr"
)

// ResendMailer implements Mailer using the Resend API.
type ResendMailer struct {
	client    *resend.Client
	fromName  string
	fromEmail string
	log       zerolog.Logger
}

// NewResendMailer creates a Resend-backed mailer.
func NewResendMailer(apiKey, fromName, fromEmail string, log zerolog.Logger) (*ResendMailer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}
	if fromEmail == "" {
		return nil, fmt.Errorf("from email is required")
	}

	return &ResendMailer{
		client:    resend.NewClient(apiKey),
		fromName:  fromName,
		fromEmail: fromEmail,
		log:       log,
	}, nil
}

func (m *ResendMailer) send(ctx context.Context, to, subject, html string) error {
	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("%s <%s>", m.fromName, m.fromEmail),
		To:      []string{to},
		Subject: subject,
		Html:    html,
	}

	sent, err := m.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		m.log.Warn().Err(err).Str("to", to).Str("subject", subject).Msg("email delivery failed")
		return apperr.Wrap(err, apperr.CodeDeliveryFailure, "failed to send email")
	}

	m.log.Debug().Str("to", to).Str("email_id", sent.Id).Str("subject", subject).Msg("email sent")
	return nil
}

// SendQuoteNotification emails the quote with its acceptance link.
func (m *ResendMailer) SendQuoteNotification(ctx context.Context, to, contactName, quoteNumber string, total decimal.Decimal, validUntil time.Time, acceptURL string) error {
	subject := fmt.Sprintf("Votre devis %s", quoteNumber)
	html := quoteEmailTemplate(contactName, quoteNumber, total, validUntil, acceptURL)
	return m.send(ctx, to, subject, html)
}

// SendInvoiceNotification emails a mandate invoice with its due date.
func (m *ResendMailer) SendInvoiceNotification(ctx context.Context, to, contactName, invoiceNumber string, total decimal.Decimal, dueDate time.Time) error {
	subject := fmt.Sprintf("Facture %s", invoiceNumber)
	html := invoiceEmailTemplate(contactName, invoiceNumber, total, dueDate)
	return m.send(ctx, to, subject, html)
}

// SendTrialExpiryReminder warns a trial tenant of the approaching end.
func (m *ResendMailer) SendTrialExpiryReminder(ctx context.Context, to, tenantName string, endDate time.Time, renewURL string) error {
	subject := "Votre période d'essai arrive à échéance"
	html := trialExpiryTemplate(tenantName, endDate, renewURL)
	return m.send(ctx, to, subject, html)
}

// SendSubscriptionExpiryReminder warns a tenant of the approaching
// subscription end.
func (m *ResendMailer) SendSubscriptionExpiryReminder(ctx context.Context, to, tenantName string, endDate time.Time, renewURL string) error {
	subject := "Votre abonnement arrive à échéance"
	html := subscriptionExpiryTemplate(tenantName, endDate, renewURL)
	return m.send(ctx, to, subject, html)
}
