package client

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LogMailer logs emails instead of sending them. Used in local development
// when no Resend API key is configured.
type LogMailer struct {
	log zerolog.Logger
}

// NewLogMailer creates a log-only mailer.
func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

var _ Mailer = (*LogMailer)(nil)

func (m *LogMailer) SendQuoteNotification(_ context.Context, to, contactName, quoteNumber string, total decimal.Decimal, validUntil time.Time, acceptURL string) error {
	m.log.Info().
		Str("to", to).
		Str("quote_number", quoteNumber).
		Str("total", total.StringFixed(2)).
		Str("accept_url", acceptURL).
		Msg("email suppressed (no API key): quote notification")
	return nil
}

func (m *LogMailer) SendInvoiceNotification(_ context.Context, to, contactName, invoiceNumber string, total decimal.Decimal, dueDate time.Time) error {
	m.log.Info().
		Str("to", to).
		Str("invoice_number", invoiceNumber).
		Str("total", total.StringFixed(2)).
		Time("due_date", dueDate).
		Msg("email suppressed (no API key): invoice notification")
	return nil
}

func (m *LogMailer) SendTrialExpiryReminder(_ context.Context, to, tenantName string, endDate time.Time, renewURL string) error {
	m.log.Info().
		Str("to", to).
		Str("tenant", tenantName).
		Time("end_date", endDate).
		Msg("email suppressed (no API key): trial expiry reminder")
	return nil
}

func (m *LogMailer) SendSubscriptionExpiryReminder(_ context.Context, to, tenantName string, endDate time.Time, renewURL string) error {
	m.log.Info().
		Str("to", to).
		Str("tenant", tenantName).
		Time("end_date", endDate).
		Msg("email suppressed (no API key): subscription expiry reminder")
	return nil
}
