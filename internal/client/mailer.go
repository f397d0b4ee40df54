package client

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Mailer sends the engine's transactional emails. Implementations return an
// error on delivery failure; the reminder scheduler converts that into its
// retry accounting, synchronous callers surface it as a DeliveryFailure.
type Mailer interface {
	// SendQuoteNotification emails the quote to the prospect with its
	// acceptance link.
	SendQuoteNotification(ctx context.Context, to, contactName, quoteNumber string, total decimal.Decimal, validUntil time.Time, acceptURL string) error

	// SendInvoiceNotification emails a mandate invoice with its due date.
	SendInvoiceNotification(ctx context.Context, to, contactName, invoiceNumber string, total decimal.Decimal, dueDate time.Time) error

	// SendTrialExpiryReminder warns a trial tenant of the approaching end.
	SendTrialExpiryReminder(ctx context.Context, to, tenantName string, endDate time.Time, renewURL string) error

	// SendSubscriptionExpiryReminder warns a mandate-rail tenant of the
	// approaching subscription end.
	SendSubscriptionExpiryReminder(ctx context.Context, to, tenantName string, endDate time.Time, renewURL string) error
}
