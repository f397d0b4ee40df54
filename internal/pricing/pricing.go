package pricing

import (
	"github.com/shopspring/decimal"
)

// VATExemptNotice is printed on documents issued to VAT-exempt customers.
// Most association customers fall under the French franchise en base regime.
const VATExemptNotice = "TVA non applicable, art. 293 B du CGI"

// Line is the monetary view of a document line item.
type Line struct {
	Quantity  int64
	UnitPrice decimal.Decimal
}

// Total returns quantity x unit price, rounded to the cent.
func (l Line) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity)).Round(2)
}

// Totals is the recomputed monetary summary of a document.
type Totals struct {
	Subtotal  decimal.Decimal
	TaxRate   decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
}

// ComputeTotals recomputes subtotal, tax and total from the lines.
// taxRate is a percentage (20 means 20%). When vatExempt is set the tax
// amount is zero regardless of rate and the document carries VATExemptNotice.
// The computation is idempotent; callers re-run it on every line mutation
// while the document is still mutable.
func ComputeTotals(lines []Line, taxRate decimal.Decimal, vatExempt bool) Totals {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
	}
	subtotal = subtotal.Round(2)

	tax := decimal.Zero
	rate := taxRate
	if vatExempt {
		rate = decimal.Zero
	} else {
		tax = subtotal.Mul(rate).Div(decimal.NewFromInt(100)).Round(2)
	}

	return Totals{
		Subtotal:  subtotal,
		TaxRate:   rate,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}
}
