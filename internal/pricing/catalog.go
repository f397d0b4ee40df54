package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/civicqo/be-billing/internal/apperr"
)

// BillingInterval is the cadence a plan or add-on is billed at.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "MONTHLY"
	IntervalYearly  BillingInterval = "YEARLY"
)

// Plan is a subscription plan with its two catalog prices.
type Plan struct {
	Code         string
	Name         string
	MonthlyPrice decimal.Decimal
	YearlyPrice  decimal.Decimal
}

// Addon is an optional module sold alongside a plan.
type Addon struct {
	Code         string
	Name         string
	MonthlyPrice decimal.Decimal
	YearlyPrice  decimal.Decimal
}

// Catalog is the priced offering, loaded once at startup and passed into the
// quote engine at construction. Prices on already-issued documents are
// snapshots; changing the catalog never alters them.
type Catalog struct {
	Plans  map[string]Plan
	Addons map[string]Addon
}

// Price returns the given plan's price for the interval.
func (c *Catalog) Price(planCode string, interval BillingInterval) (decimal.Decimal, error) {
	p, ok := c.Plans[planCode]
	if !ok {
		return decimal.Zero, apperr.NotFound("plan", planCode)
	}
	if interval == IntervalYearly {
		return p.YearlyPrice, nil
	}
	return p.MonthlyPrice, nil
}

// AddonPrice returns the given add-on's price for the interval.
func (c *Catalog) AddonPrice(addonCode string, interval BillingInterval) (decimal.Decimal, error) {
	a, ok := c.Addons[addonCode]
	if !ok {
		return decimal.Zero, apperr.NotFound("addon", addonCode)
	}
	if interval == IntervalYearly {
		return a.YearlyPrice, nil
	}
	return a.MonthlyPrice, nil
}

// DefaultCatalog returns the current commercial offering. Yearly prices carry
// the standard two-months-free discount over twelve monthly payments.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Plans: map[string]Plan{
			"essentiel": {
				Code:         "essentiel",
				Name:         "Essentiel",
				MonthlyPrice: decimal.NewFromInt(49),
				YearlyPrice:  decimal.NewFromInt(490),
			},
			"commune": {
				Code:         "commune",
				Name:         "Commune",
				MonthlyPrice: decimal.NewFromInt(99),
				YearlyPrice:  decimal.NewFromInt(990),
			},
			"agglo": {
				Code:         "agglo",
				Name:         "Agglomération",
				MonthlyPrice: decimal.NewFromInt(249),
				YearlyPrice:  decimal.NewFromInt(2490),
			},
		},
		Addons: map[string]Addon{
			"sms": {
				Code:         "sms",
				Name:         "Notifications SMS",
				MonthlyPrice: decimal.NewFromInt(19),
				YearlyPrice:  decimal.NewFromInt(190),
			},
			"budget-participatif": {
				Code:         "budget-participatif",
				Name:         "Budget participatif",
				MonthlyPrice: decimal.NewFromInt(39),
				YearlyPrice:  decimal.NewFromInt(390),
			},
			"guichet-unique": {
				Code:         "guichet-unique",
				Name:         "Guichet unique",
				MonthlyPrice: decimal.NewFromInt(29),
				YearlyPrice:  decimal.NewFromInt(290),
			},
		},
	}
}
