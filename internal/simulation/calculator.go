// Package simulation turns a resolved discount into monthly and annual savings
// and records each simulation for audit.
package simulation

import (
	"github.com/shopspring/decimal"

	"github.com/sinergia-energia/sinergia/internal/domain"
)

// DefaultTariff is the reference price per kWh.
var DefaultTariff = decimal.RequireFromString("0.75")

var (
	hundred      = decimal.NewFromInt(100)
	monthsInYear = decimal.NewFromInt(12)
)

// Quote is the money side of a simulation. Amounts are rounded half-even to
// cents.
type Quote struct {
	Percent        decimal.Decimal
	OriginalBill   decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalBill      decimal.Decimal
	MonthlySavings decimal.Decimal
	AnnualSavings  decimal.Decimal
}

// Calculator prices consumption at a reference tariff.
type Calculator struct {
	tariff decimal.Decimal
}

// NewCalculator creates a calculator. A non-positive tariff selects
// DefaultTariff.
func NewCalculator(tariff decimal.Decimal) *Calculator {
	if !tariff.IsPositive() {
		tariff = DefaultTariff
	}
	return &Calculator{tariff: tariff}
}

// Tariff returns the reference price per kWh.
func (c *Calculator) Tariff() decimal.Decimal {
	return c.tariff
}

// OriginalBill estimates the bill before discount.
func (c *Calculator) OriginalBill(consumptionKWh float64) decimal.Decimal {
	return decimal.NewFromFloat(consumptionKWh).Mul(c.tariff).RoundBank(2)
}

// Quote applies percent to the estimated bill.
func (c *Calculator) Quote(consumptionKWh float64, percent decimal.Decimal) Quote {
	bill := c.OriginalBill(consumptionKWh)
	discount := bill.Mul(percent).Div(hundred).RoundBank(2)

	return Quote{
		Percent:        percent,
		OriginalBill:   bill,
		DiscountAmount: discount,
		FinalBill:      bill.Sub(discount).RoundBank(2),
		MonthlySavings: discount,
		AnnualSavings:  discount.Mul(monthsInYear).RoundBank(2),
	}
}

// fallbackStep is one row of a profile schedule: at or above MinKWh the
// percent applies.
type fallbackStep struct {
	MinKWh  float64
	Percent decimal.Decimal
}

// Schedules are ordered from the highest threshold down; the last step has
// no threshold.
var fallbackSchedules = map[domain.Profile][]fallbackStep{
	domain.ProfileResidential: {
		{500, decimal.NewFromInt(15)},
		{300, decimal.NewFromInt(12)},
		{0, decimal.NewFromInt(8)},
	},
	domain.ProfileCommercial: {
		{1000, decimal.NewFromInt(20)},
		{500, decimal.NewFromInt(15)},
		{0, decimal.NewFromInt(10)},
	},
	domain.ProfileIndustrial: {
		{2000, decimal.NewFromInt(25)},
		{1000, decimal.NewFromInt(20)},
		{0, decimal.NewFromInt(15)},
	},
}

// FallbackPercent is the discount used when no rule covers a request. An
// unknown profile gets zero.
func FallbackPercent(profile domain.Profile, consumptionKWh float64) decimal.Decimal {
	for _, step := range fallbackSchedules[profile] {
		if consumptionKWh >= step.MinKWh {
			return step.Percent
		}
	}
	return decimal.Zero
}
