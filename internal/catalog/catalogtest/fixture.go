// Package catalogtest provides a small, fully known reference dataset for
// tests.
//
// Distributor 1 (CEMIG, minimum 100 kWh) has overlapping tiers:
//
//	10: 0..500      rules A 15% (opt1 18%), B 12%, E 40% (inactive)
//	11: 501..1000   rules A 20%, B 20%, F 30% (bonus type inactive)
//	12: 0..         catch-all, rules A 10%, C 5% (credit review)
//	13: 400..600    rule C 15%
//	14: 1001..      rules D 25% (industrial only), A 22%
//	15: 2000..3000  inactive tier
//
// Distributor 2 (Enel SP) has no tiers. Distributor 3 is inactive.
package catalogtest

import (
	"github.com/shopspring/decimal"

	"github.com/sinergia-energia/sinergia/internal/domain"
)

// Dataset returns a fresh copy of the fixture.
func Dataset() *domain.Dataset {
	pct := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	opt := func(s string) decimal.NullDecimal { return decimal.NullDecimal{Decimal: pct(s), Valid: true} }
	max := domain.Int64Ptr

	return &domain.Dataset{
		States: []*domain.State{
			{ID: 1, Name: "Minas Gerais", Code: "MG"},
			{ID: 2, Name: "São Paulo", Code: "SP"},
			{ID: 3, Name: "Bahia", Code: "BA"},
		},
		Distributors: []*domain.Distributor{
			{ID: 1, Name: "CEMIG", StateID: 1, MinimumConsumptionKWh: 100, PaymentMode: domain.PaymentUnified, InjectionDeadlineDays: 60, MinimumICMSPercent: domain.DefaultMinimumICMS, Active: true},
			{ID: 2, Name: "Enel SP", StateID: 2, MinimumConsumptionKWh: 0, PaymentMode: domain.PaymentTwoInvoices, MinimumICMSPercent: domain.DefaultMinimumICMS, Active: true},
			{ID: 3, Name: "Legacy Energia", StateID: 1, MinimumConsumptionKWh: 0, PaymentMode: domain.PaymentUnified, MinimumICMSPercent: domain.DefaultMinimumICMS, Active: false},
		},
		BonusTypes: []*domain.BonusType{
			{ID: 1, Code: "A", DisplayName: "Bônus A", Color: "#FF6B6B", Active: true},
			{ID: 2, Code: "B", DisplayName: "Bônus B", Color: "#4ECDC4", Active: true},
			{ID: 3, Code: "C", DisplayName: "Bônus C", Color: "#45B7D1", Active: true},
			{ID: 4, Code: "D", DisplayName: "Bônus D", Color: "#96CEB4", Active: true},
			{ID: 5, Code: "E", DisplayName: "Bônus E", Color: "#FFEAA7", Active: true},
			{ID: 6, Code: "F", DisplayName: "Bônus F", Active: false},
		},
		Tiers: []*domain.ConsumptionTier{
			{ID: 10, DistributorID: 1, ConsumptionMin: 0, ConsumptionMax: max(500), DisplayName: "0-500", Order: 1, Active: true},
			{ID: 11, DistributorID: 1, ConsumptionMin: 501, ConsumptionMax: max(1000), DisplayName: "501-1000", Order: 2, Active: true},
			{ID: 12, DistributorID: 1, ConsumptionMin: 0, DisplayName: "all", Order: 0, Active: true},
			{ID: 13, DistributorID: 1, ConsumptionMin: 400, ConsumptionMax: max(600), DisplayName: "400-600", Order: 3, Active: true},
			{ID: 14, DistributorID: 1, ConsumptionMin: 1001, DisplayName: "1001+", Order: 4, Active: true},
			{ID: 15, DistributorID: 1, ConsumptionMin: 2000, ConsumptionMax: max(3000), DisplayName: "2000-3000", Order: 5, Active: false},
		},
		Rules: []*domain.DiscountRule{
			{ID: 100, TierID: 10, BonusTypeID: 1, PrimaryPercent: pct("15"), Optional: [4]decimal.NullDecimal{opt("18")}, Active: true},
			{ID: 101, TierID: 10, BonusTypeID: 2, PrimaryPercent: pct("12"), Active: true},
			{ID: 102, TierID: 12, BonusTypeID: 1, PrimaryPercent: pct("10"), Active: true},
			{ID: 103, TierID: 13, BonusTypeID: 3, PrimaryPercent: pct("15"), Active: true},
			{ID: 104, TierID: 11, BonusTypeID: 1, PrimaryPercent: pct("20"), Active: true},
			{ID: 105, TierID: 11, BonusTypeID: 2, PrimaryPercent: pct("20"), Active: true},
			{ID: 106, TierID: 14, BonusTypeID: 4, PrimaryPercent: pct("25"), Condition: `profile == "industrial"`, Active: true},
			{ID: 107, TierID: 14, BonusTypeID: 1, PrimaryPercent: pct("22"), Active: true},
			{ID: 108, TierID: 11, BonusTypeID: 6, PrimaryPercent: pct("30"), Active: true},
			{ID: 109, TierID: 10, BonusTypeID: 5, PrimaryPercent: pct("40"), Active: false},
			{ID: 110, TierID: 12, BonusTypeID: 3, PrimaryPercent: pct("5"), RequiresCreditReview: true, Active: true},
			{ID: 111, TierID: 15, BonusTypeID: 1, PrimaryPercent: pct("50"), Active: true},
		},
	}
}
