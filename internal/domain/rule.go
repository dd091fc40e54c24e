package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DiscountRule is the discount offer for one (tier, bonus type) pair.
type DiscountRule struct {
	ID             int64           `json:"id"`
	TierID         int64           `json:"tierId"`
	BonusTypeID    int64           `json:"bonusTypeId"`
	PrimaryPercent decimal.Decimal `json:"primaryPercent"`

	// Optional alternative offers, opt1..opt4. Invalid entries are absent.
	Optional [4]decimal.NullDecimal `json:"optionalPercents"`

	// Surfaced to callers, never used to exclude the rule.
	RequiresCreditReview bool `json:"requiresCreditReview"`

	// Condition is an optional CEL boolean expression. Empty means the rule
	// always applies.
	Condition string `json:"condition,omitempty"`

	Notes  string `json:"notes,omitempty"`
	Active bool   `json:"active"`
}

var hundred = decimal.NewFromInt(100)

// Validate checks that every present percentage lies in [0, 100].
func (r *DiscountRule) Validate() error {
	if !percentInRange(r.PrimaryPercent) {
		return Validationf("rule %d: primary percent %s out of range", r.ID, r.PrimaryPercent)
	}
	for i, opt := range r.Optional {
		if opt.Valid && !percentInRange(opt.Decimal) {
			return Validationf("rule %d: optional percent %d (%s) out of range", r.ID, i+1, opt.Decimal)
		}
	}
	return nil
}

func percentInRange(p decimal.Decimal) bool {
	return !p.IsNegative() && p.LessThanOrEqual(hundred)
}

// Percent returns the percentage for the selected variant.
func (r *DiscountRule) Percent(v DiscountVariant) (decimal.Decimal, error) {
	if v == VariantPrimary || v == "" {
		return r.PrimaryPercent, nil
	}
	idx := v.optionalIndex()
	if idx < 0 {
		return decimal.Zero, Validationf("unknown discount variant %q", v)
	}
	opt := r.Optional[idx]
	if !opt.Valid {
		return decimal.Zero, Validationf("rule %d has no %s offer", r.ID, v)
	}
	return opt.Decimal, nil
}

// DiscountVariant selects which percentage of a rule applies.
type DiscountVariant string

const (
	VariantPrimary DiscountVariant = "primary"
	VariantOpt1    DiscountVariant = "opt1"
	VariantOpt2    DiscountVariant = "opt2"
	VariantOpt3    DiscountVariant = "opt3"
	VariantOpt4    DiscountVariant = "opt4"
)

// ParseDiscountVariant maps s to a variant. Empty selects the primary offer.
func ParseDiscountVariant(s string) (DiscountVariant, error) {
	v := DiscountVariant(strings.ToLower(strings.TrimSpace(s)))
	if v == "" {
		return VariantPrimary, nil
	}
	if v == VariantPrimary || v.optionalIndex() >= 0 {
		return v, nil
	}
	return "", Validationf("unknown discount variant %q", s)
}

func (v DiscountVariant) optionalIndex() int {
	switch v {
	case VariantOpt1:
		return 0
	case VariantOpt2:
		return 1
	case VariantOpt3:
		return 2
	case VariantOpt4:
		return 3
	}
	return -1
}
