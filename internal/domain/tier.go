package domain

import "math"

// ConsumptionTier is a kWh range within a distributor. Both bounds are
// inclusive; a nil ConsumptionMax means the range is unbounded above.
type ConsumptionTier struct {
	ID             int64  `json:"id"`
	DistributorID  int64  `json:"distributorId"`
	ConsumptionMin int64  `json:"consumptionMin"`
	ConsumptionMax *int64 `json:"consumptionMax"`
	DisplayName    string `json:"displayName"`
	Order          int    `json:"order"`
	Active         bool   `json:"active"`
}

// Contains reports whether consumption falls inside the tier.
func (t *ConsumptionTier) Contains(consumption float64) bool {
	if consumption < float64(t.ConsumptionMin) {
		return false
	}
	return t.ConsumptionMax == nil || consumption <= float64(*t.ConsumptionMax)
}

// Span is max minus min, or +Inf when the tier is unbounded.
func (t *ConsumptionTier) Span() float64 {
	if t.ConsumptionMax == nil {
		return math.Inf(1)
	}
	return float64(*t.ConsumptionMax - t.ConsumptionMin)
}

// IsCatchAll reports whether the tier covers every consumption from zero up.
func (t *ConsumptionTier) IsCatchAll() bool {
	return t.ConsumptionMin == 0 && t.ConsumptionMax == nil
}

// Validate checks the tier's own invariants.
func (t *ConsumptionTier) Validate() error {
	if t.ConsumptionMin < 0 {
		return Validationf("tier %d: consumption min must not be negative", t.ID)
	}
	if t.ConsumptionMax != nil && *t.ConsumptionMax < t.ConsumptionMin {
		return Validationf("tier %d: consumption max %d is below min %d", t.ID, *t.ConsumptionMax, t.ConsumptionMin)
	}
	return nil
}

// Int64Ptr returns a pointer to v. Handy for tier upper bounds.
func Int64Ptr(v int64) *int64 {
	return &v
}
