package domain

// Dataset is the full set of reference data: what the catalog loads from the
// repository and what seed files contain.
type Dataset struct {
	States       []*State           `json:"states"`
	Distributors []*Distributor     `json:"distributors"`
	BonusTypes   []*BonusType       `json:"bonusTypes"`
	Tiers        []*ConsumptionTier `json:"tiers"`
	Rules        []*DiscountRule    `json:"rules"`
}
