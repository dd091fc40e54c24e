package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SimulationRecord is the append-only audit row written for each completed
// simulation. Ineligible outcomes (consumption below the distributor minimum
// or an inactive distributor) are recorded too, with a zero discount and no
// tier or bonus type. Requests that fail validation or name an unknown
// distributor are not recorded.
type SimulationRecord struct {
	ID                     string            `json:"id"`
	DistributorID          int64             `json:"distributorId"`
	TierID                 *int64            `json:"tierId,omitempty"`
	BonusTypeID            *int64            `json:"bonusTypeId,omitempty"`
	ConsumptionKWh         float64           `json:"consumptionKwh"`
	AppliedDiscountPercent decimal.Decimal   `json:"appliedDiscountPercent"`
	SavingsAmount          decimal.Decimal   `json:"savingsAmount"`
	RequesterMetadata      map[string]string `json:"requesterMetadata,omitempty"`
	CreatedAt              time.Time         `json:"createdAt"`
}

// SimulationRequest is the input to a simulation.
type SimulationRequest struct {
	DistributorID  int64
	Profile        string
	ConsumptionKWh float64
	BonusCode      string
	Variant        string

	// Requester carries caller metadata (ip, user agent) into the audit row.
	Requester map[string]string
}

// DiscountSource tells where the applied percentage came from.
type DiscountSource string

const (
	SourceRule     DiscountSource = "rule"
	SourceFallback DiscountSource = "fallback"
	SourceNone     DiscountSource = "none"
)

// SimulationResult is the outcome of a simulation. Ineligible outcomes are
// results, not errors.
type SimulationResult struct {
	ID                  string          `json:"id"`
	Eligible            bool            `json:"eligible"`
	IneligibilityReason string          `json:"ineligibilityReason,omitempty"`
	Source              DiscountSource  `json:"source"`
	DistributorID       int64           `json:"distributorId"`
	DistributorName     string          `json:"distributorName"`
	Profile             Profile         `json:"profile"`
	ConsumptionKWh      float64         `json:"consumptionKwh"`
	Variant             DiscountVariant `json:"variant"`
	DiscountPercent     decimal.Decimal `json:"discountPercent"`
	OriginalBill        decimal.Decimal `json:"originalBill"`
	DiscountAmount      decimal.Decimal `json:"discountAmount"`
	FinalBill           decimal.Decimal `json:"finalBill"`
	MonthlySavings      decimal.Decimal `json:"monthlySavings"`
	AnnualSavings       decimal.Decimal `json:"annualSavings"`

	RuleID               *int64           `json:"ruleId,omitempty"`
	Tier                 *ConsumptionTier `json:"tier,omitempty"`
	BonusType            *BonusType       `json:"bonusType,omitempty"`
	RequiresCreditReview bool             `json:"requiresCreditReview"`

	CreatedAt time.Time `json:"createdAt"`
}

// SimulationFilter narrows the simulation history listing.
type SimulationFilter struct {
	DistributorID *int64
	Limit         int
}

// SimulationStats aggregates the audit log.
type SimulationStats struct {
	TotalSimulations int64                 `json:"totalSimulations"`
	AverageSavings   decimal.Decimal       `json:"averageSavings"`
	MostSimulated    *DistributorFrequency `json:"mostSimulated,omitempty"`
}

// DistributorFrequency is a distributor with its simulation count.
type DistributorFrequency struct {
	DistributorID int64  `json:"distributorId"`
	Name          string `json:"name"`
	Count         int64  `json:"count"`
}
