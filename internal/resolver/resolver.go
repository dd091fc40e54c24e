// Package resolver picks the single discount rule that applies to a
// distributor and a monthly consumption.
package resolver

import (
	"context"
	"errors"
	"log/slog"

	"github.com/sinergia-energia/sinergia/internal/catalog"
	"github.com/sinergia-energia/sinergia/internal/domain"
	"github.com/sinergia-energia/sinergia/internal/rules"
)

var (
	// ErrIneligibleConsumption means consumption is below the distributor
	// minimum. It is an expected outcome, not a failure.
	ErrIneligibleConsumption = errors.New("consumption below distributor minimum")

	// ErrNoRuleFound means no active rule covers the request. Callers fall
	// back to the profile schedule.
	ErrNoRuleFound = errors.New("no discount rule found")
)

// SnapshotSource returns the current catalog snapshot.
type SnapshotSource interface {
	Snapshot() *catalog.Snapshot
}

// Request identifies what to resolve. BonusCode and Profile are optional.
type Request struct {
	DistributorID  int64
	ConsumptionKWh float64
	BonusCode      *domain.BonusCode
	Profile        domain.Profile
}

// Resolution is the winning rule with its tier and bonus type.
type Resolution struct {
	Rule      *domain.DiscountRule
	Tier      *domain.ConsumptionTier
	BonusType *domain.BonusType
}

// Resolver selects rules from catalog snapshots.
type Resolver struct {
	source SnapshotSource
}

// New creates a resolver reading from source.
func New(source SnapshotSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve reads the current snapshot once and resolves against it.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	return ResolveIn(r.source.Snapshot(), req)
}

// ResolveIn resolves against a given snapshot.
//
// Among every candidate rule of every matching tier the winner has the
// highest primary percentage. Ties go to the narrowest tier (an unbounded
// tier is infinitely wide, and among unbounded tiers the one starting
// higher is narrower), then to the alphabetically lowest bonus code.
func ResolveIn(snap *catalog.Snapshot, req Request) (*Resolution, error) {
	distributor, ok := snap.Distributor(req.DistributorID)
	if !ok {
		return nil, domain.NotFoundf("distributor %d", req.DistributorID)
	}
	if req.ConsumptionKWh < float64(distributor.MinimumConsumptionKWh) {
		return nil, ErrIneligibleConsumption
	}

	tiers := snap.MatchingTiers(distributor.ID, req.ConsumptionKWh)
	if len(tiers) == 0 {
		return nil, ErrNoRuleFound
	}

	input := rules.Input{
		ConsumptionKWh: req.ConsumptionKWh,
		Profile:        req.Profile,
	}
	if st, ok := snap.State(distributor.StateID); ok {
		input.StateCode = st.Code
	}

	var best *catalog.RuleView
	for _, tier := range tiers {
		for _, candidate := range snap.RulesForTier(tier.ID, req.BonusCode) {
			if !applies(snap, candidate, input) {
				continue
			}
			if best == nil || better(candidate, *best) {
				c := candidate
				best = &c
			}
		}
	}

	if best == nil {
		return nil, ErrNoRuleFound
	}

	return &Resolution{
		Rule:      best.Rule,
		Tier:      best.Tier,
		BonusType: best.BonusType,
	}, nil
}

func applies(snap *catalog.Snapshot, v catalog.RuleView, input rules.Input) bool {
	input.BonusCode = v.BonusType.Code
	ok, err := snap.Condition(v.Rule.ID).Matches(input)
	if err != nil {
		slog.Warn("rule condition failed, skipping rule", "rule_id", v.Rule.ID, "error", err)
		return false
	}
	return ok
}

// better reports whether a beats b. Tiers are visited in index order, so a
// candidate that ties on every key keeps the earlier one.
func better(a, b catalog.RuleView) bool {
	if c := a.Rule.PrimaryPercent.Cmp(b.Rule.PrimaryPercent); c != 0 {
		return c > 0
	}
	if sa, sb := a.Tier.Span(), b.Tier.Span(); sa != sb {
		return sa < sb
	}
	// Both unbounded: [500,∞) is more specific than the catch-all [0,∞).
	if a.Tier.ConsumptionMax == nil && a.Tier.ConsumptionMin != b.Tier.ConsumptionMin {
		return a.Tier.ConsumptionMin > b.Tier.ConsumptionMin
	}
	return a.BonusType.Code < b.BonusType.Code
}
