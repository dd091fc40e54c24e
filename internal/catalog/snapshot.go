package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sinergia-energia/sinergia/internal/domain"
	"github.com/sinergia-energia/sinergia/internal/rules"
)

// RuleView is a discount rule joined with its tier and bonus type.
type RuleView struct {
	Rule      *domain.DiscountRule    `json:"rule"`
	Tier      *domain.ConsumptionTier `json:"tier"`
	BonusType *domain.BonusType       `json:"bonusType"`
}

// Snapshot is an immutable, validated view of the reference data. Every
// request reads from exactly one snapshot.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time

	// Digest identifies the dataset content. Version is local to one process;
	// Digest is the same on every instance that loaded the same data.
	Digest string

	states        []*domain.State
	statesByID    map[int64]*domain.State
	distributors  []*domain.Distributor
	distributorID map[int64]*domain.Distributor
	byState       map[int64][]*domain.Distributor
	bonusTypes    []*domain.BonusType
	tiers         map[int64][]*domain.ConsumptionTier
	rulesByTier   map[int64][]RuleView
	conditions    map[int64]*rules.Condition
}

// Build validates ds and indexes it. Any invariant violation fails the whole
// build.
func Build(version uint64, ds *domain.Dataset, engine *rules.Engine) (*Snapshot, error) {
	if ds == nil {
		ds = &domain.Dataset{}
	}

	digest, err := datasetDigest(ds)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		Version:       version,
		LoadedAt:      time.Now().UTC(),
		Digest:        digest,
		statesByID:    make(map[int64]*domain.State, len(ds.States)),
		distributorID: make(map[int64]*domain.Distributor, len(ds.Distributors)),
		byState:       make(map[int64][]*domain.Distributor),
		tiers:         make(map[int64][]*domain.ConsumptionTier),
		rulesByTier:   make(map[int64][]RuleView),
	}

	for _, st := range ds.States {
		if err := st.Validate(); err != nil {
			return nil, err
		}
		s.statesByID[st.ID] = st
		s.states = append(s.states, st)
	}
	sort.Slice(s.states, func(i, j int) bool { return s.states[i].Name < s.states[j].Name })

	for _, d := range ds.Distributors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.statesByID[d.StateID]; !ok {
			return nil, domain.Validationf("distributor %d references unknown state %d", d.ID, d.StateID)
		}
		s.distributorID[d.ID] = d
		if d.Active {
			s.distributors = append(s.distributors, d)
			s.byState[d.StateID] = append(s.byState[d.StateID], d)
		}
	}
	sort.Slice(s.distributors, func(i, j int) bool { return s.distributors[i].Name < s.distributors[j].Name })
	for _, list := range s.byState {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	}

	bonusByID := make(map[int64]*domain.BonusType, len(ds.BonusTypes))
	for _, b := range ds.BonusTypes {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		bonusByID[b.ID] = b
		if b.Active {
			s.bonusTypes = append(s.bonusTypes, b)
		}
	}
	sort.Slice(s.bonusTypes, func(i, j int) bool { return s.bonusTypes[i].Code < s.bonusTypes[j].Code })

	tierByID := make(map[int64]*domain.ConsumptionTier, len(ds.Tiers))
	tierKeys := make(map[string]int64, len(ds.Tiers))
	for _, t := range ds.Tiers {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, ok := s.distributorID[t.DistributorID]; !ok {
			return nil, domain.Validationf("tier %d references unknown distributor %d", t.ID, t.DistributorID)
		}
		key := tierKey(t)
		if other, dup := tierKeys[key]; dup {
			return nil, domain.Validationf("tiers %d and %d cover the same range", other, t.ID)
		}
		tierKeys[key] = t.ID
		tierByID[t.ID] = t
		if t.Active {
			s.tiers[t.DistributorID] = append(s.tiers[t.DistributorID], t)
		}
	}
	for _, list := range s.tiers {
		sort.Slice(list, func(i, j int) bool { return tierLess(list[i], list[j]) })
	}

	ruleKeys := make(map[[2]int64]int64, len(ds.Rules))
	for _, r := range ds.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		tier, ok := tierByID[r.TierID]
		if !ok {
			return nil, domain.Validationf("rule %d references unknown tier %d", r.ID, r.TierID)
		}
		bonus, ok := bonusByID[r.BonusTypeID]
		if !ok {
			return nil, domain.Validationf("rule %d references unknown bonus type %d", r.ID, r.BonusTypeID)
		}
		key := [2]int64{r.TierID, r.BonusTypeID}
		if other, dup := ruleKeys[key]; dup {
			return nil, domain.Validationf("rules %d and %d share tier %d and bonus type %s", other, r.ID, r.TierID, bonus.Code)
		}
		ruleKeys[key] = r.ID

		if r.Active && tier.Active && bonus.Active {
			s.rulesByTier[r.TierID] = append(s.rulesByTier[r.TierID], RuleView{Rule: r, Tier: tier, BonusType: bonus})
		}
	}
	for _, list := range s.rulesByTier {
		sort.Slice(list, func(i, j int) bool { return ruleLess(list[i], list[j]) })
	}

	if engine != nil {
		conditions, err := engine.CompileAll(ds.Rules)
		if err != nil {
			return nil, err
		}
		s.conditions = conditions
	} else {
		for _, r := range ds.Rules {
			if r.Condition != "" {
				return nil, fmt.Errorf("rule %d has a condition but no rule engine is configured", r.ID)
			}
		}
	}

	return s, nil
}

func tierKey(t *domain.ConsumptionTier) string {
	if t.ConsumptionMax == nil {
		return fmt.Sprintf("%d:%d:-", t.DistributorID, t.ConsumptionMin)
	}
	return fmt.Sprintf("%d:%d:%d", t.DistributorID, t.ConsumptionMin, *t.ConsumptionMax)
}

func datasetDigest(ds *domain.Dataset) (string, error) {
	raw, err := json.Marshal(ds)
	if err != nil {
		return "", fmt.Errorf("digest dataset: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8]), nil
}

// tierLess orders by lower bound, then puts the catch-all tier last, then by
// display order.
func tierLess(a, b *domain.ConsumptionTier) bool {
	if a.ConsumptionMin != b.ConsumptionMin {
		return a.ConsumptionMin < b.ConsumptionMin
	}
	if a.IsCatchAll() != b.IsCatchAll() {
		return b.IsCatchAll()
	}
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.ID < b.ID
}

func ruleLess(a, b RuleView) bool {
	if c := a.Rule.PrimaryPercent.Cmp(b.Rule.PrimaryPercent); c != 0 {
		return c > 0
	}
	if a.BonusType.Code != b.BonusType.Code {
		return a.BonusType.Code < b.BonusType.Code
	}
	return a.Rule.ID < b.Rule.ID
}

// States returns every state ordered by name.
func (s *Snapshot) States() []*domain.State {
	return s.states
}

// State looks a state up by ID.
func (s *Snapshot) State(id int64) (*domain.State, bool) {
	st, ok := s.statesByID[id]
	return st, ok
}

// Distributors returns the active distributors ordered by name.
func (s *Snapshot) Distributors() []*domain.Distributor {
	return s.distributors
}

// Distributor looks a distributor up by ID, active or not.
func (s *Snapshot) Distributor(id int64) (*domain.Distributor, bool) {
	d, ok := s.distributorID[id]
	return d, ok
}

// DistributorsByState returns the active distributors of a state ordered by
// name.
func (s *Snapshot) DistributorsByState(stateID int64) ([]*domain.Distributor, error) {
	if _, ok := s.statesByID[stateID]; !ok {
		return nil, domain.NotFoundf("state %d", stateID)
	}
	return s.byState[stateID], nil
}

// BonusTypes returns the active bonus types ordered by code.
func (s *Snapshot) BonusTypes() []*domain.BonusType {
	return s.bonusTypes
}

// MatchingTiers returns the active tiers of a distributor that contain
// consumption, in index order. Overlapping tiers all match.
func (s *Snapshot) MatchingTiers(distributorID int64, consumption float64) []*domain.ConsumptionTier {
	var matched []*domain.ConsumptionTier
	for _, t := range s.tiers[distributorID] {
		if t.Contains(consumption) {
			matched = append(matched, t)
		}
	}
	return matched
}

// RulesForTier returns the active rules of a tier, best primary percentage
// first. With a filter only the rule of that bonus code is returned; a code
// no rule uses yields an empty result.
func (s *Snapshot) RulesForTier(tierID int64, filter *domain.BonusCode) []RuleView {
	all := s.rulesByTier[tierID]
	if filter == nil {
		return all
	}
	for _, v := range all {
		if v.BonusType.Code == *filter {
			return []RuleView{v}
		}
	}
	return nil
}

// RulesByDistributor lists every active rule of a distributor ordered by
// tier, then best primary percentage.
func (s *Snapshot) RulesByDistributor(distributorID int64) ([]RuleView, error) {
	if _, ok := s.distributorID[distributorID]; !ok {
		return nil, domain.NotFoundf("distributor %d", distributorID)
	}

	views := []RuleView{}
	for _, t := range s.tiers[distributorID] {
		views = append(views, s.rulesByTier[t.ID]...)
	}
	return views, nil
}

// Condition returns the compiled condition of a rule, or nil when the rule
// has none.
func (s *Snapshot) Condition(ruleID int64) *rules.Condition {
	return s.conditions[ruleID]
}
