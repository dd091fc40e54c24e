// Package seed imports reference data from a JSON dataset file.
//
// A dataset looks like:
//
//	{
//	  "states":       [{"id": 1, "name": "Minas Gerais", "code": "MG"}],
//	  "distributors": [{"id": 1, "name": "CEMIG", "stateId": 1, "minimumConsumptionKwh": 100, "paymentMode": "Unificado", "active": true}],
//	  "bonusTypes":   [],
//	  "tiers":        [{"id": 10, "distributorId": 1, "consumptionMin": 0, "consumptionMax": 500, "order": 1, "active": true}],
//	  "rules":        [{"id": 100, "tierId": 10, "bonusTypeId": 1, "primaryPercent": "15", "active": true}]
//	}
//
// An empty bonusTypes list is filled with DefaultBonusTypes.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sinergia-energia/sinergia/internal/catalog"
	"github.com/sinergia-energia/sinergia/internal/domain"
	"github.com/sinergia-energia/sinergia/internal/rules"
)

// Store is the write side of the repository used by Apply.
type Store interface {
	SaveState(ctx context.Context, s *domain.State) error
	SaveDistributor(ctx context.Context, d *domain.Distributor) error
	SaveBonusType(ctx context.Context, b *domain.BonusType) error
	SaveTier(ctx context.Context, t *domain.ConsumptionTier) error
	SaveRule(ctx context.Context, r *domain.DiscountRule) error
}

// Summary counts the rows written by Apply.
type Summary struct {
	States       int `json:"states"`
	Distributors int `json:"distributors"`
	BonusTypes   int `json:"bonusTypes"`
	Tiers        int `json:"tiers"`
	Rules        int `json:"rules"`
}

// Load reads a dataset file.
func Load(path string) (*domain.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	ds, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// Decode parses a dataset and normalizes it. Unknown fields are rejected.
func Decode(r io.Reader) (*domain.Dataset, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var ds domain.Dataset
	if err := dec.Decode(&ds); err != nil {
		return nil, fmt.Errorf("%w: malformed dataset: %v", domain.ErrValidation, err)
	}
	if err := Normalize(&ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Normalize canonicalizes labels the way the catalog expects them: payment
// modes, bonus codes and the default ICMS floor.
func Normalize(ds *domain.Dataset) error {
	if len(ds.BonusTypes) == 0 {
		ds.BonusTypes = DefaultBonusTypes()
	}

	for _, d := range ds.Distributors {
		mode, err := domain.ParsePaymentMode(string(d.PaymentMode))
		if err != nil {
			return fmt.Errorf("distributor %d: %w", d.ID, err)
		}
		d.PaymentMode = mode
		if d.MinimumICMSPercent.IsZero() {
			d.MinimumICMSPercent = domain.DefaultMinimumICMS
		}
	}

	for _, b := range ds.BonusTypes {
		code, err := domain.ParseBonusCode(string(b.Code))
		if err != nil {
			return fmt.Errorf("bonus type %d: %w", b.ID, err)
		}
		b.Code = code
	}
	return nil
}

// Apply validates the whole dataset, then upserts it in dependency order.
// Nothing is written when validation fails.
func Apply(ctx context.Context, store Store, ds *domain.Dataset) (Summary, error) {
	engine, err := rules.NewEngine()
	if err != nil {
		return Summary{}, err
	}
	if _, err := catalog.Build(0, ds, engine); err != nil {
		return Summary{}, fmt.Errorf("invalid dataset: %w", err)
	}

	var sum Summary
	for _, s := range ds.States {
		if err := store.SaveState(ctx, s); err != nil {
			return sum, fmt.Errorf("save state %d: %w", s.ID, err)
		}
		sum.States++
	}
	for _, d := range ds.Distributors {
		if err := store.SaveDistributor(ctx, d); err != nil {
			return sum, fmt.Errorf("save distributor %d: %w", d.ID, err)
		}
		sum.Distributors++
	}
	for _, b := range ds.BonusTypes {
		if err := store.SaveBonusType(ctx, b); err != nil {
			return sum, fmt.Errorf("save bonus type %d: %w", b.ID, err)
		}
		sum.BonusTypes++
	}
	for _, t := range ds.Tiers {
		if err := store.SaveTier(ctx, t); err != nil {
			return sum, fmt.Errorf("save tier %d: %w", t.ID, err)
		}
		sum.Tiers++
	}
	for _, r := range ds.Rules {
		if err := store.SaveRule(ctx, r); err != nil {
			return sum, fmt.Errorf("save rule %d: %w", r.ID, err)
		}
		sum.Rules++
	}

	slog.Info("seed applied",
		"states", sum.States,
		"distributors", sum.Distributors,
		"bonus_types", sum.BonusTypes,
		"tiers", sum.Tiers,
		"rules", sum.Rules,
	)
	return sum, nil
}

// DefaultBonusTypes returns the five standard bonus categories A to E.
func DefaultBonusTypes() []*domain.BonusType {
	colors := []string{"#FF6B6B", "#4ECDC4", "#45B7D1", "#96CEB4", "#FFEAA7"}

	types := make([]*domain.BonusType, len(colors))
	for i, color := range colors {
		code := string(rune('A' + i))
		types[i] = &domain.BonusType{
			ID:          int64(i + 1),
			Code:        domain.BonusCode(code),
			DisplayName: "Bônus " + code,
			Description: "Bônus tipo " + code,
			Color:       color,
			Active:      true,
		}
	}
	return types
}
