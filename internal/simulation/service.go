package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sinergia-energia/sinergia/internal/catalog"
	"github.com/sinergia-energia/sinergia/internal/domain"
	"github.com/sinergia-energia/sinergia/internal/resolver"
)

var tracer = otel.Tracer("sinergia-simulation")

// Recorder receives audit records. Implementations must not block the
// caller and must swallow their own failures.
type Recorder interface {
	Record(ctx context.Context, rec *domain.SimulationRecord)
}

// Service runs simulations against the current catalog snapshot.
type Service struct {
	source   resolver.SnapshotSource
	calc     *Calculator
	recorder Recorder
	now      func() time.Time
}

// NewService creates a simulation service. recorder may be nil, in which
// case nothing is audited.
func NewService(source resolver.SnapshotSource, calc *Calculator, recorder Recorder) *Service {
	if calc == nil {
		calc = NewCalculator(DefaultTariff)
	}
	return &Service{
		source:   source,
		calc:     calc,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Calculator returns the calculator in use.
func (s *Service) Calculator() *Calculator {
	return s.calc
}

// Simulate estimates the discount for one consumer. Ineligible consumers get
// a result with Eligible false; errors are reserved for bad input
// (domain.ErrValidation) and unknown distributors (domain.ErrNotFound).
func (s *Service) Simulate(ctx context.Context, req domain.SimulationRequest) (*domain.SimulationResult, error) {
	ctx, span := tracer.Start(ctx, "simulation.simulate",
		trace.WithAttributes(
			attribute.Int64("distributor.id", req.DistributorID),
			attribute.Float64("consumption.kwh", req.ConsumptionKWh),
		),
	)
	defer span.End()

	if math.IsNaN(req.ConsumptionKWh) || math.IsInf(req.ConsumptionKWh, 0) {
		return nil, domain.Validationf("consumption must be a finite number")
	}
	if req.ConsumptionKWh < 0 {
		return nil, domain.Validationf("consumption must not be negative, got %v", req.ConsumptionKWh)
	}

	var bonusCode *domain.BonusCode
	if req.BonusCode != "" {
		code, err := domain.ParseBonusCode(req.BonusCode)
		if err != nil {
			return nil, err
		}
		bonusCode = &code
	}
	variant, err := domain.ParseDiscountVariant(req.Variant)
	if err != nil {
		return nil, err
	}
	profile := domain.ParseProfile(req.Profile)

	snap := s.source.Snapshot()

	distributor, ok := snap.Distributor(req.DistributorID)
	if !ok {
		return nil, domain.NotFoundf("distributor %d", req.DistributorID)
	}

	result := &domain.SimulationResult{
		ID:              uuid.New().String(),
		DistributorID:   distributor.ID,
		DistributorName: distributor.Name,
		Profile:         profile,
		ConsumptionKWh:  req.ConsumptionKWh,
		Variant:         variant,
		CreatedAt:       s.now(),
	}

	if distributor.Active {
		if err := s.price(snap, result, bonusCode); err != nil {
			return nil, err
		}
	} else {
		s.ineligible(result, "distributor is not active")
	}

	span.SetAttributes(
		attribute.Bool("simulation.eligible", result.Eligible),
		attribute.String("simulation.source", string(result.Source)),
		attribute.String("simulation.percent", result.DiscountPercent.String()),
	)

	s.record(ctx, result, req.Requester)
	return result, nil
}

// price resolves the rule (or fallback) and fills the money fields.
func (s *Service) price(snap *catalog.Snapshot, result *domain.SimulationResult, bonusCode *domain.BonusCode) error {
	res, err := resolver.ResolveIn(snap, resolver.Request{
		DistributorID:  result.DistributorID,
		ConsumptionKWh: result.ConsumptionKWh,
		BonusCode:      bonusCode,
		Profile:        result.Profile,
	})

	switch {
	case errors.Is(err, resolver.ErrIneligibleConsumption):
		d, _ := snap.Distributor(result.DistributorID)
		s.ineligible(result, fmt.Sprintf("consumption of %s kWh is below the minimum of %d kWh",
			decimal.NewFromFloat(result.ConsumptionKWh).String(), d.MinimumConsumptionKWh))
		return nil

	case errors.Is(err, resolver.ErrNoRuleFound):
		if result.Variant != domain.VariantPrimary {
			return domain.Validationf("variant %s requires a discount rule, none applies", result.Variant)
		}
		s.apply(result, FallbackPercent(result.Profile, result.ConsumptionKWh))
		result.Source = domain.SourceFallback
		return nil

	case err != nil:
		return err
	}

	percent, err := res.Rule.Percent(result.Variant)
	if err != nil {
		return err
	}
	s.apply(result, percent)
	result.Source = domain.SourceRule
	ruleID := res.Rule.ID
	result.RuleID = &ruleID
	result.Tier = res.Tier
	result.BonusType = res.BonusType
	result.RequiresCreditReview = res.Rule.RequiresCreditReview
	return nil
}

func (s *Service) apply(result *domain.SimulationResult, percent decimal.Decimal) {
	q := s.calc.Quote(result.ConsumptionKWh, percent)
	result.Eligible = true
	result.DiscountPercent = q.Percent
	result.OriginalBill = q.OriginalBill
	result.DiscountAmount = q.DiscountAmount
	result.FinalBill = q.FinalBill
	result.MonthlySavings = q.MonthlySavings
	result.AnnualSavings = q.AnnualSavings
}

func (s *Service) ineligible(result *domain.SimulationResult, reason string) {
	bill := s.calc.OriginalBill(result.ConsumptionKWh)
	result.Eligible = false
	result.IneligibilityReason = reason
	result.Source = domain.SourceNone
	result.DiscountPercent = decimal.Zero
	result.OriginalBill = bill
	result.DiscountAmount = decimal.Zero
	result.FinalBill = bill
	result.MonthlySavings = decimal.Zero
	result.AnnualSavings = decimal.Zero
}

func (s *Service) record(ctx context.Context, result *domain.SimulationResult, requester map[string]string) {
	if s.recorder == nil {
		return
	}

	metadata := make(map[string]string, len(requester)+2)
	maps.Copy(metadata, requester)
	metadata["profile"] = string(result.Profile)
	metadata["source"] = string(result.Source)

	rec := &domain.SimulationRecord{
		ID:                     result.ID,
		DistributorID:          result.DistributorID,
		ConsumptionKWh:         result.ConsumptionKWh,
		AppliedDiscountPercent: result.DiscountPercent,
		SavingsAmount:          result.DiscountAmount,
		RequesterMetadata:      metadata,
		CreatedAt:              result.CreatedAt,
	}
	if result.Tier != nil {
		id := result.Tier.ID
		rec.TierID = &id
	}
	if result.BonusType != nil {
		id := result.BonusType.ID
		rec.BonusTypeID = &id
	}

	s.recorder.Record(ctx, rec)
	slog.Debug("simulation recorded", "simulation_id", rec.ID, "distributor_id", rec.DistributorID)
}
