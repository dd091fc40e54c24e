package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/sinergia-energia/sinergia/internal/domain"
)

// ListStates returns every state ordered by name.
func (r *SQLRepository) ListStates(ctx context.Context) ([]*domain.State, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, code FROM states ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*domain.State
	for rows.Next() {
		var s domain.State
		if err := rows.Scan(&s.ID, &s.Name, &s.Code); err != nil {
			return nil, err
		}
		states = append(states, &s)
	}
	return states, rows.Err()
}

// SaveState inserts or updates a state.
func (r *SQLRepository) SaveState(ctx context.Context, s *domain.State) error {
	if err := s.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO states (id, name, code) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			code = excluded.code
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query), s.ID, s.Name, s.Code)
	return err
}

// ListDistributors returns every distributor ordered by name.
func (r *SQLRepository) ListDistributors(ctx context.Context) ([]*domain.Distributor, error) {
	query := `
		SELECT id, name, state_id, minimum_consumption_kwh, payment_mode,
			   injection_deadline_days, allows_ownership_transfer, requires_credentials,
			   accepts_equipment_plates, minimum_icms_percent, notes, active
		FROM distributors
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var distributors []*domain.Distributor
	for rows.Next() {
		var d domain.Distributor
		var paymentMode string
		var transfer, credentials, plates, active int
		var notes sql.NullString

		if err := rows.Scan(
			&d.ID, &d.Name, &d.StateID, &d.MinimumConsumptionKWh, &paymentMode,
			&d.InjectionDeadlineDays, &transfer, &credentials,
			&plates, &d.MinimumICMSPercent, &notes, &active,
		); err != nil {
			return nil, err
		}

		d.PaymentMode = domain.PaymentMode(paymentMode)
		d.AllowsOwnershipTransfer = transfer == 1
		d.RequiresCredentials = credentials == 1
		d.AcceptsEquipmentPlates = plates == 1
		d.Notes = notes.String
		d.Active = active == 1

		distributors = append(distributors, &d)
	}
	return distributors, rows.Err()
}

// SaveDistributor inserts or updates a distributor. A zero ICMS percentage is
// stored as the default.
func (r *SQLRepository) SaveDistributor(ctx context.Context, d *domain.Distributor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	mode, _ := domain.ParsePaymentMode(string(d.PaymentMode))
	icms := d.MinimumICMSPercent
	if icms.IsZero() {
		icms = domain.DefaultMinimumICMS
	}

	query := `
		INSERT INTO distributors (
			id, name, state_id, minimum_consumption_kwh, payment_mode,
			injection_deadline_days, allows_ownership_transfer, requires_credentials,
			accepts_equipment_plates, minimum_icms_percent, notes, active, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			state_id = excluded.state_id,
			minimum_consumption_kwh = excluded.minimum_consumption_kwh,
			payment_mode = excluded.payment_mode,
			injection_deadline_days = excluded.injection_deadline_days,
			allows_ownership_transfer = excluded.allows_ownership_transfer,
			requires_credentials = excluded.requires_credentials,
			accepts_equipment_plates = excluded.accepts_equipment_plates,
			minimum_icms_percent = excluded.minimum_icms_percent,
			notes = excluded.notes,
			active = excluded.active,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		d.ID, d.Name, d.StateID, d.MinimumConsumptionKWh, string(mode),
		d.InjectionDeadlineDays, boolToInt(d.AllowsOwnershipTransfer), boolToInt(d.RequiresCredentials),
		boolToInt(d.AcceptsEquipmentPlates), icms, nullString(d.Notes), boolToInt(d.Active),
		time.Now().UTC(),
	)
	return err
}

// ListBonusTypes returns every bonus type ordered by code.
func (r *SQLRepository) ListBonusTypes(ctx context.Context) ([]*domain.BonusType, error) {
	query := `SELECT id, code, display_name, description, color, active FROM bonus_types ORDER BY code`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []*domain.BonusType
	for rows.Next() {
		var b domain.BonusType
		var code string
		var description, color sql.NullString
		var active int

		if err := rows.Scan(&b.ID, &code, &b.DisplayName, &description, &color, &active); err != nil {
			return nil, err
		}
		b.Code = domain.BonusCode(code)
		b.Description = description.String
		b.Color = color.String
		b.Active = active == 1

		types = append(types, &b)
	}
	return types, rows.Err()
}

// SaveBonusType inserts or updates a bonus type. The code is normalized to
// upper case.
func (r *SQLRepository) SaveBonusType(ctx context.Context, b *domain.BonusType) error {
	if err := b.Validate(); err != nil {
		return err
	}
	code, _ := domain.ParseBonusCode(string(b.Code))

	query := `
		INSERT INTO bonus_types (id, code, display_name, description, color, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code,
			display_name = excluded.display_name,
			description = excluded.description,
			color = excluded.color,
			active = excluded.active
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		b.ID, string(code), b.DisplayName, nullString(b.Description), nullString(b.Color), boolToInt(b.Active),
	)
	return err
}

// ListTiers returns every consumption tier ordered by distributor, lower
// bound and display order.
func (r *SQLRepository) ListTiers(ctx context.Context) ([]*domain.ConsumptionTier, error) {
	query := `
		SELECT id, distributor_id, consumption_min, consumption_max, display_name, sort_order, active
		FROM consumption_tiers
		ORDER BY distributor_id, consumption_min, sort_order
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []*domain.ConsumptionTier
	for rows.Next() {
		var t domain.ConsumptionTier
		var max sql.NullInt64
		var active int

		if err := rows.Scan(&t.ID, &t.DistributorID, &t.ConsumptionMin, &max, &t.DisplayName, &t.Order, &active); err != nil {
			return nil, err
		}
		t.ConsumptionMax = int64Ptr(max)
		t.Active = active == 1

		tiers = append(tiers, &t)
	}
	return tiers, rows.Err()
}

// SaveTier inserts or updates a consumption tier.
func (r *SQLRepository) SaveTier(ctx context.Context, t *domain.ConsumptionTier) error {
	if err := t.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO consumption_tiers (
			id, distributor_id, consumption_min, consumption_max, display_name, sort_order, active
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			distributor_id = excluded.distributor_id,
			consumption_min = excluded.consumption_min,
			consumption_max = excluded.consumption_max,
			display_name = excluded.display_name,
			sort_order = excluded.sort_order,
			active = excluded.active
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		t.ID, t.DistributorID, t.ConsumptionMin, nullInt64(t.ConsumptionMax), t.DisplayName, t.Order, boolToInt(t.Active),
	)
	return err
}

// ListRules returns every discount rule ordered by tier and id.
func (r *SQLRepository) ListRules(ctx context.Context) ([]*domain.DiscountRule, error) {
	query := `
		SELECT id, tier_id, bonus_type_id, primary_percent,
			   opt1_percent, opt2_percent, opt3_percent, opt4_percent,
			   requires_credit_review, condition_expr, notes, active
		FROM discount_rules
		ORDER BY tier_id, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.DiscountRule
	for rows.Next() {
		var rule domain.DiscountRule
		var review, active int
		var condition, notes sql.NullString

		if err := rows.Scan(
			&rule.ID, &rule.TierID, &rule.BonusTypeID, &rule.PrimaryPercent,
			&rule.Optional[0], &rule.Optional[1], &rule.Optional[2], &rule.Optional[3],
			&review, &condition, &notes, &active,
		); err != nil {
			return nil, err
		}
		rule.RequiresCreditReview = review == 1
		rule.Condition = condition.String
		rule.Notes = notes.String
		rule.Active = active == 1

		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// SaveRule inserts or updates a discount rule.
func (r *SQLRepository) SaveRule(ctx context.Context, rule *domain.DiscountRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO discount_rules (
			id, tier_id, bonus_type_id, primary_percent,
			opt1_percent, opt2_percent, opt3_percent, opt4_percent,
			requires_credit_review, condition_expr, notes, active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tier_id = excluded.tier_id,
			bonus_type_id = excluded.bonus_type_id,
			primary_percent = excluded.primary_percent,
			opt1_percent = excluded.opt1_percent,
			opt2_percent = excluded.opt2_percent,
			opt3_percent = excluded.opt3_percent,
			opt4_percent = excluded.opt4_percent,
			requires_credit_review = excluded.requires_credit_review,
			condition_expr = excluded.condition_expr,
			notes = excluded.notes,
			active = excluded.active
	`
	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.TierID, rule.BonusTypeID, rule.PrimaryPercent,
		rule.Optional[0], rule.Optional[1], rule.Optional[2], rule.Optional[3],
		boolToInt(rule.RequiresCreditReview), nullString(rule.Condition), nullString(rule.Notes), boolToInt(rule.Active),
	)
	return err
}
