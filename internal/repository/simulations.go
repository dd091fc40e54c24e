package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"github.com/sinergia-energia/sinergia/internal/domain"
)

// SaveSimulation appends an audit row. Writing the same ID twice is a no-op,
// which keeps at-least-once delivery from the event bus harmless.
func (r *SQLRepository) SaveSimulation(ctx context.Context, rec *domain.SimulationRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: simulation id is required", ErrInvalidInput)
	}

	var metadata sql.NullString
	if len(rec.RequesterMetadata) > 0 {
		raw, err := json.Marshal(rec.RequesterMetadata)
		if err != nil {
			return fmt.Errorf("failed to encode requester metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	query, args, err := r.builder.
		Insert("simulations").
		Columns(
			"id", "distributor_id", "tier_id", "bonus_type_id", "consumption_kwh",
			"applied_discount_percent", "savings_amount", "requester_metadata", "created_at",
		).
		Values(
			rec.ID, rec.DistributorID, nullInt64(rec.TierID), nullInt64(rec.BonusTypeID), rec.ConsumptionKWh,
			rec.AppliedDiscountPercent, rec.SavingsAmount, metadata, rec.CreatedAt.UTC(),
		).
		Suffix("ON CONFLICT(id) DO NOTHING").
		ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

// ListSimulations returns audit rows newest first.
func (r *SQLRepository) ListSimulations(ctx context.Context, filter domain.SimulationFilter) ([]*domain.SimulationRecord, error) {
	q := r.builder.
		Select(
			"id", "distributor_id", "tier_id", "bonus_type_id", "consumption_kwh",
			"applied_discount_percent", "savings_amount", "requester_metadata", "created_at",
		).
		From("simulations").
		OrderBy("created_at DESC", "id")

	if filter.DistributorID != nil {
		q = q.Where(sq.Eq{"distributor_id": *filter.DistributorID})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.SimulationRecord
	for rows.Next() {
		var rec domain.SimulationRecord
		var tierID, bonusTypeID sql.NullInt64
		var metadata sql.NullString

		if err := rows.Scan(
			&rec.ID, &rec.DistributorID, &tierID, &bonusTypeID, &rec.ConsumptionKWh,
			&rec.AppliedDiscountPercent, &rec.SavingsAmount, &metadata, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.TierID = int64Ptr(tierID)
		rec.BonusTypeID = int64Ptr(bonusTypeID)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &rec.RequesterMetadata); err != nil {
				return nil, fmt.Errorf("failed to decode requester metadata for %s: %w", rec.ID, err)
			}
		}

		records = append(records, &rec)
	}
	return records, rows.Err()
}

// SimulationStats aggregates the audit log: total rows, average savings over
// rows that saved something, and the distributor simulated most often.
func (r *SQLRepository) SimulationStats(ctx context.Context) (*domain.SimulationStats, error) {
	stats := &domain.SimulationStats{AverageSavings: decimal.Zero}

	query, args, err := r.builder.Select("COUNT(*)").From("simulations").ToSql()
	if err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&stats.TotalSimulations); err != nil {
		return nil, err
	}
	if stats.TotalSimulations == 0 {
		return stats, nil
	}

	query, args, err = r.builder.
		Select("AVG(savings_amount)").
		From("simulations").
		Where(sq.Gt{"savings_amount": 0}).
		ToSql()
	if err != nil {
		return nil, err
	}
	var avg decimal.NullDecimal
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&avg); err != nil {
		return nil, err
	}
	stats.AverageSavings = decimalOrZero(avg).RoundBank(2)

	query, args, err = r.builder.
		Select("s.distributor_id", "COALESCE(d.name, '')", "COUNT(*) AS n").
		From("simulations s").
		LeftJoin("distributors d ON d.id = s.distributor_id").
		GroupBy("s.distributor_id", "d.name").
		OrderBy("n DESC", "s.distributor_id").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, err
	}

	var top domain.DistributorFrequency
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&top.DistributorID, &top.Name, &top.Count)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return nil, err
	}
	stats.MostSimulated = &top

	return stats, nil
}
