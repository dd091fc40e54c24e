package repository

// Schema definitions for the Sinergia database.
// Compatible with SQLite and PostgreSQL.

const schemaStates = `
CREATE TABLE IF NOT EXISTS states (
    id BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    code TEXT NOT NULL UNIQUE
);
`

const schemaDistributors = `
CREATE TABLE IF NOT EXISTS distributors (
    id BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    state_id BIGINT NOT NULL REFERENCES states(id),
    minimum_consumption_kwh BIGINT NOT NULL DEFAULT 0,
    payment_mode TEXT NOT NULL DEFAULT 'unified',
    injection_deadline_days INTEGER NOT NULL DEFAULT 0,
    allows_ownership_transfer INTEGER NOT NULL DEFAULT 0,
    requires_credentials INTEGER NOT NULL DEFAULT 0,
    accepts_equipment_plates INTEGER NOT NULL DEFAULT 0,
    minimum_icms_percent NUMERIC(5,2) NOT NULL DEFAULT 17.00,
    notes TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_distributors_state ON distributors(state_id);
`

const schemaBonusTypes = `
CREATE TABLE IF NOT EXISTS bonus_types (
    id BIGINT PRIMARY KEY,
    code TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    description TEXT,
    color TEXT,
    active INTEGER NOT NULL DEFAULT 1
);
`

// consumption_max NULL means unbounded. The unique constraint does not cover
// NULL bounds; the catalog rejects those duplicates when it loads.
const schemaTiers = `
CREATE TABLE IF NOT EXISTS consumption_tiers (
    id BIGINT PRIMARY KEY,
    distributor_id BIGINT NOT NULL REFERENCES distributors(id),
    consumption_min BIGINT NOT NULL,
    consumption_max BIGINT,
    display_name TEXT NOT NULL,
    sort_order INTEGER NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    UNIQUE (distributor_id, consumption_min, consumption_max)
);

CREATE INDEX IF NOT EXISTS idx_tiers_distributor ON consumption_tiers(distributor_id, consumption_min);
`

const schemaRules = `
CREATE TABLE IF NOT EXISTS discount_rules (
    id BIGINT PRIMARY KEY,
    tier_id BIGINT NOT NULL REFERENCES consumption_tiers(id),
    bonus_type_id BIGINT NOT NULL REFERENCES bonus_types(id),
    primary_percent NUMERIC(5,2) NOT NULL,
    opt1_percent NUMERIC(5,2),
    opt2_percent NUMERIC(5,2),
    opt3_percent NUMERIC(5,2),
    opt4_percent NUMERIC(5,2),
    requires_credit_review INTEGER NOT NULL DEFAULT 0,
    condition_expr TEXT,
    notes TEXT,
    active INTEGER NOT NULL DEFAULT 1,
    UNIQUE (tier_id, bonus_type_id)
);

CREATE INDEX IF NOT EXISTS idx_rules_tier ON discount_rules(tier_id);
`

// Append-only audit log. No foreign keys so a late write never blocks on
// reference data.
const schemaSimulations = `
CREATE TABLE IF NOT EXISTS simulations (
    id TEXT PRIMARY KEY,
    distributor_id BIGINT NOT NULL,
    tier_id BIGINT,
    bonus_type_id BIGINT,
    consumption_kwh REAL NOT NULL,
    applied_discount_percent NUMERIC(5,2) NOT NULL,
    savings_amount NUMERIC(12,2) NOT NULL,
    requester_metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_simulations_distributor ON simulations(distributor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_simulations_created ON simulations(created_at);
`

// AllSchemas returns all schema definitions in dependency order.
func AllSchemas() []string {
	return []string{
		schemaStates,
		schemaDistributors,
		schemaBonusTypes,
		schemaTiers,
		schemaRules,
		schemaSimulations,
	}
}
