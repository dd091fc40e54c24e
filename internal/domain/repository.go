// Package domain defines the core types and interfaces for Sinergia.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Reference data. Lists return every row, active or not; the catalog
	// decides what is visible.
	ListStates(ctx context.Context) ([]*State, error)
	ListDistributors(ctx context.Context) ([]*Distributor, error)
	ListBonusTypes(ctx context.Context) ([]*BonusType, error)
	ListTiers(ctx context.Context) ([]*ConsumptionTier, error)
	ListRules(ctx context.Context) ([]*DiscountRule, error)

	// Upserts keyed by ID.
	SaveState(ctx context.Context, s *State) error
	SaveDistributor(ctx context.Context, d *Distributor) error
	SaveBonusType(ctx context.Context, b *BonusType) error
	SaveTier(ctx context.Context, t *ConsumptionTier) error
	SaveRule(ctx context.Context, r *DiscountRule) error

	// Simulation audit log
	SaveSimulation(ctx context.Context, rec *SimulationRecord) error
	ListSimulations(ctx context.Context, filter SimulationFilter) ([]*SimulationRecord, error)
	SimulationStats(ctx context.Context) (*SimulationStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "pgx"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitePath"`

	// PostgreSQL specific (both lib/pq and pgx)
	PostgresHost     string `mapstructure:"postgresHost"`
	PostgresPort     int    `mapstructure:"postgresPort"`
	PostgresUser     string `mapstructure:"postgresUser"`
	PostgresPassword string `mapstructure:"postgresPassword"`
	PostgresDB       string `mapstructure:"postgresDb"`
	PostgresSSLMode  string `mapstructure:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
}
