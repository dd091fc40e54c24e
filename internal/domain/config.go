package domain

import "time"

// Config holds the complete Sinergia configuration.
type Config struct {
	// Server settings
	Server ServerConfig `mapstructure:"server"`

	// Simulation settings
	Simulation SimulationConfig `mapstructure:"simulation"`

	// Catalog refresh settings
	Catalog CatalogConfig `mapstructure:"catalog"`

	// Component configurations
	Repository RepositoryConfig `mapstructure:"repository"`
	Cache      CacheConfig      `mapstructure:"cache"`
	EventBus   EventBusConfig   `mapstructure:"eventBus"`

	// Observability
	Logging LoggingConfig `mapstructure:"logging"`
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

// SimulationConfig holds the calculator and request limits.
type SimulationConfig struct {
	// ReferenceTariff is the price per kWh used to estimate the bill.
	ReferenceTariff float64 `mapstructure:"referenceTariff"`

	// ThrottleLimit is the number of simulations one requester may run per
	// ThrottleWindow. Zero disables throttling.
	ThrottleLimit  int64         `mapstructure:"throttleLimit"`
	ThrottleWindow time.Duration `mapstructure:"throttleWindow"`

	// RulesCacheTTL bounds how long rule listings stay cached.
	RulesCacheTTL time.Duration `mapstructure:"rulesCacheTtl"`

	// HistoryLimit caps the simulation history page size.
	HistoryLimit int `mapstructure:"historyLimit"`
}

// CatalogConfig controls how reference data is reloaded.
type CatalogConfig struct {
	// ReloadInterval triggers periodic reloads. Zero disables them.
	ReloadInterval time.Duration `mapstructure:"reloadInterval"`

	// MaxLoadAttempts bounds retries when the store is unavailable.
	MaxLoadAttempts uint64 `mapstructure:"maxLoadAttempts"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"serviceName"`
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory cache
// and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Simulation: SimulationConfig{
			ReferenceTariff: 0.75,
			ThrottleLimit:   120,
			ThrottleWindow:  time.Minute,
			RulesCacheTTL:   5 * time.Minute,
			HistoryLimit:    100,
		},
		Catalog: CatalogConfig{
			ReloadInterval:  0,
			MaxLoadAttempts: 5,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./sinergia.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "sinergia",
		},
	}
}

// ClusterConfig returns a configuration for running several instances:
// PostgreSQL, Redis behind a local LRU, and NATS.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "pgx",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "sinergia",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Catalog.ReloadInterval = 10 * time.Minute
	cfg.Tracing.Enabled = true
	return cfg
}
