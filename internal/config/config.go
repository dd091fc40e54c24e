// Package config loads the service configuration from defaults, an optional
// config file, a .env file and SINERGIA_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sinergia-energia/sinergia/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. SINERGIA_SERVER_PORT.
const EnvPrefix = "SINERGIA"

// Deployment modes selected by SINERGIA_MODE.
const (
	ModeSingle  = "single"
	ModeCluster = "cluster"
)

// Load builds the configuration. path may be empty; otherwise it names a
// YAML, JSON or TOML file understood by viper.
func Load(path string) (*domain.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base := domain.DefaultConfig()
	switch mode := strings.ToLower(v.GetString("mode")); mode {
	case "", ModeSingle:
	case ModeCluster:
		base = domain.ClusterConfig()
	default:
		return nil, domain.Validationf("unknown mode %q, expected %s or %s", mode, ModeSingle, ModeCluster)
	}
	for key, value := range defaults(base) {
		v.SetDefault(key, value)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func Validate(cfg *domain.Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return domain.Validationf("server.port %d out of range", cfg.Server.Port)
	}
	if cfg.Simulation.ReferenceTariff <= 0 {
		return domain.Validationf("simulation.referenceTariff must be positive, got %v", cfg.Simulation.ReferenceTariff)
	}
	if cfg.Simulation.ThrottleLimit < 0 {
		return domain.Validationf("simulation.throttleLimit must not be negative")
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres", "pgx":
	default:
		return domain.Validationf("unsupported repository.driver %q", cfg.Repository.Driver)
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		return domain.Validationf("unsupported cache.type %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		return domain.Validationf("unsupported eventBus.type %q", cfg.EventBus.Type)
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return domain.Validationf("unsupported logging.level %q", cfg.Logging.Level)
	}
	return nil
}

// defaults flattens cfg into viper keys. Every key must be listed so that
// environment variables can override it during Unmarshal.
func defaults(cfg *domain.Config) map[string]any {
	return map[string]any{
		"server.host":         cfg.Server.Host,
		"server.port":         cfg.Server.Port,
		"server.readTimeout":  cfg.Server.ReadTimeout,
		"server.writeTimeout": cfg.Server.WriteTimeout,

		"simulation.referenceTariff": cfg.Simulation.ReferenceTariff,
		"simulation.throttleLimit":   cfg.Simulation.ThrottleLimit,
		"simulation.throttleWindow":  cfg.Simulation.ThrottleWindow,
		"simulation.rulesCacheTtl":   cfg.Simulation.RulesCacheTTL,
		"simulation.historyLimit":    cfg.Simulation.HistoryLimit,

		"catalog.reloadInterval":  cfg.Catalog.ReloadInterval,
		"catalog.maxLoadAttempts": cfg.Catalog.MaxLoadAttempts,

		"repository.driver":           cfg.Repository.Driver,
		"repository.sqlitePath":       cfg.Repository.SQLitePath,
		"repository.postgresHost":     cfg.Repository.PostgresHost,
		"repository.postgresPort":     cfg.Repository.PostgresPort,
		"repository.postgresUser":     cfg.Repository.PostgresUser,
		"repository.postgresPassword": cfg.Repository.PostgresPassword,
		"repository.postgresDb":       cfg.Repository.PostgresDB,
		"repository.postgresSslMode":  cfg.Repository.PostgresSSLMode,
		"repository.maxOpenConns":     cfg.Repository.MaxOpenConns,
		"repository.maxIdleConns":     cfg.Repository.MaxIdleConns,
		"repository.connMaxLifetime":  cfg.Repository.ConnMaxLifetime,

		"cache.type":           cfg.Cache.Type,
		"cache.localMaxSize":   cfg.Cache.LocalMaxSize,
		"cache.localTtl":       cfg.Cache.LocalTTL,
		"cache.redisAddr":      cfg.Cache.RedisAddr,
		"cache.redisPassword":  cfg.Cache.RedisPassword,
		"cache.redisDb":        cfg.Cache.RedisDB,
		"cache.enableTwoPhase": cfg.Cache.EnableTwoPhase,

		"eventBus.type":              cfg.EventBus.Type,
		"eventBus.channelBufferSize": cfg.EventBus.ChannelBufferSize,
		"eventBus.natsUrl":           cfg.EventBus.NATSUrl,
		"eventBus.natsToken":         cfg.EventBus.NATSToken,
		"eventBus.natsMaxReconnects": cfg.EventBus.NATSMaxReconnects,
		"eventBus.natsReconnectWait": cfg.EventBus.NATSReconnectWait,

		"logging.level":  cfg.Logging.Level,
		"logging.format": cfg.Logging.Format,

		"tracing.enabled":     cfg.Tracing.Enabled,
		"tracing.serviceName": cfg.Tracing.ServiceName,
	}
}
