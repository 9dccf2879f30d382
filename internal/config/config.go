package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
	EnvJWTSecret    = "JWT_SECRET"
	EnvCronSecret   = "CRON_SECRET"
	EnvRedisAddr    = "REDIS_ADDR"
	EnvOTLPEndpoint = "OTEL_EXPORTER_OTLP_ENDPOINT"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// LoadDatabaseDSN reads the database DSN from the YAML config file.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// JWTConfig holds the secret used to verify identity tokens issued by the login service.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// ERPConfig controls how the ERP client talks to tenant APIs.
type ERPConfig struct {
	AuthHeader           string        `yaml:"auth-header"`
	AuthPrefix           string        `yaml:"auth-prefix"`
	ApplicationElementID string        `yaml:"application-element-id"`
	RequestTimeout       time.Duration `yaml:"request-timeout"`
	JobExpand            string        `yaml:"job-expand"`
	ChangeDateField      string        `yaml:"change-date-field"`
}

// SyncConfig controls the in-process sync loop.
type SyncConfig struct {
	PollInterval      time.Duration `yaml:"poll-interval"`
	TenantConcurrency int           `yaml:"tenant-concurrency"`
	LockTTL           time.Duration `yaml:"lock-ttl"`
	CycleTimeout      time.Duration `yaml:"cycle-timeout"`
	CronSecret        string        `yaml:"cron-secret"`
}

// RedisConfig points at the optional Redis used for the sync lock and rate limits.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RateLimitConfig limits supplier mutations per email and second.
type RateLimitConfig struct {
	Limit        int  `yaml:"limit"`
	RedisEnabled bool `yaml:"redis-enabled"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service-name"`
	Environment string `yaml:"environment"`
}

// PortalConfig is the full runtime configuration of the portal sync service.
type PortalConfig struct {
	Port      int             `yaml:"port"`
	LogLevel  string          `yaml:"log-level"`
	JWT       JWTConfig       `yaml:"jwt"`
	ERP       ERPConfig       `yaml:"erp"`
	Sync      SyncConfig      `yaml:"sync"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate-limit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// Defaults used when the config file omits a value.
const (
	DefaultPort                 = 8318
	DefaultAuthHeader           = "ApiKey"
	DefaultApplicationElementID = "D1FB01D577C248DFB95A2ADA578578DF"
	DefaultRequestTimeout       = 30 * time.Second
	DefaultJobExpand            = "Vendor/ObjectContacts/Employee,Equipment,ProcessFunction"
	DefaultChangeDateField      = "RecordChangeDate"
	DefaultLockTTL              = 15 * time.Minute
	DefaultCycleTimeout         = 30 * time.Minute
	DefaultRedisPrefix          = "portal"
	DefaultServiceName          = "portalsync"
)

// LoadPortalConfig reads the YAML config file and applies env overrides and defaults.
// A missing file yields the defaults.
func LoadPortalConfig(configPath string) (PortalConfig, error) {
	var cfg PortalConfig

	data, errRead := os.ReadFile(configPath)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return PortalConfig{}, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, os.ErrNotExist):
	default:
		return PortalConfig{}, fmt.Errorf("read config file: %w", errRead)
	}

	if secret := strings.TrimSpace(os.Getenv(EnvJWTSecret)); secret != "" {
		cfg.JWT.Secret = secret
	}
	if secret := strings.TrimSpace(os.Getenv(EnvCronSecret)); secret != "" {
		cfg.Sync.CronSecret = secret
	}
	if addr := strings.TrimSpace(os.Getenv(EnvRedisAddr)); addr != "" {
		cfg.Redis.Addr = addr
	}
	if endpoint := strings.TrimSpace(os.Getenv(EnvOTLPEndpoint)); endpoint != "" {
		cfg.Tracing.Endpoint = endpoint
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *PortalConfig) {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.ERP.AuthHeader) == "" {
		cfg.ERP.AuthHeader = DefaultAuthHeader
	}
	if strings.TrimSpace(cfg.ERP.ApplicationElementID) == "" {
		cfg.ERP.ApplicationElementID = DefaultApplicationElementID
	}
	if cfg.ERP.RequestTimeout <= 0 {
		cfg.ERP.RequestTimeout = DefaultRequestTimeout
	}
	if strings.TrimSpace(cfg.ERP.JobExpand) == "" {
		cfg.ERP.JobExpand = DefaultJobExpand
	}
	if strings.TrimSpace(cfg.ERP.ChangeDateField) == "" {
		cfg.ERP.ChangeDateField = DefaultChangeDateField
	}
	if cfg.Sync.TenantConcurrency <= 0 {
		cfg.Sync.TenantConcurrency = 1
	}
	if cfg.Sync.LockTTL <= 0 {
		cfg.Sync.LockTTL = DefaultLockTTL
	}
	if cfg.Sync.CycleTimeout <= 0 {
		cfg.Sync.CycleTimeout = DefaultCycleTimeout
	}
	if strings.TrimSpace(cfg.Redis.Prefix) == "" {
		cfg.Redis.Prefix = DefaultRedisPrefix
	}
	if cfg.Redis.DB < 0 {
		cfg.Redis.DB = 0
	}
	if cfg.RateLimit.Limit < 0 {
		cfg.RateLimit.Limit = 0
	}
	if strings.TrimSpace(cfg.Tracing.ServiceName) == "" {
		cfg.Tracing.ServiceName = DefaultServiceName
	}
}
