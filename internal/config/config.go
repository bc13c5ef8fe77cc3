package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/Health-Informatics-UoN/hutch-bunny-sub000/internal/errs"
)

// Supported datasource drivers.
const (
	DriverPostgres = "postgresql"
	DriverMSSQL    = "mssql"
	DriverDuckDB   = "duckdb"
)

// Config holds every environment-derived setting of the worker. It is loaded
// once at startup and passed down explicitly; no package keeps a global copy.
type Config struct {
	// Datasource
	DBDriverName string `mapstructure:"DATASOURCE_DB_DRIVERNAME"`
	DBUsername   string `mapstructure:"DATASOURCE_DB_USERNAME"`
	DBPassword   string `mapstructure:"DATASOURCE_DB_PASSWORD"`
	DBHost       string `mapstructure:"DATASOURCE_DB_HOST"`
	DBPort       int    `mapstructure:"DATASOURCE_DB_PORT"`
	DBDatabase   string `mapstructure:"DATASOURCE_DB_DATABASE"`
	DBSchema     string `mapstructure:"DATASOURCE_DB_SCHEMA"`
	DBCatalog    string `mapstructure:"DATASOURCE_DB_CATALOG"`
	DBMaxConns   int32  `mapstructure:"DATASOURCE_DB_MAX_CONNS"`
	DBMinConns   int32  `mapstructure:"DATASOURCE_DB_MIN_CONNS"`

	DuckDBPath        string `mapstructure:"DATASOURCE_DUCKDB_PATH"`
	DuckDBMemoryLimit string `mapstructure:"DATASOURCE_DUCKDB_MEMORY_LIMIT"`

	UseAzureManagedIdentity bool `mapstructure:"DATASOURCE_USE_AZURE_MANAGED_IDENTITY"`
	UseTrino                bool `mapstructure:"DATASOURCE_USE_TRINO"`

	// Task API
	TaskAPIBaseURL      string `mapstructure:"TASK_API_BASE_URL"`
	TaskAPIUsername     string `mapstructure:"TASK_API_USERNAME"`
	TaskAPIPassword     string `mapstructure:"TASK_API_PASSWORD"`
	TaskAPIType         string `mapstructure:"TASK_API_TYPE"`
	TaskAPIEnforceHTTPS bool   `mapstructure:"TASK_API_ENFORCE_HTTPS"`
	CollectionID        string `mapstructure:"COLLECTION_ID"`

	// Polling (seconds)
	PollingInterval int `mapstructure:"POLLING_INTERVAL"`
	InitialBackoff  int `mapstructure:"INITIAL_BACKOFF"`
	MaxBackoff      int `mapstructure:"MAX_BACKOFF"`

	// Obfuscation
	LowNumberSuppressionThreshold int `mapstructure:"LOW_NUMBER_SUPPRESSION_THRESHOLD"`
	RoundingTarget                int `mapstructure:"ROUNDING_TARGET"`

	// Distribution cache
	CacheDir            string `mapstructure:"CACHE_DIR"`
	CacheTTLHours       int    `mapstructure:"CACHE_TTL_HOURS"`
	CacheRefreshEnabled bool   `mapstructure:"CACHE_REFRESH_ENABLED"`

	// Daemon health endpoint; empty disables it.
	HealthAddr string `mapstructure:"HEALTH_ADDR"`

	LoggerLevel string `mapstructure:"BUNNY_LOGGER_LEVEL"`
}

// Load reads configuration from the environment (and an optional .env file)
// with the documented defaults applied. It does not validate; call
// ValidateDatasource and ValidateTaskAPI according to the run mode.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("DATASOURCE_DB_DRIVERNAME", DriverPostgres)
	v.SetDefault("DATASOURCE_DB_PORT", 5432)
	v.SetDefault("DATASOURCE_DB_CATALOG", "hutch")
	v.SetDefault("DATASOURCE_DB_MAX_CONNS", 10)
	v.SetDefault("DATASOURCE_DB_MIN_CONNS", 1)
	v.SetDefault("TASK_API_ENFORCE_HTTPS", true)
	v.SetDefault("POLLING_INTERVAL", 5)
	v.SetDefault("INITIAL_BACKOFF", 5)
	v.SetDefault("MAX_BACKOFF", 60)
	v.SetDefault("LOW_NUMBER_SUPPRESSION_THRESHOLD", 10)
	v.SetDefault("ROUNDING_TARGET", 10)
	v.SetDefault("CACHE_TTL_HOURS", 24)
	v.SetDefault("BUNNY_LOGGER_LEVEL", "INFO")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"DATASOURCE_DB_DRIVERNAME",
		"DATASOURCE_DB_USERNAME",
		"DATASOURCE_DB_PASSWORD",
		"DATASOURCE_DB_HOST",
		"DATASOURCE_DB_PORT",
		"DATASOURCE_DB_DATABASE",
		"DATASOURCE_DB_SCHEMA",
		"DATASOURCE_DB_CATALOG",
		"DATASOURCE_DB_MAX_CONNS",
		"DATASOURCE_DB_MIN_CONNS",
		"DATASOURCE_DUCKDB_PATH",
		"DATASOURCE_DUCKDB_MEMORY_LIMIT",
		"DATASOURCE_USE_AZURE_MANAGED_IDENTITY",
		"DATASOURCE_USE_TRINO",
		"TASK_API_BASE_URL",
		"TASK_API_USERNAME",
		"TASK_API_PASSWORD",
		"TASK_API_TYPE",
		"TASK_API_ENFORCE_HTTPS",
		"COLLECTION_ID",
		"POLLING_INTERVAL",
		"INITIAL_BACKOFF",
		"MAX_BACKOFF",
		"LOW_NUMBER_SUPPRESSION_THRESHOLD",
		"ROUNDING_TARGET",
		"CACHE_DIR",
		"CACHE_TTL_HOURS",
		"CACHE_REFRESH_ENABLED",
		"HEALTH_ADDR",
		"BUNNY_LOGGER_LEVEL",
	} {
		v.BindEnv(key)
	}

	// Try reading .env, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "config.load", err)
	}
	return cfg, nil
}

// ValidateDatasource checks the database settings for the selected driver.
func (c *Config) ValidateDatasource() error {
	const op = "config.datasource"

	switch c.DBDriverName {
	case DriverPostgres, DriverMSSQL, DriverDuckDB:
	default:
		return errs.Newf(errs.KindConfiguration, op,
			"DATASOURCE_DB_DRIVERNAME must be one of %q, %q, %q, got %q",
			DriverPostgres, DriverMSSQL, DriverDuckDB, c.DBDriverName)
	}

	if c.DBSchema == "" {
		return errs.New(errs.KindConfiguration, op, "DATASOURCE_DB_SCHEMA is required")
	}

	if c.DBDriverName == DriverDuckDB {
		// DuckDB runs embedded; network settings and database name are optional.
		return nil
	}

	if c.DBHost == "" {
		return errs.New(errs.KindConfiguration, op, "DATASOURCE_DB_HOST is required")
	}
	if c.DBDatabase == "" {
		return errs.New(errs.KindConfiguration, op, "DATASOURCE_DB_DATABASE is required")
	}
	if c.DBUsername == "" && !c.UseAzureManagedIdentity {
		return errs.New(errs.KindConfiguration, op, "DATASOURCE_DB_USERNAME is required")
	}
	if c.DBPassword == "" && !c.UseAzureManagedIdentity {
		return errs.New(errs.KindConfiguration, op,
			"DATASOURCE_DB_PASSWORD is required unless DATASOURCE_USE_AZURE_MANAGED_IDENTITY is true")
	}
	if c.UseTrino && c.DBDriverName == DriverMSSQL {
		return errs.New(errs.KindConfiguration, op,
			"DATASOURCE_USE_TRINO cannot be combined with the mssql driver")
	}
	return nil
}

// ValidateTaskAPI checks the coordinator settings the daemon requires.
// With TASK_API_ENFORCE_HTTPS set (the default), a plain-http base URL is
// rejected here rather than at first request.
func (c *Config) ValidateTaskAPI() error {
	const op = "config.taskapi"

	if c.TaskAPIBaseURL == "" {
		return errs.New(errs.KindConfiguration, op, "TASK_API_BASE_URL is required")
	}
	u, err := url.Parse(c.TaskAPIBaseURL)
	if err != nil {
		return errs.Wrap(errs.KindConfiguration, op, err)
	}
	if c.TaskAPIEnforceHTTPS && u.Scheme != "https" {
		return errs.Newf(errs.KindConfiguration, op,
			"TASK_API_BASE_URL must use https when TASK_API_ENFORCE_HTTPS is true, got %q; "+
				"set TASK_API_ENFORCE_HTTPS=false to allow plain http", c.TaskAPIBaseURL)
	}
	if c.TaskAPIUsername == "" || c.TaskAPIPassword == "" {
		return errs.New(errs.KindConfiguration, op,
			"TASK_API_USERNAME and TASK_API_PASSWORD are required")
	}
	if c.CollectionID == "" {
		return errs.New(errs.KindConfiguration, op, "COLLECTION_ID is required")
	}
	switch c.TaskAPIType {
	case "", "a", "b":
	default:
		return errs.Newf(errs.KindConfiguration, op,
			"TASK_API_TYPE must be \"a\", \"b\", or unset, got %q", c.TaskAPIType)
	}
	if c.PollingInterval <= 0 || c.InitialBackoff <= 0 || c.MaxBackoff <= 0 {
		return errs.New(errs.KindConfiguration, op,
			"POLLING_INTERVAL, INITIAL_BACKOFF and MAX_BACKOFF must be positive")
	}
	return nil
}

// PollingIntervalDuration returns POLLING_INTERVAL as a duration.
func (c *Config) PollingIntervalDuration() time.Duration {
	return time.Duration(c.PollingInterval) * time.Second
}

// InitialBackoffDuration returns INITIAL_BACKOFF as a duration.
func (c *Config) InitialBackoffDuration() time.Duration {
	return time.Duration(c.InitialBackoff) * time.Second
}

// MaxBackoffDuration returns MAX_BACKOFF as a duration.
func (c *Config) MaxBackoffDuration() time.Duration {
	return time.Duration(c.MaxBackoff) * time.Second
}

// CacheTTL returns CACHE_TTL_HOURS as a duration; zero disables expiry.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// CacheEnabled reports whether the distribution cache is configured.
func (c *Config) CacheEnabled() bool { return c.CacheDir != "" }

// LogLevel maps BUNNY_LOGGER_LEVEL onto a zerolog level, defaulting to info.
func (c *Config) LogLevel() zerolog.Level {
	switch strings.ToUpper(c.LoggerLevel) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "CRITICAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Redacted returns a loggable summary of the configuration with secrets blanked.
func (c *Config) Redacted() map[string]interface{} {
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	return map[string]interface{}{
		"db_driver":             c.DBDriverName,
		"db_host":               c.DBHost,
		"db_port":               c.DBPort,
		"db_database":           c.DBDatabase,
		"db_schema":             c.DBSchema,
		"db_catalog":            c.DBCatalog,
		"db_username":           redact(c.DBUsername),
		"use_azure_identity":    c.UseAzureManagedIdentity,
		"use_trino":             c.UseTrino,
		"task_api_base_url":     c.TaskAPIBaseURL,
		"task_api_username":     redact(c.TaskAPIUsername),
		"task_api_type":         c.TaskAPIType,
		"collection_id":         c.CollectionID,
		"polling_interval_s":    c.PollingInterval,
		"suppression_threshold": c.LowNumberSuppressionThreshold,
		"rounding_target":       c.RoundingTarget,
		"cache_dir":             c.CacheDir,
		"cache_ttl_hours":       c.CacheTTLHours,
		"cache_refresh_enabled": c.CacheRefreshEnabled,
	}
}
