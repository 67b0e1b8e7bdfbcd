// Package config loads the registry server configuration from flags, an
// optional YAML file and ENVREG_ environment variables.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/envhub/env-registry/pkg/audit"
	"github.com/envhub/env-registry/pkg/cache"
	"github.com/envhub/env-registry/pkg/db"
	"github.com/envhub/env-registry/pkg/ha"
	"github.com/envhub/env-registry/pkg/tracing"
)

// EnvPrefix is prepended to every environment variable, e.g. ENVREG_DB_DSN.
const EnvPrefix = "ENVREG"

// Config is the complete server configuration.
type Config struct {
	Listen           string        `mapstructure:"listen"`
	AdminKey         string        `mapstructure:"admin_key"`
	NamespacePattern string        `mapstructure:"namespace_pattern"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins      []string      `mapstructure:"cors_origins"`

	DB            DBConfig            `mapstructure:"db"`
	Log           LogConfig           `mapstructure:"log"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Audit         AuditConfig         `mapstructure:"audit"`
	MigrationLock MigrationLockConfig `mapstructure:"migration_lock"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Tracing       tracing.Config      `mapstructure:"tracing"`
}

type DBConfig struct {
	Type            string        `mapstructure:"type"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CacheConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	MaxSize         int           `mapstructure:"max_size"`
}

type AuditConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RetentionDays int           `mapstructure:"retention_days"`
	LogDenied     bool          `mapstructure:"log_denied"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type MigrationLockConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// BindFlags registers the server flags on fs. Every flag maps onto the
// config key of the same name with dashes turned into dots, so --db-dsn
// sets db.dsn.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML config file")
	fs.String("listen", ":8080", "Address to listen on")
	fs.String("admin-key", "", "Path to the admin public key in PEM format (legacy env: SERVER_KEY)")
	fs.String("namespace-pattern", "", "Regular expression new namespaces must match")
	fs.String("db-type", db.TypePostgres, "Database type (postgres, mysql or sqlite)")
	fs.String("db-dsn", "", "Database connection string")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-format", "text", "Log format (text or json)")
}

// flagKeys maps flag names onto config keys.
var flagKeys = map[string]string{
	"listen":            "listen",
	"admin-key":         "admin_key",
	"namespace-pattern": "namespace_pattern",
	"db-type":           "db.type",
	"db-dsn":            "db.dsn",
	"log-level":         "log.level",
	"log-format":        "log.format",
}

func setDefaults(v *viper.Viper) {
	auditCfg := audit.AuditConfigFromEnv()
	cacheCfg := cache.CacheConfigFromEnv()
	haCfg := ha.HAConfigFromEnv()
	traceCfg := tracing.DefaultConfig()

	v.SetDefault("listen", ":8080")
	v.SetDefault("namespace_pattern", "")
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("cors_origins", []string{"*"})

	v.SetDefault("db.type", db.TypePostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 0)
	v.SetDefault("db.max_idle_conns", 0)
	v.SetDefault("db.conn_max_lifetime", 0)
	v.SetDefault("db.log_level", "silent")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("cache.enabled", cacheCfg.Enabled)
	v.SetDefault("cache.ttl", cacheCfg.TTL)
	v.SetDefault("cache.cleanup_interval", cacheCfg.CleanupInterval)
	v.SetDefault("cache.max_size", cacheCfg.MaxSize)

	v.SetDefault("audit.enabled", auditCfg.Enabled)
	v.SetDefault("audit.retention_days", auditCfg.RetentionDays)
	v.SetDefault("audit.log_denied", auditCfg.LogDenied)
	v.SetDefault("audit.sweep_interval", auditCfg.SweepInterval)

	v.SetDefault("migration_lock.enabled", haCfg.MigrationLockEnabled)
	v.SetDefault("migration_lock.timeout", haCfg.LockTimeout)

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("tracing.enabled", traceCfg.Enabled)
	v.SetDefault("tracing.exporter", traceCfg.Exporter)
	v.SetDefault("tracing.otlp_endpoint", traceCfg.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", traceCfg.SampleRate)
	v.SetDefault("tracing.service_name", traceCfg.ServiceName)
}

// Load resolves the configuration. Precedence, highest first: flags set on
// the command line, ENVREG_ environment variables, the config file named
// by --config, defaults. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("admin_key", EnvPrefix+"_ADMIN_KEY", "SERVER_KEY"); err != nil {
		return nil, fmt.Errorf("bind admin key env: %w", err)
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file %s: %w", f.Value.String(), err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook,
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.DB.DSN == "" {
		cfg.DB.DSN = dsnFromDatabaseEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// secondsToDurationHook accepts durations either as Go duration strings
// ("30s") or as a bare number of seconds ("30"), the form the ENVREG_
// variables have always used.
func secondsToDurationHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch d := data.(type) {
	case string:
		if secs, err := strconv.Atoi(d); err == nil {
			return time.Duration(secs) * time.Second, nil
		}
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", d, err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	default:
		return data, nil
	}
}

// dsnFromDatabaseEnv builds a postgres DSN from the DATABASE_* variables
// older deployments set. It returns "" unless DATABASE_HOSTNAME is set.
func dsnFromDatabaseEnv() string {
	host := os.Getenv("DATABASE_HOSTNAME")
	if host == "" {
		return ""
	}
	port := os.Getenv("DATABASE_PORT")
	if port == "" {
		port = "5432"
	}
	name := os.Getenv("DATABASE_NAME")
	if name == "" {
		name = "envreg"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(os.Getenv("DATABASE_USERNAME"), os.Getenv("DATABASE_PASSWORD")),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + name,
		RawQuery: "sslmode=" + envOrDefault("DATABASE_SSLMODE", "disable"),
	}
	return u.String()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate checks the fields the server cannot start without.
func (c *Config) Validate() error {
	if c.AdminKey == "" {
		return fmt.Errorf("admin key path is required (use --admin-key, ENVREG_ADMIN_KEY or SERVER_KEY)")
	}
	if err := c.DBConfig().Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q (expected text or json)", c.Log.Format)
	}
	if c.Cache.Enabled && (c.Cache.TTL <= 0 || c.Cache.MaxSize <= 0) {
		return fmt.Errorf("cache ttl and max size must be positive when the cache is enabled")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("audit retention days must be positive, got %d", c.Audit.RetentionDays)
	}
	return nil
}

// DBConfig returns the database settings in the form db.Open takes.
func (c *Config) DBConfig() db.Config {
	return db.Config{
		Type:            c.DB.Type,
		DSN:             c.DB.DSN,
		MaxOpenConns:    c.DB.MaxOpenConns,
		MaxIdleConns:    c.DB.MaxIdleConns,
		ConnMaxLifetime: c.DB.ConnMaxLifetime,
		LogLevel:        c.DB.LogLevel,
	}
}

// AuditConfig returns the audit settings.
func (c *Config) AuditConfig() *audit.AuditConfig {
	return &audit.AuditConfig{
		Enabled:       c.Audit.Enabled,
		RetentionDays: c.Audit.RetentionDays,
		LogDenied:     c.Audit.LogDenied,
		SweepInterval: c.Audit.SweepInterval,
	}
}

// CacheConfig returns the lookup cache settings.
func (c *Config) CacheConfig() *cache.CacheConfig {
	return &cache.CacheConfig{
		Enabled:         c.Cache.Enabled,
		TTL:             c.Cache.TTL,
		CleanupInterval: c.Cache.CleanupInterval,
		MaxSize:         c.Cache.MaxSize,
	}
}

// HAConfig returns the migration lock settings.
func (c *Config) HAConfig() *ha.HAConfig {
	cfg := ha.DefaultHAConfig()
	cfg.MigrationLockEnabled = c.MigrationLock.Enabled
	if c.MigrationLock.Timeout > 0 {
		cfg.LockTimeout = c.MigrationLock.Timeout
	}
	return cfg
}
