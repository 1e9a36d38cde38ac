// Package conf loads the application configuration from defaults, an optional config file and the environment.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/metrics"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/server"
	"github.com/looplj/tenantguard/internal/server/biz"
	"github.com/looplj/tenantguard/internal/server/db"
	"github.com/looplj/tenantguard/internal/server/gc"
)

const envPrefix = "TENANTGUARD"

type Config struct {
	fx.Out `yaml:"-" json:"-"`

	APIServer server.Config  `conf:"server" yaml:"server" json:"server"`
	DB        db.Config      `conf:"db" yaml:"db" json:"db"`
	Log       log.Config     `conf:"log" yaml:"log" json:"log"`
	GC        gc.Config      `conf:"gc" yaml:"gc" json:"gc"`
	Auth      biz.AuthConfig `conf:"auth" yaml:"auth" json:"auth"`
	Metrics   metrics.Config `conf:"metrics" yaml:"metrics" json:"metrics"`
	Tenancy   scopes.Config  `conf:"tenancy" yaml:"tenancy" json:"tenancy"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.name", "tenantguard")
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.trace.trace_header", "TG-Trace-Id")
	v.SetDefault("server.trace.request_header", "TG-Request-Id")
	v.SetDefault("server.cors.enabled", false)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.cors.allowed_methods", []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"})
	v.SetDefault("server.cors.allowed_headers", []string{"Authorization", "Content-Type", "TG-Trace-Id"})
	v.SetDefault("server.cors.exposed_headers", []string{"TG-Request-Id"})
	v.SetDefault("server.cors.allow_credentials", false)
	v.SetDefault("server.cors.max_age", 12*time.Hour)

	v.SetDefault("db.dialect", "sqlite")
	v.SetDefault("db.dsn", "file:tenantguard.db?_pragma=busy_timeout(5000)")
	v.SetDefault("db.debug", false)
	v.SetDefault("db.rls", false)
	v.SetDefault("db.max_open_conns", 0)
	v.SetDefault("db.max_idle_conns", 0)
	v.SetDefault("db.conn_max_lifetime", 0)

	defaultLog := log.DefaultConfig()
	v.SetDefault("log.name", defaultLog.Name)
	v.SetDefault("log.level", defaultLog.Level)
	v.SetDefault("log.encoding", defaultLog.Encoding)
	v.SetDefault("log.output", defaultLog.Output)
	v.SetDefault("log.file.path", "logs/tenantguard.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 10)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("gc.cron", "0 3 * * *")
	v.SetDefault("gc.retention", 90*24*time.Hour)
	v.SetDefault("gc.batch_size", 500)
	v.SetDefault("gc.timeout", 30*time.Minute)

	v.SetDefault("auth.secret_key", "")
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.exporter", "stdout")
	v.SetDefault("metrics.interval", time.Minute)
	v.SetDefault("metrics.endpoint", "")
}

// Load reads the configuration: defaults, then config.yml from ., ./conf or /etc/tenantguard,
// then TENANTGUARD_* environment variables (TENANTGUARD_DB_DSN for db.dsn).
func Load() (Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("./conf")
	v.AddConfigPath("/etc/tenantguard/")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config

	err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "conf"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}

	if len(cfg.Tenancy.Models) == 0 {
		cfg.Tenancy = scopes.DefaultConfig()
	}

	return cfg, nil
}

// Validate reports every problem of cfg, in a stable order.
func Validate(cfg Config) []string {
	var problems []string

	if cfg.APIServer.Port <= 0 || cfg.APIServer.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	if cfg.DB.Dialect != db.DialectMemory && cfg.DB.DSN == "" {
		problems = append(problems, "db.dsn cannot be empty")
	}

	if cfg.Log.Name == "" {
		problems = append(problems, "log.name cannot be empty")
	}

	if cfg.APIServer.CORS.Enabled && len(cfg.APIServer.CORS.AllowedOrigins) == 0 {
		problems = append(problems, "server.cors.allowed_origins cannot be empty when CORS is enabled")
	}

	if cfg.Auth.SecretKey == "" {
		problems = append(problems, "auth.secret_key cannot be empty")
	}

	if cfg.GC.Retention > 0 && cfg.GC.CRON == "" {
		problems = append(problems, "gc.cron cannot be empty when gc.retention is set")
	}

	if _, err := scopes.NewRegistry(cfg.Tenancy); err != nil {
		problems = append(problems, fmt.Sprintf("tenancy: %v", err))
	}

	return problems
}
