// Package config loads runtime configuration from the environment, an optional
// .env file and an optional YAML overlay.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Payroll   PayrollConfig   `yaml:"payroll"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Audit     AuditConfig     `yaml:"audit"`

	// Roles maps role names to permission lists. Only settable from YAML.
	Roles map[string][]string `yaml:"roles"`
}

type ServerConfig struct {
	Host            string        `env:"SERVER_HOST,default=0.0.0.0" yaml:"host"`
	Port            int           `env:"SERVER_PORT,default=8080" yaml:"port"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT,default=15s" yaml:"read_timeout"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT,default=15s" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s" yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Driver          string `env:"DATABASE_DRIVER,default=postgres" yaml:"driver"`
	DSN             string `env:"DATABASE_URL" yaml:"dsn"`
	MaxOpenConns    int    `env:"DATABASE_MAX_OPEN_CONNS,default=20" yaml:"max_open_conns"`
	MaxIdleConns    int    `env:"DATABASE_MAX_IDLE_CONNS,default=5" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `env:"DATABASE_CONN_MAX_LIFETIME,default=300" yaml:"conn_max_lifetime"`
	Migrate         bool   `env:"DATABASE_MIGRATE,default=true" yaml:"migrate"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" yaml:"addr"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB,default=0" yaml:"db"`
	Channel  string `env:"REDIS_EVENTS_CHANNEL,default=service_layer:events" yaml:"channel"`
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info" yaml:"level"`
	Format     string `env:"LOG_FORMAT,default=json" yaml:"format"`
	Output     string `env:"LOG_OUTPUT,default=stdout" yaml:"output"`
	FilePrefix string `env:"LOG_FILE_PREFIX" yaml:"file_prefix"`
}

type AuthConfig struct {
	JWTSecret        string   `env:"JWT_SECRET" yaml:"jwt_secret"`
	JWTPublicKeyFile string   `env:"JWT_PUBLIC_KEY_FILE" yaml:"jwt_public_key_file"`
	SkipPaths        []string `yaml:"skip_paths"`
}

type CORSConfig struct {
	AllowedOrigins string `env:"CORS_ALLOWED_ORIGINS,default=*" yaml:"allowed_origins"`
}

// Origins splits AllowedOrigins on commas.
func (c CORSConfig) Origins() []string {
	return SplitList(c.AllowedOrigins)
}

type RateLimitConfig struct {
	RequestsPerSecond int `env:"RATE_LIMIT_RPS,default=50" yaml:"requests_per_second"`
	Burst             int `env:"RATE_LIMIT_BURST,default=100" yaml:"burst"`
}

type LedgerConfig struct {
	StartingGrant string `env:"LEDGER_STARTING_GRANT,default=100.00" yaml:"starting_grant"`
	Currency      string `env:"LEDGER_CURRENCY,default=IMP" yaml:"currency"`
	Scale         int32  `env:"LEDGER_CURRENCY_SCALE,default=2" yaml:"scale"`
	MaxRetries    int    `env:"LEDGER_MAX_RETRIES,default=3" yaml:"max_retries"`
	PageLimit     int    `env:"LEDGER_PAGE_LIMIT,default=100" yaml:"page_limit"`
}

type PayrollConfig struct {
	Schedule string        `env:"PAYROLL_SCHEDULE" yaml:"schedule"`
	LockTTL  time.Duration `env:"PAYROLL_LOCK_TTL,default=5m" yaml:"lock_ttl"`
}

type RealtimeConfig struct {
	SendBuffer   int           `env:"REALTIME_SEND_BUFFER,default=64" yaml:"send_buffer"`
	WriteTimeout time.Duration `env:"REALTIME_WRITE_TIMEOUT,default=10s" yaml:"write_timeout"`
	PingInterval time.Duration `env:"REALTIME_PING_INTERVAL,default=30s" yaml:"ping_interval"`
}

type AuditConfig struct {
	File string `env:"AUDIT_LOG_FILE" yaml:"file"`
}

// Load reads .env (if present), the environment, then the YAML file named by
// CONFIG_FILE. YAML values override environment values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Ledger.Scale < 0 || c.Ledger.Scale > 8 {
		return fmt.Errorf("ledger scale %d out of range", c.Ledger.Scale)
	}
	if c.Ledger.MaxRetries < 1 {
		return errors.New("ledger max retries must be at least 1")
	}
	if c.Auth.JWTSecret == "" && c.Auth.JWTPublicKeyFile == "" {
		return errors.New("JWT_SECRET or JWT_PUBLIC_KEY_FILE is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Roles) == 0 {
		c.Roles = DefaultRoles()
	}
	if c.Ledger.PageLimit <= 0 || c.Ledger.PageLimit > 100 {
		c.Ledger.PageLimit = 100
	}
	if len(c.Auth.SkipPaths) == 0 {
		c.Auth.SkipPaths = []string{"/healthz", "/metrics"}
	}
}

// DefaultRoles returns the built-in role to permission mapping.
func DefaultRoles() map[string][]string {
	return map[string][]string{
		"super_admin":   {"admin", "create_roles", "manage_users", "manage_services"},
		"citizen":       {"user", "view_services", "create_applications"},
		"bank_employee": {"user", "bank_operations", "view_applications"},
		"mfc_employee":  {"user", "mfc_operations", "process_applications"},
	}
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
