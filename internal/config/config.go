package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration required by the API process and the admin CLI.
// All values come from env (optionally seeded from a .env file).
// No business logic should depend on raw environment variables.
type Config struct {
	App         AppConfig
	DB          DBConfig
	Redis       RedisConfig
	Auth        AuthConfig
	Demo        DemoConfig
	Audit       AuditConfig
	Permissions PermissionsConfig
	Login       LoginConfig
}

type AppConfig struct {
	Env  string
	Port int

	// TrustedProxies are the IPs or CIDRs whose X-Forwarded-For is believed
	// when resolving the client IP. Empty means the TCP peer is the client.
	TrustedProxies []string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
}

type DemoConfig struct {
	Email string
}

type AuditConfig struct {
	RetentionDays   int
	CleanupInterval time.Duration
}

type PermissionsConfig struct {
	StoreTimeout time.Duration
}

type LoginConfig struct {
	// RateLimit is the number of login attempts allowed per client IP per minute.
	RateLimit int
}

const (
	defaultDemoEmail            = "demo@jadara.app"
	defaultAuditRetentionDays   = 90
	defaultAuditCleanupInterval = 24 * time.Hour
	defaultStoreTimeout         = 2 * time.Second
	defaultLoginRateLimit       = 10
)

// LoadEnvFile loads KEY=VALUE pairs from the first existing file in paths
// into the process environment. Variables already set are not overridden.
// Missing files are not an error.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
		return nil
	}
	return nil
}

func Load() (Config, error) {
	k := koanf.New(".")
	// APP_PORT -> app_port. Env names carry no dots, so keys stay flat.
	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (Config, error) {
	c := Config{}
	var parseErrs []error
	str := func(key string) string { return strings.TrimSpace(k.String(key)) }

	c.App.Env = str("app_env")
	c.App.Port, parseErrs = requiredInt(k, "app_port", parseErrs)
	c.App.TrustedProxies = splitList(k.String("trusted_proxies"))

	c.DB.Host = str("db_host")
	c.DB.Port, parseErrs = requiredInt(k, "db_port", parseErrs)
	c.DB.User = str("db_user")
	c.DB.Password = k.String("db_password")
	c.DB.Name = str("db_name")
	c.DB.SSLMode = str("db_sslmode")

	c.Redis.Host = str("redis_host")
	c.Redis.Port, parseErrs = requiredInt(k, "redis_port", parseErrs)

	c.Auth.JWTSecret = k.String("jwt_secret")
	c.Auth.JWTIssuer = str("jwt_issuer")
	c.Auth.JWTAudience = str("jwt_audience")

	c.Demo.Email = str("demo_email")

	c.Audit.RetentionDays, parseErrs = optionalInt(k, "audit_retention_days", parseErrs)
	c.Audit.CleanupInterval, parseErrs = optionalDuration(k, "audit_cleanup_interval", parseErrs)
	c.Permissions.StoreTimeout, parseErrs = optionalDuration(k, "permission_store_timeout", parseErrs)
	c.Login.RateLimit, parseErrs = optionalInt(k, "login_rate_limit", parseErrs)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills in defaults for optional keys.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	for _, p := range c.App.TrustedProxies {
		if !isIPOrCIDR(p) {
			errs = append(errs, fmt.Errorf("TRUSTED_PROXIES entries must be IPs or CIDRs, got %q", p))
		}
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host == "" {
		errs = append(errs, errors.New("REDIS_HOST is required"))
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes in production"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}

	if c.Demo.Email == "" {
		c.Demo.Email = defaultDemoEmail
	} else if !strings.Contains(c.Demo.Email, "@") {
		errs = append(errs, fmt.Errorf("DEMO_EMAIL must be an email address, got %q", c.Demo.Email))
	}

	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = defaultAuditRetentionDays
	} else if c.Audit.RetentionDays < 1 {
		errs = append(errs, fmt.Errorf("AUDIT_RETENTION_DAYS must be at least 1, got %d", c.Audit.RetentionDays))
	}
	if c.Audit.CleanupInterval == 0 {
		c.Audit.CleanupInterval = defaultAuditCleanupInterval
	} else if c.Audit.CleanupInterval < time.Minute {
		errs = append(errs, fmt.Errorf("AUDIT_CLEANUP_INTERVAL must be at least 1m, got %s", c.Audit.CleanupInterval))
	}

	if c.Permissions.StoreTimeout == 0 {
		c.Permissions.StoreTimeout = defaultStoreTimeout
	} else if c.Permissions.StoreTimeout < 0 {
		errs = append(errs, fmt.Errorf("PERMISSION_STORE_TIMEOUT must be positive, got %s", c.Permissions.StoreTimeout))
	}

	if c.Login.RateLimit == 0 {
		c.Login.RateLimit = defaultLoginRateLimit
	} else if c.Login.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("LOGIN_RATE_LIMIT must be positive, got %d", c.Login.RateLimit))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func envName(key string) string { return strings.ToUpper(key) }

func requiredInt(k *koanf.Koanf, key string, errs []error) (int, []error) {
	v := strings.TrimSpace(k.String(key))
	if v == "" {
		return 0, append(errs, fmt.Errorf("%s is required", envName(key)))
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", envName(key), v))
	}
	return n, errs
}

func optionalInt(k *koanf.Koanf, key string, errs []error) (int, []error) {
	v := strings.TrimSpace(k.String(key))
	if v == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", envName(key), v))
	}
	return n, errs
}

func optionalDuration(k *koanf.Koanf, key string, errs []error) (time.Duration, []error) {
	v := strings.TrimSpace(k.String(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", envName(key), v))
	}
	return d, errs
}

// splitList parses a comma-separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isIPOrCIDR(v string) bool {
	if net.ParseIP(v) != nil {
		return true
	}
	_, _, err := net.ParseCIDR(v)
	return err == nil
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
