// Package config loads service settings from defaults, an optional
// config.yaml and BLOGAUTH_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/goliatone/go-blog-auth"
	"github.com/goliatone/go-blog-auth/ratelimit"
	"github.com/spf13/viper"
)

const EnvPrefix = "BLOGAUTH"

type Server struct {
	Address         string        `mapstructure:"address"`
	Debug           bool          `mapstructure:"debug"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// TrustedProxies may set X-Forwarded-For, requests from any other
	// peer are keyed by their connection address.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type Database struct {
	// Driver is postgres or sqlite
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

type SMTP struct {
	// Enabled false routes mail to the log sender
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	StartTLS bool          `mapstructure:"starttls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Logging struct {
	Level string `mapstructure:"level"`
	Dev   bool   `mapstructure:"dev"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimit struct {
	// Backend is memory or redis
	Backend              string           `mapstructure:"backend"`
	Redis                Redis            `mapstructure:"redis"`
	PasswordResetByEmail ratelimit.Policy `mapstructure:"password_reset_by_email"`
	PasswordResetByIP    ratelimit.Policy `mapstructure:"password_reset_by_ip"`
	ResendByEmail        ratelimit.Policy `mapstructure:"resend_by_email"`
	ResendByIP           ratelimit.Policy `mapstructure:"resend_by_ip"`
}

type Auth struct {
	SigningKey string `mapstructure:"signing_key"`
	// PreviousSigningKeys still verify access tokens during key rotation
	PreviousSigningKeys  []string      `mapstructure:"previous_signing_keys"`
	Issuer               string        `mapstructure:"issuer"`
	Audience             string        `mapstructure:"audience"`
	AccessTokenTTL       time.Duration `mapstructure:"access_token_ttl"`
	EmailVerificationTTL time.Duration `mapstructure:"email_verification_ttl"`
	PasswordResetTTL     time.Duration `mapstructure:"password_reset_ttl"`
	TokenRetention       time.Duration `mapstructure:"token_retention"`
	CleanupSchedule      string        `mapstructure:"cleanup_schedule"`
}

type URLs struct {
	WebBase         string `mapstructure:"web_base"`
	EmailVerifyBase string `mapstructure:"email_verify_base"`
	PasswordReset   string `mapstructure:"password_reset_link_base"`
}

// Config is the full service configuration. It implements auth.Config.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Database  Database  `mapstructure:"database"`
	SMTP      SMTP      `mapstructure:"smtp"`
	Logging   Logging   `mapstructure:"logging"`
	RateLimit RateLimit `mapstructure:"ratelimit"`
	Auth      Auth      `mapstructure:"auth"`
	URLs      URLs      `mapstructure:"urls"`
}

var _ auth.Config = (*Config)(nil)

// SetDefaults registers every key so environment overrides resolve
// during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:blogauth.db?cache=shared&_foreign_keys=on")
	v.SetDefault("database.migrate", true)

	v.SetDefault("smtp.enabled", false)
	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "no-reply@compilingjava.com")
	v.SetDefault("smtp.starttls", true)
	v.SetDefault("smtp.timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.dev", false)

	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.redis.addr", "localhost:6379")
	v.SetDefault("ratelimit.redis.password", "")
	v.SetDefault("ratelimit.redis.db", 0)
	setPolicyDefault(v, "ratelimit.password_reset_by_email", ratelimit.PasswordResetByEmail)
	setPolicyDefault(v, "ratelimit.password_reset_by_ip", ratelimit.PasswordResetByIP)
	setPolicyDefault(v, "ratelimit.resend_by_email", ratelimit.ResendByEmail)
	setPolicyDefault(v, "ratelimit.resend_by_ip", ratelimit.ResendByIP)

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.previous_signing_keys", []string{})
	v.SetDefault("auth.issuer", "https://api.compilingjava.com")
	v.SetDefault("auth.audience", "compilingjava-web")
	v.SetDefault("auth.access_token_ttl", auth.DefaultAccessTokenTTL)
	v.SetDefault("auth.email_verification_ttl", auth.DefaultEmailVerificationTTL)
	v.SetDefault("auth.password_reset_ttl", auth.DefaultPasswordResetTTL)
	v.SetDefault("auth.token_retention", auth.DefaultTokenRetention)
	v.SetDefault("auth.cleanup_schedule", auth.DefaultCleanupSchedule)

	v.SetDefault("urls.web_base", "http://localhost:3000")
	v.SetDefault("urls.email_verify_base", "http://localhost:8080/api/auth/confirm-email")
	v.SetDefault("urls.password_reset_link_base", "http://localhost:8080/api/auth/password/reset-link")
}

func setPolicyDefault(v *viper.Viper, key string, p ratelimit.Policy) {
	v.SetDefault(key+".capacity", p.Capacity)
	v.SetDefault(key+".refill", p.Refill)
	v.SetDefault(key+".interval", p.Interval)
}

// New returns a viper instance wired for files and environment.
func New(paths ...string) *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"/etc/blogauth/", "$HOME/.blogauth", "."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration, a missing config file is not an error.
func Load(paths ...string) (*Config, error) {
	return FromViper(New(paths...), true)
}

// FromViper decodes v into a validated Config. readFile controls whether
// the config file is read first.
func FromViper(v *viper.Viper, readFile bool) (*Config, error) {
	if readFile {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	var errs []error

	if len(c.Auth.SigningKey) < 32 {
		errs = append(errs, fmt.Errorf("auth.signing_key must be at least 32 bytes"))
	}
	for i, key := range c.Auth.PreviousSigningKeys {
		if len(key) < 32 {
			errs = append(errs, fmt.Errorf("auth.previous_signing_keys[%d] must be at least 32 bytes", i))
		}
	}

	for _, proxy := range c.Server.TrustedProxies {
		if net.ParseIP(proxy) == nil {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				errs = append(errs, fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", proxy))
			}
		}
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}

	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("ratelimit.backend must be memory or redis, got %q", c.RateLimit.Backend))
	}

	policies := map[string]ratelimit.Policy{
		"password_reset_by_email": c.RateLimit.PasswordResetByEmail,
		"password_reset_by_ip":    c.RateLimit.PasswordResetByIP,
		"resend_by_email":         c.RateLimit.ResendByEmail,
		"resend_by_ip":            c.RateLimit.ResendByIP,
	}
	for name, p := range policies {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("ratelimit.%s: %w", name, err))
		}
	}

	if c.Auth.AccessTokenTTL <= 0 || c.Auth.EmailVerificationTTL <= 0 || c.Auth.PasswordResetTTL <= 0 {
		errs = append(errs, fmt.Errorf("auth token TTLs must be positive"))
	}

	return errors.Join(errs...)
}

func (c *Config) GetSigningKey() string                  { return c.Auth.SigningKey }
func (c *Config) GetIssuer() string                      { return c.Auth.Issuer }
func (c *Config) GetAudience() string                    { return c.Auth.Audience }
func (c *Config) GetAccessTokenTTL() time.Duration       { return c.Auth.AccessTokenTTL }
func (c *Config) GetEmailVerificationTTL() time.Duration { return c.Auth.EmailVerificationTTL }
func (c *Config) GetPasswordResetTTL() time.Duration     { return c.Auth.PasswordResetTTL }
func (c *Config) GetTokenRetention() time.Duration       { return c.Auth.TokenRetention }
func (c *Config) GetWebBaseURL() string                  { return c.URLs.WebBase }
func (c *Config) GetVerifyLinkBase() string              { return c.URLs.EmailVerifyBase }
func (c *Config) GetResetLinkBase() string               { return c.URLs.PasswordReset }
