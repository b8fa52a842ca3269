// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads authcore configuration from defaults, a YAML file,
// AUTHCORE_* environment variables and command flags, in rising precedence.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/internal/xdg"
)

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore: AUTHCORE_SESSION__LIFETIME=2h sets session.lifetime.
const EnvPrefix = "AUTHCORE_"

// Database drivers.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
)

// Config is the full authcore configuration.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Redis    RedisConfig    `koanf:"redis"`
	Session  SessionConfig  `koanf:"session"`
	Database DatabaseConfig `koanf:"database"`
	Tokens   TokensConfig   `koanf:"tokens"`
	APIKey   APIKeyConfig   `koanf:"apikey"`
	Captcha  CaptchaConfig  `koanf:"captcha"`
	Mail     MailConfig     `koanf:"mail"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// LogConfig configures internal/logging.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// RedisConfig addresses the session hash store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// SessionConfig configures session.Store.
type SessionConfig struct {
	Namespace string        `koanf:"namespace"`
	Lifetime  time.Duration `koanf:"lifetime"`
}

// DatabaseConfig selects the user repository.
type DatabaseConfig struct {
	Driver string `koanf:"driver"`
	URL    string `koanf:"url"`
	// Name is the Mongo database name; ignored for postgres.
	Name string `koanf:"name"`
}

// TokensConfig sets token lifetimes and the generator attempt cap.
type TokensConfig struct {
	EmailVerificationTTL time.Duration `koanf:"email_verification_ttl"`
	PasswordResetTTL     time.Duration `koanf:"password_reset_ttl"`
	EmailResetTTL        time.Duration `koanf:"email_reset_ttl"`
	// MaxAttempts caps collisions per token; 0 is unbounded.
	MaxAttempts int `koanf:"max_attempts"`
}

// APIKeyConfig sets the API key prefix.
type APIKeyConfig struct {
	Namespace string `koanf:"namespace"`
}

// CaptchaConfig configures the hCaptcha verifier. Disabled means every proof
// is accepted.
type CaptchaConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Secret    string `koanf:"secret"`
	SiteKey   string `koanf:"sitekey"`
	VerifyURL string `koanf:"verify_url"`
}

// MailConfig configures link building and delivery.
type MailConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

// MetricsConfig configures metric export for batch commands.
type MetricsConfig struct {
	PushgatewayURL string `koanf:"pushgateway_url"`
}

// Defaults returns the lowest configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"log.format":                    logging.FormatJSON,
		"log.level":                     "info",
		"redis.addr":                    "localhost:6379",
		"redis.password":                "",
		"redis.db":                      0,
		"session.namespace":             "sessions",
		"session.lifetime":              "5h",
		"database.driver":               DriverMongo,
		"database.url":                  "",
		"database.name":                 "authcore",
		"tokens.email_verification_ttl": "24h",
		"tokens.password_reset_ttl":     "1h",
		"tokens.email_reset_ttl":        "1h",
		"tokens.max_attempts":           0,
		"apikey.namespace":              "authcore",
		"captcha.enabled":               false,
		"captcha.secret":                "",
		"captcha.sitekey":               "",
		"captcha.verify_url":            "",
		"mail.base_url":                 "http://localhost:3000",
		"mail.timeout":                  "10s",
		"metrics.pushgateway_url":       "",
	}
}

// flagKeys maps command flag names onto configuration keys. Flags not listed
// here are not configuration.
var flagKeys = map[string]string{
	"log-format":      "log.format",
	"log-level":       "log.level",
	"redis-addr":      "redis.addr",
	"database-driver": "database.driver",
	"database-url":    "database.url",
	"pushgateway-url": "metrics.pushgateway_url",
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "config file path (default: $XDG_CONFIG_HOME/authcore/config.yaml)")
	fs.String("log-format", logging.FormatJSON, "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("redis-addr", "localhost:6379", "redis address for the session store")
	fs.String("database-driver", DriverMongo, "user store driver (mongo or postgres)")
	fs.String("database-url", "", "user store connection URL")
	fs.String("pushgateway-url", "", "prometheus pushgateway URL for batch metrics")
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Path is an explicit config file. When empty the XDG default is used if
	// it exists.
	Path string
	// Flags are applied last; only flags the user set override lower layers.
	Flags *pflag.FlagSet
}

// Load builds a Config from all layers and validates it.
func Load(opts LoadOptions) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "defaults").Wrap(err)
	}

	path := opts.Path
	if path == "" && opts.Flags != nil {
		if f := opts.Flags.Lookup("config"); f != nil {
			path = f.Value.String()
		}
	}
	if path == "" {
		defaultPath, ok, err := xdg.DefaultConfigFile()
		if err == nil && ok {
			path = defaultPath
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "file").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "env").Wrap(err)
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps AUTHCORE_TOKENS__MAX_ATTEMPTS to tokens.max_attempts.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	if !logging.ValidFormat(c.Log.Format) {
		return invalid("log.format", "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level", "log.level %q is not a level", c.Log.Level)
	}
	if c.Redis.Addr == "" {
		return invalid("redis.addr", "redis.addr is required")
	}
	if c.Redis.DB < 0 {
		return invalid("redis.db", "redis.db must not be negative")
	}
	if c.Session.Namespace == "" {
		return invalid("session.namespace", "session.namespace is required")
	}
	if c.Session.Lifetime <= 0 {
		return invalid("session.lifetime", "session.lifetime must be positive")
	}
	switch c.Database.Driver {
	case DriverMongo:
		if c.Database.Name == "" {
			return invalid("database.name", "database.name is required for mongo")
		}
	case DriverPostgres:
	default:
		return invalid("database.driver", "database.driver must be %q or %q, got %q", DriverMongo, DriverPostgres, c.Database.Driver)
	}
	for key, ttl := range map[string]time.Duration{
		"tokens.email_verification_ttl": c.Tokens.EmailVerificationTTL,
		"tokens.password_reset_ttl":     c.Tokens.PasswordResetTTL,
		"tokens.email_reset_ttl":        c.Tokens.EmailResetTTL,
	} {
		if ttl <= 0 {
			return invalid(key, "%s must be positive", key)
		}
	}
	if c.Tokens.MaxAttempts < 0 {
		return invalid("tokens.max_attempts", "tokens.max_attempts must not be negative")
	}
	if c.APIKey.Namespace == "" || strings.ContainsAny(c.APIKey.Namespace, "_ ") {
		return invalid("apikey.namespace", "apikey.namespace must be non-empty without '_' or spaces")
	}
	if len(c.APIKey.Namespace) >= 40-1 {
		return invalid("apikey.namespace", "apikey.namespace leaves no room for the random part")
	}
	if c.Captcha.Enabled && c.Captcha.Secret == "" {
		return invalid("captcha.secret", "captcha.secret is required when captcha is enabled")
	}
	if err := validURL(c.Mail.BaseURL); err != nil {
		return invalid("mail.base_url", "mail.base_url: %v", err)
	}
	if c.Mail.Timeout <= 0 {
		return invalid("mail.timeout", "mail.timeout must be positive")
	}
	if c.Metrics.PushgatewayURL != "" {
		if err := validURL(c.Metrics.PushgatewayURL); err != nil {
			return invalid("metrics.pushgateway_url", "metrics.pushgateway_url: %v", err)
		}
	}
	return nil
}

// RequireDatabaseURL fails unless database.url is set.
func (c *Config) RequireDatabaseURL() error {
	if c.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").With("key", "database.url").Errorf("database.url is required")
	}
	return nil
}

func validURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return oops.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return oops.Errorf("host is required")
	}
	return nil
}
