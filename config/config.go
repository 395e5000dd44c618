// Package config loads the blogauth configuration from defaults, an optional
// YAML file and BLOGAUTH_ prefixed environment variables, in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	auth "github.com/goliatone/go-blog-auth"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables. Nested keys are separated
// by a double underscore: BLOGAUTH_AUTH__SIGNING_KEY sets auth.signing_key.
const EnvPrefix = "BLOGAUTH_"

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	minSigningKeyLength = 32
)

type Config struct {
	Auth        AuthConfig        `koanf:"auth"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Server      ServerConfig      `koanf:"server"`
	Cleanup     CleanupConfig     `koanf:"cleanup"`
	Logging     LoggingConfig     `koanf:"logging"`
	Bootstrap   BootstrapConfig   `koanf:"bootstrap"`
}

type AuthConfig struct {
	SigningKey              string            `koanf:"signing_key"`
	SigningKeyID            string            `koanf:"signing_key_id"`
	RetiredSigningKeys      map[string]string `koanf:"retired_signing_keys"`
	Issuer                  string            `koanf:"issuer"`
	Audience                []string          `koanf:"audience"`
	AccessTokenTTL          time.Duration     `koanf:"access_token_ttl"`
	RefreshTokenTTL         time.Duration     `koanf:"refresh_token_ttl"`
	ExtendedRefreshTokenTTL time.Duration     `koanf:"extended_refresh_token_ttl"`
	DefaultRole             string            `koanf:"default_role"`
	PasswordCost            int               `koanf:"password_cost"`
	PhoneRegion             string            `koanf:"phone_region"`
}

type PersistenceConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
	Debug  bool   `koanf:"debug"`
}

type ServerConfig struct {
	Address         string        `koanf:"address"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RatePerMinute   int           `koanf:"rate_per_minute"`
	RateBurst       int           `koanf:"rate_burst"`
	Metrics         bool          `koanf:"metrics"`
}

type CleanupConfig struct {
	Interval time.Duration `koanf:"interval"`
}

type LoggingConfig struct {
	// Level "debug" or "trace" enables verbose output
	Level string `koanf:"level"`
}

// BootstrapConfig describes the administrator created on first start.
// An empty email disables bootstrapping.
type BootstrapConfig struct {
	AdminEmail    string `koanf:"admin_email"`
	AdminUsername string `koanf:"admin_username"`
	AdminPassword string `koanf:"admin_password"`
}

// Defaults returns the configuration used when nothing overrides a key
func Defaults() map[string]any {
	return map[string]any{
		"auth.signing_key_id":             "v1",
		"auth.issuer":                     "blogauth",
		"auth.audience":                   []string{"blog-api"},
		"auth.access_token_ttl":           "24h",
		"auth.refresh_token_ttl":          "720h",
		"auth.extended_refresh_token_ttl": "2160h",
		"auth.default_role":               auth.RoleReader,
		"auth.password_cost":              12,
		"auth.phone_region":               "US",

		"persistence.driver": DriverSQLite,
		"persistence.dsn":    "file:blogauth.db?cache=shared",
		"persistence.debug":  false,

		"server.address":          ":8080",
		"server.read_timeout":     "10s",
		"server.write_timeout":    "10s",
		"server.shutdown_timeout": "15s",
		"server.rate_per_minute":  30,
		"server.rate_burst":       10,
		"server.metrics":          true,

		"cleanup.interval": "1h",

		"logging.level": "info",
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load config defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to load config file").
				WithMetadata(map[string]any{"path": path})
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load config from environment")
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "failed to decode config")
	}

	normalize(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func normalize(cfg *Config) {
	cfg.Persistence.Driver = strings.ToLower(strings.TrimSpace(cfg.Persistence.Driver))
	// comma separated lists come in as a single entry from the environment
	if len(cfg.Auth.Audience) == 1 && strings.Contains(cfg.Auth.Audience[0], ",") {
		parts := strings.Split(cfg.Auth.Audience[0], ",")
		cfg.Auth.Audience = cfg.Auth.Audience[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cfg.Auth.Audience = append(cfg.Auth.Audience, p)
			}
		}
	}
}

// Validate checks the values the service cannot run without
func (c *Config) Validate() error {
	problems := map[string]any{}

	if len(c.Auth.SigningKey) < minSigningKeyLength {
		problems["auth.signing_key"] = fmt.Sprintf("must be at least %d bytes", minSigningKeyLength)
	}
	for kid, key := range c.Auth.RetiredSigningKeys {
		if len(key) < minSigningKeyLength {
			problems["auth.retired_signing_keys."+kid] = fmt.Sprintf("must be at least %d bytes", minSigningKeyLength)
		}
	}
	if strings.TrimSpace(c.Auth.Issuer) == "" {
		problems["auth.issuer"] = "is required"
	}
	if len(c.Auth.Audience) == 0 {
		problems["auth.audience"] = "is required"
	}
	if c.Auth.AccessTokenTTL <= 0 {
		problems["auth.access_token_ttl"] = "must be positive"
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		problems["auth.refresh_token_ttl"] = "must be positive"
	}
	if c.Auth.ExtendedRefreshTokenTTL < 0 {
		problems["auth.extended_refresh_token_ttl"] = "must not be negative"
	}
	if c.Auth.PasswordCost < auth.MinPasswordCost {
		problems["auth.password_cost"] = fmt.Sprintf("must be at least %d", auth.MinPasswordCost)
	}

	switch c.Persistence.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		problems["persistence.driver"] = "must be sqlite or postgres"
	}
	if strings.TrimSpace(c.Persistence.DSN) == "" {
		problems["persistence.dsn"] = "is required"
	}

	if c.Bootstrap.AdminEmail != "" && len(c.Bootstrap.AdminPassword) < 8 {
		problems["bootstrap.admin_password"] = "must be at least 8 characters"
	}

	if len(problems) > 0 {
		return goerrors.New("invalid configuration", goerrors.CategoryValidation).
			WithTextCode("INVALID_CONFIG").
			WithMetadata(problems)
	}
	return nil
}

// Redacted returns a copy safe to log
func (c Config) Redacted() Config {
	out := c
	out.Auth.SigningKey = redact(c.Auth.SigningKey)
	if len(c.Auth.RetiredSigningKeys) > 0 {
		out.Auth.RetiredSigningKeys = make(map[string]string, len(c.Auth.RetiredSigningKeys))
		for kid, key := range c.Auth.RetiredSigningKeys {
			out.Auth.RetiredSigningKeys[kid] = redact(key)
		}
	}
	out.Bootstrap.AdminPassword = redact(c.Bootstrap.AdminPassword)
	return out
}

// Dump renders the redacted configuration as indented JSON
func (c Config) Dump() string {
	return print.MaybePrettyJSON(c.Redacted())
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
