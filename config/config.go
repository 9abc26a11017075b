// Package config loads session and Keycloak settings from the environment and
// an optional dotenv file using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	session "github.com/goliatone/go-session"
	"github.com/goliatone/go-session/provider/keycloak"
	"github.com/spf13/viper"
)

// Storage backends understood by StorageKind.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageBun    = "bun"
	StorageRedis  = "redis"
)

// Config holds the settings for a session service and its Keycloak adapter.
type Config struct {
	KeycloakURL          string `mapstructure:"KEYCLOAK_URL"`
	KeycloakRealm        string `mapstructure:"KEYCLOAK_REALM"`
	KeycloakClientID     string `mapstructure:"KEYCLOAK_CLIENT_ID"`
	KeycloakClientSecret string `mapstructure:"KEYCLOAK_CLIENT_SECRET"`
	KeycloakRedirectURI  string `mapstructure:"KEYCLOAK_REDIRECT_URI"`
	// KeycloakScopes is a space separated scope list.
	KeycloakScopes           string `mapstructure:"KEYCLOAK_SCOPES"`
	KeycloakVerifySignatures bool   `mapstructure:"KEYCLOAK_VERIFY_SIGNATURES"`

	RefreshInterval  time.Duration `mapstructure:"SESSION_REFRESH_INTERVAL"`
	RefreshThreshold time.Duration `mapstructure:"SESSION_REFRESH_THRESHOLD"`

	// StorageKind is one of memory, file, bun or redis.
	StorageKind string `mapstructure:"SESSION_STORAGE"`
	StorageKey  string `mapstructure:"SESSION_STORAGE_KEY"`
	FileDir     string `mapstructure:"SESSION_FILE_DIR"`
	DatabaseDSN string `mapstructure:"SESSION_DATABASE_DSN"`
	RedisAddr   string `mapstructure:"SESSION_REDIS_ADDR"`

	HTTPAddr         string `mapstructure:"HTTP_ADDR"`
	LogLevel         string `mapstructure:"LOG_LEVEL"`
	MetricsNamespace string `mapstructure:"METRICS_NAMESPACE"`
}

// Load reads path (a dotenv file, ignored when missing or empty), then the
// environment, and validates the result. Env vars override the file. A file
// that exists but cannot be read or parsed is an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !isMissingConfig(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	v.SetDefault("KEYCLOAK_URL", "")
	v.SetDefault("KEYCLOAK_REALM", "")
	v.SetDefault("KEYCLOAK_CLIENT_ID", "")
	v.SetDefault("KEYCLOAK_CLIENT_SECRET", "")
	v.SetDefault("KEYCLOAK_REDIRECT_URI", "")
	v.SetDefault("KEYCLOAK_SCOPES", "openid profile email")
	v.SetDefault("KEYCLOAK_VERIFY_SIGNATURES", false)
	v.SetDefault("SESSION_REFRESH_INTERVAL", session.DefaultRefreshInterval.String())
	v.SetDefault("SESSION_REFRESH_THRESHOLD", session.DefaultRefreshThreshold.String())
	v.SetDefault("SESSION_STORAGE", StorageMemory)
	v.SetDefault("SESSION_STORAGE_KEY", session.DefaultStorageKey)
	v.SetDefault("SESSION_FILE_DIR", ".session")
	v.SetDefault("SESSION_DATABASE_DSN", "file:session.db?cache=shared")
	v.SetDefault("SESSION_REDIS_ADDR", "localhost:6379")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_NAMESPACE", "app")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.StorageKind = strings.ToLower(strings.TrimSpace(cfg.StorageKind))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required Keycloak settings and value ranges.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.KeycloakURL, validation.Required, is.URL),
		validation.Field(&c.KeycloakRealm, validation.Required),
		validation.Field(&c.KeycloakClientID, validation.Required),
		validation.Field(&c.KeycloakRedirectURI, is.URL),
		validation.Field(&c.RefreshInterval, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.RefreshThreshold, validation.Min(time.Duration(0))),
		validation.Field(&c.StorageKind, validation.In(StorageMemory, StorageFile, StorageBun, StorageRedis)),
		validation.Field(&c.FileDir, requiredFor(c.StorageKind, StorageFile)...),
		validation.Field(&c.DatabaseDSN, requiredFor(c.StorageKind, StorageBun)...),
		validation.Field(&c.RedisAddr, requiredFor(c.StorageKind, StorageRedis)...),
	)
}

func isMissingConfig(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound)
}

func requiredFor(kind, want string) []validation.Rule {
	if kind != want {
		return nil
	}
	return []validation.Rule{validation.Required}
}

// Keycloak builds the adapter configuration. Runtime collaborators such as
// the opener, logger or HTTP client are left for the caller.
func (c Config) Keycloak() keycloak.Config {
	return keycloak.Config{
		BaseURL:          c.KeycloakURL,
		Realm:            c.KeycloakRealm,
		ClientID:         c.KeycloakClientID,
		ClientSecret:     c.KeycloakClientSecret,
		RedirectURI:      c.KeycloakRedirectURI,
		Scopes:           strings.Fields(c.KeycloakScopes),
		VerifySignatures: c.KeycloakVerifySignatures,
	}
}

// ServiceOptions maps the refresh settings onto session options.
func (c Config) ServiceOptions() []session.Option {
	return []session.Option{
		session.WithRefreshInterval(c.RefreshInterval),
		session.WithRefreshThreshold(c.RefreshThreshold),
	}
}
