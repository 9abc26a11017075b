package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	session "github.com/goliatone/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("KEYCLOAK_URL", "https://sso.example.com")
	t.Setenv("KEYCLOAK_REALM", "acme")
	t.Setenv("KEYCLOAK_CLIENT_ID", "web")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, session.DefaultRefreshInterval, cfg.RefreshInterval)
	assert.Equal(t, session.DefaultRefreshThreshold, cfg.RefreshThreshold)
	assert.Equal(t, StorageMemory, cfg.StorageKind)
	assert.Equal(t, session.DefaultStorageKey, cfg.StorageKey)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.False(t, cfg.KeycloakVerifySignatures)

	kc := cfg.Keycloak()
	assert.Equal(t, "https://sso.example.com", kc.BaseURL)
	assert.Equal(t, "acme", kc.Realm)
	assert.Equal(t, []string{"openid", "profile", "email"}, kc.Scopes)
	assert.Len(t, cfg.ServiceOptions(), 2)
}

func TestLoadEnvOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SESSION_REFRESH_INTERVAL", "5s")
	t.Setenv("SESSION_REFRESH_THRESHOLD", "1m")
	t.Setenv("SESSION_STORAGE", " Redis ")
	t.Setenv("SESSION_REDIS_ADDR", "redis:6379")
	t.Setenv("KEYCLOAK_SCOPES", "openid offline_access")
	t.Setenv("KEYCLOAK_VERIFY_SIGNATURES", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.RefreshInterval)
	assert.Equal(t, time.Minute, cfg.RefreshThreshold)
	assert.Equal(t, StorageRedis, cfg.StorageKind)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.True(t, cfg.Keycloak().VerifySignatures)
	assert.Equal(t, []string{"openid", "offline_access"}, cfg.Keycloak().Scopes)
}

func TestLoadDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"KEYCLOAK_URL=https://file.example.com\n"+
			"KEYCLOAK_REALM=from-file\n"+
			"KEYCLOAK_CLIENT_ID=cli\n"+
			"SESSION_STORAGE=file\n",
	), 0o600))
	t.Setenv("KEYCLOAK_REALM", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://file.example.com", cfg.KeycloakURL)
	assert.Equal(t, "from-env", cfg.KeycloakRealm)
	assert.Equal(t, StorageFile, cfg.StorageKind)
	assert.Equal(t, ".session", cfg.FileDir)
}

func TestLoadMissingFileFallsBackToEnv(t *testing.T) {
	setRequiredEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	setRequiredEnv(t)

	path := filepath.Join(t.TempDir(), "broken.env")
	require.NoError(t, os.WriteFile(path, []byte("KEYCLOAK_REALM=acme\nthis is not dotenv\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.env")
}

func TestValidate(t *testing.T) {
	valid := Config{
		KeycloakURL:      "https://sso.example.com",
		KeycloakRealm:    "acme",
		KeycloakClientID: "web",
		RefreshInterval:  time.Second,
		StorageKind:      StorageMemory,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing url", mutate: func(c *Config) { c.KeycloakURL = "" }},
		{name: "bad url", mutate: func(c *Config) { c.KeycloakURL = "not a url" }},
		{name: "missing realm", mutate: func(c *Config) { c.KeycloakRealm = "" }},
		{name: "interval too short", mutate: func(c *Config) { c.RefreshInterval = time.Millisecond }},
		{name: "negative threshold", mutate: func(c *Config) { c.RefreshThreshold = -time.Second }},
		{name: "unknown storage", mutate: func(c *Config) { c.StorageKind = "etcd" }},
		{name: "bun without dsn", mutate: func(c *Config) { c.StorageKind = StorageBun }},
		{name: "redis without addr", mutate: func(c *Config) { c.StorageKind = StorageRedis }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
