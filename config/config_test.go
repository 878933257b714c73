package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, ":8080", c.Addr())
	assert.Equal(t, 15*time.Second, c.Server.ReadTimeout)
	assert.Equal(t, "ledger.db", c.Database.Path)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 5*time.Minute, c.Cache.CampaignTTL)
	assert.Equal(t, 5, c.Codes.MaxAttempts)
	assert.Equal(t, "coupled", c.Ledger.DeltaMode)
	assert.NotEmpty(t, c.CORS.AllowedOrigins)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: A YAML file setting the port and delta mode
	// WHEN: The environment overrides the port
	// THEN: File values apply except where the environment wins

	dir := t.TempDir()
	path := writeFile(t, dir, "ledger.yaml", `
server:
  port: 9000
  write_timeout: 1m
database:
  path: /tmp/ledger-test.db
ledger:
  delta_mode: independent
`)
	t.Setenv("LEDGER_SERVER_PORT", "9100")
	t.Setenv("LEDGER_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, c.Server.Port)
	assert.Equal(t, time.Minute, c.Server.WriteTimeout)
	assert.Equal(t, "/tmp/ledger-test.db", c.Database.Path)
	assert.Equal(t, "independent", c.Ledger.DeltaMode)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORS.AllowedOrigins)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	env := writeFile(t, dir, "test.env", "LEDGER_LOG_LEVEL=debug\nLEDGER_CODES_MAX_ATTEMPTS=9\n")
	t.Cleanup(func() {
		os.Unsetenv("LEDGER_LOG_LEVEL")
		os.Unsetenv("LEDGER_CODES_MAX_ATTEMPTS")
	})

	c, err := Load("", env)
	require.NoError(t, err)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, 9, c.Codes.MaxAttempts)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "explicit config file must exist")

	_, err = Load("", filepath.Join(dir, "missing.env"))
	assert.Error(t, err, "explicit env file must exist")

	bad := writeFile(t, dir, "bad.yaml", "ledger:\n  delta_mode: sideways\n")
	_, err = Load(bad)
	assert.ErrorContains(t, err, "delta_mode")

	badLevel := writeFile(t, dir, "level.yaml", "log:\n  level: loud\n")
	_, err = Load(badLevel)
	assert.ErrorContains(t, err, "log.level")

	badTTL := writeFile(t, dir, "ttl.yaml", "cache:\n  campaign_ttl: -1m\n")
	_, err = Load(badTTL)
	assert.ErrorContains(t, err, "cache.campaign_ttl")
}

func TestLoad_ZeroCampaignTTL(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "ttl.yaml", "cache:\n  campaign_ttl: 0s\n")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Zero(t, c.Cache.CampaignTTL, "zero is accepted and disables the campaign cache")
}
