package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "antennas.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Preferences.MaxDistanceKM)
	assert.True(t, cfg.Preferences.PreferFewer)
	assert.True(t, cfg.Preferences.UseContours)
	assert.InDelta(t, 200, cfg.Proximity.ValidityRadiusM, 0.001)
	assert.Equal(t, 100*time.Millisecond, cfg.Proximity.RetryDelay())
	assert.Equal(t, 2*time.Second, cfg.Proximity.RepublishDelay())
	assert.Equal(t, 15*time.Second, cfg.Proximity.IdleTimeout())
	assert.Equal(t, []string{"US"}, cfg.Proximity.ContourCountries)
	assert.InDelta(t, 300, cfg.Catalog.SiteRadiusM, 0.001)
	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 100, cfg.Session.MaxSessions)
	assert.Equal(t, "antennas/1.0", cfg.Fetch.UserAgent)
	assert.Equal(t, 300, cfg.Fetch.HTTPTimeoutSecs)
	assert.Empty(t, cfg.Antennas.Source)
	assert.NoError(t, cfg.Validate())
}

func TestPreferencesConversion(t *testing.T) {
	p := PreferencesConfig{MaxDistanceKM: 60, PreferFewer: true, UseContours: false}.Preferences()
	assert.InDelta(t, 60000, p.MaxDistance, 0.001)
	assert.True(t, p.PreferFewer)
	assert.False(t, p.UseContours)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/antennas
log:
  level: debug
  format: console
preferences:
  max_distance_km: 120
  use_contours: false
proximity:
  contour_countries: [US, CA]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 120, cfg.Preferences.MaxDistanceKM)
	assert.False(t, cfg.Preferences.UseContours)
	assert.Equal(t, []string{"US", "CA"}, cfg.Proximity.ContourCountries)
	// Defaults still apply for unset values
	assert.True(t, cfg.Preferences.PreferFewer)
	assert.Equal(t, 2000, cfg.Proximity.RepublishDelayMs)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("ANTENNAS_LOG_LEVEL", "warn")
	t.Setenv("ANTENNAS_PROXIMITY_VALIDITY_RADIUS_M", "500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.InDelta(t, 500, cfg.Proximity.ValidityRadiusM, 0.001)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = ""
	cfg.Proximity.ValidityRadiusM = 0
	cfg.Server.Port = 0

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "proximity.validity_radius_m must be positive")
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := &Config{}
	cfg.Store.Driver = "mysql"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}
