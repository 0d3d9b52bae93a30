//go:build !integration

package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/antenna-proximity/internal/config"
	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/resilience"
)

func TestPipelineEnv_Close_Nil(t *testing.T) {
	pe := &pipelineEnv{}
	assert.NotPanics(t, pe.Close)
}

func TestInitStore_SQLite(t *testing.T) {
	useTestConfig(t)

	st, err := initStore(context.Background())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	counts, err := st.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Antennas)
}

func TestInitStore_UnknownDriver(t *testing.T) {
	c := useTestConfig(t)
	c.Store.Driver = "oracle"

	_, err := initStore(context.Background())
	assert.Error(t, err)
}

func TestInitPipeline(t *testing.T) {
	useTestConfig(t)

	env, err := initPipeline(context.Background())
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.Store)
	assert.NotNil(t, env.Catalog)
	assert.False(t, env.Catalog.IsReady())
	assert.NotNil(t, env.Oracle)
	assert.NotNil(t, env.Metrics)
	assert.NotNil(t, env.Registry)
	assert.Len(t, env.resolverOptions(), 7)
}

func TestInitPipeline_InvalidConfig(t *testing.T) {
	c := useTestConfig(t)
	c.Proximity.ValidityRadiusM = 0

	_, err := initPipeline(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validity_radius_m")
}

func TestContourCountries(t *testing.T) {
	got := contourCountries([]string{"us", " ca ", ""})
	assert.Equal(t, []model.Country{model.CountryUS, model.CountryCA}, got)
}

func TestRetryConfig(t *testing.T) {
	rc := retryConfig(config.RetryConfig{MaxAttempts: 5, InitialBackoffMs: 10, MaxBackoffMs: 100})
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, rc.InitialBackoff)
	assert.Equal(t, 100*time.Millisecond, rc.MaxBackoff)

	def := retryConfig(config.RetryConfig{})
	assert.Equal(t, resilience.DefaultRetryConfig().MaxAttempts, def.MaxAttempts)
}

func TestNewContourBreaker(t *testing.T) {
	cb := newContourBreaker(config.CircuitConfig{FailureThreshold: 1, ResetTimeoutSecs: 60})
	assert.Equal(t, resilience.CircuitClosed, cb.State())

	err := cb.Execute(context.Background(), func(context.Context) error { return assert.AnError })
	require.Error(t, err)
	assert.Equal(t, resilience.CircuitOpen, cb.State())
}

func TestSessionConfig(t *testing.T) {
	c := useTestConfig(t)
	sc := sessionConfig(c)
	assert.Equal(t, 5, sc.MaxSessions)
	assert.Equal(t, 30*time.Minute, sc.IdleTimeout)
	assert.InDelta(t, 60000, sc.Preferences.MaxDistance, 0.001)
}

func TestNewFetcher(t *testing.T) {
	c := useTestConfig(t)
	assert.NotNil(t, newFetcher(c))
}
