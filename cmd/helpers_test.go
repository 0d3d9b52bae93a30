//go:build !integration

package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sells-group/antenna-proximity/internal/catalog"
	"github.com/sells-group/antenna-proximity/internal/config"
	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/proximity"
)

// useTestConfig installs a valid configuration backed by a temporary SQLite file.
func useTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{
		Store:       config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(dir, "antennas.db")},
		Log:         config.LogConfig{Level: "info", Format: "json"},
		Server:      config.ServerConfig{Port: 8080, CORSOrigins: []string{"*"}},
		Preferences: config.PreferencesConfig{MaxDistanceKM: 60, PreferFewer: true, UseContours: true},
		Proximity: config.ProximityConfig{
			ValidityRadiusM:  200,
			RetryDelayMs:     10,
			RepublishDelayMs: 50,
			IdleTimeoutSecs:  1,
			ContourCountries: []string{"US"},
		},
		Catalog: config.CatalogConfig{SiteRadiusM: 300},
		Contour: config.ContourConfig{TempDir: filepath.Join(dir, "tmp")},
		Fetch:   config.FetchConfig{UserAgent: "antennas-test", HTTPTimeoutSecs: 5, FTPTimeoutSecs: 5},
		Retry:   config.RetryConfig{MaxAttempts: 2, InitialBackoffMs: 1, MaxBackoffMs: 5},
		Circuit: config.CircuitConfig{FailureThreshold: 3, ResetTimeoutSecs: 1},
		Session:    config.SessionConfig{MaxSessions: 5, PositionRate: 100, PositionBurst: 100, IdleTimeoutMins: 30},
		Monitoring: config.MonitoringConfig{CheckIntervalSecs: 1},
	}
	old := cfg
	cfg = c
	t.Cleanup(func() { cfg = old })
	return c
}

type insideOracle struct{}

func (insideOracle) Acquire(_ context.Context) (proximity.ContourHandle, error) {
	return insideHandle{}, nil
}

type insideHandle struct{}

func (insideHandle) IsInside(_ context.Context, _ model.Antenna, _ model.Position, _ bool) (bool, error) {
	return true, nil
}

func (insideHandle) Release() {}

var (
	observer = model.Position{Lat: 40.0, Lon: -74.0}

	wnbc = model.Antenna{
		ID:          model.AntennaID{Country: model.CountryUS, Index: 1},
		Description: "WNBC",
		Position:    model.Position{Lat: 40.01, Lon: -74.0},
	}
	wabc = model.Antenna{
		ID:       model.AntennaID{Country: model.CountryUS, Index: 2},
		Position: model.Position{Lat: 40.2, Lon: -74.0},
	}
)

func readyCatalog() *catalog.Catalog {
	cat := catalog.New()
	cat.Replace([]model.Antenna{wnbc, wabc})
	return cat
}
