// Package store persists antennas and their broadcast contours.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/antenna-proximity/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the persistence interface for antenna and contour data.
type Store interface {
	// Antennas
	ListAntennas(ctx context.Context) ([]model.Antenna, error)
	UpsertAntennas(ctx context.Context, antennas []model.Antenna) (int64, error)

	// Contours, EWKB encoded with SRID 4326.
	GetContour(ctx context.Context, id model.AntennaID) ([]byte, error)
	UpsertContour(ctx context.Context, id model.AntennaID, ewkb []byte) error

	// Stats
	Counts(ctx context.Context) (Counts, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Counts summarizes the stored dataset.
type Counts struct {
	Antennas int `json:"antennas"`
	Contours int `json:"contours"`
}

// Config selects and configures a store backend.
type Config struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// Open creates the store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "antennas.db"
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, cfg.MaxConns)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

func joinChannels(ch []string) string {
	return strings.Join(ch, ",")
}

func splitChannels(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAntenna(row scannable) (model.Antenna, error) {
	var a model.Antenna
	var country, channels string
	err := row.Scan(&country, &a.ID.Index, &a.Description, &channels, &a.PowerKW, &a.Position.Lat, &a.Position.Lon)
	if err != nil {
		return a, err
	}
	a.ID.Country = model.Country(country)
	a.Channels = splitChannels(channels)
	return a, nil
}
