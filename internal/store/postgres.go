package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/antenna-proximity/internal/db"
	"github.com/sells-group/antenna-proximity/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = 1
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS antennas (
	country     TEXT             NOT NULL,
	idx         INTEGER          NOT NULL,
	description TEXT             NOT NULL DEFAULT '',
	channels    TEXT             NOT NULL DEFAULT '',
	power_kw    DOUBLE PRECISION NOT NULL DEFAULT 0,
	lat         DOUBLE PRECISION NOT NULL,
	lon         DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (country, idx)
);

CREATE TABLE IF NOT EXISTS contours (
	country TEXT    NOT NULL,
	idx     INTEGER NOT NULL,
	geom    BYTEA   NOT NULL,
	PRIMARY KEY (country, idx)
);

CREATE INDEX IF NOT EXISTS idx_antennas_lat ON antennas(lat);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ListAntennas returns every stored antenna ordered by identity.
func (s *PostgresStore) ListAntennas(ctx context.Context) ([]model.Antenna, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT country, idx, description, channels, power_kw, lat, lon FROM antennas ORDER BY country, idx`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list antennas")
	}
	defer rows.Close()

	var out []model.Antenna
	for rows.Next() {
		a, err := scanAntenna(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan antenna")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate antennas")
}

var antennaUpsert = db.UpsertConfig{
	Table:        "antennas",
	Columns:      []string{"country", "idx", "description", "channels", "power_kw", "lat", "lon"},
	ConflictKeys: []string{"country", "idx"},
}

// UpsertAntennas bulk-upserts antennas through a COPY into a temp table.
func (s *PostgresStore) UpsertAntennas(ctx context.Context, antennas []model.Antenna) (int64, error) {
	rows := make([][]any, len(antennas))
	for i, a := range antennas {
		rows[i] = []any{string(a.ID.Country), a.ID.Index, a.Description,
			joinChannels(a.Channels), a.PowerKW, a.Position.Lat, a.Position.Lon}
	}
	n, err := db.BulkUpsert(ctx, s.pool, antennaUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert antennas")
}

// GetContour returns the EWKB contour for an antenna or ErrNotFound.
func (s *PostgresStore) GetContour(ctx context.Context, id model.AntennaID) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT geom FROM contours WHERE country = $1 AND idx = $2`,
		string(id.Country), id.Index,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: contour %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get contour %s", id)
	}
	return data, nil
}

// UpsertContour stores the EWKB contour for an antenna.
func (s *PostgresStore) UpsertContour(ctx context.Context, id model.AntennaID, ewkb []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO contours (country, idx, geom) VALUES ($1, $2, $3)
		ON CONFLICT (country, idx) DO UPDATE SET geom = EXCLUDED.geom`,
		string(id.Country), id.Index, ewkb,
	)
	return eris.Wrapf(err, "postgres: upsert contour %s", id)
}

// Counts returns the number of stored antennas and contours.
func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM antennas), (SELECT COUNT(*) FROM contours)`,
	).Scan(&c.Antennas, &c.Contours)
	return c, eris.Wrap(err, "postgres: counts")
}
