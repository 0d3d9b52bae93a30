package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/antenna-proximity/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS antennas (
	country     TEXT    NOT NULL,
	idx         INTEGER NOT NULL,
	description TEXT    NOT NULL DEFAULT '',
	channels    TEXT    NOT NULL DEFAULT '',
	power_kw    REAL    NOT NULL DEFAULT 0,
	lat         REAL    NOT NULL,
	lon         REAL    NOT NULL,
	PRIMARY KEY (country, idx)
);

CREATE TABLE IF NOT EXISTS contours (
	country TEXT    NOT NULL,
	idx     INTEGER NOT NULL,
	geom    BLOB    NOT NULL,
	PRIMARY KEY (country, idx)
);

CREATE INDEX IF NOT EXISTS idx_antennas_lat ON antennas(lat);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ListAntennas returns every stored antenna ordered by identity.
func (s *SQLiteStore) ListAntennas(ctx context.Context) ([]model.Antenna, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT country, idx, description, channels, power_kw, lat, lon FROM antennas ORDER BY country, idx`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list antennas")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Antenna
	for rows.Next() {
		a, err := scanAntenna(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan antenna")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate antennas")
}

// UpsertAntennas inserts or replaces antennas in a single transaction.
func (s *SQLiteStore) UpsertAntennas(ctx context.Context, antennas []model.Antenna) (int64, error) {
	if len(antennas) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert antennas")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO antennas (country, idx, description, channels, power_kw, lat, lon)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (country, idx) DO UPDATE SET
			description = excluded.description,
			channels = excluded.channels,
			power_kw = excluded.power_kw,
			lat = excluded.lat,
			lon = excluded.lon`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert antennas")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, a := range antennas {
		if _, err := stmt.ExecContext(ctx, string(a.ID.Country), a.ID.Index, a.Description,
			joinChannels(a.Channels), a.PowerKW, a.Position.Lat, a.Position.Lon); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert antenna %s", a.ID)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert antennas")
	}
	return n, nil
}

// GetContour returns the EWKB contour for an antenna or ErrNotFound.
func (s *SQLiteStore) GetContour(ctx context.Context, id model.AntennaID) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT geom FROM contours WHERE country = ? AND idx = ?`,
		string(id.Country), id.Index,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: contour %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get contour %s", id)
	}
	return data, nil
}

// UpsertContour stores the EWKB contour for an antenna.
func (s *SQLiteStore) UpsertContour(ctx context.Context, id model.AntennaID, ewkb []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contours (country, idx, geom) VALUES (?, ?, ?)
		ON CONFLICT (country, idx) DO UPDATE SET geom = excluded.geom`,
		string(id.Country), id.Index, ewkb,
	)
	return eris.Wrapf(err, "sqlite: upsert contour %s", id)
}

// Counts returns the number of stored antennas and contours.
func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM antennas), (SELECT COUNT(*) FROM contours)`,
	).Scan(&c.Antennas, &c.Contours)
	return c, eris.Wrap(err, "sqlite: counts")
}
