// Package monitoring collects health snapshots of the antenna dataset and the
// proximity pipeline and exports them as Prometheus metrics.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/antenna-proximity/internal/store"
)

// Snapshot holds a point-in-time view of system health.
type Snapshot struct {
	// Persisted dataset.
	StoredAntennas int `json:"stored_antennas"`
	StoredContours int `json:"stored_contours"`

	// In-memory state.
	CatalogReady    bool `json:"catalog_ready"`
	CatalogSize     int  `json:"catalog_size"`
	ContoursDecoded int  `json:"contours_decoded"`
	OracleRefs      int  `json:"oracle_refs"`
	Sessions        int  `json:"sessions"`

	CollectedAt time.Time `json:"collected_at"`
}

// CountsQuerier abstracts the store method needed by the collector.
type CountsQuerier interface {
	Counts(ctx context.Context) (store.Counts, error)
}

// CatalogStatus reports on the in-memory antenna catalog.
type CatalogStatus interface {
	IsReady() bool
	Len() int
}

// OracleStatus reports on the contour dataset.
type OracleStatus interface {
	Decoded() int
	Refs() int
}

// SessionCounter reports the number of open sessions.
type SessionCounter interface {
	Len() int
}

// Collector gathers snapshots from the store and the in-memory components.
// Any source may be nil.
type Collector struct {
	store    CountsQuerier
	catalog  CatalogStatus
	oracle   OracleStatus
	sessions SessionCounter
}

// NewCollector creates a new snapshot collector.
func NewCollector(st CountsQuerier, cat CatalogStatus, oracle OracleStatus, sessions SessionCounter) *Collector {
	return &Collector{store: st, catalog: cat, oracle: oracle, sessions: sessions}
}

// Collect gathers a snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{CollectedAt: time.Now().UTC()}

	if c.store != nil {
		counts, err := c.store.Counts(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: count dataset")
		}
		snap.StoredAntennas = counts.Antennas
		snap.StoredContours = counts.Contours
	}
	if c.catalog != nil {
		snap.CatalogReady = c.catalog.IsReady()
		snap.CatalogSize = c.catalog.Len()
	}
	if c.oracle != nil {
		snap.ContoursDecoded = c.oracle.Decoded()
		snap.OracleRefs = c.oracle.Refs()
	}
	if c.sessions != nil {
		snap.Sessions = c.sessions.Len()
	}

	return snap, nil
}
