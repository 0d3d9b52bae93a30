// Package catalog holds the in-memory antenna index queried by the proximity
// resolver. The index loads asynchronously; until it is ready every query
// fails with model.ErrNotReady.
package catalog

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/antenna-proximity/internal/geo"
	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/resilience"
)

// DefaultSiteRadius is the distance in meters under which two antennas are
// considered to share a transmitter site.
const DefaultSiteRadius = 300.0

// Lister supplies the full antenna dataset.
type Lister interface {
	ListAntennas(ctx context.Context) ([]model.Antenna, error)
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithSiteRadius sets the co-site radius used when fewer results are preferred.
func WithSiteRadius(meters float64) Option {
	return func(c *Catalog) {
		if meters > 0 {
			c.siteRadius = meters
		}
	}
}

// WithRetry sets the retry policy used when loading the dataset.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Catalog) { c.retry = cfg }
}

// Catalog is a concurrency-safe antenna index.
type Catalog struct {
	siteRadius float64
	retry      resilience.RetryConfig

	mu       sync.RWMutex
	antennas []model.Antenna
	byID     map[model.AntennaID]int
	ready    chan struct{}
	once     sync.Once
}

// New creates an empty catalog that is not ready yet.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		siteRadius: DefaultSiteRadius,
		retry:      resilience.DefaultRetryConfig(),
		ready:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load fetches the dataset from src, retrying transient failures, and marks
// the catalog ready on success.
func (c *Catalog) Load(ctx context.Context, src Lister) error {
	retry := c.retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("catalog", "list_antennas")
	}
	antennas, err := resilience.DoVal(ctx, retry, src.ListAntennas)
	if err != nil {
		return eris.Wrap(err, "catalog: load antennas")
	}
	c.Replace(antennas)
	zap.L().Info("antenna catalog loaded",
		zap.String("component", "catalog"),
		zap.Int("antennas", len(antennas)),
	)
	return nil
}

// LoadAsync runs Load in the background. Failures are logged; the catalog
// stays not ready until a later Load or Replace succeeds.
func (c *Catalog) LoadAsync(ctx context.Context, src Lister) <-chan error {
	errc := make(chan error, 1)
	go func() {
		err := c.Load(ctx, src)
		if err != nil {
			zap.L().Warn("antenna catalog load failed",
				zap.String("component", "catalog"),
				zap.Error(err),
			)
		}
		errc <- err
		close(errc)
	}()
	return errc
}

// Replace swaps the dataset and marks the catalog ready.
func (c *Catalog) Replace(antennas []model.Antenna) {
	byID := make(map[model.AntennaID]int, len(antennas))
	for i, a := range antennas {
		byID[a.ID] = i
	}

	c.mu.Lock()
	c.antennas = slices.Clone(antennas)
	c.byID = byID
	c.mu.Unlock()

	c.once.Do(func() { close(c.ready) })
}

// Ready is closed once the dataset is available.
func (c *Catalog) Ready() <-chan struct{} {
	return c.ready
}

// IsReady reports whether the dataset is available.
func (c *Catalog) IsReady() bool {
	select {
	case <-c.ready:
		return true
	default:
		return false
	}
}

// Len returns the number of antennas in the catalog.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.antennas)
}

// Get looks up an antenna by identity.
func (c *Catalog) Get(id model.AntennaID) (model.Antenna, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return model.Antenna{}, false
	}
	return c.antennas[i], true
}

type candidate struct {
	antenna  model.Antenna
	distance float64
}

// Near returns the antennas within maxDistance meters of pos, closest first.
// With preferFewer set, antennas sharing a site collapse to the most powerful
// one.
func (c *Catalog) Near(ctx context.Context, pos model.Position, maxDistance float64, preferFewer bool) ([]model.Antenna, error) {
	if !c.IsReady() {
		return nil, model.ErrNotReady
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	minLat, minLon, maxLat, maxLon := geo.BoundingBox(pos, maxDistance)

	c.mu.RLock()
	var found []candidate
	for _, a := range c.antennas {
		p := a.Position
		if p.Lat < minLat || p.Lat > maxLat || !lonInRange(p.Lon, minLon, maxLon) {
			continue
		}
		d := geo.Distance(pos, p)
		if d > maxDistance {
			continue
		}
		found = append(found, candidate{antenna: a, distance: d})
	}
	c.mu.RUnlock()

	if preferFewer {
		found = collapseSites(found, c.siteRadius)
	}

	slices.SortStableFunc(found, func(a, b candidate) int {
		if r := cmp.Compare(a.distance, b.distance); r != 0 {
			return r
		}
		return compareID(a.antenna.ID, b.antenna.ID)
	})

	out := make([]model.Antenna, len(found))
	for i, f := range found {
		out[i] = f.antenna
	}
	return out, nil
}

// lonInRange handles boxes that cross the antimeridian, where the bounds run
// past ±180.
func lonInRange(lon, minLon, maxLon float64) bool {
	for _, l := range [3]float64{lon, lon + 360, lon - 360} {
		if l >= minLon && l <= maxLon {
			return true
		}
	}
	return false
}

// collapseSites keeps one antenna per site, preferring higher power and then
// lower index.
func collapseSites(found []candidate, radius float64) []candidate {
	ranked := slices.Clone(found)
	slices.SortStableFunc(ranked, func(a, b candidate) int {
		if r := cmp.Compare(b.antenna.PowerKW, a.antenna.PowerKW); r != 0 {
			return r
		}
		return compareID(a.antenna.ID, b.antenna.ID)
	})

	var kept []candidate
	for _, c := range ranked {
		shared := slices.ContainsFunc(kept, func(k candidate) bool {
			return geo.Distance(k.antenna.Position, c.antenna.Position) <= radius
		})
		if !shared {
			kept = append(kept, c)
		}
	}
	return kept
}

func compareID(a, b model.AntennaID) int {
	if r := cmp.Compare(a.Country, b.Country); r != 0 {
		return r
	}
	return cmp.Compare(a.Index, b.Index)
}
