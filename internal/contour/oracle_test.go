package contour

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/antenna-proximity/internal/geo"
	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/resilience"
	"github.com/sells-group/antenna-proximity/internal/store"
)

var (
	covered = model.Antenna{ID: model.AntennaID{Country: model.CountryUS, Index: 1}}
	missing = model.Antenna{ID: model.AntennaID{Country: model.CountryUS, Index: 2}}
)

type fakeFetcher struct {
	mu       sync.Mutex
	contours map[model.AntennaID][]byte
	err      error
	calls    atomic.Int32
}

func (f *fakeFetcher) GetContour(_ context.Context, id model.AntennaID) ([]byte, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.contours[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return data, nil
}

// unitSquare covers lon/lat 0..1.
func unitSquare(t *testing.T) []byte {
	t.Helper()
	p, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{
		{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}},
	})
	require.NoError(t, err)
	c, err := geo.NewContour(p)
	require.NoError(t, err)
	data, err := c.EWKB()
	require.NoError(t, err)
	return data
}

func newFetcher(t *testing.T) *fakeFetcher {
	return &fakeFetcher{contours: map[model.AntennaID][]byte{covered.ID: unitSquare(t)}}
}

func TestIsInside_LoadsAndMemoizes(t *testing.T) {
	src := newFetcher(t)
	o := New(src)
	ctx := context.Background()

	h, err := o.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	inside, err := h.IsInside(ctx, covered, model.Position{Lat: 0.5, Lon: 0.5}, true)
	require.NoError(t, err)
	assert.True(t, inside)

	inside, err = h.IsInside(ctx, covered, model.Position{Lat: 2, Lon: 2}, false)
	require.NoError(t, err)
	assert.False(t, inside)

	assert.Equal(t, int32(1), src.calls.Load())
	assert.Equal(t, 1, o.Decoded())
}

func TestIsInside_NotLoadedWithoutLongRunning(t *testing.T) {
	src := newFetcher(t)
	o := New(src)
	ctx := context.Background()

	h, err := o.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	_, err = h.IsInside(ctx, covered, model.Position{Lat: 0.5, Lon: 0.5}, false)
	assert.ErrorIs(t, err, model.ErrContourUnknown)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestIsInside_MissingContourIsUnknown(t *testing.T) {
	o := New(newFetcher(t))
	ctx := context.Background()

	h, err := o.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	_, err = h.IsInside(ctx, missing, model.Position{}, true)
	assert.ErrorIs(t, err, model.ErrContourUnknown)
}

func TestIsInside_StoreFailureOpensCircuit(t *testing.T) {
	src := newFetcher(t)
	src.err = errors.New("disk on fire")
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2, ShouldTrip: ShouldTrip})
	o := New(src, WithCircuitBreaker(cb))
	ctx := context.Background()

	h, err := o.Acquire(ctx)
	require.NoError(t, err)
	defer h.Release()

	for range 4 {
		_, err = h.IsInside(ctx, covered, model.Position{}, true)
		assert.ErrorIs(t, err, model.ErrContourUnknown)
	}
	assert.Equal(t, resilience.CircuitOpen, cb.State())
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestShouldTrip(t *testing.T) {
	assert.False(t, ShouldTrip(store.ErrNotFound))
	assert.False(t, ShouldTrip(context.Canceled))
	assert.True(t, ShouldTrip(errors.New("boom")))
}

func TestAcquireRelease_RefCounting(t *testing.T) {
	src := newFetcher(t)
	o := New(src)
	ctx := context.Background()

	h1, err := o.Acquire(ctx)
	require.NoError(t, err)
	h2, err := o.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, o.Refs())
	assert.Equal(t, int64(1), o.Opens())

	_, err = h1.IsInside(ctx, covered, model.Position{Lat: 0.5, Lon: 0.5}, true)
	require.NoError(t, err)

	h1.Release()
	h1.Release()
	assert.Equal(t, 1, o.Refs())
	assert.Equal(t, 1, o.Decoded())

	_, err = h1.IsInside(ctx, covered, model.Position{Lat: 0.5, Lon: 0.5}, true)
	assert.ErrorIs(t, err, model.ErrContourUnknown)

	h2.Release()
	assert.Equal(t, 0, o.Refs())
	assert.Equal(t, 0, o.Decoded())

	h3, err := o.Acquire(ctx)
	require.NoError(t, err)
	defer h3.Release()
	assert.Equal(t, int64(2), o.Opens())
}

func TestAcquire_CancelledContext(t *testing.T) {
	o := New(newFetcher(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, o.Refs())
}
