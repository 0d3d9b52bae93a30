// Package contour serves broadcast contour membership tests backed by the
// contour store. Geometries are decoded on first use and kept while at least
// one holder has the dataset acquired.
package contour

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/antenna-proximity/internal/geo"
	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/proximity"
	"github.com/sells-group/antenna-proximity/internal/resilience"
	"github.com/sells-group/antenna-proximity/internal/store"
)

// Fetcher loads the EWKB encoded contour of an antenna.
type Fetcher interface {
	GetContour(ctx context.Context, id model.AntennaID) ([]byte, error)
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithCircuitBreaker guards contour fetches with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(o *Oracle) { o.breaker = cb }
}

// Oracle implements proximity.Oracle.
type Oracle struct {
	src     Fetcher
	breaker *resilience.CircuitBreaker
	log     *zap.Logger

	mu       sync.Mutex
	refs     int
	contours map[model.AntennaID]*geo.Contour
	opened   atomic.Int64
}

var _ proximity.Oracle = (*Oracle)(nil)

// New creates an oracle reading contours from src.
func New(src Fetcher, opts ...Option) *Oracle {
	o := &Oracle{
		src: src,
		log: zap.L().With(zap.String("component", "contour")),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.breaker == nil {
		cfg := resilience.DefaultCircuitBreakerConfig()
		cfg.ShouldTrip = ShouldTrip
		o.breaker = resilience.NewCircuitBreaker(cfg)
	}
	return o
}

// ShouldTrip reports whether a contour fetch failure counts against the
// circuit breaker. Missing contours do not.
func ShouldTrip(err error) bool {
	return !errors.Is(err, store.ErrNotFound) && !errors.Is(err, context.Canceled)
}

// Acquire takes a reference on the dataset, opening it if this is the first.
func (o *Oracle) Acquire(ctx context.Context) (proximity.ContourHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "contour: acquire")
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refs++
	if o.refs == 1 {
		o.contours = make(map[model.AntennaID]*geo.Contour)
		o.opened.Add(1)
		o.log.Debug("contour dataset opened")
	}
	return &handle{o: o}, nil
}

func (o *Oracle) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refs--
	if o.refs == 0 {
		o.log.Debug("contour dataset closed", zap.Int("decoded", len(o.contours)))
		o.contours = nil
	}
}

// Refs returns the number of outstanding handles.
func (o *Oracle) Refs() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.refs
}

// Decoded returns the number of contours held in memory.
func (o *Oracle) Decoded() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.contours)
}

// Opens returns how many times the dataset has gone from closed to open.
func (o *Oracle) Opens() int64 {
	return o.opened.Load()
}

func (o *Oracle) cached(id model.AntennaID) (*geo.Contour, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	c, ok := o.contours[id]
	return c, ok
}

func (o *Oracle) remember(id model.AntennaID, c *geo.Contour) {
	o.mu.Lock()
	defer o.mu.Unlock()
	// The dataset may have closed while the contour was loading.
	if o.contours != nil {
		o.contours[id] = c
	}
}

func (o *Oracle) load(ctx context.Context, id model.AntennaID) (*geo.Contour, error) {
	data, err := resilience.ExecuteVal(ctx, o.breaker, func(ctx context.Context) ([]byte, error) {
		return o.src.GetContour(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	c, err := geo.DecodeContour(data)
	if err != nil {
		return nil, err
	}
	o.remember(id, c)
	return c, nil
}

type handle struct {
	o    *Oracle
	once sync.Once
	done atomic.Bool
}

func (h *handle) IsInside(ctx context.Context, a model.Antenna, pos model.Position, allowLongRunning bool) (bool, error) {
	if h.done.Load() {
		return false, eris.Wrap(model.ErrContourUnknown, "contour: handle released")
	}

	c, ok := h.o.cached(a.ID)
	if !ok {
		if !allowLongRunning {
			return false, eris.Wrapf(model.ErrContourUnknown, "contour: %s not loaded", a.ID)
		}
		var err error
		c, err = h.o.load(ctx, a.ID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			h.o.log.Debug("contour unavailable", zap.Stringer("antenna", a.ID), zap.Error(err))
			return false, eris.Wrapf(model.ErrContourUnknown, "contour: %s: %v", a.ID, err)
		}
	}
	return c.Contains(pos), nil
}

func (h *handle) Release() {
	h.once.Do(func() {
		h.done.Store(true)
		h.o.release()
	})
}
