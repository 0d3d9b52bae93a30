package proximity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/antenna-proximity/internal/model"
)

var (
	origin = model.Position{Lat: 40, Lon: -74}

	antX = model.Antenna{ID: model.AntennaID{Country: model.CountryAR, Index: 1}, Position: model.Position{Lat: 40.01, Lon: -74}}
	antY = model.Antenna{ID: model.AntennaID{Country: model.CountryUS, Index: 1}, Position: model.Position{Lat: 40.02, Lon: -74}}
	antZ = model.Antenna{ID: model.AntennaID{Country: model.CountryUS, Index: 2}, Position: model.Position{Lat: 40.03, Lon: -74}}
)

// north returns a position meters north of p.
func north(p model.Position, meters float64) model.Position {
	return model.Position{Lat: p.Lat + meters/111195, Lon: p.Lon}
}

type fakeSource struct {
	mu       sync.Mutex
	antennas []model.Antenna
	notReady int
	err      error
	calls    atomic.Int32
}

func (s *fakeSource) Near(_ context.Context, _ model.Position, _ float64, _ bool) ([]model.Antenna, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notReady > 0 {
		s.notReady--
		return nil, model.ErrNotReady
	}
	if s.err != nil {
		return nil, s.err
	}
	return append([]model.Antenna(nil), s.antennas...), nil
}

func (s *fakeSource) set(antennas ...model.Antenna) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.antennas = antennas
}

func (s *fakeSource) setNotReady(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notReady = n
}

type fakeOracle struct {
	mu         sync.Mutex
	inside     map[model.AntennaID]bool
	unknown    map[model.AntennaID]bool
	block      map[model.AntennaID]bool
	gate       map[model.AntennaID]chan struct{}
	evals      map[model.AntennaID]int
	acquireErr error

	entered  chan model.AntennaID
	acquired atomic.Int32
	released atomic.Int32
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		inside:  make(map[model.AntennaID]bool),
		unknown: make(map[model.AntennaID]bool),
		block:   make(map[model.AntennaID]bool),
		gate:    make(map[model.AntennaID]chan struct{}),
		evals:   make(map[model.AntennaID]int),
		entered: make(chan model.AntennaID, 8),
	}
}

func (o *fakeOracle) Acquire(_ context.Context) (ContourHandle, error) {
	o.mu.Lock()
	err := o.acquireErr
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}
	o.acquired.Add(1)
	return &fakeHandle{o: o}, nil
}

func (o *fakeOracle) refs() int32 {
	return o.acquired.Load() - o.released.Load()
}

func (o *fakeOracle) evalCount(id model.AntennaID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.evals[id]
}

type fakeHandle struct {
	o    *fakeOracle
	once sync.Once
}

func (h *fakeHandle) IsInside(ctx context.Context, a model.Antenna, _ model.Position, _ bool) (bool, error) {
	o := h.o
	o.mu.Lock()
	o.evals[a.ID]++
	blocking, unknown, inside := o.block[a.ID], o.unknown[a.ID], o.inside[a.ID]
	gate := o.gate[a.ID]
	o.mu.Unlock()

	// A gated evaluation is held until the gate is closed, then answers normally.
	if gate != nil {
		o.entered <- a.ID
		select {
		case <-gate:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}

	if blocking {
		o.entered <- a.ID
		<-ctx.Done()
		return false, ctx.Err()
	}
	if unknown {
		return false, model.ErrContourUnknown
	}
	return inside, nil
}

func (h *fakeHandle) Release() {
	h.once.Do(func() { h.o.released.Add(1) })
}

const (
	testRetryDelay     = 10 * time.Millisecond
	testRepublishDelay = 100 * time.Millisecond
	testIdleTimeout    = 500 * time.Millisecond
)

func newTestResolver(t *testing.T, src Source, oracle Oracle, opts ...Option) *Resolver {
	t.Helper()
	base := []Option{
		WithRetryDelay(testRetryDelay),
		WithRepublishDelay(testRepublishDelay),
		WithIdleTimeout(testIdleTimeout),
	}
	r := New(src, oracle, append(base, opts...)...)
	r.Start(context.Background())
	t.Cleanup(r.Close)
	return r
}

func next(t *testing.T, r *Resolver) []Listed {
	t.Helper()
	select {
	case list, ok := <-r.Subscribe():
		require.True(t, ok, "subscription closed")
		return list
	case <-time.After(2 * time.Second):
		t.Fatal("no list published")
		return nil
	}
}

// summary renders a list as "ID state" strings.
func summary(list []Listed) []string {
	out := make([]string, len(list))
	for i, l := range list {
		state := "near"
		if l.Far {
			state = "far"
		}
		out[i] = fmt.Sprintf("%s %s", l.Antenna.ID, state)
	}
	return out
}
