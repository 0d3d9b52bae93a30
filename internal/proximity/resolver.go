// Package proximity keeps a live list of the antennas around a moving
// observer, split into near and far by whether the observer lies inside each
// antenna's broadcast contour.
//
// A Resolver owns a single loop goroutine. Position and preference updates,
// worker results and timer fires are all posted to that loop, so the cache
// is only ever touched from one goroutine. Contour tests are expensive and
// run on a background Worker; until an antenna has been evaluated it is
// listed as near and the list is re-published once results arrive.
package proximity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/antenna-proximity/internal/geo"
	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/monitoring"
)

// Defaults for resolver timing and cache validity.
const (
	DefaultValidityRadius = 200.0
	DefaultRetryDelay     = 100 * time.Millisecond
	DefaultRepublishDelay = 2000 * time.Millisecond
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithPreferences sets the initial preferences.
func WithPreferences(p model.Preferences) Option {
	return func(r *Resolver) { r.prefs = p }
}

// WithValidityRadius sets how far in meters the observer may move before
// cached classifications are re-evaluated.
func WithValidityRadius(meters float64) Option {
	return func(r *Resolver) {
		if meters > 0 {
			r.validity = meters
		}
	}
}

// WithRetryDelay sets the delay before retrying a round whose source was not ready.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.retry.delay = d
		}
	}
}

// WithRepublishDelay sets the window over which worker results are batched
// into one re-publish.
func WithRepublishDelay(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.republish.delay = d
		}
	}
}

// WithIdleTimeout sets how long the worker waits for work before exiting.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.idle = d }
}

// WithContourCountries sets the countries whose antennas get contour checks.
// Antennas of every other country are always near.
func WithContourCountries(countries ...model.Country) Option {
	return func(r *Resolver) {
		r.contourCountries = make(map[model.Country]bool, len(countries))
		for _, c := range countries {
			r.contourCountries[c] = true
		}
	}
}

// WithMetrics records resolver and worker activity in m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// OnReady registers fn to run once, on the resolver loop, after the first
// successful publish.
func OnReady(fn func()) Option {
	return func(r *Resolver) { r.onReady = fn }
}

type eventKind int

const (
	evPosition eventKind = iota
	evPreferences
	evRefresh
	evReset
	evResult
	evRetry
	evRepublish
)

type event struct {
	kind   eventKind
	pos    model.Position
	prefs  model.Preferences
	result Result
	gen    uint64
}

// Resolver classifies the antennas around an observer and publishes the
// ordered list to one subscriber.
type Resolver struct {
	source  Source
	metrics *monitoring.Metrics
	log     *zap.Logger
	onReady func()

	validity         float64
	idle             time.Duration
	contourCountries map[model.Country]bool

	events   chan event
	out      chan []Listed
	latest   atomic.Pointer[[]Listed]
	observer atomic.Pointer[model.Position]
	ready    chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	outOnce   sync.Once

	// Loop-owned state.
	pos       *model.Position
	prefs     model.Preferences
	cache     *Cache
	cacheGen  uint64
	worker    *Worker
	retry     pendingCall
	republish pendingCall
	published bool
}

// New creates a resolver. It does nothing until Start is called.
func New(source Source, oracle Oracle, opts ...Option) *Resolver {
	r := &Resolver{
		source:           source,
		log:              zap.L().With(zap.String("component", "proximity.resolver")),
		validity:         DefaultValidityRadius,
		idle:             DefaultIdleTimeout,
		contourCountries: map[model.Country]bool{model.CountryUS: true},
		events:           make(chan event, 16),
		out:              make(chan []Listed, 1),
		ready:            make(chan struct{}),
		done:             make(chan struct{}),
		prefs:            model.DefaultPreferences(),
		cache:            NewCache(),
		retry:            pendingCall{delay: DefaultRetryDelay},
		republish:        pendingCall{delay: DefaultRepublishDelay},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	r.worker = NewWorker(r.ctx, oracle, r.idle, r.currentPosition, r.deliver, r.metrics)
	return r
}

// Start runs the resolver loop until ctx is done or Close is called.
func (r *Resolver) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.started.Store(true)
		stop := context.AfterFunc(ctx, r.cancel)
		go func() {
			defer stop()
			r.run()
		}()
	})
}

// Close tears the resolver down: pending timers are cancelled, the worker is
// stopped and the contour dataset released. No result is published after
// Close returns. The subscription channel is closed.
func (r *Resolver) Close() {
	r.cancel()
	if r.started.Load() {
		<-r.done
		return
	}
	r.outOnce.Do(func() { close(r.out) })
}

// SetObserverPosition replaces the observer position and recomputes the list.
// Pending retries and re-publishes are dropped; the new round supersedes them.
func (r *Resolver) SetObserverPosition(pos model.Position) {
	r.post(event{kind: evPosition, pos: pos})
}

// SetPreferences replaces the preferences and recomputes the list.
func (r *Resolver) SetPreferences(p model.Preferences) {
	r.post(event{kind: evPreferences, prefs: p})
}

// Refresh recomputes the list from the current state.
func (r *Resolver) Refresh() {
	r.post(event{kind: evRefresh})
}

// Reset forgets every cached classification and recomputes the list.
func (r *Resolver) Reset() {
	r.post(event{kind: evReset})
}

// Subscribe returns the channel results are published on. The channel holds
// only the most recent list; a slow reader skips intermediate ones.
func (r *Resolver) Subscribe() <-chan []Listed {
	return r.out
}

// Latest returns the most recently published list.
func (r *Resolver) Latest() ([]Listed, bool) {
	p := r.latest.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// Ready is closed after the first successful publish.
func (r *Resolver) Ready() <-chan struct{} {
	return r.ready
}

// Done is closed once the resolver has torn down.
func (r *Resolver) Done() <-chan struct{} {
	return r.done
}

func (r *Resolver) post(ev event) bool {
	select {
	case r.events <- ev:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (r *Resolver) deliver(_ context.Context, res Result) bool {
	return r.post(event{kind: evResult, result: res})
}

func (r *Resolver) currentPosition() model.Position {
	if p := r.observer.Load(); p != nil {
		return *p
	}
	return model.Position{}
}

func (r *Resolver) run() {
	defer close(r.done)
	defer r.outOnce.Do(func() { close(r.out) })
	defer r.teardown()

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.events:
			if r.ctx.Err() != nil {
				return
			}
			r.handle(ev)
		}
	}
}

func (r *Resolver) teardown() {
	r.retry.cancel()
	r.republish.cancel()
	r.worker.Stop()
	r.log.Debug("resolver closed", zap.Int("cached", r.cache.Len()))
}

func (r *Resolver) handle(ev event) {
	switch ev.kind {
	case evPosition:
		r.retry.cancel()
		r.republish.cancel()
		pos := ev.pos
		r.pos = &pos
		r.observer.Store(&pos)
		r.process()
	case evPreferences:
		r.prefs = ev.prefs
		r.process()
	case evRefresh:
		r.process()
	case evReset:
		r.cache.Clear()
		r.cacheGen++
		r.process()
	case evResult:
		// Results queued before the last renewal may be for evicted antennas.
		if ev.result.Gen != r.cacheGen {
			r.log.Debug("dropping stale contour result", zap.Stringer("antenna", ev.result.ID))
			return
		}
		r.cache.Put(ev.result.ID, ev.result.Near)
		r.republish.schedule(func(gen uint64) {
			r.post(event{kind: evRepublish, gen: gen})
		})
	case evRetry:
		if r.retry.fired(ev.gen) {
			r.process()
		}
	case evRepublish:
		if r.republish.fired(ev.gen) {
			r.metrics.IncRepublishes()
			r.process()
		}
	}
}

// process runs one classification round.
func (r *Resolver) process() {
	if r.pos == nil {
		return
	}
	pos := *r.pos

	candidates, err := r.source.Near(r.ctx, pos, r.prefs.MaxDistance, r.prefs.PreferFewer)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrNotReady):
			r.metrics.ObserveRound(monitoring.RoundNotReady)
			if r.retry.schedule(func(gen uint64) { r.post(event{kind: evRetry, gen: gen}) }) {
				r.log.Debug("antenna source not ready, retrying", zap.Duration("delay", r.retry.delay))
			}
		case r.ctx.Err() != nil:
		default:
			r.metrics.ObserveRound(monitoring.RoundFailed)
			r.log.Warn("antenna query failed", zap.Stringer("position", pos), zap.Error(err))
		}
		return
	}

	ids := model.IDs(candidates)
	refresh, evicted := r.cache.Revalidate(pos, r.validity, ids)
	if refresh {
		r.cacheGen++
		dropped := r.worker.Retain(ids)
		r.metrics.ObserveRenewal(evicted)
		r.log.Debug("renewing proximity cache",
			zap.Int("evicted", evicted),
			zap.Int("retained", r.cache.Len()),
			zap.Int("dequeued", dropped),
		)
	}

	r.publish(r.classify(pos, candidates, refresh))
	r.metrics.ObserveRound(monitoring.RoundPublished)
}

// classify lists near antennas before far ones, keeping source order within
// each group. Antennas without a trusted cache entry are listed as near and
// queued for evaluation.
func (r *Resolver) classify(pos model.Position, candidates []model.Antenna, refresh bool) []Listed {
	near := make([]Listed, 0, len(candidates))
	var far []Listed
	for _, a := range candidates {
		l := Listed{
			Antenna:  a,
			Distance: geo.Distance(pos, a.Position),
			Bearing:  geo.Bearing(pos, a.Position),
		}
		if r.usesContours(a) {
			cached, ok := r.cache.Get(a.ID)
			if ok && !refresh {
				l.Far = !cached
			} else {
				r.worker.Enqueue(a, r.cacheGen)
			}
		}
		if l.Far {
			far = append(far, l)
		} else {
			near = append(near, l)
		}
	}
	return append(near, far...)
}

func (r *Resolver) usesContours(a model.Antenna) bool {
	return r.prefs.UseContours && r.contourCountries[a.Country()]
}

func (r *Resolver) publish(list []Listed) {
	r.latest.Store(&list)
	select {
	case <-r.out:
	default:
	}
	r.out <- list

	if !r.published {
		r.published = true
		close(r.ready)
		if r.onReady != nil {
			r.onReady()
		}
	}
}
