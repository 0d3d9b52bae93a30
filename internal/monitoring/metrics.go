package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

// Round outcomes recorded by the proximity resolver.
const (
	RoundPublished = "published"
	RoundNotReady  = "not_ready"
	RoundFailed    = "failed"
)

// Evaluation outcomes recorded by the classification worker.
const (
	EvalInside    = "inside"
	EvalOutside   = "outside"
	EvalUnknown   = "unknown"
	EvalCancelled = "cancelled"
)

// Metrics exposes proximity pipeline metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	Rounds             *prometheus.CounterVec
	Evaluations        *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	QueueDepth         prometheus.Gauge
	ActiveWorkers      prometheus.Gauge
	CacheRenewals      prometheus.Counter
	CacheEvictions     prometheus.Counter
	Republishes        prometheus.Counter

	AntennasLoaded  prometheus.Gauge
	ContoursDecoded prometheus.Gauge
	ActiveSessions  prometheus.Gauge
}

// NewMetrics registers the proximity metrics against reg. Collectors that are
// already registered are reused, so several resolvers can share a registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	m := &Metrics{gatherer: gatherer}
	var err error

	if m.Rounds, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proximity_rounds_total",
		Help: "Classification rounds run by proximity resolvers, by outcome.",
	}, []string{"outcome"}), "proximity_rounds_total"); err != nil {
		return nil, err
	}
	if m.Evaluations, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proximity_contour_evaluations_total",
		Help: "Contour membership evaluations performed by classification workers, by outcome.",
	}, []string{"outcome"}), "proximity_contour_evaluations_total"); err != nil {
		return nil, err
	}
	if m.EvaluationDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "proximity_contour_evaluation_duration_seconds",
		Help:    "Duration of contour membership evaluations.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}), "proximity_contour_evaluation_duration_seconds"); err != nil {
		return nil, err
	}
	if m.QueueDepth, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proximity_queue_depth",
		Help: "Antennas waiting for contour evaluation.",
	}), "proximity_queue_depth"); err != nil {
		return nil, err
	}
	if m.ActiveWorkers, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proximity_workers_active",
		Help: "Classification workers currently running.",
	}), "proximity_workers_active"); err != nil {
		return nil, err
	}
	if m.CacheRenewals, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proximity_cache_renewals_total",
		Help: "Cache renewals caused by observer displacement.",
	}), "proximity_cache_renewals_total"); err != nil {
		return nil, err
	}
	if m.CacheEvictions, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proximity_cache_evictions_total",
		Help: "Cache entries evicted because their antenna left the candidate set.",
	}), "proximity_cache_evictions_total"); err != nil {
		return nil, err
	}
	if m.Republishes, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proximity_republishes_total",
		Help: "Debounced re-publishes triggered by worker results.",
	}), "proximity_republishes_total"); err != nil {
		return nil, err
	}
	if m.AntennasLoaded, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "antennas_loaded",
		Help: "Antennas held in the in-memory catalog.",
	}), "antennas_loaded"); err != nil {
		return nil, err
	}
	if m.ContoursDecoded, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "contours_decoded",
		Help: "Contour geometries decoded and held in memory.",
	}), "contours_decoded"); err != nil {
		return nil, err
	}
	if m.ActiveSessions, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proximity_sessions_active",
		Help: "Open client sessions, each owning one resolver.",
	}), "proximity_sessions_active"); err != nil {
		return nil, err
	}

	return m, nil
}

// Gatherer returns the gatherer the metrics were registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return nil
	}
	return m.gatherer
}

// ObserveRound counts one resolver round.
func (m *Metrics) ObserveRound(outcome string) {
	if m == nil {
		return
	}
	m.Rounds.WithLabelValues(outcome).Inc()
}

// ObserveEvaluation counts one contour evaluation and its duration.
func (m *Metrics) ObserveEvaluation(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(outcome).Inc()
	m.EvaluationDuration.Observe(d.Seconds())
}

// AddQueued adjusts the queue depth gauge by delta.
func (m *Metrics) AddQueued(delta int) {
	if m == nil {
		return
	}
	m.QueueDepth.Add(float64(delta))
}

// WorkerStarted marks a classification worker as running.
func (m *Metrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Inc()
}

// WorkerStopped marks a classification worker as exited.
func (m *Metrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.ActiveWorkers.Dec()
}

// ObserveRenewal counts a displacement-triggered cache renewal and the entries
// it evicted.
func (m *Metrics) ObserveRenewal(evicted int) {
	if m == nil {
		return
	}
	m.CacheRenewals.Inc()
	m.CacheEvictions.Add(float64(evicted))
}

// IncRepublishes counts a debounced re-publish.
func (m *Metrics) IncRepublishes() {
	if m == nil {
		return
	}
	m.Republishes.Inc()
}

// SetSnapshot updates the dataset gauges from a snapshot.
func (m *Metrics) SetSnapshot(s *Snapshot) {
	if m == nil || s == nil {
		return
	}
	m.AntennasLoaded.Set(float64(s.CatalogSize))
	m.ContoursDecoded.Set(float64(s.ContoursDecoded))
	m.ActiveSessions.Set(float64(s.Sessions))
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, eris.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, eris.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, eris.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, eris.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}
