package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/antenna-proximity/internal/config"
)

// Warning is a health problem found in a snapshot.
type Warning struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}

// Checker periodically collects snapshots, updates the dataset gauges and
// logs health warnings.
type Checker struct {
	collector *Collector
	metrics   *Metrics
	cfg       config.MonitoringConfig
}

// NewChecker creates a background health checker. metrics may be nil.
func NewChecker(collector *Collector, metrics *Metrics, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect snapshot", zap.Error(err))
		return
	}
	c.metrics.SetSnapshot(snap)

	warnings := Evaluate(snap)
	for _, w := range warnings {
		log.Warn("monitoring: "+w.Message, zap.String("check", w.Check))
	}
	if len(warnings) == 0 {
		log.Debug("monitoring: healthy",
			zap.Int("antennas", snap.CatalogSize),
			zap.Int("sessions", snap.Sessions),
		)
	}
}

// Evaluate inspects a snapshot for conditions that degrade classification.
func Evaluate(snap *Snapshot) []Warning {
	var warnings []Warning
	if !snap.CatalogReady {
		warnings = append(warnings, Warning{
			Check:   "catalog_ready",
			Message: "antenna catalog not loaded, resolvers are retrying",
		})
	} else if snap.CatalogSize == 0 {
		warnings = append(warnings, Warning{
			Check:   "catalog_empty",
			Message: "antenna catalog is empty",
		})
	}
	if snap.StoredAntennas > 0 && snap.StoredContours == 0 {
		warnings = append(warnings, Warning{
			Check:   "contours_missing",
			Message: "no contours stored, contour antennas will stay near",
		})
	}
	return warnings
}
