package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/antenna-proximity/internal/catalog"
	"github.com/sells-group/antenna-proximity/internal/config"
	"github.com/sells-group/antenna-proximity/internal/contour"
	"github.com/sells-group/antenna-proximity/internal/fetcher"
	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/monitoring"
	"github.com/sells-group/antenna-proximity/internal/proximity"
	"github.com/sells-group/antenna-proximity/internal/resilience"
	"github.com/sells-group/antenna-proximity/internal/store"
)

// pipelineEnv holds the shared components every resolver is built on.
type pipelineEnv struct {
	Store    store.Store
	Catalog  *catalog.Catalog
	Oracle   *contour.Oracle
	Metrics  *monitoring.Metrics
	Registry *prometheus.Registry
}

func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:      cfg.Store.Driver,
		DatabaseURL: cfg.Store.DatabaseURL,
		MaxConns:    cfg.Store.MaxConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline opens the store and wires the catalog, contour oracle and
// metrics. The catalog starts empty; callers load it.
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	metrics, err := monitoring.NewMetrics(reg)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "register metrics")
	}

	cat := catalog.New(
		catalog.WithSiteRadius(cfg.Catalog.SiteRadiusM),
		catalog.WithRetry(retryConfig(cfg.Retry)),
	)
	oracle := contour.New(st, contour.WithCircuitBreaker(newContourBreaker(cfg.Circuit)))

	return &pipelineEnv{
		Store:    st,
		Catalog:  cat,
		Oracle:   oracle,
		Metrics:  metrics,
		Registry: reg,
	}, nil
}

func (e *pipelineEnv) Close() {
	if e.Store == nil {
		return
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// resolverOptions translates the proximity configuration into resolver options.
func (e *pipelineEnv) resolverOptions() []proximity.Option {
	return resolverOptions(cfg, e.Metrics)
}

func resolverOptions(c *config.Config, m *monitoring.Metrics) []proximity.Option {
	return []proximity.Option{
		proximity.WithPreferences(c.Preferences.Preferences()),
		proximity.WithValidityRadius(c.Proximity.ValidityRadiusM),
		proximity.WithRetryDelay(c.Proximity.RetryDelay()),
		proximity.WithRepublishDelay(c.Proximity.RepublishDelay()),
		proximity.WithIdleTimeout(c.Proximity.IdleTimeout()),
		proximity.WithContourCountries(contourCountries(c.Proximity.ContourCountries)...),
		proximity.WithMetrics(m),
	}
}

func contourCountries(codes []string) []model.Country {
	out := make([]model.Country, 0, len(codes))
	for _, c := range codes {
		if country := model.ParseCountry(c); country != "" {
			out = append(out, country)
		}
	}
	return out
}

func retryConfig(c config.RetryConfig) resilience.RetryConfig {
	rc := resilience.DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		rc.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		rc.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		rc.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	return rc
}

func newContourBreaker(c config.CircuitConfig) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: c.FailureThreshold,
		ResetTimeout:     time.Duration(c.ResetTimeoutSecs) * time.Second,
		ShouldTrip:       contour.ShouldTrip,
		OnStateChange: func(from, to resilience.CircuitState) {
			zap.L().Warn("contour store circuit changed state",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
}

// newFetcher builds the dataset fetcher used by import and watch.
func newFetcher(c *config.Config) *fetcher.Mux {
	rc := retryConfig(c.Retry)
	return fetcher.NewMux(fetcher.Options{
		HTTP: fetcher.HTTPOptions{
			UserAgent: c.Fetch.UserAgent,
			Timeout:   time.Duration(c.Fetch.HTTPTimeoutSecs) * time.Second,
			Retry:     rc,
		},
		FTP: fetcher.FTPOptions{
			Timeout: time.Duration(c.Fetch.FTPTimeoutSecs) * time.Second,
			Retry:   rc,
		},
	})
}
