package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/antenna-proximity/internal/config"
	"github.com/sells-group/antenna-proximity/internal/store"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	collector := NewCollector(&mockCounts{}, &mockCatalog{}, nil, nil)
	checker := NewChecker(collector, nil, config.MonitoringConfig{CheckIntervalSecs: 1})

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

func TestChecker_CheckUpdatesGauges(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	collector := NewCollector(
		&mockCounts{counts: store.Counts{Antennas: 10, Contours: 4}},
		&mockCatalog{ready: true, size: 10},
		&mockOracle{decoded: 4},
		mockSessions(2),
	)
	checker := NewChecker(collector, m, config.MonitoringConfig{})
	checker.check(context.Background(), zap.NewNop())

	assert.InDelta(t, 10, testutil.ToFloat64(m.AntennasLoaded), 0.001)
	assert.InDelta(t, 4, testutil.ToFloat64(m.ContoursDecoded), 0.001)
	assert.InDelta(t, 2, testutil.ToFloat64(m.ActiveSessions), 0.001)
}

func TestChecker_CheckCollectError(t *testing.T) {
	collector := NewCollector(&mockCounts{err: assert.AnError}, nil, nil, nil)
	checker := NewChecker(collector, nil, config.MonitoringConfig{})

	assert.NotPanics(t, func() { checker.check(context.Background(), zap.NewNop()) })
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		snap   Snapshot
		checks []string
	}{
		{
			name:   "healthy",
			snap:   Snapshot{CatalogReady: true, CatalogSize: 10, StoredAntennas: 10, StoredContours: 5},
			checks: nil,
		},
		{
			name:   "not loaded",
			snap:   Snapshot{},
			checks: []string{"catalog_ready"},
		},
		{
			name:   "empty catalog without contours",
			snap:   Snapshot{CatalogReady: true, StoredAntennas: 3},
			checks: []string{"catalog_empty", "contours_missing"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, w := range Evaluate(&tt.snap) {
				got = append(got, w.Check)
			}
			assert.Equal(t, tt.checks, got)
		})
	}
}
