package monitoring

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/antenna-proximity/internal/store"
)

type mockCounts struct {
	counts store.Counts
	err    error
}

func (m *mockCounts) Counts(_ context.Context) (store.Counts, error) {
	return m.counts, m.err
}

type mockCatalog struct {
	ready bool
	size  int
}

func (m *mockCatalog) IsReady() bool { return m.ready }
func (m *mockCatalog) Len() int      { return m.size }

type mockOracle struct{ decoded, refs int }

func (m *mockOracle) Decoded() int { return m.decoded }
func (m *mockOracle) Refs() int    { return m.refs }

type mockSessions int

func (m mockSessions) Len() int { return int(m) }

func TestCollect(t *testing.T) {
	c := NewCollector(
		&mockCounts{counts: store.Counts{Antennas: 120, Contours: 80}},
		&mockCatalog{ready: true, size: 120},
		&mockOracle{decoded: 7, refs: 2},
		mockSessions(3),
	)

	snap, err := c.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 120, snap.StoredAntennas)
	assert.Equal(t, 80, snap.StoredContours)
	assert.True(t, snap.CatalogReady)
	assert.Equal(t, 120, snap.CatalogSize)
	assert.Equal(t, 7, snap.ContoursDecoded)
	assert.Equal(t, 2, snap.OracleRefs)
	assert.Equal(t, 3, snap.Sessions)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollect_NilSources(t *testing.T) {
	snap, err := NewCollector(nil, nil, nil, nil).Collect(context.Background())
	require.NoError(t, err)
	assert.False(t, snap.CatalogReady)
	assert.Zero(t, snap.Sessions)
}

func TestCollect_StoreError(t *testing.T) {
	c := NewCollector(&mockCounts{err: errors.New("connection refused")}, nil, nil, nil)

	_, err := c.Collect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: count dataset")
}
