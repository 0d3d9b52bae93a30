//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/antenna-proximity/internal/monitoring"
)

func TestPrintStatus_Text(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, "text", "sqlite", &monitoring.Snapshot{StoredAntennas: 4, StoredContours: 1}))

	out := buf.String()
	assert.Contains(t, out, "Store:    sqlite")
	assert.Contains(t, out, "Antennas: 4")
	assert.Contains(t, out, "Contours: 1 (25.0% of antennas)")
}

func TestPrintStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, "", "postgres", &monitoring.Snapshot{}))
	assert.Contains(t, buf.String(), "(n/a of antennas)")
}

func TestPrintStatus_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, "json", "sqlite", &monitoring.Snapshot{StoredAntennas: 2, StoredContours: 2}))

	var rep statusReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rep))
	assert.Equal(t, statusReport{Driver: "sqlite", Antennas: 2, Contours: 2, Coverage: "100.0%"}, rep)
}

func TestPrintStatus_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printStatus(&buf, "yaml", "sqlite", &monitoring.Snapshot{StoredAntennas: 1}))
	assert.Contains(t, buf.String(), "contour_coverage: 0.0%")
}

func TestPrintStatus_Unsupported(t *testing.T) {
	err := printStatus(&bytes.Buffer{}, "csv", "sqlite", &monitoring.Snapshot{})
	assert.Error(t, err)
}

func TestStatusCommand_EmptyStore(t *testing.T) {
	useTestConfig(t)
	statusCmd.SetContext(context.Background())

	require.NoError(t, statusCmd.Flags().Set("format", "json"))
	t.Cleanup(func() { _ = statusCmd.Flags().Set("format", "text") })
	require.NoError(t, statusCmd.RunE(statusCmd, nil))
}
