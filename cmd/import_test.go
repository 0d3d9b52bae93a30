//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/antenna-proximity/internal/fetcher"
	"github.com/sells-group/antenna-proximity/internal/model"
	"github.com/sells-group/antenna-proximity/internal/store"
)

const antennaCSV = `country,index,description,channels,power_kw,lat,lon
US,1,WNBC,4|28,35.5,40.7484,-73.9857
US,2,WABC,7,20,40.7488,-73.9860
US,3,broken,,,not-a-lat,-73.9
`

func writeTestShapefile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "contours.shp")

	w, err := shp.Create(path, shp.POLYGON)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("COUNTRY", 2),
		shp.NumberField("ANTENNA", 10),
	}))

	points := []shp.Point{{X: -74.5, Y: 40.5}, {X: -74.5, Y: 41}, {X: -73.5, Y: 41}, {X: -73.5, Y: 40.5}, {X: -74.5, Y: 40.5}}
	row := w.Write(&shp.Polygon{
		Box:       shp.Box{MinX: -74.5, MinY: 40.5, MaxX: -73.5, MaxY: 41},
		NumParts:  1,
		NumPoints: int32(len(points)),
		Parts:     []int32{0},
		Points:    points,
	})
	require.NoError(t, w.WriteAttribute(int(row), 0, "US"))
	require.NoError(t, w.WriteAttribute(int(row), 1, 1))
	w.Close()

	return path
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "antennas.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRunImport_AntennasAndContours(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "antennas.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(antennaCSV), 0o644))
	shpPath := writeTestShapefile(t, dir)

	st := newTestStore(t)
	ctx := context.Background()

	res, err := runImport(ctx, st, fetcher.NewMux(fetcher.Options{}), importOptions{
		Antennas: csvPath,
		Contours: shpPath,
		TempDir:  filepath.Join(dir, "work"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Antennas)
	assert.Equal(t, 1, res.Contours)

	antennas, err := st.ListAntennas(ctx)
	require.NoError(t, err)
	require.Len(t, antennas, 2)
	assert.Equal(t, []string{"4", "28"}, antennas[0].Channels)

	data, err := st.GetContour(ctx, model.AntennaID{Country: model.CountryUS, Index: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	counts, err := st.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Counts{Antennas: 2, Contours: 1}, counts)
}

func TestRunImport_AntennasOnly(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "antennas.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(antennaCSV), 0o644))

	st := newTestStore(t)
	res, err := runImport(context.Background(), st, fetcher.NewMux(fetcher.Options{}), importOptions{
		Antennas: csvPath,
		TempDir:  dir,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Antennas)
	assert.Zero(t, res.Contours)
}

func TestRunImport_StrictFailsOnBadRow(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "antennas.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(antennaCSV), 0o644))

	st := newTestStore(t)
	_, err := runImport(context.Background(), st, fetcher.NewMux(fetcher.Options{}), importOptions{
		Antennas: csvPath,
		TempDir:  dir,
		Strict:   true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import: read antennas")
}

func TestRunImport_MissingContours(t *testing.T) {
	dir := t.TempDir()
	st := newTestStore(t)

	_, err := runImport(context.Background(), st, fetcher.NewMux(fetcher.Options{}), importOptions{
		Contours: filepath.Join(dir, "missing.zip"),
		TempDir:  dir,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "import: fetch contours")
}

func TestImportCommand_NothingToImport(t *testing.T) {
	useTestConfig(t)
	importCmd.SetContext(context.Background())

	err := importCmd.RunE(importCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to import")
}
