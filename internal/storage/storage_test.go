package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/waterdata/internal/table"
)

func sampleTable(t *testing.T) *table.Table {
	t.Helper()

	site := table.NewColumn("site_id", table.KindString)
	site.AppendString("09380000")
	site.AppendString("09402500")
	site.AppendNull()

	value := table.NewColumn("value", table.KindFloat)
	value.AppendFloat(12300.5)
	value.AppendNull()
	value.AppendFloat(0)

	dt := table.NewColumn("datetime", table.KindTime)
	dt.AppendTime(time.Date(2024, 6, 1, 12, 0, 0, 123e6, time.UTC))
	dt.AppendTime(time.Date(2024, 6, 1, 12, 15, 0, 0, time.UTC))
	dt.AppendNull()

	active := table.NewColumn("active", table.KindBool)
	active.AppendBool(true)
	active.AppendNull()
	active.AppendBool(false)

	tbl, err := table.New(site, value, dt, active)
	require.NoError(t, err)
	return tbl
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "obs.parquet")

	written, err := Save(path, tbl)
	require.NoError(t, err)
	assert.Equal(t, path, written)

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.True(t, table.Equal(tbl, loaded),
		"round trip must preserve column order, names, kinds, values, and missing markers")
}

func TestTimestampMillisecondPrecision(t *testing.T) {
	dt := table.NewColumn("datetime", table.KindTime)
	dt.AppendTime(time.Date(2024, 6, 1, 12, 0, 0, 123456789, time.UTC))
	tbl, err := table.New(dt)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ts.parquet")
	_, err = Save(path, tbl)
	require.NoError(t, err)

	loaded, err := Load(path)
	require.NoError(t, err)

	col, _ := loaded.Column("datetime")
	ts, ok := col.Time(0)
	require.True(t, ok)
	// Sub-millisecond digits are truncated at append time, so the stored
	// value comes back bit for bit.
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 123e6, time.UTC), ts)
}

func TestSaveRefusesOverwriteByDefault(t *testing.T) {
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "obs.parquet")

	_, err := Save(path, tbl)
	require.NoError(t, err)

	_, err = Save(path, tbl)
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.True(t, errors.Is(err, os.ErrExist))

	_, err = Save(path, tbl, WithOverwrite())
	require.NoError(t, err)
}

func TestSaveTimestampSuffix(t *testing.T) {
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "obs.parquet")

	written, err := Save(path, tbl, WithTimestampSuffix())
	require.NoError(t, err)
	assert.NotEqual(t, path, written)
	assert.Regexp(t, `obs_\d{8}T\d{6}\.parquet$`, written)

	_, err = Load(written)
	require.NoError(t, err)
}

func TestGeoRoundTrip(t *testing.T) {
	site := table.NewColumn("site_id", table.KindString)
	site.AppendString("09380000")
	site.AppendString("09402500")

	geom := table.NewColumn("geometry", table.KindBytes)
	encoded, err := wkb.Marshal(orb.Point{-111.58, 36.86})
	require.NoError(t, err)
	geom.AppendBytes(encoded)
	geom.AppendNull()

	tbl, err := table.New(site, geom)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "sites.parquet")
	_, err = SaveGeo(path, tbl, "geometry")
	require.NoError(t, err)

	loaded, geoCol, err := LoadGeo(path)
	require.NoError(t, err)
	assert.Equal(t, "geometry", geoCol)
	require.True(t, table.Equal(tbl, loaded))

	col, _ := loaded.Column("geometry")
	raw, ok := col.Bytes(0)
	require.True(t, ok)
	g, err := wkb.Unmarshal(raw)
	require.NoError(t, err)
	pt := g.(orb.Point)
	assert.InDelta(t, -111.58, pt.Lon(), 1e-9)
	assert.InDelta(t, 36.86, pt.Lat(), 1e-9)
}

func TestSaveGeoValidatesColumn(t *testing.T) {
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "sites.parquet")

	_, err := SaveGeo(path, tbl, "nope")
	var serr *StorageError
	require.ErrorAs(t, err, &serr)

	_, err = SaveGeo(path, tbl, "site_id")
	require.ErrorAs(t, err, &serr)
}

func TestLoadGeoRejectsPlainParquet(t *testing.T) {
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "obs.parquet")
	_, err := Save(path, tbl)
	require.NoError(t, err)

	_, _, err = LoadGeo(path)
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
}

func TestDatasetInfo(t *testing.T) {
	tbl := sampleTable(t)
	path := filepath.Join(t.TempDir(), "obs.parquet")
	_, err := Save(path, tbl)
	require.NoError(t, err)

	info, err := DatasetInfo(path)
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Rows)
	assert.Equal(t, []string{"site_id", "value", "datetime", "active"}, info.Columns)
	assert.Greater(t, info.SizeBytes, int64(0))
	assert.GreaterOrEqual(t, info.RowGroups, 1)
}

func TestListDatasets(t *testing.T) {
	dir := t.TempDir()
	tbl := sampleTable(t)

	for _, name := range []string{"b.parquet", "a.parquet"} {
		_, err := Save(filepath.Join(dir, name), tbl)
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	paths, err := ListDatasets(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.parquet"),
		filepath.Join(dir, "b.parquet"),
	}, paths)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.parquet"))
	var serr *StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "load", serr.Op)
}

func TestSaveCodecOptions(t *testing.T) {
	dir := t.TempDir()
	tbl := sampleTable(t)

	for _, tc := range []struct {
		name string
		opt  SaveOption
	}{
		{"gzip", WithGzip()},
		{"zstd", WithZstd()},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path, err := Save(filepath.Join(dir, tc.name+".parquet"), tbl, tc.opt)
			require.NoError(t, err)

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.True(t, table.Equal(tbl, loaded))
		})
	}
}
