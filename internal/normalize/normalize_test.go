package normalize

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/waterdata/internal/table"
)

func TestToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"siteName":           "site_name",
		"MonitoringLocation": "monitoring_location",
		"Site No.":           "site_no",
		"dec_lat_va":         "dec_lat_va",
		"Station-Name":       "station_name",
		"Result  Value":      "result_value",
		"value (ft3/s)":      "value_ft3s",
		"__weird__":          "weird",
	}
	for in, want := range cases {
		assert.Equal(t, want, ToSnakeCase(in), "input %q", in)
	}
}

func TestColumnNames(t *testing.T) {
	tbl, err := table.New(
		table.NewStringColumn("Site No", []string{"a"}),
		table.NewStringColumn("stationName", []string{"b"}),
	)
	require.NoError(t, err)

	out := ColumnNames(tbl)
	assert.Equal(t, []string{"site_no", "station_name"}, out.Names())
	assert.Equal(t, []string{"Site No", "stationName"}, tbl.Names(), "input must not change")
}

func TestColumnNamesCollision(t *testing.T) {
	tbl, err := table.New(
		table.NewStringColumn("site no", []string{"a"}),
		table.NewStringColumn("Site No", []string{"b"}),
	)
	require.NoError(t, err)

	out := ColumnNames(tbl)
	assert.Equal(t, []string{"site_no", "site_no_1"}, out.Names())
}

func TestDatesKeywordDetection(t *testing.T) {
	tbl, err := table.New(
		table.NewStringColumn("measurement_date", []string{"2024-06-01", "bogus", "2024-06-03"}),
		table.NewStringColumn("site_name", []string{"a", "b", "c"}),
	)
	require.NoError(t, err)

	out := Dates(tbl)

	col, ok := out.Column("measurement_date")
	require.True(t, ok)
	require.Equal(t, table.KindTime, col.Kind())
	ts, ok := col.Time(0)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), ts)
	assert.False(t, col.IsValid(1), "unparsable date becomes a missing marker")

	nameCol, _ := out.Column("site_name")
	assert.Equal(t, table.KindString, nameCol.Kind(), "non-date columns untouched")
}

func TestCoordinatesRenamesAliases(t *testing.T) {
	tbl, err := table.New(
		table.NewStringColumn("site_id", []string{"a"}),
		table.NewFloatColumn("dec_lat_va", []float64{36.86}),
		table.NewStringColumn("dec_long_va", []string{"-111.58"}),
	)
	require.NoError(t, err)

	out, err := Coordinates(tbl)
	require.NoError(t, err)

	latCol, ok := out.Column("latitude")
	require.True(t, ok)
	lat, _ := latCol.Float(0)
	assert.InDelta(t, 36.86, lat, 1e-9)

	lonCol, ok := out.Column("longitude")
	require.True(t, ok)
	require.Equal(t, table.KindFloat, lonCol.Kind(), "string coordinates are coerced")
	lon, _ := lonCol.Float(0)
	assert.InDelta(t, -111.58, lon, 1e-9)
}

func TestCoordinatesRejectsOutOfRange(t *testing.T) {
	t.Run("latitude 95", func(t *testing.T) {
		tbl, err := table.New(table.NewFloatColumn("latitude", []float64{95}))
		require.NoError(t, err)

		_, err = Coordinates(tbl)
		var cerr *CoordinateError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "latitude", cerr.Axis)
		assert.Equal(t, 95.0, cerr.Value)
	})

	t.Run("longitude -200", func(t *testing.T) {
		tbl, err := table.New(table.NewFloatColumn("longitude", []float64{-200}))
		require.NoError(t, err)

		_, err = Coordinates(tbl)
		var cerr *CoordinateError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "longitude", cerr.Axis)
		assert.Equal(t, -200.0, cerr.Value)
	})
}

func TestGeometry(t *testing.T) {
	lat := table.NewColumn("latitude", table.KindFloat)
	lat.AppendFloat(36.86)
	lat.AppendNull()
	lon := table.NewColumn("longitude", table.KindFloat)
	lon.AppendFloat(-111.58)
	lon.AppendFloat(-110.0)

	tbl, err := table.New(lat, lon)
	require.NoError(t, err)

	out, err := Geometry(tbl)
	require.NoError(t, err)

	geomCol, ok := out.Column("geometry")
	require.True(t, ok)
	raw, ok := geomCol.Bytes(0)
	require.True(t, ok)

	geom, err := wkb.Unmarshal(raw)
	require.NoError(t, err)
	pt, ok := geom.(orb.Point)
	require.True(t, ok)
	assert.InDelta(t, -111.58, pt.Lon(), 1e-9)
	assert.InDelta(t, 36.86, pt.Lat(), 1e-9)

	assert.False(t, geomCol.IsValid(1), "row with a missing coordinate has no geometry")
}

func TestGeometryMissingCoordinateColumns(t *testing.T) {
	site := table.NewStringColumn("site_id", []string{"06191500"})
	tbl, err := table.New(site)
	require.NoError(t, err)

	t.Run("direct", func(t *testing.T) {
		_, err := Geometry(tbl)
		var cerr *CoordinateError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "latitude", cerr.Axis)
		assert.True(t, cerr.Missing)
	})

	t.Run("through normalize", func(t *testing.T) {
		_, err := Normalize(tbl, Options{AttachGeometry: true})
		var cerr *CoordinateError
		require.ErrorAs(t, err, &cerr)
		assert.True(t, cerr.Missing)
	})

	t.Run("longitude absent", func(t *testing.T) {
		lat := table.NewFloatColumn("latitude", []float64{45.1})
		tbl, err := table.New(lat)
		require.NoError(t, err)

		_, err = Geometry(tbl)
		var cerr *CoordinateError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "longitude", cerr.Axis)
	})
}

func TestConvertValueInvertible(t *testing.T) {
	pairs := [][2]string{
		{"feet", "meters"},
		{"inches", "mm"},
		{"cfs", "m3/s"},
		{"gpm", "l/min"},
		{"f", "c"},
		{"mg/l", "ug/l"},
	}
	for _, pair := range pairs {
		t.Run(pair[0]+"_"+pair[1], func(t *testing.T) {
			const v = 123.456
			there, err := ConvertValue(v, pair[0], pair[1])
			require.NoError(t, err)
			back, err := ConvertValue(there, pair[1], pair[0])
			require.NoError(t, err)
			assert.InDelta(t, v, back, 1e-3)
		})
	}
}

func TestConvertValueTemperature(t *testing.T) {
	c, err := ConvertValue(212, "f", "c")
	require.NoError(t, err)
	assert.InDelta(t, 100, c, 1e-9)

	f, err := ConvertValue(0, "c", "f")
	require.NoError(t, err)
	assert.InDelta(t, 32, f, 1e-9)
}

func TestConvertValueAliases(t *testing.T) {
	m, err := ConvertValue(10, "ft", "m")
	require.NoError(t, err)
	assert.InDelta(t, 3.048, m, 1e-9)

	cms, err := ConvertValue(100, "ft3/s", "m3/s")
	require.NoError(t, err)
	assert.InDelta(t, 2.83168, cms, 1e-9)
}

func TestConvertValueUnknownPair(t *testing.T) {
	_, err := ConvertValue(1, "furlongs", "meters")
	var uerr *UnitError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "furlongs", uerr.From)
}

func TestUnitsRewritesUnitColumn(t *testing.T) {
	value := table.NewColumn("value", table.KindFloat)
	value.AppendFloat(10)
	value.AppendNull()
	unit := table.NewColumn("unit", table.KindString)
	unit.AppendString("feet")
	unit.AppendNull()

	tbl, err := table.New(value, unit)
	require.NoError(t, err)

	out, err := Units(tbl, "value", "feet", "meters", "")
	require.NoError(t, err)

	valueCol, _ := out.Column("value")
	v, _ := valueCol.Float(0)
	assert.InDelta(t, 3.048, v, 1e-9)
	assert.False(t, valueCol.IsValid(1))

	unitCol, _ := out.Column("unit")
	u, _ := unitCol.String(0)
	assert.Equal(t, "meters", u)
	assert.False(t, unitCol.IsValid(1))

	// Input untouched.
	origValue, _ := tbl.Column("value")
	v, _ = origValue.Float(0)
	assert.InDelta(t, 10, v, 1e-9)
}

func TestUnitsNewColumn(t *testing.T) {
	value := table.NewColumn("value", table.KindFloat)
	value.AppendFloat(10)
	value.AppendNull()
	tbl, err := table.New(value)
	require.NoError(t, err)

	out, err := Units(tbl, "value", "feet", "meters", "value_m")
	require.NoError(t, err)

	converted, ok := out.Column("value_m")
	require.True(t, ok)
	v, _ := converted.Float(0)
	assert.InDelta(t, 3.048, v, 1e-9)
	assert.False(t, converted.IsValid(1))

	// Source column keeps the original unit.
	src, _ := out.Column("value")
	v, _ = src.Float(0)
	assert.InDelta(t, 10, v, 1e-9)

	t.Run("existing target overwritten", func(t *testing.T) {
		again, err := Units(out, "value", "feet", "meters", "value_m")
		require.NoError(t, err)
		col, _ := again.Column("value_m")
		v, _ := col.Float(0)
		assert.InDelta(t, 3.048, v, 1e-9)
	})
}

func TestUnitsBadColumn(t *testing.T) {
	name := table.NewStringColumn("name", []string{"a"})
	tbl, err := table.New(name)
	require.NoError(t, err)

	t.Run("absent", func(t *testing.T) {
		_, err := Units(tbl, "value", "feet", "meters", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `no column "value"`)
	})

	t.Run("not numeric", func(t *testing.T) {
		_, err := Units(tbl, "name", "feet", "meters", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not numeric")
	})
}

func TestMissingStrategies(t *testing.T) {
	newTable := func(t *testing.T) *table.Table {
		value := table.NewColumn("value", table.KindFloat)
		value.AppendFloat(1)
		value.AppendNull()
		value.AppendFloat(3)
		value.AppendFloat(5)
		name := table.NewColumn("name", table.KindString)
		name.AppendString("a")
		name.AppendNull()
		name.AppendString("c")
		name.AppendString("d")
		tbl, err := table.New(value, name)
		require.NoError(t, err)
		return tbl
	}

	t.Run("drop", func(t *testing.T) {
		out, err := Missing(newTable(t), Drop)
		require.NoError(t, err)
		assert.Equal(t, 3, out.NumRows())
	})

	t.Run("mean", func(t *testing.T) {
		out, err := Missing(newTable(t), FillMean)
		require.NoError(t, err)
		col, _ := out.Column("value")
		v, ok := col.Float(1)
		require.True(t, ok)
		assert.InDelta(t, 3, v, 1e-9)

		nameCol, _ := out.Column("name")
		s, _ := nameCol.String(1)
		assert.Equal(t, "Unknown", s)
	})

	t.Run("median", func(t *testing.T) {
		out, err := Missing(newTable(t), FillMedian)
		require.NoError(t, err)
		col, _ := out.Column("value")
		v, ok := col.Float(1)
		require.True(t, ok)
		assert.InDelta(t, 3, v, 1e-9)
	})

	t.Run("zero", func(t *testing.T) {
		out, err := Missing(newTable(t), FillZero)
		require.NoError(t, err)
		col, _ := out.Column("value")
		v, ok := col.Float(1)
		require.True(t, ok)
		assert.Equal(t, 0.0, v)
	})

	t.Run("interpolate", func(t *testing.T) {
		out, err := Missing(newTable(t), Interpolate)
		require.NoError(t, err)
		col, _ := out.Column("value")
		v, ok := col.Float(1)
		require.True(t, ok)
		assert.InDelta(t, 2, v, 1e-9)
	})

	t.Run("scoped to columns", func(t *testing.T) {
		out, err := Missing(newTable(t), FillZero, "value")
		require.NoError(t, err)
		nameCol, _ := out.Column("name")
		assert.False(t, nameCol.IsValid(1), "out-of-scope column untouched")
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := Missing(newTable(t), Strategy("upsample"))
		require.Error(t, err)
	})
}

func TestNormalizePipeline(t *testing.T) {
	tbl, err := table.New(
		table.NewStringColumn("Site No", []string{"09380000", "09402500"}),
		table.NewStringColumn("measurementDate", []string{"2024-06-01", "2024-06-02"}),
		table.NewFloatColumn("dec_lat_va", []float64{36.86, 36.10}),
		table.NewFloatColumn("dec_long_va", []float64{-111.58, -112.08}),
	)
	require.NoError(t, err)
	before := tbl.Clone()

	out, err := Normalize(tbl, Options{Source: "usgs", AttachGeometry: true})
	require.NoError(t, err)

	names := out.Names()
	assert.Contains(t, names, "site_id")
	assert.Contains(t, names, "latitude")
	assert.Contains(t, names, "longitude")
	assert.Contains(t, names, "geometry")

	dateCol, ok := out.Column("measurement_date")
	require.True(t, ok)
	assert.Equal(t, table.KindTime, dateCol.Kind())

	assert.True(t, table.Equal(before, tbl), "input table must not be modified")
}
