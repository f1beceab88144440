package normalize

import (
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/couchcryptid/waterdata/internal/table"
)

// Coordinate column aliases, in priority order.
var (
	latAliases = []string{"latitude", "lat", "lat_dd", "dec_lat_va", "y"}
	lonAliases = []string{"longitude", "lon", "long", "lng", "long_dd", "dec_long_va", "x"}
)

// Coordinates returns a copy with the latitude and longitude columns renamed
// to their canonical names and coerced to floats. Values outside [-90, 90]
// latitude or [-180, 180] longitude fail with a CoordinateError; missing
// markers pass through.
func Coordinates(t *table.Table) (*table.Table, error) {
	out := t.Clone()

	if err := canonicalizeAxis(out, latAliases, "latitude", 90); err != nil {
		return nil, err
	}
	if err := canonicalizeAxis(out, lonAliases, "longitude", 180); err != nil {
		return nil, err
	}
	return out, nil
}

func canonicalizeAxis(t *table.Table, aliases []string, canonical string, limit float64) error {
	var col *table.Column
	for _, alias := range aliases {
		if c, ok := t.Column(alias); ok {
			col = c
			_ = t.RenameColumn(alias, canonical)
			break
		}
	}
	if col == nil {
		return nil
	}

	floats := table.NewColumn(canonical, table.KindFloat)
	for i := 0; i < col.Len(); i++ {
		v, ok := cellFloat(col, i)
		if !ok {
			floats.AppendNull()
			continue
		}
		if v < -limit || v > limit {
			return &CoordinateError{Axis: canonical, Value: v, Row: i}
		}
		floats.AppendFloat(v)
	}
	return t.ReplaceColumn(canonical, floats)
}

func cellFloat(col *table.Column, i int) (float64, bool) {
	switch col.Kind() {
	case table.KindFloat:
		return col.Float(i)
	case table.KindString:
		s, ok := col.String(i)
		if !ok {
			return 0, false
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
	return 0, false
}

// Geometry returns a copy with a WKB point column built from the canonical
// coordinate columns. Rows missing either coordinate get a missing marker.
// A table without both coordinate columns fails with a CoordinateError.
func Geometry(t *table.Table) (*table.Table, error) {
	latCol, haveLat := t.Column("latitude")
	lonCol, haveLon := t.Column("longitude")
	if !haveLat {
		return nil, &CoordinateError{Axis: "latitude", Missing: true}
	}
	if !haveLon {
		return nil, &CoordinateError{Axis: "longitude", Missing: true}
	}

	out := t.Clone()
	geom := table.NewColumn("geometry", table.KindBytes)
	for i := 0; i < latCol.Len(); i++ {
		lat, okLat := latCol.Float(i)
		lon, okLon := lonCol.Float(i)
		if !okLat || !okLon {
			geom.AppendNull()
			continue
		}
		encoded, err := wkb.Marshal(orb.Point{lon, lat})
		if err != nil {
			return nil, err
		}
		geom.AppendBytes(encoded)
	}
	if err := out.AddColumn(geom); err != nil {
		return nil, err
	}
	return out, nil
}
