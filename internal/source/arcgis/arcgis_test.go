package arcgis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/waterdata/internal/fetch"
	"github.com/couchcryptid/waterdata/internal/observability"
	"github.com/couchcryptid/waterdata/internal/source"
)

const featureFixture = `{
  "features": [
    {
      "attributes": {"gwicid": 123456, "well_depth": 80.5, "status": "Active", "measured": 1717243800000},
      "geometry": {"x": -111.04, "y": 45.68}
    },
    {
      "attributes": {"gwicid": 234567, "well_depth": null, "status": "Abandoned", "measured": 1717243800000},
      "geometry": {"x": -112.5, "y": 46.6}
    },
    {
      "attributes": {"gwicid": null, "well_depth": 40.0, "status": "Active", "measured": 1717243800000},
      "geometry": {"x": -110.0, "y": 47.0}
    }
  ]
}`

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{Name: "gwic", BaseURL: srv.URL, MinInterval: time.Millisecond, MaxRetries: 1},
		observability.NopLogger(), nil)
}

func TestGetFeatures(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1=1", q.Get("where"))
		assert.Equal(t, "*", q.Get("outFields"))
		assert.Equal(t, "json", q.Get("f"))
		assert.Equal(t, "true", q.Get("returnGeometry"))
		w.Write([]byte(featureFixture))
	}))

	tbl, report, err := c.GetFeatures(context.Background(), Query{
		IDField:   "gwicid",
		TimeField: "measured",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rows)
	assert.Equal(t, 1, report.DroppedMissingID)
	require.Equal(t, 2, tbl.NumRows())

	// Attribute columns are sorted, geometry columns come last.
	assert.Equal(t, []string{"gwicid", "measured", "status", "well_depth", "longitude", "latitude"}, tbl.Names())

	idCol, _ := tbl.Column("gwicid")
	id, ok := idCol.String(0)
	require.True(t, ok)
	assert.Equal(t, "123456", id)

	depthCol, _ := tbl.Column("well_depth")
	assert.False(t, depthCol.IsValid(1), "null attribute becomes a missing marker")

	tsCol, _ := tbl.Column("measured")
	ts, ok := tsCol.Time(0)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 10, 0, 0, time.UTC), ts)

	lonCol, _ := tbl.Column(source.ColLongitude)
	lon, ok := lonCol.Float(0)
	require.True(t, ok)
	assert.InDelta(t, -111.04, lon, 1e-9)
}

func TestGetFeaturesWhereFilter(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "status = 'Active'", r.URL.Query().Get("where"))
		assert.Equal(t, "false", r.URL.Query().Get("returnGeometry"))
		w.Write([]byte(`{"features": []}`))
	}))

	tbl, report, err := c.GetFeatures(context.Background(), Query{
		Where:        "status = 'Active'",
		SkipGeometry: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Rows)
	assert.Equal(t, 0, tbl.NumRows())
}

func TestGetFeaturesServiceError(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"code": 400, "message": "Invalid query"}}`))
	}))

	_, _, err := c.GetFeatures(context.Background(), Query{})
	var rerr *fetch.RetrievalError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 400, rerr.StatusCode)
	assert.Contains(t, rerr.Error(), "Invalid query")
}

func TestGetFeaturesEnvelopeFilter(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "-113,45,-110,47", q.Get("geometry"))
		assert.Equal(t, "esriGeometryEnvelope", q.Get("geometryType"))
		assert.Equal(t, "esriSpatialRelIntersects", q.Get("spatialRel"))
		assert.Equal(t, "4326", q.Get("inSR"))
		w.Write([]byte(featureFixture))
	}))

	_, _, err := c.GetFeatures(context.Background(), Query{
		BBox: &Envelope{XMin: -113, YMin: 45, XMax: -110, YMax: 47},
	})
	require.NoError(t, err)
}
