package mesonet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/waterdata/internal/observability"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, MinInterval: time.Millisecond, MaxRetries: 1},
		observability.NopLogger(), nil)
}

func TestGetStations(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stations/", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("type"))
		w.Write([]byte(`[
			{"station": "arskeogh", "name": "ARS Keogh", "latitude": 46.33, "longitude": -105.43, "elevation": 1021.0},
			{"name": "Nameless", "latitude": 47.0, "longitude": -110.0}
		]`))
	}))

	tbl, report, err := c.GetStations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rows)
	assert.Equal(t, 1, report.DroppedMissingID)

	latCol, ok := tbl.Column("latitude")
	require.True(t, ok)
	lat, ok := latCol.Float(0)
	require.True(t, ok)
	assert.InDelta(t, 46.33, lat, 1e-9)
}

func TestGetLatest(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/latest/", r.URL.Path)
		assert.Equal(t, "arskeogh,bentlake", r.URL.Query().Get("stations"))
		w.Write([]byte(`[
			{"station": "arskeogh", "datetime": "2024-06-01T12:00:00Z", "air_temp": 22.5, "precipitation": 0.0},
			{"station": "bentlake", "datetime": null, "air_temp": 19.0}
		]`))
	}))

	tbl, report, err := c.GetLatest(context.Background(), []string{"arskeogh", "bentlake"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rows)
	assert.Equal(t, 1, report.DroppedMissingTimestamp)

	// bentlake reported no precipitation key; the kept row has the column.
	tempCol, ok := tbl.Column("air_temp")
	require.True(t, ok)
	v, ok := tempCol.Float(0)
	require.True(t, ok)
	assert.InDelta(t, 22.5, v, 1e-9)
}

func TestGetObservationsQuery(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/observations/", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "arskeogh", q.Get("stations"))
		assert.Equal(t, "air_temp,precipitation", q.Get("elements"))
		assert.Equal(t, "2024-05-01", q.Get("start_time"))
		assert.Equal(t, "2024-05-31", q.Get("end_time"))
		w.Write([]byte(`[{"station": "arskeogh", "datetime": "2024-05-01T00:00:00Z", "air_temp": 10.0}]`))
	}))

	tbl, report, err := c.GetObservations(context.Background(), ObsQuery{
		Stations: []string{"arskeogh"},
		Elements: []string{"air_temp", "precipitation"},
		Start:    time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rows)
	assert.Equal(t, 1, tbl.NumRows())
}
