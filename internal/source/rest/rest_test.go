package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/waterdata/internal/fetch"
	"github.com/couchcryptid/waterdata/internal/observability"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		Name:        "custom",
		BaseURL:     srv.URL,
		MinInterval: time.Millisecond,
		MaxRetries:  1,
	}, observability.NopLogger(), nil)
}

func TestGetTableWithDataKey(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"meta": {"count": 2},
			"data": {"items": [
				{"id": "a1", "observed": "2024-06-01T00:00:00Z", "reading": 1.5},
				{"observed": "2024-06-01T00:00:00Z", "reading": 2.5}
			]}
		}`))
	}))

	tbl, report, err := c.GetTable(context.Background(), "/readings", nil, TableOpts{
		DataKey:   "data.items",
		IDField:   "id",
		TimeField: "observed",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rows)
	assert.Equal(t, 1, report.DroppedMissingID)

	readingCol, ok := tbl.Column("reading")
	require.True(t, ok)
	v, ok := readingCol.Float(0)
	require.True(t, ok)
	assert.InDelta(t, 1.5, v, 1e-9)
}

func TestGetTableTopLevelArray(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": "a1", "reading": 3.0}]`))
	}))

	tbl, report, err := c.GetTable(context.Background(), "/readings", nil, TableOpts{IDField: "id"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rows)
	assert.Equal(t, 1, tbl.NumRows())
}

func TestGetTableMissingDataKey(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": []}`))
	}))

	_, _, err := c.GetTable(context.Background(), "/readings", nil, TableOpts{DataKey: "results"})
	var perr *fetch.ParseError
	require.ErrorAs(t, err, &perr)
}

func TestGetPaginatedPageParam(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		assert.Equal(t, "flow", r.URL.Query().Get("kind"))
		if page > 2 {
			w.Write([]byte(`{"results": []}`))
			return
		}
		fmt.Fprintf(w, `{"results": [{"id": "p%d", "reading": %d.0}]}`, page, page)
	}))

	params := url.Values{"kind": {"flow"}}
	tbl, report, err := c.GetPaginated(context.Background(), "/readings", params, Pagination{}, TableOpts{
		DataKey: "results",
		IDField: "id",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rows)
	require.Equal(t, 2, tbl.NumRows())

	idCol, _ := tbl.Column("id")
	first, _ := idCol.String(0)
	second, _ := idCol.String(1)
	assert.Equal(t, "p1", first)
	assert.Equal(t, "p2", second)
}

func TestGetPaginatedNextURL(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/readings":
			fmt.Fprintf(w, `{"results": [{"id": "a"}], "next": "%s/readings2"}`, srv.URL)
		case "/readings2":
			w.Write([]byte(`{"results": [{"id": "b"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(Config{Name: "custom", BaseURL: srv.URL, MinInterval: time.Millisecond, MaxRetries: 1},
		observability.NopLogger(), nil)

	tbl, report, err := c.GetPaginated(context.Background(), "/readings", nil,
		Pagination{Style: NextURL}, TableOpts{DataKey: "results", IDField: "id"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rows)

	idCol, _ := tbl.Column("id")
	first, _ := idCol.String(0)
	second, _ := idCol.String(1)
	assert.Equal(t, "a", first)
	assert.Equal(t, "b", second)
}

func TestCustomHeadersSent(t *testing.T) {
	var apiKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("X-Api-Key")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(Config{
		Name:        "custom",
		BaseURL:     srv.URL,
		Headers:     map[string]string{"X-Api-Key": "abc123"},
		MinInterval: time.Millisecond,
	}, observability.NopLogger(), nil)

	_, err := c.Get(context.Background(), "/ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "abc123", apiKey)
}

func TestPost(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"ok": true}`))
	}))

	doc, err := c.Post(context.Background(), "/submit", map[string]any{"q": "flow"})
	require.NoError(t, err)
	assert.Equal(t, true, doc["ok"])
}
