// Package mesonet fetches station metadata and observations from the Montana
// Climate Office Mesonet API.
package mesonet

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/waterdata/internal/fetch"
	"github.com/couchcryptid/waterdata/internal/observability"
	"github.com/couchcryptid/waterdata/internal/source"
	"github.com/couchcryptid/waterdata/internal/table"
)

// DefaultBaseURL is the Mesonet API root.
const DefaultBaseURL = "https://mesonet.climate.umt.edu/api"

// Config controls the client.
type Config struct {
	BaseURL     string
	MinInterval time.Duration
	MaxRetries  int
}

// Client talks to the Mesonet API.
type Client struct {
	http    *fetch.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a Mesonet client.
func New(cfg Config, logger *slog.Logger, m *observability.Metrics, opts ...fetch.Option) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	minInterval := cfg.MinInterval
	if minInterval == 0 {
		minInterval = 500 * time.Millisecond
	}
	if m != nil {
		opts = append(opts, fetch.WithMetrics(m))
	}
	return &Client{
		http: fetch.NewClient(fetch.Config{
			Name:        "mesonet",
			BaseURL:     baseURL,
			MinInterval: minInterval,
			MaxRetries:  cfg.MaxRetries,
		}, logger, opts...),
		logger:  logger,
		metrics: m,
	}
}

// Name identifies the source.
func (c *Client) Name() string { return "mesonet" }

// GetStations fetches station metadata. Rows without a station key are
// dropped.
func (c *Client) GetStations(ctx context.Context) (*table.Table, source.Report, error) {
	params := url.Values{}
	params.Set("type", "json")

	var rows []map[string]any
	if err := c.http.GetJSON(ctx, "/stations/", params, &rows); err != nil {
		return nil, source.Report{}, err
	}
	return c.shape(rows, "station", "")
}

// GetLatest fetches the most recent observation for each station. Passing no
// stations returns the whole network. Rows without a station key or
// observation time are dropped.
func (c *Client) GetLatest(ctx context.Context, stations []string) (*table.Table, source.Report, error) {
	params := url.Values{}
	params.Set("type", "json")
	if len(stations) > 0 {
		params.Set("stations", strings.Join(stations, ","))
	}

	var rows []map[string]any
	if err := c.http.GetJSON(ctx, "/latest/", params, &rows); err != nil {
		return nil, source.Report{}, err
	}
	return c.shape(rows, "station", "datetime")
}

// ObsQuery selects readings for GetObservations.
type ObsQuery struct {
	Stations   []string
	Elements   []string
	Start, End time.Time
}

// GetObservations fetches time series readings. Rows without a station key
// or observation time are dropped.
func (c *Client) GetObservations(ctx context.Context, q ObsQuery) (*table.Table, source.Report, error) {
	params := url.Values{}
	params.Set("type", "json")
	if len(q.Stations) > 0 {
		params.Set("stations", strings.Join(q.Stations, ","))
	}
	if len(q.Elements) > 0 {
		params.Set("elements", strings.Join(q.Elements, ","))
	}
	if !q.Start.IsZero() {
		params.Set("start_time", q.Start.Format("2006-01-02"))
	}
	if !q.End.IsZero() {
		params.Set("end_time", q.End.Format("2006-01-02"))
	}

	var rows []map[string]any
	if err := c.http.GetJSON(ctx, "/observations/", params, &rows); err != nil {
		return nil, source.Report{}, err
	}
	return c.shape(rows, "station", "datetime")
}

// shape builds a table from the API's loosely typed row objects. Mesonet
// responses are wide: one key per reported element, varying by station.
func (c *Client) shape(rows []map[string]any, idField, timeField string) (*table.Table, source.Report, error) {
	b := source.NewBuilder(source.InferFields(rows, idField, timeField))
	for _, row := range rows {
		b.Append(row)
	}
	tbl, report, err := b.Table()
	if err != nil {
		return nil, source.Report{}, err
	}
	source.ObserveReport(c.metrics, c.Name(), report)
	return tbl, report, nil
}
