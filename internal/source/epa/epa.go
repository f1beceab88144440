// Package epa fetches monitoring stations and sample results from the EPA
// Water Quality Portal.
package epa

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

// DefaultBaseURL is the Water Quality Portal root.
const DefaultBaseURL = "https://www.waterqualitydata.us"

// Characteristics maps friendly names to WQP characteristic names.
var Characteristics = map[string]string{
	"temperature":      "Temperature, water",
	"ph":               "pH",
	"dissolved_oxygen": "Dissolved oxygen (DO)",
	"conductance":      "Specific conductance",
	"turbidity":        "Turbidity",
	"nitrate":          "Nitrate",
	"phosphorus":       "Phosphorus",
	"e_coli":           "Escherichia coli",
}

// Config controls the client. The zero value targets the public portal.
type Config struct {
	BaseURL     string
	MinInterval time.Duration
	MaxRetries  int
}

// Client talks to the Water Quality Portal.
type Client struct {
	http    *fetch.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a WQP client.
func New(cfg Config, logger *slog.Logger, m *observability.Metrics, opts ...fetch.Option) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	minInterval := cfg.MinInterval
	if minInterval == 0 {
		minInterval = time.Second
	}
	if m != nil {
		opts = append(opts, fetch.WithMetrics(m))
	}
	return &Client{
		http: fetch.NewClient(fetch.Config{
			Name:        "epa",
			BaseURL:     baseURL,
			MinInterval: minInterval,
			MaxRetries:  cfg.MaxRetries,
		}, logger, opts...),
		logger:  logger,
		metrics: m,
	}
}

// Name identifies the source.
func (c *Client) Name() string { return "epa" }

// Query selects stations or results. State codes are accepted as two-letter
// postal abbreviations or FIPS codes and are normalized to the portal's
// "US:XX" form.
type Query struct {
	StateCode      string
	HUC            string
	SiteID         string
	Characteristic string
	Start, End     time.Time
}

func (q Query) values() url.Values {
	params := url.Values{}
	params.Set("mimeType", "csv")
	params.Set("zip", "no")
	if q.StateCode != "" {
		params.Set("statecode", normalizeStateCode(q.StateCode))
	}
	if q.HUC != "" {
		params.Set("huc", q.HUC)
	}
	if q.SiteID != "" {
		params.Set("siteid", q.SiteID)
	}
	if q.Characteristic != "" {
		name := q.Characteristic
		if mapped, ok := Characteristics[strings.ToLower(name)]; ok {
			name = mapped
		}
		params.Set("characteristicName", name)
	}
	if !q.Start.IsZero() {
		params.Set("startDateLo", q.Start.Format("01-02-2006"))
	}
	if !q.End.IsZero() {
		params.Set("startDateHi", q.End.Format("01-02-2006"))
	}
	return params
}

func normalizeStateCode(code string) string {
	if strings.HasPrefix(code, "US:") {
		return code
	}
	return "US:" + code
}

// GetStations fetches monitoring location metadata. Rows without a
// MonitoringLocationIdentifier are dropped.
func (c *Client) GetStations(ctx context.Context, q Query) (*table.Table, source.Report, error) {
	records, err := c.http.GetCSV(ctx, "/data/Station/search", q.values())
	if err != nil {
		return nil, source.Report{}, err
	}
	return c.csvToTable(records, "")
}

// GetResults fetches sample results. Rows without an identifier or an
// activity start date are dropped.
func (c *Client) GetResults(ctx context.Context, q Query) (*table.Table, source.Report, error) {
	records, err := c.http.GetCSV(ctx, "/data/Result/search", q.values())
	if err != nil {
		return nil, source.Report{}, err
	}
	return c.csvToTable(records, "ActivityStartDate")
}

// SearchCharacteristics queries the portal's characteristic-name code list.
func (c *Client) SearchCharacteristics(ctx context.Context, text string) ([]string, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("mimeType", "json")

	var resp struct {
		Codes []struct {
			Value string `json:"value"`
		} `json:"codes"`
	}
	if err := c.http.GetJSON(ctx, "/Codes/characteristicname", params, &resp); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Codes))
	for _, code := range resp.Codes {
		names = append(names, code.Value)
	}
	return names, nil
}

// ColoradoBasinResults fetches results for both halves of the Colorado River
// basin and concatenates them with a basin column. One half may fail as long
// as the other succeeds.
func (c *Client) ColoradoBasinResults(ctx context.Context, characteristic string, start, end time.Time) (*table.Table, source.Report, error) {
	var merged *table.Table
	var total source.Report
	var lastErr error

	for _, half := range []string{"upper", "lower"} {
		tbl, report, err := c.GetResults(ctx, Query{
			HUC:            source.ColoradoBasinHUCs[half],
			Characteristic: characteristic,
			Start:          start,
			End:            end,
		})
		if err != nil {
			c.logger.Warn("basin half failed", "source", c.Name(), "basin", half, "error", err)
			lastErr = err
			continue
		}

		basinCol := table.NewColumn(source.ColBasin, table.KindString)
		for i := 0; i < tbl.NumRows(); i++ {
			basinCol.AppendString(half)
		}
		if err := tbl.AddColumn(basinCol); err != nil {
			return nil, source.Report{}, err
		}

		if merged == nil {
			merged = tbl
		} else {
			merged, err = table.Concat(merged, tbl)
			if err != nil {
				return nil, source.Report{}, err
			}
		}
		total.Rows += report.Rows
		total.DroppedMissingID += report.DroppedMissingID
		total.DroppedMissingTimestamp += report.DroppedMissingTimestamp
	}

	if merged == nil {
		return nil, source.Report{}, lastErr
	}
	return merged, total, nil
}

func (c *Client) csvToTable(records [][]string, dateCol string) (*table.Table, source.Report, error) {
	if len(records) == 0 {
		return source.Records(nil, nil, source.RecordSpec{})
	}
	tbl, report, err := source.Records(records[0], records[1:], source.RecordSpec{
		IDColumn:   "MonitoringLocationIdentifier",
		TimeColumn: dateCol,
		FloatColumns: map[string]bool{
			"ResultMeasureValue": true,
			"LatitudeMeasure":    true,
			"LongitudeMeasure":   true,
		},
	})
	if err != nil {
		return nil, source.Report{}, err
	}
	source.ObserveReport(c.metrics, c.Name(), report)
	return tbl, report, nil
}
