// Package usgs fetches site metadata and hydrologic observations from the
// USGS NWIS water services.
package usgs

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

const (
	// DefaultBaseURL is the NWIS water services root.
	DefaultBaseURL = "https://waterservices.usgs.gov/nwis"

	// noDataValue marks absent readings in NWIS responses.
	noDataValue = "-999999"
)

// ParamCodes maps friendly parameter names to NWIS parameter codes.
var ParamCodes = map[string]string{
	"discharge":            "00060",
	"gage_height":          "00065",
	"water_temp":           "00010",
	"precipitation":        "00045",
	"specific_conductance": "00095",
	"dissolved_oxygen":     "00300",
	"ph":                   "00400",
	"turbidity":            "63680",
	"groundwater_level":    "72019",
}

// Config controls the client. The zero value targets the public API with
// the default throttle and retry budget.
type Config struct {
	BaseURL     string
	MinInterval time.Duration
	MaxRetries  int
}

// Client talks to the NWIS water services.
type Client struct {
	http    *fetch.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a USGS client.
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
			Name:        "usgs",
			BaseURL:     baseURL,
			MinInterval: minInterval,
			MaxRetries:  cfg.MaxRetries,
		}, logger, opts...),
		logger:  logger,
		metrics: m,
	}
}

// Name identifies the source.
func (c *Client) Name() string { return "usgs" }

// SiteQuery selects sites for GetSites. Exactly one of StateCode, HUC, or
// SiteCodes should be set; NWIS rejects requests mixing major filters.
type SiteQuery struct {
	StateCode     string
	HUC           string
	SiteCodes     []string
	ParameterCode string
	SiteType      string
}

// GetSites fetches site metadata. The result keeps the NWIS column names
// (site_no, station_nm, dec_lat_va, ...); rows without a site number are
// dropped.
func (c *Client) GetSites(ctx context.Context, q SiteQuery) (*table.Table, source.Report, error) {
	params := url.Values{}
	params.Set("format", "rdb")
	if q.StateCode != "" {
		params.Set("stateCd", q.StateCode)
	}
	if q.HUC != "" {
		params.Set("huc", q.HUC)
	}
	if len(q.SiteCodes) > 0 {
		params.Set("sites", strings.Join(q.SiteCodes, ","))
	}
	if q.ParameterCode != "" {
		params.Set("parameterCd", q.ParameterCode)
	}
	if q.SiteType != "" {
		params.Set("siteType", q.SiteType)
	}

	header, rows, err := c.http.GetRDB(ctx, "/site/", params)
	if err != nil {
		return nil, source.Report{}, err
	}
	return c.rdbToTable(header, rows, "site_no", "")
}

// ObsQuery selects observations for the instantaneous and daily services.
type ObsQuery struct {
	Sites         []string
	StateCode     string
	HUC           string
	ParameterCode string
	Start, End    time.Time
	// Period is an ISO-8601 duration like "P7D", used instead of Start/End.
	Period string
}

func (q ObsQuery) values() url.Values {
	params := url.Values{}
	params.Set("format", "json")
	if len(q.Sites) > 0 {
		params.Set("sites", strings.Join(q.Sites, ","))
	}
	if q.StateCode != "" {
		params.Set("stateCd", q.StateCode)
	}
	if q.HUC != "" {
		params.Set("huc", q.HUC)
	}
	if q.ParameterCode != "" {
		params.Set("parameterCd", q.ParameterCode)
	}
	if q.Period != "" {
		params.Set("period", q.Period)
	} else {
		if !q.Start.IsZero() {
			params.Set("startDT", q.Start.Format("2006-01-02"))
		}
		if !q.End.IsZero() {
			params.Set("endDT", q.End.Format("2006-01-02"))
		}
	}
	return params
}

// GetInstantaneous fetches instantaneous (typically 15-minute) values.
func (c *Client) GetInstantaneous(ctx context.Context, q ObsQuery) (*table.Table, source.Report, error) {
	return c.getTimeSeries(ctx, "/iv/", q)
}

// GetDailyValues fetches daily statistical values.
func (c *Client) GetDailyValues(ctx context.Context, q ObsQuery) (*table.Table, source.Report, error) {
	return c.getTimeSeries(ctx, "/dv/", q)
}

// GetGroundwaterLevels fetches groundwater level measurements. Rows without
// a site number or measurement date are dropped.
func (c *Client) GetGroundwaterLevels(ctx context.Context, q ObsQuery) (*table.Table, source.Report, error) {
	params := url.Values{}
	params.Set("format", "rdb")
	if len(q.Sites) > 0 {
		params.Set("sites", strings.Join(q.Sites, ","))
	}
	if q.StateCode != "" {
		params.Set("stateCd", q.StateCode)
	}
	if q.HUC != "" {
		params.Set("huc", q.HUC)
	}
	if !q.Start.IsZero() {
		params.Set("startDT", q.Start.Format("2006-01-02"))
	}
	if !q.End.IsZero() {
		params.Set("endDT", q.End.Format("2006-01-02"))
	}

	header, rows, err := c.http.GetRDB(ctx, "/gwlevels/", params)
	if err != nil {
		return nil, source.Report{}, err
	}
	return c.rdbToTable(header, rows, "site_no", "lev_dt")
}

// BasinObservations fetches instantaneous values for both halves of the
// Colorado River basin and concatenates them with a basin column. A failure
// in one half is tolerated when the other succeeds.
func (c *Client) BasinObservations(ctx context.Context, parameterCode string, start, end time.Time) (*table.Table, source.Report, error) {
	var merged *table.Table
	var total source.Report
	var lastErr error

	for _, half := range []string{"upper", "lower"} {
		tbl, report, err := c.getTimeSeries(ctx, "/iv/", ObsQuery{
			HUC:           source.ColoradoBasinHUCs[half],
			ParameterCode: parameterCode,
			Start:         start,
			End:           end,
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

// BasinSites fetches site metadata for both halves of the Colorado River
// basin, tagged with a basin column. Same failure tolerance as
// BasinObservations.
func (c *Client) BasinSites(ctx context.Context, parameterCode string) (*table.Table, source.Report, error) {
	var merged *table.Table
	var total source.Report
	var lastErr error

	for _, half := range []string{"upper", "lower"} {
		tbl, report, err := c.GetSites(ctx, SiteQuery{
			HUC:           source.ColoradoBasinHUCs[half],
			ParameterCode: parameterCode,
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

// timeSeriesResponse mirrors the WaterML-JSON envelope returned by /iv/
// and /dv/.
type timeSeriesResponse struct {
	Value struct {
		TimeSeries []struct {
			SourceInfo struct {
				SiteName string `json:"siteName"`
				SiteCode []struct {
					Value string `json:"value"`
				} `json:"siteCode"`
				GeoLocation struct {
					GeogLocation struct {
						Latitude  float64 `json:"latitude"`
						Longitude float64 `json:"longitude"`
					} `json:"geogLocation"`
				} `json:"geoLocation"`
			} `json:"sourceInfo"`
			Variable struct {
				VariableCode []struct {
					Value string `json:"value"`
				} `json:"variableCode"`
				VariableName string `json:"variableName"`
				Unit         struct {
					UnitCode string `json:"unitCode"`
				} `json:"unit"`
			} `json:"variable"`
			Values []struct {
				Value []struct {
					Value      string   `json:"value"`
					Qualifiers []string `json:"qualifiers"`
					DateTime   string   `json:"dateTime"`
				} `json:"value"`
			} `json:"values"`
		} `json:"timeSeries"`
	} `json:"value"`
}

func (c *Client) getTimeSeries(ctx context.Context, path string, q ObsQuery) (*table.Table, source.Report, error) {
	var resp timeSeriesResponse
	if err := c.http.GetJSON(ctx, path, q.values(), &resp); err != nil {
		return nil, source.Report{}, err
	}

	b := source.NewBuilder([]source.Field{
		{Name: source.ColSiteID, Kind: table.KindString, Role: source.ID},
		{Name: source.ColSiteName, Kind: table.KindString},
		{Name: source.ColLatitude, Kind: table.KindFloat},
		{Name: source.ColLongitude, Kind: table.KindFloat},
		{Name: source.ColParameterCode, Kind: table.KindString},
		{Name: source.ColParameterName, Kind: table.KindString},
		{Name: source.ColDatetime, Kind: table.KindTime, Role: source.Timestamp},
		{Name: source.ColValue, Kind: table.KindFloat},
		{Name: source.ColUnit, Kind: table.KindString},
		{Name: source.ColQualifiers, Kind: table.KindString},
	})

	for _, ts := range resp.Value.TimeSeries {
		var siteID string
		if len(ts.SourceInfo.SiteCode) > 0 {
			siteID = ts.SourceInfo.SiteCode[0].Value
		}
		var paramCode string
		if len(ts.Variable.VariableCode) > 0 {
			paramCode = ts.Variable.VariableCode[0].Value
		}
		loc := ts.SourceInfo.GeoLocation.GeogLocation

		for _, block := range ts.Values {
			for _, v := range block.Value {
				row := map[string]any{
					source.ColSiteID:        siteID,
					source.ColSiteName:      ts.SourceInfo.SiteName,
					source.ColLatitude:      loc.Latitude,
					source.ColLongitude:     loc.Longitude,
					source.ColParameterCode: paramCode,
					source.ColParameterName: ts.Variable.VariableName,
					source.ColDatetime:      v.DateTime,
					source.ColUnit:          ts.Variable.Unit.UnitCode,
					source.ColQualifiers:    strings.Join(v.Qualifiers, ","),
				}
				if v.Value != "" && v.Value != noDataValue {
					row[source.ColValue] = v.Value
				}
				b.Append(row)
			}
		}
	}

	tbl, report, err := b.Table()
	if err != nil {
		return nil, source.Report{}, err
	}
	c.count(report)
	return tbl, report, nil
}

// rdbToTable shapes tab-delimited NWIS output. Latitude, longitude, altitude
// and level columns become floats; everything else stays a string.
func (c *Client) rdbToTable(header []string, rows [][]string, idCol, dateCol string) (*table.Table, source.Report, error) {
	tbl, report, err := source.Records(header, rows, source.RecordSpec{
		IDColumn:   idCol,
		TimeColumn: dateCol,
		FloatColumns: map[string]bool{
			"dec_lat_va":  true,
			"dec_long_va": true,
			"alt_va":      true,
			"lev_va":      true,
			"sl_lev_va":   true,
		},
	})
	if err != nil {
		return nil, source.Report{}, err
	}
	c.count(report)
	return tbl, report, nil
}

func (c *Client) count(report source.Report) {
	source.ObserveReport(c.metrics, c.Name(), report)
}
