// Package noaa fetches climate observations from NOAA's Climate Data Online
// (CDO) API. All CDO endpoints require a token and page results with an
// offset cursor; both are handled here.
package noaa

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/waterdata/internal/fetch"
	"github.com/couchcryptid/waterdata/internal/observability"
	"github.com/couchcryptid/waterdata/internal/source"
	"github.com/couchcryptid/waterdata/internal/table"
)

const (
	// DefaultBaseURL is the CDO API root.
	DefaultBaseURL = "https://www.ncdc.noaa.gov/cdo-web/api/v2"

	// pageLimit is the maximum page size the CDO API allows.
	pageLimit = 1000
)

// Datasets maps friendly names to CDO dataset identifiers.
var Datasets = map[string]string{
	"daily_summaries":      "GHCND",
	"precipitation_hourly": "PRECIP_HLY",
	"precipitation_15min":  "PRECIP_15",
	"normals_daily":        "NORMAL_DLY",
	"normals_monthly":      "NORMAL_MLY",
}

// DataTypes maps friendly names to CDO data type identifiers.
var DataTypes = map[string]string{
	"precipitation": "PRCP",
	"snowfall":      "SNOW",
	"snow_depth":    "SNWD",
	"temp_max":      "TMAX",
	"temp_min":      "TMIN",
	"temp_avg":      "TAVG",
}

// BasinStateFIPS lists the FIPS location codes of the Colorado River basin
// states.
var BasinStateFIPS = []string{
	"FIPS:04", // Arizona
	"FIPS:06", // California
	"FIPS:08", // Colorado
	"FIPS:32", // Nevada
	"FIPS:35", // New Mexico
	"FIPS:49", // Utah
	"FIPS:56", // Wyoming
}

// Config controls the client. Token is required; CDO rejects unauthenticated
// requests.
type Config struct {
	BaseURL     string
	Token       string
	MinInterval time.Duration
	MaxRetries  int
}

// Client talks to the CDO API.
type Client struct {
	http    *fetch.Client
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a CDO client.
func New(cfg Config, logger *slog.Logger, m *observability.Metrics, opts ...fetch.Option) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	minInterval := cfg.MinInterval
	if minInterval == 0 {
		minInterval = 200 * time.Millisecond
	}
	if m != nil {
		opts = append(opts, fetch.WithMetrics(m))
	}
	return &Client{
		http: fetch.NewClient(fetch.Config{
			Name:        "noaa",
			BaseURL:     baseURL,
			Token:       cfg.Token,
			TokenHeader: "token",
			MinInterval: minInterval,
			MaxRetries:  cfg.MaxRetries,
		}, logger, opts...),
		logger:  logger,
		metrics: m,
	}
}

// Name identifies the source.
func (c *Client) Name() string { return "noaa" }

type resultSet struct {
	Metadata struct {
		ResultSet struct {
			Offset int `json:"offset"`
			Count  int `json:"count"`
			Limit  int `json:"limit"`
		} `json:"resultset"`
	} `json:"metadata"`
	Results []map[string]any `json:"results"`
}

// DataQuery selects observations for GetData. Dataset accepts either a CDO
// identifier or a friendly name from Datasets; DataTypes likewise.
type DataQuery struct {
	Dataset    string
	DataTypes  []string
	StationID  string
	LocationID string
	Start, End time.Time
	// Units is "standard" or "metric"; empty leaves values unconverted.
	Units string
}

func (q DataQuery) values() (url.Values, error) {
	if q.Dataset == "" {
		return nil, errors.New("noaa: dataset is required")
	}
	if q.Start.IsZero() || q.End.IsZero() {
		return nil, errors.New("noaa: start and end dates are required")
	}

	params := url.Values{}
	params.Set("datasetid", resolve(Datasets, q.Dataset))
	for _, dt := range q.DataTypes {
		params.Add("datatypeid", resolve(DataTypes, dt))
	}
	if q.StationID != "" {
		params.Set("stationid", q.StationID)
	}
	if q.LocationID != "" {
		params.Set("locationid", q.LocationID)
	}
	params.Set("startdate", q.Start.Format("2006-01-02"))
	params.Set("enddate", q.End.Format("2006-01-02"))
	if q.Units != "" {
		params.Set("units", q.Units)
	}
	return params, nil
}

func resolve(m map[string]string, name string) string {
	if id, ok := m[strings.ToLower(name)]; ok {
		return id
	}
	return name
}

// GetData fetches observations, following the offset cursor until the
// advertised result count is exhausted. Rows without a station or date are
// dropped.
func (c *Client) GetData(ctx context.Context, q DataQuery) (*table.Table, source.Report, error) {
	params, err := q.values()
	if err != nil {
		return nil, source.Report{}, err
	}

	b := source.NewBuilder([]source.Field{
		{Name: source.ColSiteID, Kind: table.KindString, Role: source.ID},
		{Name: "datatype", Kind: table.KindString},
		{Name: source.ColDatetime, Kind: table.KindTime, Role: source.Timestamp},
		{Name: source.ColValue, Kind: table.KindFloat},
		{Name: "attributes", Kind: table.KindString},
	})

	err = c.paginate(ctx, "/data", params, func(results []map[string]any) {
		for _, r := range results {
			b.Append(map[string]any{
				source.ColSiteID:   r["station"],
				"datatype":         r["datatype"],
				source.ColDatetime: r["date"],
				source.ColValue:    r["value"],
				"attributes":       r["attributes"],
			})
		}
	})
	if err != nil {
		return nil, source.Report{}, err
	}

	tbl, report, err := b.Table()
	if err != nil {
		return nil, source.Report{}, err
	}
	source.ObserveReport(c.metrics, c.Name(), report)
	return tbl, report, nil
}

// StationQuery selects stations for GetStations.
type StationQuery struct {
	Dataset    string
	LocationID string
	// Extent limits results to a bounding box: south,west,north,east.
	Extent string
}

// GetStations fetches station metadata. Rows without a station id are
// dropped.
func (c *Client) GetStations(ctx context.Context, q StationQuery) (*table.Table, source.Report, error) {
	params := url.Values{}
	if q.Dataset != "" {
		params.Set("datasetid", resolve(Datasets, q.Dataset))
	}
	if q.LocationID != "" {
		params.Set("locationid", q.LocationID)
	}
	if q.Extent != "" {
		params.Set("extent", q.Extent)
	}

	b := source.NewBuilder([]source.Field{
		{Name: source.ColSiteID, Kind: table.KindString, Role: source.ID},
		{Name: source.ColSiteName, Kind: table.KindString},
		{Name: source.ColLatitude, Kind: table.KindFloat},
		{Name: source.ColLongitude, Kind: table.KindFloat},
		{Name: "elevation", Kind: table.KindFloat},
		{Name: "mindate", Kind: table.KindString},
		{Name: "maxdate", Kind: table.KindString},
		{Name: "datacoverage", Kind: table.KindFloat},
	})

	err := c.paginate(ctx, "/stations", params, func(results []map[string]any) {
		for _, r := range results {
			b.Append(map[string]any{
				source.ColSiteID:    r["id"],
				source.ColSiteName:  r["name"],
				source.ColLatitude:  r["latitude"],
				source.ColLongitude: r["longitude"],
				"elevation":         r["elevation"],
				"mindate":           r["mindate"],
				"maxdate":           r["maxdate"],
				"datacoverage":      r["datacoverage"],
			})
		}
	})
	if err != nil {
		return nil, source.Report{}, err
	}

	tbl, report, err := b.Table()
	if err != nil {
		return nil, source.Report{}, err
	}
	source.ObserveReport(c.metrics, c.Name(), report)
	return tbl, report, nil
}

// ListDatasets returns the dataset identifiers the token can access.
func (c *Client) ListDatasets(ctx context.Context) ([]string, error) {
	return c.listIDs(ctx, "/datasets", url.Values{})
}

// ListDataTypes returns the data type identifiers for a dataset.
func (c *Client) ListDataTypes(ctx context.Context, dataset string) ([]string, error) {
	params := url.Values{}
	if dataset != "" {
		params.Set("datasetid", resolve(Datasets, dataset))
	}
	return c.listIDs(ctx, "/datatypes", params)
}

// BasinData fetches observations for every Colorado River basin state and
// concatenates them with a state column. States that fail are skipped; an
// error is returned only when all of them fail.
func (c *Client) BasinData(ctx context.Context, q DataQuery) (*table.Table, source.Report, error) {
	var merged *table.Table
	var total source.Report
	var lastErr error

	for _, fips := range BasinStateFIPS {
		sq := q
		sq.LocationID = fips
		tbl, report, err := c.GetData(ctx, sq)
		if err != nil {
			c.logger.Warn("basin state failed", "source", c.Name(), "location", fips, "error", err)
			lastErr = err
			continue
		}

		stateCol := table.NewColumn("state_fips", table.KindString)
		for i := 0; i < tbl.NumRows(); i++ {
			stateCol.AppendString(strings.TrimPrefix(fips, "FIPS:"))
		}
		if err := tbl.AddColumn(stateCol); err != nil {
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

// paginate walks the offset cursor, invoking visit for every page, until the
// advertised count is reached or a page comes back empty.
func (c *Client) paginate(ctx context.Context, path string, params url.Values, visit func([]map[string]any)) error {
	offset := 1
	for {
		page := url.Values{}
		for k, vs := range params {
			page[k] = vs
		}
		page.Set("limit", strconv.Itoa(pageLimit))
		page.Set("offset", strconv.Itoa(offset))

		var resp resultSet
		if err := c.http.GetJSON(ctx, path, page, &resp); err != nil {
			return err
		}
		if len(resp.Results) == 0 {
			return nil
		}
		visit(resp.Results)

		offset += len(resp.Results)
		if offset > resp.Metadata.ResultSet.Count {
			return nil
		}
	}
}

func (c *Client) listIDs(ctx context.Context, path string, params url.Values) ([]string, error) {
	var ids []string
	err := c.paginate(ctx, path, params, func(results []map[string]any) {
		for _, r := range results {
			if id, ok := r["id"].(string); ok {
				ids = append(ids, id)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
