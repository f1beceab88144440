// Package arcgis queries ArcGIS feature services. Feature attributes become
// table columns and point geometries become longitude and latitude, which is
// how Montana's GWIC well and DNRC stream gage layers are published.
package arcgis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/couchcryptid/waterdata/internal/fetch"
	"github.com/couchcryptid/waterdata/internal/observability"
	"github.com/couchcryptid/waterdata/internal/source"
	"github.com/couchcryptid/waterdata/internal/table"
)

// Montana layer roots.
const (
	GWICWellsURL       = "https://gis.msl.mt.gov/arcgis/rest/services/Water/GWIC_Wells/FeatureServer/0"
	DNRCStreamGagesURL = "https://gis.dnrc.mt.gov/arcgis/rest/services/WRD/StreamGages/FeatureServer/0"
)

// Config controls the client. BaseURL is the layer endpoint, i.e. the URL
// ending in the layer index.
type Config struct {
	Name        string
	BaseURL     string
	MinInterval time.Duration
	MaxRetries  int
}

// Client queries one feature layer.
type Client struct {
	http    *fetch.Client
	name    string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a feature layer client.
func New(cfg Config, logger *slog.Logger, m *observability.Metrics, opts ...fetch.Option) *Client {
	name := cfg.Name
	if name == "" {
		name = "arcgis"
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
			Name:        name,
			BaseURL:     cfg.BaseURL,
			MinInterval: minInterval,
			MaxRetries:  cfg.MaxRetries,
		}, logger, opts...),
		name:    name,
		logger:  logger,
		metrics: m,
	}
}

// NewGWICWells creates a client for Montana's groundwater well inventory.
func NewGWICWells(logger *slog.Logger, m *observability.Metrics, opts ...fetch.Option) *Client {
	return New(Config{Name: "gwic", BaseURL: GWICWellsURL}, logger, m, opts...)
}

// NewDNRCStreamGages creates a client for Montana DNRC's stream gage layer.
func NewDNRCStreamGages(logger *slog.Logger, m *observability.Metrics, opts ...fetch.Option) *Client {
	return New(Config{Name: "dnrc", BaseURL: DNRCStreamGagesURL}, logger, m, opts...)
}

// Name identifies the source.
func (c *Client) Name() string { return c.name }

// Query selects features. The zero value fetches every feature with its
// geometry.
type Query struct {
	// Where is an ArcGIS SQL filter; empty means "1=1".
	Where string
	// IDField names the attribute identifying each feature; rows without it
	// are dropped. Empty keeps all rows.
	IDField string
	// TimeField names an epoch-millisecond date attribute to surface as a
	// timestamp column; rows without it are dropped.
	TimeField string
	// SkipGeometry omits the longitude/latitude columns.
	SkipGeometry bool
	// BBox restricts results to an envelope in layer coordinates.
	BBox *Envelope
}

// Envelope is a bounding box filter, WGS84 lon/lat degrees.
type Envelope struct {
	XMin, YMin, XMax, YMax float64
}

type featureResponse struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
		Geometry   *struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		} `json:"geometry"`
	} `json:"features"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GetFeatures fetches and shapes the layer's features. Column order is the
// sorted union of attribute names, with longitude and latitude appended when
// geometry is requested.
func (c *Client) GetFeatures(ctx context.Context, q Query) (*table.Table, source.Report, error) {
	where := q.Where
	if where == "" {
		where = "1=1"
	}
	params := url.Values{}
	params.Set("where", where)
	params.Set("outFields", "*")
	params.Set("f", "json")
	if q.SkipGeometry {
		params.Set("returnGeometry", "false")
	} else {
		params.Set("returnGeometry", "true")
	}
	if q.BBox != nil {
		params.Set("geometry", fmt.Sprintf("%g,%g,%g,%g", q.BBox.XMin, q.BBox.YMin, q.BBox.XMax, q.BBox.YMax))
		params.Set("geometryType", "esriGeometryEnvelope")
		params.Set("spatialRel", "esriSpatialRelIntersects")
		params.Set("inSR", "4326")
	}

	endpoint := "/query"
	var resp featureResponse
	if err := c.http.GetJSON(ctx, endpoint, params, &resp); err != nil {
		return nil, source.Report{}, err
	}
	// Feature services report failures inside a 200 response.
	if resp.Error != nil {
		return nil, source.Report{}, &fetch.RetrievalError{
			URL:        endpoint,
			StatusCode: resp.Error.Code,
			Attempts:   1,
			Err:        errors.New(resp.Error.Message),
		}
	}

	fields := c.fields(resp, q)
	b := source.NewBuilder(fields)
	for _, f := range resp.Features {
		row := make(map[string]any, len(f.Attributes)+2)
		for k, v := range f.Attributes {
			row[k] = v
		}
		if !q.SkipGeometry && f.Geometry != nil {
			row[source.ColLongitude] = f.Geometry.X
			row[source.ColLatitude] = f.Geometry.Y
		}
		b.Append(row)
	}

	tbl, report, err := b.Table()
	if err != nil {
		return nil, source.Report{}, err
	}
	source.ObserveReport(c.metrics, c.name, report)
	return tbl, report, nil
}

// fields derives the output schema from the attribute union, keeping the
// geometry columns last.
func (c *Client) fields(resp featureResponse, q Query) []source.Field {
	attrs := make([]map[string]any, len(resp.Features))
	for i, f := range resp.Features {
		attrs[i] = f.Attributes
	}
	fields := source.InferFields(attrs, q.IDField, q.TimeField)
	if !q.SkipGeometry {
		fields = append(fields,
			source.Field{Name: source.ColLongitude, Kind: table.KindFloat},
			source.Field{Name: source.ColLatitude, Kind: table.KindFloat},
		)
	}
	return fields
}
