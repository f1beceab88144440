// Package rest is a configurable client for JSON APIs that have no
// dedicated source package. Callers point it at a base URL, tell it where
// the rows live in the response, and get tables shaped under the shared
// conversion rules.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
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

// Config controls the client.
type Config struct {
	Name        string
	BaseURL     string
	Token       string
	TokenHeader string
	TokenPrefix string
	Headers     map[string]string
	MinInterval time.Duration
	MaxRetries  int
}

// Client talks to an arbitrary JSON API.
type Client struct {
	http    *fetch.Client
	name    string
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a generic REST client.
func New(cfg Config, logger *slog.Logger, m *observability.Metrics, opts ...fetch.Option) *Client {
	name := cfg.Name
	if name == "" {
		name = "rest"
	}
	if m != nil {
		opts = append(opts, fetch.WithMetrics(m))
	}
	return &Client{
		http: fetch.NewClient(fetch.Config{
			Name:        name,
			BaseURL:     cfg.BaseURL,
			Token:       cfg.Token,
			TokenHeader: cfg.TokenHeader,
			TokenPrefix: cfg.TokenPrefix,
			Headers:     cfg.Headers,
			MinInterval: cfg.MinInterval,
			MaxRetries:  cfg.MaxRetries,
		}, logger, opts...),
		name:    name,
		logger:  logger,
		metrics: m,
	}
}

// Name identifies the source.
func (c *Client) Name() string { return c.name }

// Get fetches a path and returns the decoded JSON document.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (map[string]any, error) {
	var out map[string]any
	if err := c.http.GetJSON(ctx, path, params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Post sends a JSON body and returns the decoded response document.
func (c *Client) Post(ctx context.Context, path string, body any) (map[string]any, error) {
	var out map[string]any
	if err := c.http.PostJSON(ctx, path, body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TableOpts tells GetTable where the rows live and which fields are
// mandatory.
type TableOpts struct {
	// DataKey is a dotted path to the row array, e.g. "data.items". Empty
	// means the response itself is the array.
	DataKey string
	// IDField and TimeField name the mandatory columns; either may be empty.
	IDField   string
	TimeField string
}

// GetTable fetches a path and shapes the row array into a table.
func (c *Client) GetTable(ctx context.Context, path string, params url.Values, opts TableOpts) (*table.Table, source.Report, error) {
	u := path
	var doc json.RawMessage
	if err := c.http.GetJSON(ctx, u, params, &doc); err != nil {
		return nil, source.Report{}, err
	}
	rows, err := extractRows(doc, opts.DataKey)
	if err != nil {
		return nil, source.Report{}, &fetch.ParseError{URL: u, Format: "json", Err: err}
	}
	return c.shape(rows, opts)
}

// PageStyle selects how GetPaginated advances through results.
type PageStyle int

const (
	// PageParam increments a numeric page parameter until a page comes back
	// empty.
	PageParam PageStyle = iota
	// NextURL follows an absolute URL found in each response document.
	NextURL
)

// Pagination controls GetPaginated.
type Pagination struct {
	Style PageStyle
	// Param is the page parameter name; defaults to "page".
	Param string
	// StartPage is the first page number; defaults to 1.
	StartPage int
	// NextKey is a dotted path to the next-page URL; defaults to "next".
	NextKey string
	// MaxPages bounds the walk; defaults to 100.
	MaxPages int
}

func (p Pagination) withDefaults() Pagination {
	if p.Param == "" {
		p.Param = "page"
	}
	if p.StartPage == 0 {
		p.StartPage = 1
	}
	if p.NextKey == "" {
		p.NextKey = "next"
	}
	if p.MaxPages == 0 {
		p.MaxPages = 100
	}
	return p
}

// GetPaginated walks every page and shapes the accumulated rows into one
// table.
func (c *Client) GetPaginated(ctx context.Context, path string, params url.Values, pg Pagination, opts TableOpts) (*table.Table, source.Report, error) {
	pg = pg.withDefaults()

	var rows []map[string]any
	switch pg.Style {
	case PageParam:
		for page := pg.StartPage; page < pg.StartPage+pg.MaxPages; page++ {
			p := url.Values{}
			for k, vs := range params {
				p[k] = vs
			}
			p.Set(pg.Param, strconv.Itoa(page))

			var doc json.RawMessage
			if err := c.http.GetJSON(ctx, path, p, &doc); err != nil {
				return nil, source.Report{}, err
			}
			pageRows, err := extractRows(doc, opts.DataKey)
			if err != nil {
				return nil, source.Report{}, &fetch.ParseError{URL: path, Format: "json", Err: err}
			}
			if len(pageRows) == 0 {
				break
			}
			rows = append(rows, pageRows...)
		}
	case NextURL:
		next := c.http.BuildURL(path, params)
		for page := 0; next != "" && page < pg.MaxPages; page++ {
			var doc json.RawMessage
			if err := c.http.GetJSONURL(ctx, next, &doc); err != nil {
				return nil, source.Report{}, err
			}
			pageRows, err := extractRows(doc, opts.DataKey)
			if err != nil {
				return nil, source.Report{}, &fetch.ParseError{URL: next, Format: "json", Err: err}
			}
			rows = append(rows, pageRows...)

			next = ""
			var envelope map[string]any
			if json.Unmarshal(doc, &envelope) == nil {
				if v, ok := lookup(envelope, pg.NextKey).(string); ok {
					next = v
				}
			}
		}
	}

	return c.shape(rows, opts)
}

func (c *Client) shape(rows []map[string]any, opts TableOpts) (*table.Table, source.Report, error) {
	b := source.NewBuilder(source.InferFields(rows, opts.IDField, opts.TimeField))
	for _, row := range rows {
		b.Append(row)
	}
	tbl, report, err := b.Table()
	if err != nil {
		return nil, source.Report{}, err
	}
	source.ObserveReport(c.metrics, c.name, report)
	return tbl, report, nil
}

// extractRows digs dataKey out of the document and asserts the row array.
func extractRows(doc json.RawMessage, dataKey string) ([]map[string]any, error) {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, err
	}
	if dataKey != "" {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected an object to hold %q, got %T", dataKey, v)
		}
		v = lookup(obj, dataKey)
		if v == nil {
			return nil, fmt.Errorf("key %q not found in response", dataKey)
		}
	}

	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected an array of rows, got %T", v)
	}
	rows := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if row, ok := item.(map[string]any); ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// lookup resolves a dotted path inside nested objects.
func lookup(obj map[string]any, dotted string) any {
	parts := strings.Split(dotted, ".")
	var cur any = obj
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}
