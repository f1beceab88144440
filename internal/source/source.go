// Package source defines what all upstream data source clients have in
// common: canonical column names, the report produced when raw API payloads
// are shaped into tables, and the row builder that applies the shared
// rules (optional fields become missing markers, rows without an identifier
// or timestamp are dropped and counted).
package source

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/waterdata/internal/observability"
	"github.com/couchcryptid/waterdata/internal/table"
)

// Canonical column names produced by the source clients.
const (
	ColSiteID        = "site_id"
	ColSiteName      = "site_name"
	ColLatitude      = "latitude"
	ColLongitude     = "longitude"
	ColParameterCode = "parameter_code"
	ColParameterName = "parameter_name"
	ColDatetime      = "datetime"
	ColValue         = "value"
	ColUnit          = "unit"
	ColQualifiers    = "qualifiers"
	ColSource        = "source"
	ColBasin         = "basin"
)

// Client is the surface every source client shares. Operations beyond this
// are source specific and live on the concrete types.
type Client interface {
	Name() string
}

// Report summarizes a raw-to-table conversion.
type Report struct {
	Rows                    int
	DroppedMissingID        int
	DroppedMissingTimestamp int
}

// Dropped is the total number of rows excluded from the table.
func (r Report) Dropped() int {
	return r.DroppedMissingID + r.DroppedMissingTimestamp
}

func (r Report) String() string {
	return fmt.Sprintf("%d rows (%d dropped: %d missing id, %d missing timestamp)",
		r.Rows, r.Dropped(), r.DroppedMissingID, r.DroppedMissingTimestamp)
}

// Role marks how a field participates in the mandatory-field rule.
type Role int

const (
	// Optional fields get a missing marker when absent.
	Optional Role = iota
	// ID fields identify the observed site; rows without one are dropped.
	ID
	// Timestamp fields anchor the observation in time; rows without one
	// are dropped.
	Timestamp
)

// Field describes one output column of a source table.
type Field struct {
	Name string
	Kind table.Kind
	Role Role
}

// Builder shapes loosely typed row maps into a table, enforcing the shared
// conversion rules. Values are coerced to the declared column kind; values
// that are absent, nil, or uncoercible become missing markers, except for
// ID and Timestamp fields, whose absence drops the whole row.
type Builder struct {
	fields []Field
	cols   []*table.Column
	report Report
}

// NewBuilder creates a builder for the given output columns.
func NewBuilder(fields []Field) *Builder {
	cols := make([]*table.Column, len(fields))
	for i, f := range fields {
		cols[i] = table.NewColumn(f.Name, f.Kind)
	}
	return &Builder{fields: fields, cols: cols}
}

// Append adds one row. Keys absent from the map, nil values, and values that
// cannot be coerced to the column kind count as missing.
func (b *Builder) Append(row map[string]any) {
	for _, f := range b.fields {
		if f.Role == Optional {
			continue
		}
		if _, ok := coerce(row[f.Name], f.Kind); !ok {
			if f.Role == ID {
				b.report.DroppedMissingID++
			} else {
				b.report.DroppedMissingTimestamp++
			}
			return
		}
	}

	for i, f := range b.fields {
		appendCoerced(b.cols[i], row[f.Name], f.Kind)
	}
	b.report.Rows++
}

// Table finalizes the builder.
func (b *Builder) Table() (*table.Table, Report, error) {
	t, err := table.New(b.cols...)
	if err != nil {
		return nil, Report{}, err
	}
	return t, b.report, nil
}

func appendCoerced(col *table.Column, v any, kind table.Kind) {
	cv, ok := coerce(v, kind)
	if !ok {
		col.AppendNull()
		return
	}
	switch kind {
	case table.KindString:
		col.AppendString(cv.(string))
	case table.KindFloat:
		col.AppendFloat(cv.(float64))
	case table.KindTime:
		col.AppendTime(cv.(time.Time))
	case table.KindBool:
		col.AppendBool(cv.(bool))
	case table.KindBytes:
		col.AppendBytes(cv.([]byte))
	}
}

func coerce(v any, kind table.Kind) (any, bool) {
	if v == nil {
		return nil, false
	}
	switch kind {
	case table.KindString:
		switch s := v.(type) {
		case string:
			if strings.TrimSpace(s) == "" {
				return nil, false
			}
			return s, true
		case float64:
			// Numeric identifiers, e.g. ArcGIS object ids.
			return strconv.FormatFloat(s, 'f', -1, 64), true
		case int:
			return strconv.Itoa(s), true
		}
		return nil, false
	case table.KindFloat:
		switch n := v.(type) {
		case float64:
			return n, true
		case float32:
			return float64(n), true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, false
			}
			return f, true
		}
		return nil, false
	case table.KindTime:
		switch ts := v.(type) {
		case time.Time:
			return ts, true
		case string:
			t, ok := ParseTime(ts)
			if !ok {
				return nil, false
			}
			return t, true
		case float64:
			// Epoch milliseconds, as ArcGIS date fields arrive from JSON.
			if ts > 1e11 {
				return time.UnixMilli(int64(ts)).UTC(), true
			}
			return nil, false
		}
		return nil, false
	case table.KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, false
		}
		return b, true
	case table.KindBytes:
		bs, ok := v.([]byte)
		if !ok {
			return nil, false
		}
		return bs, true
	}
	return nil, false
}

// ColoradoBasinHUCs maps the two halves of the Colorado River basin to their
// two-digit hydrologic unit codes.
var ColoradoBasinHUCs = map[string]string{
	"upper": "14",
	"lower": "15",
}

// ObserveReport records a conversion's row and drop counts. A nil metrics
// receiver is a no-op so tests can skip registration.
func ObserveReport(m *observability.Metrics, sourceName string, r Report) {
	if m == nil {
		return
	}
	m.RowsFetched.WithLabelValues(sourceName).Add(float64(r.Rows))
	if r.DroppedMissingID > 0 {
		m.RowsDropped.WithLabelValues(sourceName, "missing_id").Add(float64(r.DroppedMissingID))
	}
	if r.DroppedMissingTimestamp > 0 {
		m.RowsDropped.WithLabelValues(sourceName, "missing_timestamp").Add(float64(r.DroppedMissingTimestamp))
	}
}

// RecordSpec describes how delimited records (RDB, CSV) map onto a table:
// which column identifies the site, which one carries the timestamp, and
// which ones are numeric. Unlisted columns stay strings.
type RecordSpec struct {
	IDColumn     string
	TimeColumn   string
	FloatColumns map[string]bool
}

// Records shapes header+rows into a table under the shared conversion rules.
func Records(header []string, rows [][]string, spec RecordSpec) (*table.Table, Report, error) {
	fields := make([]Field, len(header))
	for i, name := range header {
		f := Field{Name: name, Kind: table.KindString}
		if spec.FloatColumns[name] {
			f.Kind = table.KindFloat
		}
		switch name {
		case spec.IDColumn:
			f.Role = ID
		case spec.TimeColumn:
			f.Kind = table.KindTime
			f.Role = Timestamp
		}
		fields[i] = f
	}

	b := NewBuilder(fields)
	for _, row := range rows {
		m := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(row) && row[i] != "" {
				m[name] = row[i]
			}
		}
		b.Append(m)
	}
	return b.Table()
}

// InferFields derives a schema from loosely typed rows: the sorted union of
// keys, with kinds inferred from the last non-nil value seen per key.
// idField and timeField, when present, get their roles and kinds forced.
func InferFields(rows []map[string]any, idField, timeField string) []Field {
	kinds := map[string]table.Kind{}
	var names []string
	for _, row := range rows {
		for k, v := range row {
			if _, seen := kinds[k]; !seen {
				kinds[k] = table.KindString
				names = append(names, k)
			}
			switch v.(type) {
			case float64:
				kinds[k] = table.KindFloat
			case bool:
				kinds[k] = table.KindBool
			}
		}
	}
	sort.Strings(names)

	fields := make([]Field, 0, len(names))
	for _, name := range names {
		f := Field{Name: name, Kind: kinds[name]}
		switch name {
		case idField:
			f.Kind = table.KindString
			f.Role = ID
		case timeField:
			f.Kind = table.KindTime
			f.Role = Timestamp
		}
		fields = append(fields, f)
	}
	return fields
}

// timeLayouts covers the timestamp shapes the upstream APIs actually emit.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000-07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
	"01-02-2006",
	"01/02/2006",
}

// ParseTime parses a timestamp using the layouts seen across the supported
// APIs. Layouts without a zone are interpreted as UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	// Epoch milliseconds, as sent by ArcGIS feature services.
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 1e11 {
		return time.UnixMilli(ms).UTC(), true
	}
	return time.Time{}, false
}
