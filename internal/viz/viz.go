// Package viz renders tables as self-contained HTML: charts, maps, and
// styled tables. The adapters stay thin; they read columns, hand the values
// to the rendering library, and write the result to an io.Writer.
package viz

import (
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/couchcryptid/waterdata/internal/table"
)

// Options are shared across all chart kinds.
type Options struct {
	Title    string
	Subtitle string
	// Width and Height are CSS sizes; empty uses the defaults.
	Width  string
	Height string
	// Theme picks a palette from Themes; empty uses "default".
	Theme string
	// MovingAverage adds a smoothed companion line per series with the
	// given window. Zero disables it. TimeSeries only.
	MovingAverage int
	// WeightColumn scales marker radius by the named float column.
	// PointMap only.
	WeightColumn string
}

func (o Options) withDefaults() Options {
	if o.Width == "" {
		o.Width = "900px"
	}
	if o.Height == "" {
		o.Height = "500px"
	}
	if o.Theme == "" {
		o.Theme = "default"
	}
	return o
}

func globalOpts(o Options) []charts.GlobalOpts {
	theme := LookupTheme(o.Theme)
	return []charts.GlobalOpts{
		charts.WithInitializationOpts(opts.Initialization{
			Width:     o.Width,
			Height:    o.Height,
			Theme:     theme.Echarts,
			PageTitle: o.Title,
		}),
		charts.WithTitleOpts(opts.Title{Title: o.Title, Subtitle: o.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	}
}

// floatColumn fetches a float column or fails with a descriptive error.
func floatColumn(t *table.Table, name string) (*table.Column, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("viz: no column %q", name)
	}
	if col.Kind() != table.KindFloat {
		return nil, fmt.Errorf("viz: column %q is %s, want float", name, col.Kind())
	}
	return col, nil
}

func timeColumn(t *table.Table, name string) (*table.Column, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, fmt.Errorf("viz: no column %q", name)
	}
	if col.Kind() != table.KindTime {
		return nil, fmt.Errorf("viz: column %q is %s, want timestamp", name, col.Kind())
	}
	return col, nil
}

// cellString renders any cell for use as an axis label or group key.
func cellString(col *table.Column, i int) (string, bool) {
	if !col.IsValid(i) {
		return "", false
	}
	switch col.Kind() {
	case table.KindString:
		return col.String(i)
	case table.KindFloat:
		v, _ := col.Float(i)
		return fmt.Sprintf("%g", v), true
	case table.KindTime:
		ts, _ := col.Time(i)
		return ts.Format("2006-01-02 15:04"), true
	case table.KindBool:
		b, _ := col.Bool(i)
		return fmt.Sprintf("%t", b), true
	}
	return "", false
}
