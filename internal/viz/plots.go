package viz

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/couchcryptid/waterdata/internal/table"
)

// TimeSeries renders a line chart of valueCol over timeCol. A non-empty
// seriesCol splits the rows into one line per distinct value, which is how
// multi-site charts are drawn.
func TimeSeries(w io.Writer, t *table.Table, timeCol, valueCol, seriesCol string, o Options) error {
	o = o.withDefaults()

	tc, err := timeColumn(t, timeCol)
	if err != nil {
		return err
	}
	vc, err := floatColumn(t, valueCol)
	if err != nil {
		return err
	}

	var sc *table.Column
	if seriesCol != "" {
		col, ok := t.Column(seriesCol)
		if !ok {
			return fmt.Errorf("viz: no column %q", seriesCol)
		}
		sc = col
	}

	// One x-axis of sorted distinct timestamps shared by every series.
	stampSet := map[string]bool{}
	for i := 0; i < tc.Len(); i++ {
		if label, ok := cellString(tc, i); ok {
			stampSet[label] = true
		}
	}
	stamps := make([]string, 0, len(stampSet))
	for s := range stampSet {
		stamps = append(stamps, s)
	}
	sort.Strings(stamps)
	index := make(map[string]int, len(stamps))
	for i, s := range stamps {
		index[s] = i
	}

	series := map[string][]opts.LineData{}
	for i := 0; i < tc.Len(); i++ {
		label, ok := cellString(tc, i)
		if !ok {
			continue
		}
		name := valueCol
		if sc != nil {
			if group, ok := cellString(sc, i); ok {
				name = group
			}
		}
		points, exists := series[name]
		if !exists {
			points = make([]opts.LineData, len(stamps))
			for j := range points {
				points[j] = opts.LineData{Value: nil}
			}
		}
		if v, ok := vc.Float(i); ok {
			points[index[label]] = opts.LineData{Value: v}
		}
		series[name] = points
	}

	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	line := charts.NewLine()
	line.SetGlobalOptions(globalOpts(o)...)
	line.SetXAxis(stamps)
	for _, name := range names {
		line.AddSeries(name, series[name])
		if o.MovingAverage > 1 {
			line.AddSeries(fmt.Sprintf("%s (avg %d)", name, o.MovingAverage),
				movingAverage(series[name], o.MovingAverage))
		}
	}
	return line.Render(w)
}

// movingAverage smooths a line over a trailing window, carrying gaps through
// as gaps.
func movingAverage(points []opts.LineData, window int) []opts.LineData {
	out := make([]opts.LineData, len(points))
	for i := range points {
		if points[i].Value == nil {
			out[i] = opts.LineData{Value: nil}
			continue
		}
		sum := 0.0
		n := 0
		for j := i; j >= 0 && j > i-window; j-- {
			if v, ok := points[j].Value.(float64); ok {
				sum += v
				n++
			}
		}
		out[i] = opts.LineData{Value: sum / float64(n)}
	}
	return out
}

// Histogram renders a bar chart of valueCol bucketed into bins equal-width
// bins. Missing markers are excluded.
func Histogram(w io.Writer, t *table.Table, valueCol string, bins int, o Options) error {
	o = o.withDefaults()
	if bins <= 0 {
		bins = 10
	}

	vc, err := floatColumn(t, valueCol)
	if err != nil {
		return err
	}

	var vals []float64
	for i := 0; i < vc.Len(); i++ {
		if v, ok := vc.Float(i); ok {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return fmt.Errorf("viz: column %q has no values", valueCol)
	}

	lo, hi := vals[0], vals[0]
	for _, v := range vals {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	width := (hi - lo) / float64(bins)
	if width == 0 {
		width = 1
	}

	counts := make([]int, bins)
	for _, v := range vals {
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		counts[b]++
	}

	labels := make([]string, bins)
	data := make([]opts.BarData, bins)
	for i := 0; i < bins; i++ {
		labels[i] = fmt.Sprintf("%.4g", lo+width*float64(i))
		data[i] = opts.BarData{Value: counts[i]}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(globalOpts(o)...)
	bar.SetXAxis(labels)
	bar.AddSeries(valueCol, data)
	return bar.Render(w)
}

// Scatter renders yCol against xCol. Rows missing either value are skipped.
func Scatter(w io.Writer, t *table.Table, xCol, yCol string, o Options) error {
	o = o.withDefaults()

	xc, err := floatColumn(t, xCol)
	if err != nil {
		return err
	}
	yc, err := floatColumn(t, yCol)
	if err != nil {
		return err
	}

	var data []opts.ScatterData
	for i := 0; i < xc.Len(); i++ {
		x, okX := xc.Float(i)
		y, okY := yc.Float(i)
		if !okX || !okY {
			continue
		}
		data = append(data, opts.ScatterData{Value: []any{x, y}})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(append(globalOpts(o),
		charts.WithXAxisOpts(opts.XAxis{Name: xCol, Type: "value"}),
		charts.WithYAxisOpts(opts.YAxis{Name: yCol, Type: "value"}),
	)...)
	scatter.AddSeries(yCol, data)
	return scatter.Render(w)
}

// Box renders box plots of valueCol, one per distinct groupCol value.
func Box(w io.Writer, t *table.Table, valueCol, groupCol string, o Options) error {
	o = o.withDefaults()

	vc, err := floatColumn(t, valueCol)
	if err != nil {
		return err
	}
	gc, ok := t.Column(groupCol)
	if !ok {
		return fmt.Errorf("viz: no column %q", groupCol)
	}

	groups := map[string][]float64{}
	for i := 0; i < vc.Len(); i++ {
		v, okV := vc.Float(i)
		g, okG := cellString(gc, i)
		if !okV || !okG {
			continue
		}
		groups[g] = append(groups[g], v)
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	data := make([]opts.BoxPlotData, len(names))
	for i, name := range names {
		data[i] = opts.BoxPlotData{Value: fiveNumber(groups[name])}
	}

	box := charts.NewBoxPlot()
	box.SetGlobalOptions(globalOpts(o)...)
	box.SetXAxis(names)
	box.AddSeries(valueCol, data)
	return box.Render(w)
}

// fiveNumber computes [min, q1, median, q3, max].
func fiveNumber(vals []float64) []float64 {
	sort.Float64s(vals)
	return []float64{
		vals[0],
		quantile(vals, 0.25),
		quantile(vals, 0.5),
		quantile(vals, 0.75),
		vals[len(vals)-1],
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// Heatmap renders valueCol over the xCol and yCol category axes, e.g. month
// by site.
func Heatmap(w io.Writer, t *table.Table, xCol, yCol, valueCol string, o Options) error {
	o = o.withDefaults()

	xc, ok := t.Column(xCol)
	if !ok {
		return fmt.Errorf("viz: no column %q", xCol)
	}
	yc, ok := t.Column(yCol)
	if !ok {
		return fmt.Errorf("viz: no column %q", yCol)
	}
	vc, err := floatColumn(t, valueCol)
	if err != nil {
		return err
	}

	xLabels, xIndex := categories(xc)
	yLabels, yIndex := categories(yc)

	var data []opts.HeatMapData
	maxVal := math.Inf(-1)
	for i := 0; i < vc.Len(); i++ {
		x, okX := cellString(xc, i)
		y, okY := cellString(yc, i)
		v, okV := vc.Float(i)
		if !okX || !okY || !okV {
			continue
		}
		maxVal = math.Max(maxVal, v)
		data = append(data, opts.HeatMapData{Value: [3]any{xIndex[x], yIndex[y], v}})
	}
	if len(data) == 0 {
		return fmt.Errorf("viz: no complete rows for heatmap")
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(append(globalOpts(o),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: yLabels}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxVal),
		}),
	)...)
	hm.SetXAxis(xLabels)
	hm.AddSeries(valueCol, data)
	return hm.Render(w)
}

// CorrelationHeatmap renders the Pearson correlation matrix of the named
// float columns (every float column when columns is nil) with the color
// scale spanning [-1, 1].
func CorrelationHeatmap(w io.Writer, t *table.Table, columns []string, o Options) error {
	o = o.withDefaults()

	if len(columns) == 0 {
		for c := 0; c < t.NumCols(); c++ {
			if t.ColumnAt(c).Kind() == table.KindFloat {
				columns = append(columns, t.ColumnAt(c).Name())
			}
		}
	}
	if len(columns) < 2 {
		return fmt.Errorf("viz: correlation needs at least two float columns")
	}

	cols := make([]*table.Column, len(columns))
	for i, name := range columns {
		col, err := floatColumn(t, name)
		if err != nil {
			return err
		}
		cols[i] = col
	}

	var data []opts.HeatMapData
	for yi, yc := range cols {
		for xi, xc := range cols {
			r, ok := pearson(xc, yc)
			if !ok {
				continue
			}
			data = append(data, opts.HeatMapData{Value: [3]any{xi, yi, math.Round(r*1000) / 1000}})
		}
	}
	if len(data) == 0 {
		return fmt.Errorf("viz: no overlapping rows to correlate")
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(append(globalOpts(o),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: columns}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        -1,
			Max:        1,
			InRange:    &opts.VisualMapInRange{Color: []string{"#313695", "#ffffff", "#a50026"}},
		}),
	)...)
	hm.SetXAxis(columns)
	hm.AddSeries("correlation", data)
	return hm.Render(w)
}

// pearson correlates the rows where both columns hold a value. Reports
// false with fewer than two such rows or when either side is constant.
func pearson(a, b *table.Column) (float64, bool) {
	n := a.Len()
	if b.Len() < n {
		n = b.Len()
	}
	var xs, ys []float64
	for i := 0; i < n; i++ {
		x, okX := a.Float(i)
		y, okY := b.Float(i)
		if okX && okY {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	if len(xs) < 2 {
		return 0, false
	}

	var mx, my float64
	for i := range xs {
		mx += xs[i]
		my += ys[i]
	}
	mx /= float64(len(xs))
	my /= float64(len(ys))

	var cov, vx, vy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		cov += dx * dy
		vx += dx * dx
		vy += dy * dy
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}

func categories(col *table.Column) ([]string, map[string]int) {
	set := map[string]bool{}
	for i := 0; i < col.Len(); i++ {
		if s, ok := cellString(col, i); ok {
			set[s] = true
		}
	}
	labels := make([]string, 0, len(set))
	for s := range set {
		labels = append(labels, s)
	}
	sort.Strings(labels)
	index := make(map[string]int, len(labels))
	for i, s := range labels {
		index[s] = i
	}
	return labels, index
}
