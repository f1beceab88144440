package viz

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/couchcryptid/waterdata/internal/table"
)

var tableTemplate = template.Must(template.New("table").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { background: {{.Theme.Background}}; color: {{.Theme.Text}}; font-family: sans-serif; margin: 16px; }
h1 { font-size: 1.2em; }
table { border-collapse: collapse; width: 100%; }
th { background: {{.Theme.Accent}}; color: {{.Theme.Background}}; text-align: left; padding: 6px 10px; }
td { border-bottom: 1px solid {{.Theme.Border}}; padding: 5px 10px; }
tr:nth-child(even) td { background: {{.Theme.Border}}33; }
td.missing { color: {{.Theme.Border}}; font-style: italic; }
caption { caption-side: bottom; padding: 6px; font-size: 0.85em; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<table>
<caption>{{.Caption}}</caption>
<thead><tr>{{range .Headers}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{range .Rows}}<tr>{{range .}}{{if .Missing}}<td class="missing">&mdash;</td>{{else}}<td>{{.Text}}</td>{{end}}{{end}}</tr>
{{end}}</tbody>
</table>
</body>
</html>
`))

type tableCell struct {
	Text    string
	Missing bool
}

type tablePage struct {
	Title   string
	Caption string
	Theme   Theme
	Headers []string
	Rows    [][]tableCell
}

// HTMLTable renders the table as a styled HTML page. maxRows bounds the
// output; zero means every row, and truncation is noted in the caption.
func HTMLTable(w io.Writer, t *table.Table, maxRows int, o Options) error {
	o = o.withDefaults()

	rows := t.NumRows()
	caption := ""
	if maxRows > 0 && rows > maxRows {
		rows = maxRows
		caption = "showing first rows only"
	}

	page := tablePage{
		Title:   o.Title,
		Caption: caption,
		Theme:   LookupTheme(o.Theme),
		Headers: t.Names(),
	}
	for r := 0; r < rows; r++ {
		row := make([]tableCell, t.NumCols())
		for c := 0; c < t.NumCols(); c++ {
			col := t.ColumnAt(c)
			if text, ok := cellString(col, r); ok {
				row[c] = tableCell{Text: text}
			} else {
				row[c] = tableCell{Missing: true}
			}
		}
		page.Rows = append(page.Rows, row)
	}
	return tableTemplate.Execute(w, page)
}

// SummaryStats builds a statistics table over every float column: count,
// missing, mean, min, median, max.
func SummaryStats(t *table.Table) (*table.Table, error) {
	name := table.NewStringColumn("column", nil)
	count := table.NewFloatColumn("count", nil)
	missing := table.NewFloatColumn("missing", nil)
	mean := table.NewFloatColumn("mean", nil)
	min := table.NewFloatColumn("min", nil)
	median := table.NewFloatColumn("median", nil)
	max := table.NewFloatColumn("max", nil)

	for c := 0; c < t.NumCols(); c++ {
		col := t.ColumnAt(c)
		if col.Kind() != table.KindFloat {
			continue
		}
		var vals []float64
		gaps := 0
		for r := 0; r < col.Len(); r++ {
			if v, ok := col.Float(r); ok {
				vals = append(vals, v)
			} else {
				gaps++
			}
		}

		name.AppendString(col.Name())
		count.AppendFloat(float64(len(vals)))
		missing.AppendFloat(float64(gaps))
		if len(vals) == 0 {
			mean.AppendNull()
			min.AppendNull()
			median.AppendNull()
			max.AppendNull()
			continue
		}
		sort.Float64s(vals)
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		mean.AppendFloat(sum / float64(len(vals)))
		min.AppendFloat(vals[0])
		median.AppendFloat(quantile(vals, 0.5))
		max.AppendFloat(vals[len(vals)-1])
	}

	if name.Len() == 0 {
		return nil, fmt.Errorf("viz: no float columns to summarize")
	}
	return table.New(name, count, missing, mean, min, median, max)
}

// Aggregate names a pivot cell aggregation.
type Aggregate string

const (
	AggMean  Aggregate = "mean"
	AggSum   Aggregate = "sum"
	AggMin   Aggregate = "min"
	AggMax   Aggregate = "max"
	AggCount Aggregate = "count"
)

// Pivot spreads the table wide: one row per distinct index value, one float
// column per distinct columns value, each cell aggregating the values
// column over the matching rows. Combinations with no rows get a missing
// marker. Labels sort lexically.
func Pivot(t *table.Table, values, index, columns string, agg Aggregate) (*table.Table, error) {
	idxCol, ok := t.Column(index)
	if !ok {
		return nil, fmt.Errorf("viz: no column %q", index)
	}
	colCol, ok := t.Column(columns)
	if !ok {
		return nil, fmt.Errorf("viz: no column %q", columns)
	}
	valCol, err := floatColumn(t, values)
	if err != nil {
		return nil, err
	}

	cells := map[string]map[string][]float64{}
	for r := 0; r < t.NumRows(); r++ {
		rowKey, okR := cellString(idxCol, r)
		colKey, okC := cellString(colCol, r)
		v, okV := valCol.Float(r)
		if !okR || !okC || !okV {
			continue
		}
		if cells[rowKey] == nil {
			cells[rowKey] = map[string][]float64{}
		}
		cells[rowKey][colKey] = append(cells[rowKey][colKey], v)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("viz: no complete rows to pivot")
	}

	rowKeys := make([]string, 0, len(cells))
	colSet := map[string]bool{}
	for rk, byCol := range cells {
		rowKeys = append(rowKeys, rk)
		for ck := range byCol {
			colSet[ck] = true
		}
	}
	sort.Strings(rowKeys)
	colKeys := make([]string, 0, len(colSet))
	for ck := range colSet {
		colKeys = append(colKeys, ck)
	}
	sort.Strings(colKeys)

	out := []*table.Column{table.NewStringColumn(index, rowKeys)}
	for _, ck := range colKeys {
		col := table.NewColumn(ck, table.KindFloat)
		for _, rk := range rowKeys {
			vals := cells[rk][ck]
			if len(vals) == 0 {
				col.AppendNull()
				continue
			}
			v, err := aggregate(vals, agg)
			if err != nil {
				return nil, err
			}
			col.AppendFloat(v)
		}
		out = append(out, col)
	}
	return table.New(out...)
}

func aggregate(vals []float64, agg Aggregate) (float64, error) {
	switch agg {
	case AggCount:
		return float64(len(vals)), nil
	case AggSum, AggMean:
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		if agg == AggSum {
			return sum, nil
		}
		return sum / float64(len(vals)), nil
	case AggMin:
		m := vals[0]
		for _, v := range vals[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case AggMax:
		m := vals[0]
		for _, v := range vals[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	}
	return 0, fmt.Errorf("viz: unknown aggregate %q", agg)
}

// ComparisonTable lines up mean, standard deviation, and count for the
// named columns across several tables. Rows are "<column>_<statistic>",
// with one output column per group, sorted by group name. Groups missing a
// column, or without enough values for a statistic, get a missing marker.
func ComparisonTable(groups map[string]*table.Table, columns []string) (*table.Table, error) {
	if len(groups) == 0 || len(columns) == 0 {
		return nil, fmt.Errorf("viz: nothing to compare")
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	stats := []string{"mean", "std", "count"}
	var labels []string
	for _, column := range columns {
		for _, stat := range stats {
			labels = append(labels, column+"_"+stat)
		}
	}

	out := []*table.Column{table.NewStringColumn("statistic", labels)}
	for _, name := range names {
		col := table.NewColumn(name, table.KindFloat)
		for _, column := range columns {
			mean, std, count := columnMoments(groups[name], column)
			if count == 0 {
				col.AppendNull()
			} else {
				col.AppendFloat(mean)
			}
			if count < 2 {
				col.AppendNull()
			} else {
				col.AppendFloat(std)
			}
			col.AppendFloat(float64(count))
		}
		out = append(out, col)
	}
	return table.New(out...)
}

// columnMoments returns the mean, sample standard deviation, and count of
// the present values. A missing or non-float column counts as empty.
func columnMoments(t *table.Table, name string) (mean, std float64, count int) {
	col, ok := t.Column(name)
	if !ok || col.Kind() != table.KindFloat {
		return 0, 0, 0
	}
	var vals []float64
	for r := 0; r < col.Len(); r++ {
		if v, ok := col.Float(r); ok {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, 0, 0
	}
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	if len(vals) > 1 {
		var ss float64
		for _, v := range vals {
			d := v - mean
			ss += d * d
		}
		std = math.Sqrt(ss / float64(len(vals)-1))
	}
	return mean, std, len(vals)
}

// WriteCSV dumps the table as CSV with a header row. Missing cells become
// empty fields.
func WriteCSV(w io.Writer, t *table.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Names()); err != nil {
		return err
	}
	record := make([]string, t.NumCols())
	for r := 0; r < t.NumRows(); r++ {
		for c := 0; c < t.NumCols(); c++ {
			record[c] = ""
			if text, ok := cellString(t.ColumnAt(c), r); ok {
				record[c] = text
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMarkdown dumps the table as a GitHub-style markdown table. Missing
// cells render as an em-dash entity.
func WriteMarkdown(w io.Writer, t *table.Table) error {
	var b strings.Builder
	b.WriteString("| " + strings.Join(t.Names(), " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", t.NumCols()) + "\n")
	for r := 0; r < t.NumRows(); r++ {
		b.WriteString("|")
		for c := 0; c < t.NumCols(); c++ {
			text, ok := cellString(t.ColumnAt(c), r)
			if !ok {
				text = "&mdash;"
			}
			b.WriteString(" " + strings.ReplaceAll(text, "|", "\\|") + " |")
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
