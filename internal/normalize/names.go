// Package normalize turns raw source tables into a consistent shape:
// snake_case column names, canonical site and coordinate columns, parsed
// timestamps, and converted units. Every function returns a new table and
// leaves its input untouched.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/couchcryptid/waterdata/internal/table"
)

var (
	camelBoundary  = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	separatorRuns  = regexp.MustCompile(`[\s\-\.]+`)
	invalidChars   = regexp.MustCompile(`[^a-z0-9_]`)
	underscoreRuns = regexp.MustCompile(`_+`)
)

// ToSnakeCase rewrites a column name: camelCase boundaries become
// underscores, separators collapse to single underscores, and anything that
// is not a lowercase letter, digit, or underscore is removed.
func ToSnakeCase(name string) string {
	s := camelBoundary.ReplaceAllString(name, "${1}_${2}")
	s = separatorRuns.ReplaceAllString(s, "_")
	s = strings.ToLower(s)
	s = invalidChars.ReplaceAllString(s, "")
	s = underscoreRuns.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// ColumnNames returns a copy of the table with every column renamed to
// snake_case. Colliding names keep the first column's name and suffix later
// ones with their position.
func ColumnNames(t *table.Table) *table.Table {
	out := t.Clone()
	names := make([]string, out.NumCols())
	seen := map[string]bool{}
	for i := 0; i < out.NumCols(); i++ {
		name := ToSnakeCase(out.ColumnAt(i).Name())
		if name == "" || seen[name] {
			name = dedupe(name, i, seen)
		}
		seen[name] = true
		names[i] = name
	}
	// Two passes so an old name matching another column's new name cannot
	// collide mid-rename.
	for i := 0; i < out.NumCols(); i++ {
		_ = out.RenameColumn(out.ColumnAt(i).Name(), fmt.Sprintf("__rename_%d", i))
	}
	for i := 0; i < out.NumCols(); i++ {
		_ = out.RenameColumn(fmt.Sprintf("__rename_%d", i), names[i])
	}
	return out
}

func dedupe(name string, pos int, seen map[string]bool) string {
	if name == "" {
		name = "column"
	}
	candidate := fmt.Sprintf("%s_%d", name, pos)
	for seen[candidate] {
		candidate += "_"
	}
	return candidate
}

// SourceRenames maps each source's raw column names onto the canonical
// schema. Keys are snake_case, i.e. applied after ColumnNames.
var SourceRenames = map[string]map[string]string{
	"usgs": {
		"site_no":     "site_id",
		"station_nm":  "site_name",
		"dec_lat_va":  "latitude",
		"dec_long_va": "longitude",
	},
	"epa": {
		"monitoringlocationidentifier":  "site_id",
		"monitoringlocationname":        "site_name",
		"activitystartdate":             "measurement_date",
		"resultmeasurevalue":            "value",
		"resultmeasure_measureunitcode": "unit",
		"characteristicname":            "parameter_name",
		"latitudemeasure":               "latitude",
		"longitudemeasure":              "longitude",
	},
	"noaa": {
		"date":     "measurement_date",
		"station":  "site_id",
		"datatype": "parameter_code",
	},
}

// ApplySourceRenames returns a copy with the source's rename map applied.
// Unknown sources and absent columns are no-ops.
func ApplySourceRenames(t *table.Table, sourceName string) *table.Table {
	out := t.Clone()
	for from, to := range SourceRenames[sourceName] {
		if _, exists := out.Column(to); exists {
			continue
		}
		_ = out.RenameColumn(from, to)
	}
	return out
}
