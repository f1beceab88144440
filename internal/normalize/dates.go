package normalize

import (
	"strings"

	"github.com/couchcryptid/waterdata/internal/source"
	"github.com/couchcryptid/waterdata/internal/table"
)

// dateKeywords flag columns that hold timestamps when no explicit list is
// given.
var dateKeywords = []string{"date", "time", "timestamp", "datetime", "dt", "created", "updated"}

// Dates returns a copy with the named string columns parsed into timestamp
// columns. With no columns given, every string column whose name contains a
// date keyword is converted. Values that fail to parse become missing
// markers; columns that are already timestamps pass through.
func Dates(t *table.Table, columns ...string) *table.Table {
	targets := map[string]bool{}
	if len(columns) > 0 {
		for _, name := range columns {
			targets[name] = true
		}
	} else {
		for i := 0; i < t.NumCols(); i++ {
			name := t.ColumnAt(i).Name()
			if looksLikeDate(name) {
				targets[name] = true
			}
		}
	}

	out := t.Clone()
	for name := range targets {
		col, ok := out.Column(name)
		if !ok || col.Kind() != table.KindString {
			continue
		}
		parsed := table.NewColumn(name, table.KindTime)
		for i := 0; i < col.Len(); i++ {
			s, ok := col.String(i)
			if !ok {
				parsed.AppendNull()
				continue
			}
			if ts, ok := source.ParseTime(s); ok {
				parsed.AppendTime(ts)
			} else {
				parsed.AppendNull()
			}
		}
		_ = out.ReplaceColumn(name, parsed)
	}
	return out
}

func looksLikeDate(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range dateKeywords {
		if lower == kw || strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
