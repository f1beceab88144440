package normalize

import (
	"fmt"
	"strings"

	"github.com/couchcryptid/waterdata/internal/table"
)

// Conversion is an affine unit mapping: out = in*Scale + Offset.
type Conversion struct {
	Scale  float64
	Offset float64
}

// Apply converts one value.
func (c Conversion) Apply(v float64) float64 { return v*c.Scale + c.Offset }

// Inverse returns the mapping back to the original unit.
func (c Conversion) Inverse() Conversion {
	return Conversion{Scale: 1 / c.Scale, Offset: -c.Offset / c.Scale}
}

// conversions holds the registered unit pairs. Directions not listed are
// derived by inverting the opposite entry.
var conversions = map[string]map[string]Conversion{
	"feet": {
		"meters": {Scale: 0.3048},
	},
	"meters": {
		"feet": {Scale: 3.28084},
	},
	"inches": {
		"mm": {Scale: 25.4},
	},
	"mm": {
		"inches": {Scale: 0.0393701},
	},
	"cfs": {
		"m3/s": {Scale: 0.0283168},
	},
	"m3/s": {
		"cfs": {Scale: 35.3147},
	},
	"gpm": {
		"l/min": {Scale: 3.78541},
	},
	"f": {
		"c": {Scale: 5.0 / 9.0, Offset: -32.0 * 5.0 / 9.0},
	},
	"c": {
		"f": {Scale: 9.0 / 5.0, Offset: 32},
	},
	"mg/l": {
		"ug/l": {Scale: 1000},
	},
	"ug/l": {
		"mg/l": {Scale: 0.001},
	},
	"ppm": {
		"mg/l": {Scale: 1},
	},
}

// unitAliases folds the spellings the APIs use onto registry keys.
var unitAliases = map[string]string{
	"ft":      "feet",
	"foot":    "feet",
	"m":       "meters",
	"in":      "inches",
	"ft3/s":   "cfs",
	"cms":     "m3/s",
	"gal/min": "gpm",
	"deg f":   "f",
	"deg c":   "c",
	"degf":    "f",
	"degc":    "c",
}

func canonicalUnit(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	if alias, ok := unitAliases[u]; ok {
		return alias
	}
	return u
}

// LookupConversion resolves the mapping between two units, deriving the
// inverse direction when only the opposite one is registered.
func LookupConversion(from, to string) (Conversion, error) {
	f, t := canonicalUnit(from), canonicalUnit(to)
	if f == t {
		return Conversion{Scale: 1}, nil
	}
	if conv, ok := conversions[f][t]; ok {
		return conv, nil
	}
	if conv, ok := conversions[t][f]; ok {
		return conv.Inverse(), nil
	}
	return Conversion{}, &UnitError{From: from, To: to}
}

// ConvertValue converts a single value between units.
func ConvertValue(v float64, from, to string) (float64, error) {
	conv, err := LookupConversion(from, to)
	if err != nil {
		return 0, err
	}
	return conv.Apply(v), nil
}

// Units returns a copy with the named float column converted between units.
// Missing markers pass through. An empty newColumn converts in place;
// otherwise the converted values land in newColumn (added or replaced) and
// the source column is left alone. A column that is absent or not a float
// is an error. When converting in place and the table carries a "unit"
// column, its non-missing entries are rewritten to the target unit.
func Units(t *table.Table, column, from, to, newColumn string) (*table.Table, error) {
	conv, err := LookupConversion(from, to)
	if err != nil {
		return nil, err
	}

	out := t.Clone()
	col, ok := out.Column(column)
	if !ok {
		return nil, fmt.Errorf("convert units: no column %q", column)
	}
	if col.Kind() != table.KindFloat {
		return nil, fmt.Errorf("convert units: column %q is not numeric", column)
	}

	if newColumn != "" && newColumn != column {
		converted := table.NewColumn(newColumn, table.KindFloat)
		for i := 0; i < col.Len(); i++ {
			v, valid := col.Float(i)
			if !valid {
				converted.AppendNull()
				continue
			}
			converted.AppendFloat(conv.Apply(v))
		}
		if _, exists := out.Column(newColumn); exists {
			if err := out.ReplaceColumn(newColumn, converted); err != nil {
				return nil, err
			}
		} else if err := out.AddColumn(converted); err != nil {
			return nil, err
		}
		return out, nil
	}

	for i := 0; i < col.Len(); i++ {
		if v, valid := col.Float(i); valid {
			col.SetFloat(i, conv.Apply(v))
		}
	}

	if unitCol, ok := out.Column("unit"); ok && unitCol.Kind() == table.KindString {
		rewritten := table.NewColumn("unit", table.KindString)
		for i := 0; i < unitCol.Len(); i++ {
			if _, valid := unitCol.String(i); valid {
				rewritten.AppendString(to)
			} else {
				rewritten.AppendNull()
			}
		}
		if err := out.ReplaceColumn("unit", rewritten); err != nil {
			return nil, err
		}
	}
	return out, nil
}
