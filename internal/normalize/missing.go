package normalize

import (
	"fmt"
	"sort"

	"github.com/couchcryptid/waterdata/internal/table"
)

// Strategy selects how Missing treats absent values.
type Strategy string

const (
	// Drop removes rows with a missing value in any target column.
	Drop Strategy = "drop"
	// FillMean fills numeric gaps with the column mean.
	FillMean Strategy = "mean"
	// FillMedian fills numeric gaps with the column median.
	FillMedian Strategy = "median"
	// FillZero fills numeric gaps with zero.
	FillZero Strategy = "zero"
	// Interpolate fills numeric gaps linearly between the nearest valid
	// neighbors; leading and trailing gaps stay missing.
	Interpolate Strategy = "interpolate"
)

// fillUnknown is the replacement for missing strings under the fill
// strategies.
const fillUnknown = "Unknown"

// Missing returns a copy with absent values handled per the strategy.
// Columns limits the treatment; empty means every column. Fill strategies
// replace missing strings with "Unknown" and leave timestamp gaps alone.
func Missing(t *table.Table, strategy Strategy, columns ...string) (*table.Table, error) {
	targets := map[string]bool{}
	for _, name := range columns {
		targets[name] = true
	}
	inScope := func(name string) bool {
		return len(targets) == 0 || targets[name]
	}

	switch strategy {
	case Drop:
		return t.FilterRows(func(row int) bool {
			for i := 0; i < t.NumCols(); i++ {
				col := t.ColumnAt(i)
				if inScope(col.Name()) && !col.IsValid(row) {
					return false
				}
			}
			return true
		}), nil

	case FillMean, FillMedian, FillZero:
		out := t.Clone()
		for i := 0; i < out.NumCols(); i++ {
			col := out.ColumnAt(i)
			if !inScope(col.Name()) {
				continue
			}
			switch col.Kind() {
			case table.KindFloat:
				fillFloats(col, strategy)
			case table.KindString:
				if err := out.ReplaceColumn(col.Name(), filledStrings(col)); err != nil {
					return nil, err
				}
			}
		}
		return out, nil

	case Interpolate:
		out := t.Clone()
		for i := 0; i < out.NumCols(); i++ {
			col := out.ColumnAt(i)
			if inScope(col.Name()) && col.Kind() == table.KindFloat {
				interpolate(col)
			}
		}
		return out, nil
	}

	return nil, fmt.Errorf("unknown missing-value strategy %q", strategy)
}

func fillFloats(col *table.Column, strategy Strategy) {
	var fill float64
	switch strategy {
	case FillMean:
		var sum float64
		var n int
		for i := 0; i < col.Len(); i++ {
			if v, ok := col.Float(i); ok {
				sum += v
				n++
			}
		}
		if n == 0 {
			return
		}
		fill = sum / float64(n)
	case FillMedian:
		var vals []float64
		for i := 0; i < col.Len(); i++ {
			if v, ok := col.Float(i); ok {
				vals = append(vals, v)
			}
		}
		if len(vals) == 0 {
			return
		}
		sort.Float64s(vals)
		mid := len(vals) / 2
		if len(vals)%2 == 0 {
			fill = (vals[mid-1] + vals[mid]) / 2
		} else {
			fill = vals[mid]
		}
	case FillZero:
		fill = 0
	}

	for i := 0; i < col.Len(); i++ {
		if !col.IsValid(i) {
			col.SetFloat(i, fill)
		}
	}
}

func filledStrings(col *table.Column) *table.Column {
	rebuilt := table.NewColumn(col.Name(), table.KindString)
	for i := 0; i < col.Len(); i++ {
		if s, ok := col.String(i); ok {
			rebuilt.AppendString(s)
		} else {
			rebuilt.AppendString(fillUnknown)
		}
	}
	return rebuilt
}

func interpolate(col *table.Column) {
	prev := -1
	for i := 0; i < col.Len(); i++ {
		if !col.IsValid(i) {
			continue
		}
		if prev >= 0 && i-prev > 1 {
			lo, _ := col.Float(prev)
			hi, _ := col.Float(i)
			span := float64(i - prev)
			for j := prev + 1; j < i; j++ {
				col.SetFloat(j, lo+(hi-lo)*float64(j-prev)/span)
			}
		}
		prev = i
	}
}
