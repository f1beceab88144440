// Package table provides the columnar in-memory representation shared by all
// pipeline stages: source clients build tables from raw API responses, the
// normalization layer transforms them, and the storage layer persists them.
//
// Every column carries a per-row validity mask. An invalid cell is the
// explicit missing-value marker: it distinguishes "absent or unparsable" from
// a valid zero or empty string. Stages copy tables at their boundaries
// (Clone) rather than mutating shared state.
package table

import (
	"fmt"
	"slices"
	"time"
)

// Kind identifies the value type of a column.
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindTime
	KindBool
	KindBytes
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindTime:
		return "time"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Column is a named, typed vector of values with a validity mask.
// Append methods must match the column kind; a mismatch is a programming
// error and panics.
type Column struct {
	name  string
	kind  Kind
	strs  []string
	flts  []float64
	times []time.Time
	bools []bool
	blobs [][]byte
	valid []bool
}

// NewColumn creates an empty column of the given kind.
func NewColumn(name string, kind Kind) *Column {
	return &Column{name: name, kind: kind}
}

// NewStringColumn creates a fully-valid string column from values.
func NewStringColumn(name string, values []string) *Column {
	c := NewColumn(name, KindString)
	for _, v := range values {
		c.AppendString(v)
	}
	return c
}

// NewFloatColumn creates a fully-valid float column from values.
func NewFloatColumn(name string, values []float64) *Column {
	c := NewColumn(name, KindFloat)
	for _, v := range values {
		c.AppendFloat(v)
	}
	return c
}

// NewTimeColumn creates a fully-valid time column from values.
func NewTimeColumn(name string, values []time.Time) *Column {
	c := NewColumn(name, KindTime)
	for _, v := range values {
		c.AppendTime(v)
	}
	return c
}

// Name returns the column name.
func (c *Column) Name() string { return c.name }

// Kind returns the column value type.
func (c *Column) Kind() Kind { return c.kind }

// Len returns the number of rows in the column.
func (c *Column) Len() int { return len(c.valid) }

// IsValid reports whether row i holds a value (false means missing marker).
func (c *Column) IsValid(i int) bool { return c.valid[i] }

// AppendNull appends a missing-value marker.
func (c *Column) AppendNull() {
	switch c.kind {
	case KindString:
		c.strs = append(c.strs, "")
	case KindFloat:
		c.flts = append(c.flts, 0)
	case KindTime:
		c.times = append(c.times, time.Time{})
	case KindBool:
		c.bools = append(c.bools, false)
	case KindBytes:
		c.blobs = append(c.blobs, nil)
	}
	c.valid = append(c.valid, false)
}

// AppendString appends a valid string value.
func (c *Column) AppendString(v string) {
	c.mustKind(KindString)
	c.strs = append(c.strs, v)
	c.valid = append(c.valid, true)
}

// AppendFloat appends a valid float value.
func (c *Column) AppendFloat(v float64) {
	c.mustKind(KindFloat)
	c.flts = append(c.flts, v)
	c.valid = append(c.valid, true)
}

// AppendTime appends a valid timestamp. Values are stored in UTC with
// millisecond precision, matching what the parquet adapter persists.
func (c *Column) AppendTime(v time.Time) {
	c.mustKind(KindTime)
	c.times = append(c.times, v.UTC().Truncate(time.Millisecond))
	c.valid = append(c.valid, true)
}

// AppendBool appends a valid boolean value.
func (c *Column) AppendBool(v bool) {
	c.mustKind(KindBool)
	c.bools = append(c.bools, v)
	c.valid = append(c.valid, true)
}

// AppendBytes appends a valid byte-slice value (used for WKB geometry).
func (c *Column) AppendBytes(v []byte) {
	c.mustKind(KindBytes)
	c.blobs = append(c.blobs, slices.Clone(v))
	c.valid = append(c.valid, true)
}

// String returns the value at row i. ok is false for missing values.
func (c *Column) String(i int) (v string, ok bool) {
	c.mustKind(KindString)
	return c.strs[i], c.valid[i]
}

// Float returns the value at row i. ok is false for missing values.
func (c *Column) Float(i int) (v float64, ok bool) {
	c.mustKind(KindFloat)
	return c.flts[i], c.valid[i]
}

// Time returns the value at row i. ok is false for missing values.
func (c *Column) Time(i int) (v time.Time, ok bool) {
	c.mustKind(KindTime)
	return c.times[i], c.valid[i]
}

// Bool returns the value at row i. ok is false for missing values.
func (c *Column) Bool(i int) (v bool, ok bool) {
	c.mustKind(KindBool)
	return c.bools[i], c.valid[i]
}

// Bytes returns the value at row i. ok is false for missing values.
// The returned slice must not be modified.
func (c *Column) Bytes(i int) (v []byte, ok bool) {
	c.mustKind(KindBytes)
	return c.blobs[i], c.valid[i]
}

// SetFloat overwrites row i with a valid float value.
func (c *Column) SetFloat(i int, v float64) {
	c.mustKind(KindFloat)
	c.flts[i] = v
	c.valid[i] = true
}

// SetNull overwrites row i with a missing-value marker.
func (c *Column) SetNull(i int) {
	c.valid[i] = false
}

// Clone returns a deep copy of the column.
func (c *Column) Clone() *Column {
	out := &Column{
		name:  c.name,
		kind:  c.kind,
		strs:  slices.Clone(c.strs),
		flts:  slices.Clone(c.flts),
		times: slices.Clone(c.times),
		bools: slices.Clone(c.bools),
		valid: slices.Clone(c.valid),
	}
	if c.blobs != nil {
		out.blobs = make([][]byte, len(c.blobs))
		for i, b := range c.blobs {
			out.blobs[i] = slices.Clone(b)
		}
	}
	return out
}

func (c *Column) mustKind(k Kind) {
	if c.kind != k {
		panic(fmt.Sprintf("table: column %q is %s, not %s", c.name, c.kind, k))
	}
}

// Table is an ordered collection of equal-length columns.
type Table struct {
	cols   []*Column
	byName map[string]int
}

// New creates a table from columns, validating unique names and equal lengths.
func New(cols ...*Column) (*Table, error) {
	t := &Table{byName: make(map[string]int, len(cols))}
	for _, c := range cols {
		if err := t.AddColumn(c); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// NumRows returns the row count (0 for an empty table).
func (t *Table) NumRows() int {
	if len(t.cols) == 0 {
		return 0
	}
	return t.cols[0].Len()
}

// NumCols returns the column count.
func (t *Table) NumCols() int { return len(t.cols) }

// Names returns column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.cols))
	for i, c := range t.cols {
		names[i] = c.name
	}
	return names
}

// Column returns the named column, or false if absent.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.byName[name]
	if !ok {
		return nil, false
	}
	return t.cols[i], true
}

// ColumnAt returns the column at position i.
func (t *Table) ColumnAt(i int) *Column { return t.cols[i] }

// AddColumn appends a column. The name must be unique and the length must
// match existing columns.
func (t *Table) AddColumn(c *Column) error {
	if _, dup := t.byName[c.name]; dup {
		return fmt.Errorf("table: duplicate column %q", c.name)
	}
	if len(t.cols) > 0 && c.Len() != t.NumRows() {
		return fmt.Errorf("table: column %q has %d rows, table has %d", c.name, c.Len(), t.NumRows())
	}
	t.byName[c.name] = len(t.cols)
	t.cols = append(t.cols, c)
	return nil
}

// ReplaceColumn swaps the named column in place, keeping its position.
func (t *Table) ReplaceColumn(name string, c *Column) error {
	i, ok := t.byName[name]
	if !ok {
		return fmt.Errorf("table: no column %q", name)
	}
	if c.Len() != t.NumRows() {
		return fmt.Errorf("table: column %q has %d rows, table has %d", c.name, c.Len(), t.NumRows())
	}
	if c.name != name {
		if _, dup := t.byName[c.name]; dup {
			return fmt.Errorf("table: duplicate column %q", c.name)
		}
		delete(t.byName, name)
		t.byName[c.name] = i
	}
	t.cols[i] = c
	return nil
}

// RenameColumn changes a column name, keeping its position. Renaming a column
// that does not exist is a no-op so static rename maps can be applied blindly.
func (t *Table) RenameColumn(from, to string) error {
	i, ok := t.byName[from]
	if !ok {
		return nil
	}
	if from == to {
		return nil
	}
	if _, dup := t.byName[to]; dup {
		return fmt.Errorf("table: rename %q: column %q already exists", from, to)
	}
	delete(t.byName, from)
	t.byName[to] = i
	t.cols[i].name = to
	return nil
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	out := &Table{byName: make(map[string]int, len(t.cols))}
	for _, c := range t.cols {
		cc := c.Clone()
		out.byName[cc.name] = len(out.cols)
		out.cols = append(out.cols, cc)
	}
	return out
}

// FilterRows returns a new table containing only rows where keep returns true.
func (t *Table) FilterRows(keep func(row int) bool) *Table {
	out := &Table{byName: make(map[string]int, len(t.cols))}
	for _, c := range t.cols {
		nc := NewColumn(c.name, c.kind)
		for i := 0; i < c.Len(); i++ {
			if !keep(i) {
				continue
			}
			if !c.valid[i] {
				nc.AppendNull()
				continue
			}
			switch c.kind {
			case KindString:
				nc.AppendString(c.strs[i])
			case KindFloat:
				nc.AppendFloat(c.flts[i])
			case KindTime:
				nc.AppendTime(c.times[i])
			case KindBool:
				nc.AppendBool(c.bools[i])
			case KindBytes:
				nc.AppendBytes(c.blobs[i])
			}
		}
		out.byName[nc.name] = len(out.cols)
		out.cols = append(out.cols, nc)
	}
	return out
}

// AppendFrom copies one cell, including a missing marker, from src. Both
// columns must share a kind.
func (c *Column) AppendFrom(src *Column, row int) {
	c.mustKind(src.kind)
	if !src.valid[row] {
		c.AppendNull()
		return
	}
	switch src.kind {
	case KindString:
		c.AppendString(src.strs[row])
	case KindFloat:
		c.AppendFloat(src.flts[row])
	case KindTime:
		c.AppendTime(src.times[row])
	case KindBool:
		c.AppendBool(src.bools[row])
	case KindBytes:
		c.AppendBytes(src.blobs[row])
	}
}

// Concat stacks tables with identical column order, names, and kinds.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return New()
	}
	first := tables[0]
	out := first.Clone()
	for _, t := range tables[1:] {
		if t.NumCols() != first.NumCols() {
			return nil, fmt.Errorf("table: concat: column count %d != %d", t.NumCols(), first.NumCols())
		}
		for i, c := range t.cols {
			dst := out.cols[i]
			if c.name != dst.name || c.kind != dst.kind {
				return nil, fmt.Errorf("table: concat: column %d is %s %s, want %s %s",
					i, c.kind, c.name, dst.kind, dst.name)
			}
			for r := 0; r < c.Len(); r++ {
				dst.AppendFrom(c, r)
			}
		}
	}
	return out, nil
}

// Equal reports whether two tables have identical column order, names, kinds,
// validity masks, and values. Used by round-trip verification.
func Equal(a, b *Table) bool {
	if a.NumCols() != b.NumCols() || a.NumRows() != b.NumRows() {
		return false
	}
	for i := 0; i < a.NumCols(); i++ {
		ca, cb := a.cols[i], b.cols[i]
		if ca.name != cb.name || ca.kind != cb.kind {
			return false
		}
		for r := 0; r < ca.Len(); r++ {
			if ca.valid[r] != cb.valid[r] {
				return false
			}
			if !ca.valid[r] {
				continue
			}
			switch ca.kind {
			case KindString:
				if ca.strs[r] != cb.strs[r] {
					return false
				}
			case KindFloat:
				if ca.flts[r] != cb.flts[r] {
					return false
				}
			case KindTime:
				if !ca.times[r].Equal(cb.times[r]) {
					return false
				}
			case KindBool:
				if ca.bools[r] != cb.bools[r] {
					return false
				}
			case KindBytes:
				if !slices.Equal(ca.blobs[r], cb.blobs[r]) {
					return false
				}
			}
		}
	}
	return true
}
