package normalize

import "fmt"

// UnitError reports a conversion between units with no registered rule.
type UnitError struct {
	From, To string
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("no unit conversion from %q to %q", e.From, e.To)
}

// CoordinateError reports a coordinate outside the valid range, or a
// coordinate column required for geometry that the table does not have.
type CoordinateError struct {
	Axis    string // "latitude" or "longitude"
	Value   float64
	Row     int
	Missing bool // column absent entirely
}

func (e *CoordinateError) Error() string {
	if e.Missing {
		return fmt.Sprintf("no %s column", e.Axis)
	}
	return fmt.Sprintf("row %d: %s %v out of range", e.Row, e.Axis, e.Value)
}
