package normalize

import "github.com/couchcryptid/waterdata/internal/table"

// Options control the full Normalize pipeline.
type Options struct {
	// Source applies that source's rename map; empty skips the step.
	Source string
	// DateColumns overrides keyword-based date detection.
	DateColumns []string
	// Fill is the missing-value strategy applied last; empty leaves the
	// markers in place.
	Fill Strategy
	// AttachGeometry adds a WKB point column from the coordinates.
	AttachGeometry bool
}

// Normalize runs the whole pipeline in a fixed order: snake_case column
// names, date parsing, coordinate standardization, source-specific renames,
// then missing-value handling. The input table is never modified.
func Normalize(t *table.Table, opts Options) (*table.Table, error) {
	out := ColumnNames(t)
	out = Dates(out, opts.DateColumns...)

	out, err := Coordinates(out)
	if err != nil {
		return nil, err
	}

	if opts.Source != "" {
		out = ApplySourceRenames(out, opts.Source)
	}

	if opts.AttachGeometry {
		out, err = Geometry(out)
		if err != nil {
			return nil, err
		}
	}

	if opts.Fill != "" {
		out, err = Missing(out, opts.Fill)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
