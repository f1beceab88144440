package pipeline

import (
	"context"
	"path/filepath"

	"github.com/couchcryptid/waterdata/internal/normalize"
	"github.com/couchcryptid/waterdata/internal/observability"
	"github.com/couchcryptid/waterdata/internal/source"
	"github.com/couchcryptid/waterdata/internal/storage"
	"github.com/couchcryptid/waterdata/internal/table"
)

// FetcherFunc adapts a plain function to the Fetcher interface, so a source
// client method can be wired in without a wrapper type.
type FetcherFunc struct {
	SourceName string
	Func       func(ctx context.Context) (*table.Table, source.Report, error)
}

func (f FetcherFunc) Name() string { return f.SourceName }

func (f FetcherFunc) Fetch(ctx context.Context) (*table.Table, source.Report, error) {
	return f.Func(ctx)
}

// TableNormalizer implements Normalizer with the standard cleaning pipeline.
type TableNormalizer struct {
	opts normalize.Options
}

// NewNormalizer creates a TableNormalizer with the given options.
func NewNormalizer(opts normalize.Options) *TableNormalizer {
	return &TableNormalizer{opts: opts}
}

func (n *TableNormalizer) Normalize(t *table.Table) (*table.Table, error) {
	return normalize.Normalize(t, n.opts)
}

// ParquetStorer implements Storer by writing each dataset to
// <dir>/<dataset>.parquet.
type ParquetStorer struct {
	dir     string
	options []storage.SaveOption
	metrics *observability.Metrics
}

// NewParquetStorer creates a ParquetStorer rooted at dir. Save options are
// passed through to every write.
func NewParquetStorer(dir string, metrics *observability.Metrics, opts ...storage.SaveOption) *ParquetStorer {
	return &ParquetStorer{dir: dir, options: opts, metrics: metrics}
}

func (s *ParquetStorer) Store(_ context.Context, dataset string, t *table.Table) (string, error) {
	path, err := storage.Save(filepath.Join(s.dir, dataset+".parquet"), t, s.options...)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	if s.metrics != nil {
		s.metrics.StorageOps.WithLabelValues("save", outcome).Inc()
	}
	return path, err
}
