package pipeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/waterdata/internal/normalize"
	"github.com/couchcryptid/waterdata/internal/observability"
	"github.com/couchcryptid/waterdata/internal/pipeline"
	"github.com/couchcryptid/waterdata/internal/source"
	"github.com/couchcryptid/waterdata/internal/storage"
	"github.com/couchcryptid/waterdata/internal/table"
)

func rawTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.New(
		table.NewStringColumn("siteNo", []string{"06191500", "06192500"}),
		table.NewStringColumn("dateTime", []string{"2024-06-01T12:00:00Z", "2024-06-01T12:15:00Z"}),
		table.NewFloatColumn("dischargeValue", []float64{512, 498}),
	)
	require.NoError(t, err)
	return tbl
}

type stubFetcher struct {
	tbl    *table.Table
	report source.Report
	err    error
	calls  atomic.Int64
}

func (f *stubFetcher) Name() string { return "stub" }

func (f *stubFetcher) Fetch(_ context.Context) (*table.Table, source.Report, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, source.Report{}, f.err
	}
	return f.tbl, f.report, nil
}

type recordingStorer struct {
	stored []*table.Table
	err    error
}

func (s *recordingStorer) Store(_ context.Context, dataset string, t *table.Table) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.stored = append(s.stored, t)
	return dataset + ".parquet", nil
}

type recordingPublisher struct {
	published int
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, _ *table.Table) error {
	p.published++
	return nil
}

func TestPipelineSingleCycle(t *testing.T) {
	fetcher := &stubFetcher{tbl: rawTable(t), report: source.Report{Rows: 2}}
	storer := &recordingStorer{}
	pub := &recordingPublisher{}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(fetcher, pipeline.NewNormalizer(normalize.Options{}), storer, pub,
		"gauge-obs", 0, observability.NopLogger(), metrics)

	require.Error(t, p.CheckReadiness(context.Background()))
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, storer.stored, 1)
	got := storer.stored[0]
	_, ok := got.Column("site_no")
	assert.True(t, ok, "column names should be normalized before storing")
	assert.Equal(t, 1, pub.published)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipelineNilPublisherSkipsStage(t *testing.T) {
	fetcher := &stubFetcher{tbl: rawTable(t)}
	storer := &recordingStorer{}

	p := pipeline.New(fetcher, pipeline.NewNormalizer(normalize.Options{}), storer, nil,
		"gauge-obs", 0, observability.NopLogger(), observability.NewMetricsForTesting())

	require.NoError(t, p.Run(context.Background()))
	assert.Len(t, storer.stored, 1)
}

func TestPipelineFetchErrorPropagates(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("upstream down")}
	storer := &recordingStorer{}

	p := pipeline.New(fetcher, pipeline.NewNormalizer(normalize.Options{}), storer, nil,
		"gauge-obs", 0, observability.NopLogger(), observability.NewMetricsForTesting())

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, storer.stored)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipelineEmptyTableSkipsStore(t *testing.T) {
	empty, err := table.New(table.NewStringColumn("site_no", nil))
	require.NoError(t, err)

	fetcher := &stubFetcher{tbl: empty}
	storer := &recordingStorer{}

	p := pipeline.New(fetcher, pipeline.NewNormalizer(normalize.Options{}), storer, nil,
		"gauge-obs", 0, observability.NopLogger(), observability.NewMetricsForTesting())

	require.NoError(t, p.Run(context.Background()))
	assert.Empty(t, storer.stored)
}

func TestPipelinePeriodicRunStopsOnCancel(t *testing.T) {
	fetcher := &stubFetcher{tbl: rawTable(t)}
	storer := &recordingStorer{}

	p := pipeline.New(fetcher, pipeline.NewNormalizer(normalize.Options{}), storer, nil,
		"gauge-obs", time.Millisecond, observability.NopLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.GreaterOrEqual(t, fetcher.calls.Load(), int64(2))
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipelinePeriodicRunBacksOffAfterFailure(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("flaky")}
	storer := &recordingStorer{}

	p := pipeline.New(fetcher, pipeline.NewNormalizer(normalize.Options{}), storer, nil,
		"gauge-obs", time.Millisecond, observability.NopLogger(), observability.NewMetricsForTesting())

	ctx, cancel := context.WithTimeout(context.Background(), 450*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	// 200ms then 400ms backoff fits at most a few retries in the window.
	assert.LessOrEqual(t, fetcher.calls.Load(), int64(4))
}

func TestFetcherFunc(t *testing.T) {
	f := pipeline.FetcherFunc{
		SourceName: "usgs",
		Func: func(_ context.Context) (*table.Table, source.Report, error) {
			return rawTable(t), source.Report{Rows: 2}, nil
		},
	}
	assert.Equal(t, "usgs", f.Name())

	tbl, report, err := f.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.NumRows())
	assert.Equal(t, 2, report.Rows)
}

func TestParquetStorerWritesDataset(t *testing.T) {
	dir := t.TempDir()
	metrics := observability.NewMetricsForTesting()
	storer := pipeline.NewParquetStorer(dir, metrics, storage.WithOverwrite())

	path, err := storer.Store(context.Background(), "gauge-obs", rawTable(t))
	require.NoError(t, err)
	assert.Contains(t, path, "gauge-obs.parquet")

	loaded, err := storage.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.NumRows())
}
