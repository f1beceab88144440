package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/waterdata/internal/storage"
	"github.com/couchcryptid/waterdata/internal/table"
)

func savedDataset(t *testing.T, dir, name string) string {
	t.Helper()
	site := table.NewStringColumn("site_id", []string{"06191500", "06192500"})
	value := table.NewFloatColumn("value", []float64{512, 498})
	tbl, err := table.New(site, value)
	require.NoError(t, err)

	path, err := storage.Save(filepath.Join(dir, name), tbl)
	require.NoError(t, err)
	return path
}

func TestCollectPathsOpensEveryListedFile(t *testing.T) {
	dir := t.TempDir()
	savedDataset(t, dir, "a.parquet")
	savedDataset(t, dir, "b.parquet")

	paths, err := collectPaths(dir, nil)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	for _, path := range paths {
		info, err := storage.DatasetInfo(path)
		require.NoError(t, err, "listed path must be readable as-is")
		assert.Equal(t, int64(2), info.Rows)
	}
}

func TestCollectPathsMergesArgs(t *testing.T) {
	dir := t.TempDir()
	listed := savedDataset(t, dir, "a.parquet")
	extra := savedDataset(t, t.TempDir(), "extra.parquet")

	paths, err := collectPaths(dir, []string{extra})
	require.NoError(t, err)
	assert.Equal(t, []string{extra, listed}, paths)
}

func TestCheckTableFlagsBadRows(t *testing.T) {
	site := table.NewColumn("site_id", table.KindString)
	site.AppendString("06191500")
	site.AppendNull()
	lat := table.NewFloatColumn("latitude", []float64{45.1, 123.4})
	tbl, err := table.New(site, lat)
	require.NoError(t, err)

	problems := checkTable(tbl)
	require.Len(t, problems, 2)
	assert.Contains(t, problems[0], "site_id missing on 1 rows")
	assert.Contains(t, problems[1], "latitude out of range on 1 rows")
}
