// Command inspect reports on stored parquet datasets: row counts, schemas,
// and integrity checks on the normalized columns. With -dir it lists every
// dataset in a directory; with file arguments it checks each file.
//
// Usage:
//
//	go run ./cmd/inspect -dir data
//	go run ./cmd/inspect -check data/gauge-obs.parquet
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/couchcryptid/waterdata/internal/storage"
	"github.com/couchcryptid/waterdata/internal/table"
)

func main() {
	dir := flag.String("dir", "", "directory of parquet datasets to summarize")
	check := flag.Bool("check", false, "run integrity checks on each file")
	flag.Parse()

	if *dir == "" && flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	paths, err := collectPaths(*dir, flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	failed := false
	for _, path := range paths {
		if err := inspect(path, *check); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

// collectPaths merges explicit file arguments with a directory listing.
// ListDatasets already returns directory-joined paths.
func collectPaths(dir string, args []string) ([]string, error) {
	paths := args
	if dir != "" {
		names, err := storage.ListDatasets(dir)
		if err != nil {
			return nil, err
		}
		paths = append(paths, names...)
	}
	return paths, nil
}

func inspect(path string, check bool) error {
	info, err := storage.DatasetInfo(path)
	if err != nil {
		return err
	}
	fmt.Printf("%s\n  rows: %d  row groups: %d  size: %d bytes\n  columns: %s\n",
		info.Path, info.Rows, info.RowGroups, info.SizeBytes, strings.Join(info.Columns, ", "))

	if !check {
		return nil
	}

	tbl, err := storage.Load(path)
	if err != nil {
		return err
	}
	problems := checkTable(tbl)
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Printf("  FAIL %s\n", p)
		}
		return fmt.Errorf("%d integrity check(s) failed", len(problems))
	}
	fmt.Println("  all checks passed")
	return nil
}

// checkTable verifies the invariants normalization is supposed to guarantee:
// a site identifier on every row, and coordinates within valid ranges.
func checkTable(t *table.Table) []string {
	var problems []string

	site, ok := t.Column("site_id")
	if !ok {
		problems = append(problems, "missing site_id column")
	} else {
		missing := 0
		for row := 0; row < t.NumRows(); row++ {
			if !site.IsValid(row) {
				missing++
			}
		}
		if missing > 0 {
			problems = append(problems, fmt.Sprintf("site_id missing on %d rows", missing))
		}
	}

	problems = append(problems, checkRange(t, "latitude", 90)...)
	problems = append(problems, checkRange(t, "longitude", 180)...)
	return problems
}

func checkRange(t *table.Table, name string, limit float64) []string {
	col, ok := t.Column(name)
	if !ok || col.Kind() != table.KindFloat {
		return nil
	}
	bad := 0
	for row := 0; row < t.NumRows(); row++ {
		v, valid := col.Float(row)
		if valid && (v < -limit || v > limit) {
			bad++
		}
	}
	if bad == 0 {
		return nil
	}
	return []string{fmt.Sprintf("%s out of range on %d rows", name, bad)}
}
