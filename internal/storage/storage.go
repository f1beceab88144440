// Package storage persists tables as Parquet files. Round trips are exact:
// column order, names, kinds, missing markers, and millisecond timestamp
// precision all survive Save followed by Load. GeoParquet metadata is
// attached for tables carrying a geometry column.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"

	"github.com/couchcryptid/waterdata/internal/table"
)

// geoMetadataKey is the GeoParquet schema metadata key.
const geoMetadataKey = "geo"

// StorageError wraps a failed storage operation with its path.
type StorageError struct {
	Op   string // "save", "load", "info", "list"
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// SaveOption adjusts Save behavior.
type SaveOption func(*saveConfig)

type saveConfig struct {
	overwrite bool
	addTime   bool
	codec     compress.Compression
	extraMeta map[string]string
}

// WithOverwrite allows replacing an existing file. Without it, saving onto
// an existing path fails.
func WithOverwrite() SaveOption {
	return func(c *saveConfig) { c.overwrite = true }
}

// WithTimestampSuffix appends a UTC timestamp to the filename, before the
// extension.
func WithTimestampSuffix() SaveOption {
	return func(c *saveConfig) { c.addTime = true }
}

// WithGzip swaps the default snappy codec for gzip.
func WithGzip() SaveOption {
	return func(c *saveConfig) { c.codec = compress.Codecs.Gzip }
}

// WithZstd swaps the default snappy codec for zstd.
func WithZstd() SaveOption {
	return func(c *saveConfig) { c.codec = compress.Codecs.Zstd }
}

func withMetadata(key, value string) SaveOption {
	return func(c *saveConfig) {
		if c.extraMeta == nil {
			c.extraMeta = map[string]string{}
		}
		c.extraMeta[key] = value
	}
}

// Save writes the table to path as snappy-compressed Parquet and returns the
// path actually written.
func Save(path string, t *table.Table, opts ...SaveOption) (string, error) {
	cfg := saveConfig{codec: compress.Codecs.Snappy}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.addTime {
		ext := filepath.Ext(path)
		path = strings.TrimSuffix(path, ext) + "_" + time.Now().UTC().Format("20060102T150405") + ext
	}
	if !cfg.overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", &StorageError{Op: "save", Path: path, Err: os.ErrExist}
		}
	}

	schema := arrowSchema(t, cfg.extraMeta)
	rec, err := buildRecord(schema, t)
	if err != nil {
		return "", &StorageError{Op: "save", Path: path, Err: err}
	}
	defer rec.Release()

	atbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer atbl.Release()

	f, err := os.Create(path)
	if err != nil {
		return "", &StorageError{Op: "save", Path: path, Err: err}
	}
	defer f.Close()

	chunkSize := int64(t.NumRows())
	if chunkSize == 0 {
		chunkSize = 1
	}
	writerProps := parquet.NewWriterProperties(parquet.WithCompression(cfg.codec))
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
	if err := pqarrow.WriteTable(atbl, f, chunkSize, writerProps, arrowProps); err != nil {
		return "", &StorageError{Op: "save", Path: path, Err: err}
	}
	return path, nil
}

// SaveGeo writes the table with GeoParquet metadata describing the named
// geometry column, which must hold WKB points.
func SaveGeo(path string, t *table.Table, geometryColumn string, opts ...SaveOption) (string, error) {
	col, ok := t.Column(geometryColumn)
	if !ok {
		return "", &StorageError{Op: "save", Path: path,
			Err: fmt.Errorf("no geometry column %q", geometryColumn)}
	}
	if col.Kind() != table.KindBytes {
		return "", &StorageError{Op: "save", Path: path,
			Err: fmt.Errorf("geometry column %q is %s, want bytes", geometryColumn, col.Kind())}
	}

	meta := fmt.Sprintf(`{"version":"1.0.0","primary_column":%q,"columns":{%q:{"encoding":"WKB","geometry_types":["Point"],"crs":"EPSG:4326"}}}`,
		geometryColumn, geometryColumn)
	return Save(path, t, append(opts, withMetadata(geoMetadataKey, meta))...)
}

// Load reads a Parquet file back into a table.
func Load(path string) (*table.Table, error) {
	t, _, err := load(path)
	return t, err
}

// LoadGeo reads a GeoParquet file, returning the table and the name of its
// primary geometry column.
func LoadGeo(path string) (*table.Table, string, error) {
	t, geoMeta, err := load(path)
	if err != nil {
		return nil, "", err
	}
	if geoMeta == "" {
		return nil, "", &StorageError{Op: "load", Path: path,
			Err: fmt.Errorf("no %q metadata", geoMetadataKey)}
	}
	column := primaryColumn(geoMeta)
	if column == "" {
		return nil, "", &StorageError{Op: "load", Path: path,
			Err: fmt.Errorf("malformed %q metadata", geoMetadataKey)}
	}
	if _, ok := t.Column(column); !ok {
		return nil, "", &StorageError{Op: "load", Path: path,
			Err: fmt.Errorf("geometry column %q missing from file", column)}
	}
	return t, column, nil
}

func load(path string) (*table.Table, string, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, "", &StorageError{Op: "load", Path: path, Err: err}
	}
	defer rdr.Close()

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, "", &StorageError{Op: "load", Path: path, Err: err}
	}
	atbl, err := fr.ReadTable(context.Background())
	if err != nil {
		return nil, "", &StorageError{Op: "load", Path: path, Err: err}
	}
	defer atbl.Release()

	t, err := fromArrow(atbl)
	if err != nil {
		return nil, "", &StorageError{Op: "load", Path: path, Err: err}
	}

	geoMeta := schemaMetadata(atbl.Schema(), geoMetadataKey)
	if geoMeta == "" {
		// Files written by other tools may carry the key only in the
		// parquet key-value metadata.
		if kv := rdr.MetaData().KeyValueMetadata(); kv != nil {
			if v := kv.FindValue(geoMetadataKey); v != nil {
				geoMeta = *v
			}
		}
	}
	return t, geoMeta, nil
}

// Info describes a stored dataset.
type Info struct {
	Path      string
	Rows      int64
	Columns   []string
	RowGroups int
	SizeBytes int64
}

// DatasetInfo inspects a Parquet file without loading its data.
func DatasetInfo(path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, &StorageError{Op: "info", Path: path, Err: err}
	}
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return Info{}, &StorageError{Op: "info", Path: path, Err: err}
	}
	defer rdr.Close()

	info := Info{
		Path:      path,
		Rows:      rdr.NumRows(),
		RowGroups: rdr.NumRowGroups(),
		SizeBytes: st.Size(),
	}
	schema := rdr.MetaData().Schema
	for i := 0; i < schema.NumColumns(); i++ {
		info.Columns = append(info.Columns, schema.Column(i).Name())
	}
	return info, nil
}

// ListDatasets returns the Parquet files directly under dir, sorted by name.
func ListDatasets(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &StorageError{Op: "list", Path: dir, Err: err}
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func arrowSchema(t *table.Table, extraMeta map[string]string) *arrow.Schema {
	fields := make([]arrow.Field, t.NumCols())
	for i := 0; i < t.NumCols(); i++ {
		col := t.ColumnAt(i)
		fields[i] = arrow.Field{Name: col.Name(), Type: arrowType(col.Kind()), Nullable: true}
	}

	var md *arrow.Metadata
	if len(extraMeta) > 0 {
		keys := make([]string, 0, len(extraMeta))
		for k := range extraMeta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vals := make([]string, len(keys))
		for i, k := range keys {
			vals[i] = extraMeta[k]
		}
		m := arrow.NewMetadata(keys, vals)
		md = &m
	}
	return arrow.NewSchema(fields, md)
}

func arrowType(k table.Kind) arrow.DataType {
	switch k {
	case table.KindString:
		return arrow.BinaryTypes.String
	case table.KindFloat:
		return arrow.PrimitiveTypes.Float64
	case table.KindTime:
		return &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}
	case table.KindBool:
		return arrow.FixedWidthTypes.Boolean
	case table.KindBytes:
		return arrow.BinaryTypes.Binary
	}
	return arrow.BinaryTypes.String
}

func buildRecord(schema *arrow.Schema, t *table.Table) (arrow.Record, error) {
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	for i := 0; i < t.NumCols(); i++ {
		col := t.ColumnAt(i)
		for r := 0; r < col.Len(); r++ {
			if !col.IsValid(r) {
				b.Field(i).AppendNull()
				continue
			}
			switch col.Kind() {
			case table.KindString:
				v, _ := col.String(r)
				b.Field(i).(*array.StringBuilder).Append(v)
			case table.KindFloat:
				v, _ := col.Float(r)
				b.Field(i).(*array.Float64Builder).Append(v)
			case table.KindTime:
				v, _ := col.Time(r)
				b.Field(i).(*array.TimestampBuilder).Append(arrow.Timestamp(v.UnixMilli()))
			case table.KindBool:
				v, _ := col.Bool(r)
				b.Field(i).(*array.BooleanBuilder).Append(v)
			case table.KindBytes:
				v, _ := col.Bytes(r)
				b.Field(i).(*array.BinaryBuilder).Append(v)
			default:
				return nil, fmt.Errorf("unsupported column kind %s", col.Kind())
			}
		}
	}
	return b.NewRecord(), nil
}

func fromArrow(atbl arrow.Table) (*table.Table, error) {
	cols := make([]*table.Column, atbl.NumCols())
	for i := 0; i < int(atbl.NumCols()); i++ {
		field := atbl.Schema().Field(i)
		col, err := fromArrowColumn(field, atbl.Column(i))
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	return table.New(cols...)
}

func fromArrowColumn(field arrow.Field, acol *arrow.Column) (*table.Column, error) {
	var kind table.Kind
	switch field.Type.ID() {
	case arrow.STRING:
		kind = table.KindString
	case arrow.FLOAT64:
		kind = table.KindFloat
	case arrow.TIMESTAMP:
		kind = table.KindTime
	case arrow.BOOL:
		kind = table.KindBool
	case arrow.BINARY:
		kind = table.KindBytes
	default:
		return nil, fmt.Errorf("column %q: unsupported arrow type %s", field.Name, field.Type)
	}

	col := table.NewColumn(field.Name, kind)
	for _, chunk := range acol.Data().Chunks() {
		for r := 0; r < chunk.Len(); r++ {
			if chunk.IsNull(r) {
				col.AppendNull()
				continue
			}
			switch arr := chunk.(type) {
			case *array.String:
				col.AppendString(arr.Value(r))
			case *array.Float64:
				col.AppendFloat(arr.Value(r))
			case *array.Timestamp:
				unit := arr.DataType().(*arrow.TimestampType).Unit
				col.AppendTime(arr.Value(r).ToTime(unit).UTC())
			case *array.Boolean:
				col.AppendBool(arr.Value(r))
			case *array.Binary:
				col.AppendBytes(arr.Value(r))
			default:
				return nil, fmt.Errorf("column %q: unsupported chunk type %T", field.Name, chunk)
			}
		}
	}
	return col, nil
}

func schemaMetadata(schema *arrow.Schema, key string) string {
	md := schema.Metadata()
	if idx := md.FindKey(key); idx >= 0 {
		return md.Values()[idx]
	}
	return ""
}

// primaryColumn pulls primary_column out of the GeoParquet metadata JSON.
func primaryColumn(geoMeta string) string {
	var doc struct {
		PrimaryColumn string `json:"primary_column"`
	}
	if err := json.Unmarshal([]byte(geoMeta), &doc); err != nil {
		return ""
	}
	return doc.PrimaryColumn
}
