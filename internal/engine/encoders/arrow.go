package encoders

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/ipc"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/apache/arrow/go/v15/parquet"
	"github.com/apache/arrow/go/v15/parquet/compress"
	"github.com/apache/arrow/go/v15/parquet/pqarrow"
	"github.com/fsexport/fsexport/internal/engine"
	"github.com/spf13/afero"
)

// columnKind is the arrow storage chosen for one table column.
type columnKind int

const (
	kindString columnKind = iota
	kindInt64
	kindTimestamp
)

// inferColumn picks int64 or timestamp storage when every non-empty value of
// the column has that type, string otherwise. It also returns the timezone of
// the first time value.
func inferColumn(table *engine.Table, id string) (columnKind, string) {
	kind := columnKind(-1)
	tz := "UTC"

	for _, row := range table.Rows {
		var k columnKind
		switch v := row[id].(type) {
		case nil:
			continue
		case int64, int:
			k = kindInt64
		case time.Time:
			k = kindTimestamp
			if kind == -1 {
				tz = arrowTimezone(v.Location())
			}
		default:
			return kindString, ""
		}

		if kind != -1 && kind != k {
			return kindString, ""
		}
		kind = k
	}

	if kind == -1 {
		return kindString, ""
	}
	return kind, tz
}

func arrowTimezone(loc *time.Location) string {
	name := loc.String()
	if name == "Local" {
		return "UTC"
	}
	if _, err := time.LoadLocation(name); err != nil {
		return "UTC"
	}
	return name
}

// buildRecord converts the table into a single arrow record batch.
func buildRecord(mem memory.Allocator, table *engine.Table, useLabels bool) (arrow.Record, error) {
	names := uniqueHeaders(table, useLabels)
	kinds := make([]columnKind, len(table.Columns))
	fields := make([]arrow.Field, len(table.Columns))

	for i, c := range table.Columns {
		kind, tz := inferColumn(table, c.ID)
		kinds[i] = kind

		var dt arrow.DataType
		switch kind {
		case kindInt64:
			dt = arrow.PrimitiveTypes.Int64
		case kindTimestamp:
			dt = &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: tz}
		default:
			dt = arrow.BinaryTypes.String
		}
		fields[i] = arrow.Field{Name: names[i], Type: dt, Nullable: true}
	}

	b := array.NewRecordBuilder(mem, arrow.NewSchema(fields, nil))
	defer b.Release()

	for _, row := range table.Rows {
		for i, c := range table.Columns {
			v := row[c.ID]
			if v == nil {
				b.Field(i).AppendNull()
				continue
			}

			switch kinds[i] {
			case kindInt64:
				ib := b.Field(i).(*array.Int64Builder)
				if n, ok := v.(int); ok {
					ib.Append(int64(n))
				} else {
					ib.Append(v.(int64))
				}
			case kindTimestamp:
				ts := v.(time.Time)
				b.Field(i).(*array.TimestampBuilder).Append(arrow.Timestamp(ts.UnixMilli()))
			default:
				b.Field(i).(*array.StringBuilder).Append(engine.FormatCell(v, func(t time.Time) string {
					return t.Format(time.RFC3339)
				}))
			}
		}
	}

	return b.NewRecord(), nil
}

// ParquetEncoder writes a table as a snappy compressed Parquet file.
type ParquetEncoder struct {
	useLabels bool
	mem       memory.Allocator
}

func NewParquetEncoder(opts Options) engine.Encoder {
	return &ParquetEncoder{useLabels: opts.UseLabels, mem: memory.DefaultAllocator}
}

func (e *ParquetEncoder) EncodeTable(ctx context.Context, table *engine.Table) (io.Reader, error) {
	rec, err := buildRecord(e.mem, table, e.useLabels)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithAllocator(e.mem),
	)

	w, err := pqarrow.NewFileWriter(rec.Schema(), &buf, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write parquet record: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}

	return &buf, nil
}

func (e *ParquetEncoder) FileExtension() string {
	return "parquet"
}

// FeatherEncoder writes a table in the Feather v2 (Arrow IPC file) format.
type FeatherEncoder struct {
	useLabels bool
	mem       memory.Allocator
}

func NewFeatherEncoder(opts Options) engine.Encoder {
	return &FeatherEncoder{useLabels: opts.UseLabels, mem: memory.DefaultAllocator}
}

func (e *FeatherEncoder) EncodeTable(ctx context.Context, table *engine.Table) (io.Reader, error) {
	rec, err := buildRecord(e.mem, table, e.useLabels)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	// the IPC file writer seeks back to patch the footer offsets
	f, err := afero.NewMemMapFs().Create("table.feather")
	if err != nil {
		return nil, fmt.Errorf("failed to create feather buffer: %w", err)
	}
	defer f.Close()

	w, err := ipc.NewFileWriter(f, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(e.mem))
	if err != nil {
		return nil, fmt.Errorf("failed to create feather writer: %w", err)
	}

	if err := w.Write(rec); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to write feather record: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close feather writer: %w", err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind feather buffer: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read feather buffer: %w", err)
	}

	return bytes.NewReader(data), nil
}

func (e *FeatherEncoder) FileExtension() string {
	return "feather"
}
