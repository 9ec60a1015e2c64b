package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

const defaultBatchRows = 64 * 1024

// ParquetWriter writes each table to a Snappy-compressed Parquet file under
// Dir: <table>.parquet, or <table>/<partition>.parquet when Partition is set.
type ParquetWriter struct {
	Dir       string
	Partition string
	BatchRows int

	mu    sync.Mutex
	files []string
}

// NewParquetWriter returns a writer rooted at dir.
func NewParquetWriter(dir string) *ParquetWriter {
	return &ParquetWriter{Dir: dir, BatchRows: defaultBatchRows}
}

// WithPartition returns a writer for the same directory that writes shard
// files named after partition.
func (p *ParquetWriter) WithPartition(partition string) *ParquetWriter {
	return &ParquetWriter{Dir: p.Dir, Partition: partition, BatchRows: p.BatchRows}
}

// Files lists the files written so far, in write order.
func (p *ParquetWriter) Files() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.files...)
}

// Path returns where table name is written.
func (p *ParquetWriter) Path(name string) string {
	if p.Partition != "" {
		return filepath.Join(p.Dir, name, p.Partition+".parquet")
	}
	return filepath.Join(p.Dir, name+".parquet")
}

func (p *ParquetWriter) WriteTable(ctx context.Context, t Table) (err error) {
	if t.Name == "" {
		return ErrEmptyTableName
	}
	path := p.Path(t.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parquet dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	schema := arrowSchema(t.Columns)
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(schema, f, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("open parquet writer: %w", err)
	}

	batch := p.BatchRows
	if batch <= 0 {
		batch = defaultBatchRows
	}
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	for lo := 0; lo < t.Len; lo += batch {
		if err := ctx.Err(); err != nil {
			fw.Close()
			return err
		}
		hi := min(lo+batch, t.Len)
		for i := lo; i < hi; i++ {
			if err := appendRow(b, t.Columns, t.Row(i)); err != nil {
				fw.Close()
				return fmt.Errorf("%s row %d: %w", t.Name, i, err)
			}
		}
		rec := b.NewRecord()
		err := fw.Write(rec)
		rec.Release()
		if err != nil {
			fw.Close()
			return fmt.Errorf("write parquet batch: %w", err)
		}
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	// The parquet writer usually closes f itself.
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close parquet file: %w", err)
	}

	p.mu.Lock()
	p.files = append(p.files, path)
	p.mu.Unlock()
	return nil
}

func arrowSchema(cols []Column) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Type)}
	}
	return arrow.NewSchema(fields, nil)
}

func arrowType(t ColumnType) arrow.DataType {
	switch t {
	case Int64:
		return arrow.PrimitiveTypes.Int64
	case Float64:
		return arrow.PrimitiveTypes.Float64
	case Bool:
		return arrow.FixedWidthTypes.Boolean
	case Timestamp:
		return arrow.FixedWidthTypes.Timestamp_us
	case Date:
		return arrow.FixedWidthTypes.Date32
	default:
		return arrow.BinaryTypes.String
	}
}

func appendRow(b *array.RecordBuilder, cols []Column, row []any) error {
	if len(row) != len(cols) {
		return fmt.Errorf("got %d values for %d columns", len(row), len(cols))
	}
	for i, c := range cols {
		v := row[i]
		ok := true
		switch c.Type {
		case String:
			var s string
			if s, ok = v.(string); ok {
				b.Field(i).(*array.StringBuilder).Append(s)
			}
		case Int64:
			var n int64
			if n, ok = v.(int64); ok {
				b.Field(i).(*array.Int64Builder).Append(n)
			}
		case Float64:
			var f float64
			if f, ok = v.(float64); ok {
				b.Field(i).(*array.Float64Builder).Append(f)
			}
		case Bool:
			var x bool
			if x, ok = v.(bool); ok {
				b.Field(i).(*array.BooleanBuilder).Append(x)
			}
		case Timestamp:
			var ts time.Time
			if ts, ok = v.(time.Time); ok {
				b.Field(i).(*array.TimestampBuilder).Append(arrow.Timestamp(ts.UnixMicro()))
			}
		case Date:
			var d time.Time
			if d, ok = v.(time.Time); ok {
				b.Field(i).(*array.Date32Builder).Append(arrow.Date32FromTime(d))
			}
		}
		if !ok {
			return fmt.Errorf("column %s: %T is not %s", c.Name, v, c.Type)
		}
	}
	return nil
}
