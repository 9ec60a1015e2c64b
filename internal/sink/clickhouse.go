package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const clickHouseBatchRows = 100_000

// ClickHouseConn is the part of a clickhouse-go connection the sink uses.
type ClickHouseConn interface {
	Exec(ctx context.Context, query string, args ...any) error
	PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error)
}

// ClickHouseOptions locates a ClickHouse server speaking the native protocol.
type ClickHouseOptions struct {
	Addr     string
	Database string
	Username string
	Password string
}

// OpenClickHouse connects with LZ4 compression and pings the server.
func OpenClickHouse(ctx context.Context, o ClickHouseOptions) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{o.Addr},
		Auth: clickhouse.Auth{
			Database: o.Database,
			Username: o.Username,
			Password: o.Password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return conn, nil
}

// ClickHouseWriter creates a MergeTree table per written table and loads it
// in batches. With Truncate set, existing rows are removed first so a rerun
// does not duplicate data.
type ClickHouseWriter struct {
	conn      ClickHouseConn
	Truncate  bool
	BatchRows int
}

// NewClickHouseWriter wraps conn.
func NewClickHouseWriter(conn ClickHouseConn) *ClickHouseWriter {
	return &ClickHouseWriter{conn: conn, BatchRows: clickHouseBatchRows}
}

func (w *ClickHouseWriter) WriteTable(ctx context.Context, t Table) error {
	if t.Name == "" {
		return ErrEmptyTableName
	}
	if err := w.conn.Exec(ctx, clickHouseDDL(t)); err != nil {
		return fmt.Errorf("create clickhouse table %s: %w", t.Name, err)
	}
	if w.Truncate {
		if err := w.conn.Exec(ctx, "TRUNCATE TABLE IF EXISTS "+t.Name); err != nil {
			return fmt.Errorf("truncate clickhouse table %s: %w", t.Name, err)
		}
	}

	size := w.BatchRows
	if size <= 0 {
		size = clickHouseBatchRows
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s)", t.Name, strings.Join(t.columnNames(), ", "))
	for lo := 0; lo < t.Len; lo += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := w.conn.PrepareBatch(ctx, insert)
		if err != nil {
			return fmt.Errorf("prepare clickhouse batch: %w", err)
		}
		for i := lo; i < min(lo+size, t.Len); i++ {
			if err := batch.Append(t.Row(i)...); err != nil {
				batch.Abort()
				return fmt.Errorf("append %s row %d: %w", t.Name, i, err)
			}
		}
		if err := batch.Send(); err != nil {
			return fmt.Errorf("send clickhouse batch: %w", err)
		}
	}
	return nil
}

func clickHouseDDL(t Table) string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = fmt.Sprintf("%s %s", c.Name, clickHouseType(c.Type))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n) ENGINE = MergeTree\nORDER BY (%s)",
		t.Name, strings.Join(defs, ",\n\t"), strings.Join(clickHouseOrderKey(t.Columns), ", "))
}

// clickHouseOrderKey sorts by user and then by the first time column, or by
// the first column when the table has neither.
func clickHouseOrderKey(cols []Column) []string {
	var key []string
	for _, c := range cols {
		if c.Name == "user_id" {
			key = append(key, c.Name)
			break
		}
	}
	for _, c := range cols {
		if c.Type == Timestamp || c.Type == Date {
			key = append(key, c.Name)
			break
		}
	}
	if len(key) == 0 && len(cols) > 0 {
		key = append(key, cols[0].Name)
	}
	return key
}

func clickHouseType(t ColumnType) string {
	switch t {
	case Int64:
		return "Int64"
	case Float64:
		return "Float64"
	case Bool:
		return "Bool"
	case Timestamp:
		return "DateTime64(3, 'UTC')"
	case Date:
		return "Date32"
	default:
		return "String"
	}
}
