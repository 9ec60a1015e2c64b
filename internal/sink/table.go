// Package sink writes generated tables to files, databases and object storage.
//
// Every sink works from the same column schema, so adding a table never
// touches a sink and adding a sink never touches a table.
package sink

import (
	"context"
	"errors"
	"fmt"
)

// ColumnType is the logical type of a column. Row values use the matching Go
// type: string, int64, float64, bool or time.Time (Timestamp and Date).
type ColumnType int

const (
	String ColumnType = iota
	Int64
	Float64
	Bool
	Timestamp
	Date
)

func (t ColumnType) String() string {
	switch t {
	case String:
		return "string"
	case Int64:
		return "int64"
	case Float64:
		return "float64"
	case Bool:
		return "bool"
	case Timestamp:
		return "timestamp"
	case Date:
		return "date"
	default:
		return fmt.Sprintf("ColumnType(%d)", int(t))
	}
}

// Column names one field of a table.
type Column struct {
	Name string
	Type ColumnType
}

// Table is an ordered, read-only set of rows. Row returns the values of row i
// in column order.
type Table struct {
	Name    string
	Columns []Column
	Len     int
	Row     func(i int) []any
}

// Writer persists whole tables.
type Writer interface {
	WriteTable(ctx context.Context, t Table) error
}

// Slice returns rows [lo, hi) of t as a table with the same name and schema.
func (t Table) Slice(lo, hi int) Table {
	row := t.Row
	return Table{
		Name:    t.Name,
		Columns: t.Columns,
		Len:     hi - lo,
		Row:     func(i int) []any { return row(lo + i) },
	}
}

func (t Table) columnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// MultiWriter writes every table to each writer in turn and stops at the
// first failure.
type MultiWriter struct {
	writers []Writer
}

// Multi fans tables out to writers. Nil writers are skipped.
func Multi(writers ...Writer) *MultiWriter {
	m := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			m.writers = append(m.writers, w)
		}
	}
	return m
}

func (m *MultiWriter) WriteTable(ctx context.Context, t Table) error {
	for _, w := range m.writers {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteTable(ctx, t); err != nil {
			return fmt.Errorf("write %s: %w", t.Name, err)
		}
	}
	return nil
}

// Len reports how many writers are attached.
func (m *MultiWriter) Len() int {
	return len(m.writers)
}

// Discard accepts every table and writes nothing.
var Discard Writer = discard{}

type discard struct{}

func (discard) WriteTable(context.Context, Table) error { return nil }

// ErrEmptyTableName is returned by sinks asked to write a table without a name.
var ErrEmptyTableName = errors.New("table name required")
