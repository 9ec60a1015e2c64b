package sink

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Dialect captures the differences between the SQL databases a table can be
// loaded into.
type Dialect struct {
	Name  string
	types map[ColumnType]string
	quote func(string) string
	// copy loads rows through a COPY statement flushed by a final empty Exec.
	copy bool
}

var (
	SQLite = Dialect{
		Name: "sqlite",
		types: map[ColumnType]string{
			String: "TEXT", Int64: "INTEGER", Float64: "REAL",
			Bool: "BOOLEAN", Timestamp: "TIMESTAMP", Date: "DATE",
		},
		quote: func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` },
	}
	Postgres = Dialect{
		Name: "postgres",
		types: map[ColumnType]string{
			String: "TEXT", Int64: "BIGINT", Float64: "DOUBLE PRECISION",
			Bool: "BOOLEAN", Timestamp: "TIMESTAMPTZ", Date: "DATE",
		},
		quote: pq.QuoteIdentifier,
		copy:  true,
	}
)

// DialectByName resolves "sqlite" or "postgres".
func DialectByName(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unknown sql dialect %q", name)
	}
}

func (d Dialect) createTable(t Table) string {
	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = fmt.Sprintf("%s %s NOT NULL", d.quote(c.Name), d.types[c.Type])
	}
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", d.quote(t.Name), strings.Join(defs, ",\n\t"))
}

func (d Dialect) insert(t Table) string {
	names := t.columnNames()
	if d.copy {
		return pq.CopyIn(t.Name, names...)
	}
	quoted := make([]string, len(names))
	marks := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.quote(n)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", d.quote(t.Name), strings.Join(quoted, ", "), strings.Join(marks, ", "))
}

// SQLWriter replaces a database table with the rows of each written table.
// The drop, create and load run in one transaction, so readers see either
// the previous table or the complete new one.
type SQLWriter struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLWriter binds a writer to db.
func NewSQLWriter(db *sql.DB, dialect Dialect) *SQLWriter {
	return &SQLWriter{db: db, dialect: dialect}
}

func (w *SQLWriter) WriteTable(ctx context.Context, t Table) (err error) {
	if t.Name == "" {
		return ErrEmptyTableName
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s load: %w", t.Name, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmts := []string{
		fmt.Sprintf("DROP TABLE IF EXISTS %s", w.dialect.quote(t.Name)),
		w.dialect.createTable(t),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply %s schema: %w", t.Name, err)
		}
	}

	ins, err := tx.PrepareContext(ctx, w.dialect.insert(t))
	if err != nil {
		return fmt.Errorf("prepare %s insert: %w", t.Name, err)
	}
	defer ins.Close()
	for i := range t.Len {
		if _, err := ins.ExecContext(ctx, sqlValues(t.Row(i))...); err != nil {
			return fmt.Errorf("insert %s row %d: %w", t.Name, i, err)
		}
	}
	if w.dialect.copy {
		if _, err := ins.ExecContext(ctx); err != nil {
			return fmt.Errorf("flush %s copy: %w", t.Name, err)
		}
	}

	if slices.Contains(t.columnNames(), "user_id") {
		idx := fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
			w.dialect.quote("idx_"+t.Name+"_user"), w.dialect.quote(t.Name), w.dialect.quote("user_id"))
		if _, err := tx.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("index %s: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s load: %w", t.Name, err)
	}
	return nil
}

func sqlValues(row []any) []any {
	for i, v := range row {
		if ts, ok := v.(time.Time); ok {
			row[i] = ts.UTC()
		}
	}
	return row
}

// OpenPostgres opens a Postgres database through lib/pq and checks it is
// reachable.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres db: %w", err)
	}
	return db, nil
}
