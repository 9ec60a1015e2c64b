// Package runs records generation runs and their summaries.
package runs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/analytics-synth/internal/pipeline"
	"example.com/analytics-synth/internal/synth"
)

const maxPageSize = 50

// Store persists runs in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Init applies schema migrations for the run registry.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			seed TEXT NOT NULL,
			num_users INTEGER NOT NULL,
			days INTEGER NOT NULL,
			start_date TEXT NOT NULL,
			shards INTEGER NOT NULL,
			workflow_id TEXT NOT NULL DEFAULT '',
			summary TEXT,
			error TEXT NOT NULL DEFAULT '',
			error_code TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply runs schema: %w", err)
		}
	}
	return nil
}

// Create registers a running run for plan.
func (s *Store) Create(ctx context.Context, plan pipeline.Plan) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		Seed:      plan.Seed,
		NumUsers:  plan.NumUsers,
		Days:      plan.Days,
		StartDate: plan.Start.Format(time.DateOnly),
		Shards:    max(plan.Shards, 1),
		CreatedAt: s.now().UTC(),
	}
	// seed is stored as text: SQLite integers are signed 64-bit.
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, status, seed, num_users, days, start_date, shards, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Status, fmt.Sprint(run.Seed), run.NumUsers, run.Days, run.StartDate, run.Shards, run.CreatedAt,
	); err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

// Complete marks a run succeeded and stores its summary.
func (s *Store) Complete(ctx context.Context, id, workflowID string, summary synth.Summary) (Run, error) {
	raw, err := json.Marshal(summary)
	if err != nil {
		return Run{}, fmt.Errorf("encode summary: %w", err)
	}
	if err := s.finish(ctx,
		`UPDATE runs SET status = ?, workflow_id = ?, summary = ?, completed_at = ? WHERE id = ?`,
		StatusSucceeded, workflowID, string(raw), s.now().UTC(), id,
	); err != nil {
		return Run{}, err
	}
	return s.Get(ctx, id)
}

// Fail marks a run failed.
func (s *Store) Fail(ctx context.Context, id, code string, cause error) (Run, error) {
	if err := s.finish(ctx,
		`UPDATE runs SET status = ?, error = ?, error_code = ?, completed_at = ? WHERE id = ?`,
		StatusFailed, cause.Error(), code, s.now().UTC(), id,
	); err != nil {
		return Run{}, err
	}
	return s.Get(ctx, id)
}

func (s *Store) finish(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const runColumns = `id, status, seed, num_users, days, start_date, shards, workflow_id, summary, error, error_code, created_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run       Run
		seed      string
		summary   sql.NullString
		completed sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Status, &seed, &run.NumUsers, &run.Days, &run.StartDate, &run.Shards,
		&run.WorkflowID, &summary, &run.Error, &run.ErrorCode, &run.CreatedAt, &completed); err != nil {
		return Run{}, err
	}
	if _, err := fmt.Sscan(seed, &run.Seed); err != nil {
		return Run{}, fmt.Errorf("parse seed %q: %w", seed, err)
	}
	if summary.Valid {
		var sum synth.Summary
		if err := json.Unmarshal([]byte(summary.String), &sum); err != nil {
			return Run{}, fmt.Errorf("decode summary: %w", err)
		}
		run.Summary = &sum
	}
	if completed.Valid {
		t := completed.Time.UTC()
		run.CompletedAt = &t
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return run, nil
}

// Get fetches a run by id. It returns sql.ErrNoRows for unknown ids.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// EnsurePageSize clamps paging parameters.
func EnsurePageSize(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, page, pageSize int) (RunPage, error) {
	page, pageSize = EnsurePageSize(page, pageSize)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return RunPage{}, fmt.Errorf("count runs: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, pageSize, offset)
	if err != nil {
		return RunPage{}, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := RunPage{Runs: []Run{}, Page: page, PageSize: pageSize, Total: total}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return RunPage{}, fmt.Errorf("scan run: %w", err)
		}
		out.Runs = append(out.Runs, run)
	}
	if err := rows.Err(); err != nil {
		return RunPage{}, fmt.Errorf("iter runs: %w", err)
	}
	if offset+len(out.Runs) < total {
		next := page + 1
		out.HasMore = true
		out.NextPage = &next
	}
	return out, nil
}
