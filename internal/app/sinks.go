// Package app assembles the configured sinks and orchestrator for the synth
// commands.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"example.com/analytics-synth/internal/config"
	"example.com/analytics-synth/internal/sink"
	"example.com/analytics-synth/internal/sqliteutil"
	"example.com/analytics-synth/internal/synth"
)

// ErrNotShardable is returned when a sharded run targets a sink whose
// writes replace the whole table.
var ErrNotShardable = errors.New("sink cannot take sharded writes")

// Sinks holds the open connections behind the configured outputs.
type Sinks struct {
	cfg        config.OutputConfig
	perRunDirs bool
	logger     *slog.Logger

	db      *sql.DB
	dialect sink.Dialect
	ch      driver.Conn
	s3      sink.ObjectPutter
}

// OpenSinks connects every configured output. With perRunDirs, files of each
// run go to <dir>/<run id> and <prefix>/<run id>.
func OpenSinks(ctx context.Context, cfg config.OutputConfig, perRunDirs bool, logger *slog.Logger) (*Sinks, error) {
	s := &Sinks{cfg: cfg, perRunDirs: perRunDirs, logger: logger.With("component", "sinks")}

	if cfg.SQL.DSN != "" {
		dialect, err := sink.DialectByName(cfg.SQL.Driver)
		if err != nil {
			return nil, err
		}
		s.dialect = dialect
		switch dialect.Name {
		case "postgres":
			s.db, err = sink.OpenPostgres(ctx, cfg.SQL.DSN)
		default:
			s.db, err = sqliteutil.Open(cfg.SQL.DSN)
		}
		if err != nil {
			return nil, err
		}
		s.logger.Info("sql sink ready", "driver", dialect.Name)
	}

	if cfg.ClickHouse.Addr != "" {
		conn, err := sink.OpenClickHouse(ctx, sink.ClickHouseOptions{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.ch = conn
		s.logger.Info("clickhouse sink ready", "addr", cfg.ClickHouse.Addr, "database", cfg.ClickHouse.Database)
	}

	if cfg.S3.Bucket != "" {
		if !cfg.Parquet {
			s.Close()
			return nil, errors.New("s3 upload requires the parquet sink")
		}
		client, err := sink.NewS3Client(ctx, sink.S3Options{
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Region:   cfg.S3.Region,
			Profile:  cfg.S3.Profile,
			Endpoint: cfg.S3.Endpoint,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		s.s3 = client
		s.logger.Info("s3 upload ready", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	}
	return s, nil
}

// CheckShards rejects sharded runs against sinks that cannot merge partial
// writes: SQL tables are recreated per write and ClickHouse truncation would
// erase sibling shards. The error is a *synth.ConfigError wrapping
// ErrNotShardable.
func (s *Sinks) CheckShards(shards int) error {
	if shards <= 1 {
		return nil
	}
	var cause error
	switch {
	case s.db != nil:
		cause = fmt.Errorf("%w: %s", ErrNotShardable, s.dialect.Name)
	case s.ch != nil && s.cfg.ClickHouse.Truncate:
		cause = fmt.Errorf("%w: clickhouse with truncate", ErrNotShardable)
	default:
		return nil
	}
	return &synth.ConfigError{Field: "shards", Reason: fmt.Sprintf("%d shards: %v", shards, cause), Err: cause}
}

// Writer returns the fan-out writer for one partition of a run. A non-empty
// partition is refused when the outputs cannot take sharded writes, so shards
// dispatched by a remote workflow fail before writing anything.
func (s *Sinks) Writer(runID, partition string) (sink.Writer, error) {
	if partition != "" {
		if err := s.CheckShards(2); err != nil {
			return nil, fmt.Errorf("partition %s: %w", partition, err)
		}
	}
	var writers []sink.Writer
	if s.cfg.Parquet {
		dir, prefix := s.cfg.Dir, s.cfg.S3.Prefix
		if s.perRunDirs && runID != "" {
			dir = filepath.Join(dir, runID)
			prefix = path.Join(prefix, runID)
		}
		pw := sink.NewParquetWriter(dir).WithPartition(partition)
		if s.s3 != nil {
			writers = append(writers, sink.NewS3Uploader(s.s3, s.cfg.S3.Bucket, prefix).Wrap(pw))
		} else {
			writers = append(writers, pw)
		}
	}
	if s.db != nil {
		writers = append(writers, sink.NewSQLWriter(s.db, s.dialect))
	}
	if s.ch != nil {
		cw := sink.NewClickHouseWriter(s.ch)
		cw.Truncate = s.cfg.ClickHouse.Truncate
		writers = append(writers, cw)
	}
	m := sink.Multi(writers...)
	if m.Len() == 0 {
		return nil, errors.New("no output sink configured")
	}
	return m, nil
}

// Close releases database connections.
func (s *Sinks) Close() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.ch != nil {
		errs = append(errs, s.ch.Close())
	}
	return errors.Join(errs...)
}
