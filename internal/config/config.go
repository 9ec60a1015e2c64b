// Package config loads the YAML configuration shared by the synth commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"example.com/analytics-synth/internal/orchestrator"
	"example.com/analytics-synth/internal/pipeline"
	"example.com/analytics-synth/internal/runs"
)

// Config is the root configuration document.
type Config struct {
	Generation pipeline.Request `yaml:"generation"`
	Output     OutputConfig     `yaml:"output"`
	Server     ServerConfig     `yaml:"server"`
	Temporal   TemporalConfig   `yaml:"temporal"`
	Redis      RedisConfig      `yaml:"redis"`
}

// OutputConfig selects the sinks. Every configured sink receives every
// table; Parquet is enabled when no database sink is.
type OutputConfig struct {
	Dir        string           `yaml:"dir"`
	Parquet    bool             `yaml:"parquet"`
	SQL        SQLConfig        `yaml:"sql"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	S3         S3Config         `yaml:"s3"`
}

type SQLConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn"`
}

type ClickHouseConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Truncate bool   `yaml:"truncate"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Profile  string `yaml:"profile"`
	Endpoint string `yaml:"endpoint"`
}

type ServerConfig struct {
	Addr   string `yaml:"addr"`
	DBPath string `yaml:"db_path"`
	URL    string `yaml:"url"`
}

// TemporalConfig enables Temporal orchestration when HostPort is set.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// RedisConfig enables the run cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Output.Dir == "" {
		c.Output.Dir = "output"
	}
	if !c.Output.Parquet && c.Output.SQL.DSN == "" && c.Output.ClickHouse.Addr == "" {
		c.Output.Parquet = true
	}
	if c.Output.SQL.Driver == "" {
		c.Output.SQL.Driver = "sqlite"
	}
	if c.Output.ClickHouse.Database == "" {
		c.Output.ClickHouse.Database = "default"
	}
	if c.Output.S3.Region == "" {
		c.Output.S3.Region = "us-east-1"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = "runs.db"
	}
	if c.Server.URL == "" {
		c.Server.URL = "http://localhost:8090"
	}
	if c.Temporal.Namespace == "" {
		c.Temporal.Namespace = "default"
	}
	if c.Temporal.TaskQueue == "" {
		c.Temporal.TaskQueue = orchestrator.DefaultTaskQueue
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = runs.DefaultCacheTTL
	}
}

// Load reads configuration from a YAML file. An empty path yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadFromEnv loads path, then applies a .env file from the working
// directory when present and SYNTH_* environment overrides.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"SYNTH_OUTPUT_DIR":          &c.Output.Dir,
		"SYNTH_SQL_DRIVER":          &c.Output.SQL.Driver,
		"SYNTH_SQL_DSN":             &c.Output.SQL.DSN,
		"SYNTH_CLICKHOUSE_ADDR":     &c.Output.ClickHouse.Addr,
		"SYNTH_CLICKHOUSE_DATABASE": &c.Output.ClickHouse.Database,
		"SYNTH_CLICKHOUSE_USERNAME": &c.Output.ClickHouse.Username,
		"SYNTH_CLICKHOUSE_PASSWORD": &c.Output.ClickHouse.Password,
		"SYNTH_S3_BUCKET":           &c.Output.S3.Bucket,
		"SYNTH_S3_PREFIX":           &c.Output.S3.Prefix,
		"SYNTH_S3_REGION":           &c.Output.S3.Region,
		"SYNTH_S3_ENDPOINT":         &c.Output.S3.Endpoint,
		"SYNTH_S3_PROFILE":          &c.Output.S3.Profile,
		"SYNTH_SERVER_ADDR":         &c.Server.Addr,
		"SYNTH_SERVER_DB":           &c.Server.DBPath,
		"SYNTH_SERVER_URL":          &c.Server.URL,
		"SYNTH_TEMPORAL_HOSTPORT":   &c.Temporal.HostPort,
		"SYNTH_TEMPORAL_NAMESPACE":  &c.Temporal.Namespace,
		"SYNTH_TEMPORAL_TASK_QUEUE": &c.Temporal.TaskQueue,
		"SYNTH_REDIS_ADDR":          &c.Redis.Addr,
		"SYNTH_REDIS_PASSWORD":      &c.Redis.Password,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SYNTH_WORKERS":  &c.Generation.Workers,
		"SYNTH_SHARDS":   &c.Generation.Shards,
		"SYNTH_REDIS_DB": &c.Redis.DB,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = n
	}

	sizes := map[string]**int{
		"SYNTH_NUM_USERS": &c.Generation.NumUsers,
		"SYNTH_DAYS":      &c.Generation.Days,
	}
	for key, dst := range sizes {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		*dst = &n
	}

	if v := os.Getenv("SYNTH_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse SYNTH_SEED: %w", err)
		}
		c.Generation.Seed = &seed
	}
	if v := os.Getenv("SYNTH_CONVERSION_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse SYNTH_CONVERSION_RATE: %w", err)
		}
		c.Generation.ConversionRate = &rate
	}
	if v := os.Getenv("SYNTH_START_DATE"); v != "" {
		c.Generation.StartDate = v
	}
	if v := os.Getenv("SYNTH_REDIS_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse SYNTH_REDIS_TTL: %w", err)
		}
		c.Redis.TTL = ttl
	}
	if v := os.Getenv("SYNTH_PARQUET"); v != "" {
		on, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse SYNTH_PARQUET: %w", err)
		}
		c.Output.Parquet = on
	}
	return nil
}
