package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/durable-consumer/durable-consumer/pkg/errors"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Audit.Path = filepath.Join(dir, "audit.csv")
	cfg.DeadLetter.Path = filepath.Join(dir, "dlq.csv")
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantMsg string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "no brokers", mutate: func(c *Config) { c.Kafka.Brokers = nil }, wantMsg: "kafka.brokers is required"},
		{name: "bad reset", mutate: func(c *Config) { c.Kafka.AutoOffsetReset = "middle" }, wantMsg: "kafka.auto_offset_reset"},
		{name: "negative connect retries", mutate: func(c *Config) { c.Kafka.ConnectRetries = -1 }, wantMsg: "kafka.connect_retries must be >= 0"},
		{name: "zero connect retries", mutate: func(c *Config) { c.Kafka.ConnectRetries = 0 }},
		{name: "zero workers", mutate: func(c *Config) { c.Worker.Count = 0 }, wantMsg: "worker.count must be 1-1000"},
		{name: "too many workers", mutate: func(c *Config) { c.Worker.Count = 1001 }, wantMsg: "worker.count must be 1-1000"},
		{name: "max workers", mutate: func(c *Config) { c.Worker.Count = 1000 }},
		{name: "small queue", mutate: func(c *Config) { c.Worker.QueueSize = 9 }, wantMsg: "worker.queue_size must be >= 10"},
		{name: "commit interval", mutate: func(c *Config) { c.Commit.IntervalSeconds = 0 }, wantMsg: "commit.interval_seconds must be >= 1"},
		{name: "shutdown timeout", mutate: func(c *Config) { c.Shutdown.TimeoutSeconds = 0 }, wantMsg: "shutdown.timeout_seconds must be > 0"},
		{name: "negative stop offset", mutate: func(c *Config) {
			c.StopAtOffset = []StopOffsetConfig{{Topic: "t", Partition: 0, Offset: -1}}
		}, wantMsg: "stop_at_offset[0].offset must be a non-negative integer"},
		{name: "missing dlq dir", mutate: func(c *Config) {
			c.DeadLetter.Path = filepath.Join(os.TempDir(), "does-not-exist-dc", "dlq.csv")
		}, wantMsg: "dead_letter.path directory does not exist"},
		{name: "audit disabled skips audit path", mutate: func(c *Config) {
			c.Audit.Enabled = false
			c.Audit.Path = ""
		}},
		{name: "mysql needs statement", mutate: func(c *Config) {
			c.Processor.Name = "mysql"
			c.Processor.MySQL.Addr = "127.0.0.1:3306"
		}, wantMsg: "processor.mysql.statement is required"},
		{name: "port clash", mutate: func(c *Config) {
			c.Pprof.Enabled = true
			c.Pprof.Port = c.Metrics.Port
		}, wantMsg: "cannot be the same"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			code, ok := errors.CodeOf(err)
			assert.True(t, ok)
			assert.Equal(t, errors.ErrCodeConfigValidate, code)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
kafka:
  brokers: ["k1:9092", "k2:9092"]
  topic: orders
  group_id: orders-etl
worker:
  count: 8
  processing_timeout_seconds: 3
commit:
  dry_run: true
audit:
  path: ` + filepath.Join(dir, "backup.csv") + `
dead_letter:
  path: ` + filepath.Join(dir, "dlq.csv") + `
stop_at_offset:
  - topic: orders
    partition: 2
    offset: 500
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "orders", cfg.Kafka.Topic)
	assert.Equal(t, 8, cfg.Worker.Count)
	assert.Equal(t, 200, cfg.Worker.QueueSize, "default kept")
	assert.True(t, cfg.Commit.DryRun)
	assert.Equal(t, int64(500), cfg.StopOffsets()["orders"][2])
	assert.Equal(t, "3s", cfg.Worker.ProcessingTimeout().String())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	code, _ := errors.CodeOf(err)
	assert.Equal(t, errors.ErrCodeConfigLoad, code)
}

func TestCheckWritable(t *testing.T) {
	assert.NoError(t, checkWritable(t.TempDir()))
	assert.Error(t, checkWritable(filepath.Join(t.TempDir(), "missing")))
}
