package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/durable-consumer/durable-consumer/pkg/errors"
)

// Validate 验证配置
func Validate(cfg *Config) error {
	// 验证Kafka配置
	if len(cfg.Kafka.Brokers) == 0 {
		return errors.New(errors.ErrCodeConfigValidate, "kafka.brokers is required")
	}
	if cfg.Kafka.Topic == "" {
		return errors.New(errors.ErrCodeConfigValidate, "kafka.topic is required")
	}
	if cfg.Kafka.GroupID == "" {
		return errors.New(errors.ErrCodeConfigValidate, "kafka.group_id is required")
	}
	if cfg.Kafka.AutoOffsetReset != "earliest" && cfg.Kafka.AutoOffsetReset != "latest" {
		return errors.New(errors.ErrCodeConfigValidate, "kafka.auto_offset_reset must be 'earliest' or 'latest'")
	}
	if cfg.Kafka.PollTimeoutMs <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "kafka.poll_timeout_ms must be > 0")
	}
	if cfg.Kafka.MaxPollRecords <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "kafka.max_poll_records must be > 0")
	}
	if cfg.Kafka.MaxFetchBytes <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "kafka.max_fetch_bytes must be > 0")
	}
	if cfg.Kafka.PollErrorBackoffMs < 0 {
		return errors.New(errors.ErrCodeConfigValidate, "kafka.poll_error_backoff_ms must be >= 0")
	}
	if cfg.Kafka.ConnectRetries < 0 {
		return errors.New(errors.ErrCodeConfigValidate, "kafka.connect_retries must be >= 0")
	}

	// 验证工作池配置
	if cfg.Worker.Count < 1 || cfg.Worker.Count > 1000 {
		return errors.New(errors.ErrCodeConfigValidate, "worker.count must be 1-1000")
	}
	if cfg.Worker.QueueSize < 10 {
		return errors.New(errors.ErrCodeConfigValidate, "worker.queue_size must be >= 10")
	}
	if cfg.Worker.MaxMessageSize <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "worker.max_message_size must be > 0")
	}
	if cfg.Worker.ProcessingTimeoutSeconds < 0 {
		return errors.New(errors.ErrCodeConfigValidate, "worker.processing_timeout_seconds must be >= 0")
	}
	if cfg.Worker.QueuePutTimeoutSeconds <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "worker.queue_put_timeout_seconds must be > 0")
	}
	if cfg.Worker.QueueGetTimeoutMs <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "worker.queue_get_timeout_ms must be > 0")
	}

	// 验证提交配置
	if cfg.Commit.IntervalSeconds < 1 {
		return errors.New(errors.ErrCodeConfigValidate, "commit.interval_seconds must be >= 1")
	}

	// 验证写入器配置
	if cfg.Writer.FlushIntervalSeconds <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "writer.flush_interval_seconds must be > 0")
	}
	if cfg.Writer.RotationCheckIntervalSeconds <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "writer.rotation_check_interval_seconds must be > 0")
	}
	if cfg.Writer.QueueGetTimeoutMs <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "writer.queue_get_timeout_ms must be > 0")
	}
	if cfg.Audit.Enabled {
		if cfg.Audit.BatchSize <= 0 {
			return errors.New(errors.ErrCodeConfigValidate, "audit.batch_size must be > 0")
		}
		if cfg.Audit.QueueSize < 0 {
			return errors.New(errors.ErrCodeConfigValidate, "audit.queue_size must be >= 0")
		}
		if err := validateOutputPath("audit.path", cfg.Audit.Path); err != nil {
			return err
		}
	}
	if cfg.DeadLetter.BatchSize <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "dead_letter.batch_size must be > 0")
	}
	if err := validateOutputPath("dead_letter.path", cfg.DeadLetter.Path); err != nil {
		return err
	}

	// 验证关闭配置
	if cfg.Shutdown.TimeoutSeconds <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "shutdown.timeout_seconds must be > 0")
	}
	if cfg.Shutdown.UnitJoinTimeoutSeconds <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "shutdown.unit_join_timeout_seconds must be > 0")
	}

	// 验证stop_at_offset
	for i, s := range cfg.StopAtOffset {
		if s.Topic == "" {
			return errors.Newf(errors.ErrCodeConfigValidate, "stop_at_offset[%d].topic is required", i)
		}
		if s.Partition < 0 {
			return errors.Newf(errors.ErrCodeConfigValidate, "stop_at_offset[%d].partition must be >= 0", i)
		}
		if s.Offset < 0 {
			return errors.Newf(errors.ErrCodeConfigValidate, "stop_at_offset[%d].offset must be a non-negative integer", i)
		}
	}

	// 验证处理器配置
	if cfg.Processor.Name == "" {
		return errors.New(errors.ErrCodeConfigValidate, "processor.name is required")
	}
	if cfg.Processor.Name == "mysql" {
		if cfg.Processor.MySQL.Addr == "" {
			return errors.New(errors.ErrCodeConfigValidate, "processor.mysql.addr is required when processor is 'mysql'")
		}
		if cfg.Processor.MySQL.Statement == "" {
			return errors.New(errors.ErrCodeConfigValidate, "processor.mysql.statement is required when processor is 'mysql'")
		}
	}

	// 验证监控配置
	if cfg.Metrics.Enabled && cfg.Metrics.Port <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "metrics.port must be positive when enabled")
	}

	// 验证pprof配置
	if cfg.Pprof.Enabled && cfg.Pprof.Port <= 0 {
		return errors.New(errors.ErrCodeConfigValidate, "pprof.port must be positive when enabled")
	}

	// 验证端口冲突
	if cfg.Metrics.Enabled && cfg.Pprof.Enabled && cfg.Metrics.Port == cfg.Pprof.Port {
		return errors.New(errors.ErrCodeConfigValidate, "metrics.port and pprof.port cannot be the same")
	}

	return nil
}

// validateOutputPath 校验输出文件所在目录存在且可写
func validateOutputPath(field, path string) error {
	if path == "" {
		return errors.Newf(errors.ErrCodeConfigValidate, "%s is required", field)
	}

	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return errors.Newf(errors.ErrCodeConfigValidate, "%s directory does not exist: %s", field, dir)
	}
	if !info.IsDir() {
		return errors.Newf(errors.ErrCodeConfigValidate, "%s directory is not a directory: %s", field, dir)
	}
	if err := checkWritable(dir); err != nil {
		return errors.Newf(errors.ErrCodeConfigValidate, "%s directory not writable: %s", field, dir)
	}

	return nil
}

// String 返回配置的字符串表示（隐藏敏感信息）
func (c *Config) String() string {
	return fmt.Sprintf("Config{Kafka: %v/%s/%s, Workers: %d, Queue: %d, Audit: %v, DryRun: %v, Processor: %s}",
		c.Kafka.Brokers,
		c.Kafka.Topic,
		c.Kafka.GroupID,
		c.Worker.Count,
		c.Worker.QueueSize,
		c.Audit.Enabled,
		c.Commit.DryRun,
		c.Processor.Name,
	)
}
