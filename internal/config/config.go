package config

import (
	"time"

	"github.com/durable-consumer/durable-consumer/pkg/logger"
)

// Config 全局配置
type Config struct {
	Kafka        KafkaConfig        `yaml:"kafka"`
	Worker       WorkerConfig       `yaml:"worker"`
	Commit       CommitConfig       `yaml:"commit"`
	Audit        AuditConfig        `yaml:"audit"`
	DeadLetter   DeadLetterConfig   `yaml:"dead_letter"`
	Writer       WriterConfig       `yaml:"writer"`
	Shutdown     ShutdownConfig     `yaml:"shutdown"`
	StopAtOffset []StopOffsetConfig `yaml:"stop_at_offset"`
	Processor    ProcessorConfig    `yaml:"processor"`
	Log          logger.Config      `yaml:"log"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Pprof        PprofConfig        `yaml:"pprof"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	Topic              string   `yaml:"topic"`
	GroupID            string   `yaml:"group_id"`
	ClientID           string   `yaml:"client_id"`
	AutoOffsetReset    string   `yaml:"auto_offset_reset"` // earliest, latest
	PollTimeoutMs      int      `yaml:"poll_timeout_ms"`
	MaxPollRecords     int      `yaml:"max_poll_records"`
	MaxFetchBytes      int      `yaml:"max_fetch_bytes"`
	SessionTimeout     int      `yaml:"session_timeout"`
	HeartbeatInterval  int      `yaml:"heartbeat_interval"`
	PollErrorBackoffMs int      `yaml:"poll_error_backoff_ms"`
	ConnectRetries     int      `yaml:"connect_retries"`
}

// WorkerConfig 工作池配置
type WorkerConfig struct {
	Count                    int `yaml:"count"`
	QueueSize                int `yaml:"queue_size"`
	MaxMessageSize           int `yaml:"max_message_size"`
	ProcessingTimeoutSeconds int `yaml:"processing_timeout_seconds"` // 0表示不限制
	QueuePutTimeoutSeconds   int `yaml:"queue_put_timeout_seconds"`
	QueueGetTimeoutMs        int `yaml:"queue_get_timeout_ms"`
}

// CommitConfig 提交配置
type CommitConfig struct {
	IntervalSeconds int  `yaml:"interval_seconds"`
	DryRun          bool `yaml:"dry_run"` // 只计算不提交
}

// AuditConfig 审计文件配置
type AuditConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batch_size"`
	QueueSize int    `yaml:"queue_size"` // 0表示不限制
}

// DeadLetterConfig 死信文件配置
type DeadLetterConfig struct {
	Path      string `yaml:"path"`
	BatchSize int    `yaml:"batch_size"`
}

// WriterConfig 审计/死信写入器公共配置
type WriterConfig struct {
	FlushIntervalSeconds         int `yaml:"flush_interval_seconds"`
	RotationCheckIntervalSeconds int `yaml:"rotation_check_interval_seconds"`
	QueueGetTimeoutMs            int `yaml:"queue_get_timeout_ms"`
}

// ShutdownConfig 关闭配置
type ShutdownConfig struct {
	TimeoutSeconds         int `yaml:"timeout_seconds"`           // 所有worker共享的等待预算
	UnitJoinTimeoutSeconds int `yaml:"unit_join_timeout_seconds"` // poller/commit/writer各自的等待时间
}

// StopOffsetConfig 到达指定offset后停止消费
type StopOffsetConfig struct {
	Topic     string `yaml:"topic"`
	Partition int32  `yaml:"partition"`
	Offset    int64  `yaml:"offset"`
}

// ProcessorConfig 消息处理器配置
type ProcessorConfig struct {
	Name  string               `yaml:"name"` // noop, json, mysql
	JSON  JSONProcessorConfig  `yaml:"json"`
	MySQL MySQLProcessorConfig `yaml:"mysql"`
}

// JSONProcessorConfig JSON校验处理器配置
type JSONProcessorConfig struct {
	RequiredFields []string `yaml:"required_fields"`
}

// MySQLProcessorConfig MySQL写入处理器配置
type MySQLProcessorConfig struct {
	Addr      string `yaml:"addr"`
	Database  string `yaml:"database"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	Statement string `yaml:"statement"` // 带一个占位符，参数为消息内容
	Timeout   int    `yaml:"timeout"`
	MaxConns  int    `yaml:"max_conns"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// PprofConfig pprof配置
type PprofConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Kafka: KafkaConfig{
			Brokers:            []string{"localhost:9092"},
			Topic:              "event_topic",
			GroupID:            "durable-consumer-group",
			ClientID:           "durable-consumer",
			AutoOffsetReset:    "latest",
			PollTimeoutMs:      1000,
			MaxPollRecords:     100,
			MaxFetchBytes:      1048576, // 1MB
			SessionTimeout:     30,
			HeartbeatInterval:  3,
			PollErrorBackoffMs: 1000,
			ConnectRetries:     3,
		},
		Worker: WorkerConfig{
			Count:                  50,
			QueueSize:              200,
			MaxMessageSize:         10485760, // 10MB
			QueuePutTimeoutSeconds: 60,
			QueueGetTimeoutMs:      1000,
		},
		Commit: CommitConfig{
			IntervalSeconds: 5,
		},
		Audit: AuditConfig{
			Enabled:   true,
			Path:      "kafka_backup.csv",
			BatchSize: 1000,
		},
		DeadLetter: DeadLetterConfig{
			Path:      "kafka_dlq.csv",
			BatchSize: 100,
		},
		Writer: WriterConfig{
			FlushIntervalSeconds:         5,
			RotationCheckIntervalSeconds: 60,
			QueueGetTimeoutMs:            100,
		},
		Shutdown: ShutdownConfig{
			TimeoutSeconds:         30,
			UnitJoinTimeoutSeconds: 5,
		},
		Processor: ProcessorConfig{
			Name: "noop",
			MySQL: MySQLProcessorConfig{
				Timeout:  10,
				MaxConns: 10,
			},
		},
		Log: logger.Config{
			Level:          "info",
			Output:         "stdout",
			Format:         "json",
			EnableSampling: true,
			MaxSize:        100,
			MaxAge:         7,
			MaxBackups:     10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Pprof: PprofConfig{
			Enabled: false,
			Port:    6060,
		},
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// PollTimeout 单次poll的最长等待时间
func (c KafkaConfig) PollTimeout() time.Duration { return millis(c.PollTimeoutMs) }

// PollErrorBackoff poll出错后的退避时间
func (c KafkaConfig) PollErrorBackoff() time.Duration { return millis(c.PollErrorBackoffMs) }

// ProcessingTimeout 单条消息处理超时，0表示不限制
func (c WorkerConfig) ProcessingTimeout() time.Duration { return seconds(c.ProcessingTimeoutSeconds) }

// QueuePutTimeout 写入处理队列的超时
func (c WorkerConfig) QueuePutTimeout() time.Duration { return seconds(c.QueuePutTimeoutSeconds) }

// QueueGetTimeout worker从处理队列取消息的超时
func (c WorkerConfig) QueueGetTimeout() time.Duration { return millis(c.QueueGetTimeoutMs) }

// Interval 提交间隔
func (c CommitConfig) Interval() time.Duration { return seconds(c.IntervalSeconds) }

// FlushInterval 批次刷新间隔
func (c WriterConfig) FlushInterval() time.Duration { return seconds(c.FlushIntervalSeconds) }

// RotationCheckInterval 小时轮转检查间隔
func (c WriterConfig) RotationCheckInterval() time.Duration {
	return seconds(c.RotationCheckIntervalSeconds)
}

// QueueGetTimeout 写入器取队列的超时
func (c WriterConfig) QueueGetTimeout() time.Duration { return millis(c.QueueGetTimeoutMs) }

// Timeout worker共享的关闭预算
func (c ShutdownConfig) Timeout() time.Duration { return seconds(c.TimeoutSeconds) }

// UnitJoinTimeout 单个执行单元的等待时间
func (c ShutdownConfig) UnitJoinTimeout() time.Duration { return seconds(c.UnitJoinTimeoutSeconds) }

// StopOffsets 返回 topic -> partition -> offset 的查找表
func (c *Config) StopOffsets() map[string]map[int32]int64 {
	if len(c.StopAtOffset) == 0 {
		return nil
	}
	m := make(map[string]map[int32]int64, len(c.StopAtOffset))
	for _, s := range c.StopAtOffset {
		if m[s.Topic] == nil {
			m[s.Topic] = make(map[int32]int64)
		}
		m[s.Topic][s.Partition] = s.Offset
	}
	return m
}
