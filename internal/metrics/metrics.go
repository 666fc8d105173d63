package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Kafka消费指标
	MessagesPolled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_messages_polled_total",
			Help: "Total number of messages polled from Kafka",
		},
		[]string{"topic"},
	)

	PollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consumer_poll_errors_total",
			Help: "Total number of failed Kafka polls",
		},
	)

	MessagesEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "consumer_messages_enqueued_total",
			Help: "Total number of messages pushed onto the processing queue",
		},
	)

	// reason: backpressure, shutdown, audit_queue_full
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_messages_dropped_total",
			Help: "Total number of messages dropped before processing or audit",
		},
		[]string{"reason"},
	)

	ProcessingQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "consumer_processing_queue_depth",
			Help: "Current number of messages waiting in the processing queue",
		},
	)

	// 处理指标
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_messages_processed_total",
			Help: "Total number of processed messages by outcome",
		},
		[]string{"outcome"},
	)

	ProcessingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_processing_failures_total",
			Help: "Total number of processing failures by error type",
		},
		[]string{"error_type"},
	)

	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consumer_processing_duration_seconds",
			Help:    "Per-message processing duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// offset提交指标
	CommitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_commit_total",
			Help: "Total number of offset commit attempts",
		},
		[]string{"status"},
	)

	CommittedOffset = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "consumer_committed_offset",
			Help: "Last committed next-offset-to-read per partition",
		},
		[]string{"partition"},
	)

	PendingOffsets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "consumer_pending_offsets",
			Help: "Processed but not yet committed offsets across partitions",
		},
	)

	// 写入器指标
	WriterRowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writer_rows_written_total",
			Help: "Total number of rows flushed to disk",
		},
		[]string{"writer"},
	)

	WriterFlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "writer_flush_duration_seconds",
			Help:    "Batch flush duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"writer"},
	)

	WriterErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writer_errors_total",
			Help: "Total number of writer failures",
		},
		[]string{"writer", "stage"},
	)

	WriterRotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writer_rotations_total",
			Help: "Total number of hourly file rotations",
		},
		[]string{"writer"},
	)

	// 运行状态
	PipelinePhase = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "consumer_pipeline_phase",
			Help: "1 for the current pipeline phase, 0 otherwise",
		},
		[]string{"phase"},
	)
)
