// Package pipeline provides the event enrichment pipeline service.
package pipeline

import (
	"time"

	"github.com/houzhh15/geoip-filter/internal/log"
	"github.com/houzhh15/geoip-filter/internal/pipeline/enricher"
)

// PipelineConfig 管线服务配置
type PipelineConfig struct {
	Input         InputConfig      `yaml:"input" mapstructure:"input"`
	Processing    ProcessingConfig `yaml:"processing" mapstructure:"processing"`
	Filter        FilterConfig     `yaml:"filter" mapstructure:"filter"`
	Output        OutputConfig     `yaml:"output" mapstructure:"output"`
	ErrorHandling ErrorConfig      `yaml:"error_handling" mapstructure:"error_handling"`
	Admin         AdminConfig      `yaml:"admin" mapstructure:"admin"`
	Log           log.Config       `yaml:"log" mapstructure:"log"`
}

// InputConfig 输入配置
type InputConfig struct {
	Kafka KafkaInputConfig `yaml:"kafka" mapstructure:"kafka"`
}

// KafkaInputConfig Kafka输入配置
type KafkaInputConfig struct {
	Brokers        []string      `yaml:"brokers" mapstructure:"brokers"`
	Topic          string        `yaml:"topic" mapstructure:"topic"`
	ConsumerGroup  string        `yaml:"consumer_group" mapstructure:"consumer_group"`
	MinBytes       int           `yaml:"min_bytes" mapstructure:"min_bytes"`
	MaxBytes       int           `yaml:"max_bytes" mapstructure:"max_bytes"`
	MaxWait        time.Duration `yaml:"max_wait" mapstructure:"max_wait"`
	CommitInterval time.Duration `yaml:"commit_interval" mapstructure:"commit_interval"`
}

// ProcessingConfig 处理配置
type ProcessingConfig struct {
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout" mapstructure:"batch_timeout"`
	WorkerCount  int           `yaml:"worker_count" mapstructure:"worker_count"`
}

// FilterConfig 过滤器配置
type FilterConfig struct {
	GeoIP enricher.GeoIPEnricherConfig `yaml:"geoip" mapstructure:"geoip"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Kafka KafkaOutputConfig `yaml:"kafka" mapstructure:"kafka"`
}

// KafkaOutputConfig Kafka输出配置
type KafkaOutputConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
	// MirrorTopics 命中事件同时写入的主题
	MirrorTopics []string `yaml:"mirror_topics" mapstructure:"mirror_topics"`
	// UnmatchedTopic 未命中事件的主题，为空时写入 Topic
	UnmatchedTopic string        `yaml:"unmatched_topic" mapstructure:"unmatched_topic"`
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`
	BatchTimeout   time.Duration `yaml:"batch_timeout" mapstructure:"batch_timeout"`
	RequiredAcks   int           `yaml:"required_acks" mapstructure:"required_acks"`
	Compression    string        `yaml:"compression" mapstructure:"compression"`
}

// ErrorConfig 错误处理配置
type ErrorConfig struct {
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff" mapstructure:"retry_backoff"`
	DLQTopic     string        `yaml:"dlq_topic" mapstructure:"dlq_topic"`
}

// AdminConfig 管理接口配置
type AdminConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	Addr        string `yaml:"addr" mapstructure:"addr"`
	MetricsPath string `yaml:"metrics_path" mapstructure:"metrics_path"`
}

// DefaultPipelineConfig 返回默认配置
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Input: InputConfig{
			Kafka: KafkaInputConfig{
				Brokers:        []string{"localhost:9092"},
				Topic:          "events.raw",
				ConsumerGroup:  "geoip-filter",
				MinBytes:       1024,             // 1KB
				MaxBytes:       10 * 1024 * 1024, // 10MB
				MaxWait:        500 * time.Millisecond,
				CommitInterval: time.Second,
			},
		},
		Processing: ProcessingConfig{
			BatchSize:    1000,
			BatchTimeout: 100 * time.Millisecond,
			WorkerCount:  8,
		},
		Filter: FilterConfig{
			GeoIP: enricher.GeoIPEnricherConfig{
				Enabled:           true,
				ResolveHostnames:  true,
				ResolveTimeout:    2 * time.Second,
				HostnameCacheSize: 10000,
				HostnameCacheTTL:  5 * time.Minute,
			},
		},
		Output: OutputConfig{
			Kafka: KafkaOutputConfig{
				Brokers:      []string{"localhost:9092"},
				Topic:        "events.geoip",
				BatchSize:    100,
				BatchTimeout: 100 * time.Millisecond,
				RequiredAcks: 1,
			},
		},
		ErrorHandling: ErrorConfig{
			MaxRetries:   3,
			RetryBackoff: 100 * time.Millisecond,
			DLQTopic:     "events.dlq",
		},
		Admin: AdminConfig{
			Enabled:     true,
			Addr:        ":9091",
			MetricsPath: "/metrics",
		},
		Log: log.DefaultConfig(),
	}
}

// Validate 验证配置
func (c *PipelineConfig) Validate() error {
	if len(c.Input.Kafka.Brokers) == 0 {
		return &ConfigError{Field: "input.kafka.brokers", Message: "brokers list cannot be empty"}
	}
	if c.Input.Kafka.Topic == "" {
		return &ConfigError{Field: "input.kafka.topic", Message: "topic cannot be empty"}
	}
	if c.Input.Kafka.ConsumerGroup == "" {
		return &ConfigError{Field: "input.kafka.consumer_group", Message: "consumer_group cannot be empty"}
	}
	if c.Processing.BatchSize <= 0 {
		return &ConfigError{Field: "processing.batch_size", Message: "batch_size must be positive"}
	}
	if c.Processing.BatchTimeout <= 0 {
		return &ConfigError{Field: "processing.batch_timeout", Message: "batch_timeout must be positive"}
	}
	if c.Processing.WorkerCount <= 0 {
		return &ConfigError{Field: "processing.worker_count", Message: "worker_count must be positive"}
	}
	if geo := c.Filter.GeoIP; geo.Enabled && geo.Source == "" && geo.Field == "" {
		return &ConfigError{Field: "filter.geoip.source", Message: "source cannot be empty"}
	}
	if len(c.Output.Kafka.Brokers) == 0 {
		return &ConfigError{Field: "output.kafka.brokers", Message: "brokers list cannot be empty"}
	}
	if c.Output.Kafka.Topic == "" {
		return &ConfigError{Field: "output.kafka.topic", Message: "topic cannot be empty"}
	}
	for _, topic := range c.Output.Kafka.MirrorTopics {
		if topic == "" || topic == c.Output.Kafka.Topic {
			return &ConfigError{Field: "output.kafka.mirror_topics", Message: "mirror topic must be non-empty and differ from topic"}
		}
	}
	switch c.Output.Kafka.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return &ConfigError{Field: "output.kafka.compression", Message: "unknown compression " + c.Output.Kafka.Compression}
	}
	if c.Admin.Enabled && c.Admin.Addr == "" {
		return &ConfigError{Field: "admin.addr", Message: "addr cannot be empty"}
	}
	return nil
}

// ConfigError 配置错误
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}
