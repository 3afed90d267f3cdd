package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrWriterClosed 写入器已关闭
var ErrWriterClosed = errors.New("kafka writer is closed")

// KafkaWriterConfig Kafka写入配置
type KafkaWriterConfig struct {
	// Brokers Kafka broker地址列表
	Brokers []string `yaml:"brokers"`
	// Topic 目标主题
	Topic string `yaml:"topic"`
	// BatchSize 批量写入大小
	BatchSize int `yaml:"batch_size"`
	// BatchTimeout 批量写入超时
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	// RequiredAcks 确认级别: 0=不等待, 1=Leader确认, -1=所有副本确认
	RequiredAcks int `yaml:"required_acks"`
	// Compression 压缩方式: none, gzip, snappy, lz4, zstd
	Compression string `yaml:"compression"`
	// MaxRetries 最大重试次数
	MaxRetries int `yaml:"max_retries"`
	// RetryBackoff 重试间隔
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// KafkaWriter Kafka输出实现
type KafkaWriter struct {
	writer *kafka.Writer
	config *KafkaWriterConfig
	mu     sync.RWMutex
	closed bool
}

// NewKafkaWriter 创建Kafka写入器
func NewKafkaWriter(cfg *KafkaWriterConfig) (*KafkaWriter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kafka writer config is nil")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers is empty")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is empty")
	}

	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}

	compression, err := parseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:            kafka.TCP(cfg.Brokers...),
		Topic:           cfg.Topic,
		Balancer:        &kafka.Hash{},
		BatchSize:       cfg.BatchSize,
		BatchTimeout:    cfg.BatchTimeout,
		RequiredAcks:    parseRequiredAcks(cfg.RequiredAcks),
		Compression:     compression,
		MaxAttempts:     cfg.MaxRetries,
		WriteBackoffMin: cfg.RetryBackoff,
	}

	return &KafkaWriter{writer: w, config: cfg}, nil
}

func parseCompression(name string) (kafka.Compression, error) {
	switch name {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unknown kafka compression %q", name)
	}
}

func parseRequiredAcks(acks int) kafka.RequiredAcks {
	switch acks {
	case 0:
		return kafka.RequireNone
	case -1:
		return kafka.RequireAll
	default:
		return kafka.RequireOne
	}
}

// Topic 返回目标主题
func (w *KafkaWriter) Topic() string { return w.config.Topic }

// Write 写入单个事件
func (w *KafkaWriter) Write(ctx context.Context, event []byte) error {
	return w.write(ctx, kafka.Message{Value: event, Time: time.Now()})
}

// WriteWithKey 带分区键写入
func (w *KafkaWriter) WriteWithKey(ctx context.Context, key string, event []byte) error {
	return w.write(ctx, kafka.Message{Key: []byte(key), Value: event, Time: time.Now()})
}

// WriteBatch 批量写入事件
func (w *KafkaWriter) WriteBatch(ctx context.Context, events [][]byte) error {
	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	now := time.Now()
	for i, event := range events {
		messages[i] = kafka.Message{Value: event, Time: now}
	}
	return w.write(ctx, messages...)
}

func (w *KafkaWriter) write(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrWriterClosed
	}
	return w.writer.WriteMessages(ctx, msgs...)
}

// Close 关闭写入器
func (w *KafkaWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	return w.writer.Close()
}

// Stats 返回写入统计信息
func (w *KafkaWriter) Stats() kafka.WriterStats {
	return w.writer.Stats()
}
