package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/houzhh15/geoip-filter/internal/pipeline/enricher"
	"github.com/houzhh15/geoip-filter/internal/pipeline/event"
	"github.com/houzhh15/geoip-filter/internal/pipeline/writer"
)

// Consumer 消息消费接口（*kafka.Reader 满足该接口）
type Consumer interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

// Outputs 管线输出
type Outputs struct {
	// Matched 命中事件的输出
	Matched writer.Writer
	// Unmatched 未命中事件的输出，为空时写入 Matched
	Unmatched writer.Writer
	// DLQ 无法解析的消息
	DLQ writer.Writer
}

// NewKafkaConsumer 创建 Kafka 消费者
func NewKafkaConsumer(cfg KafkaInputConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: cfg.CommitInterval,
	})
}

// Pipeline 事件处理管线
type Pipeline struct {
	config    *PipelineConfig
	consumer  Consumer
	processor BatchProcessor
	outputs   Outputs
	collector *BatchCollector
	metrics   *PipelineMetrics
	logger    *zap.Logger

	// batchMu 保证批次与待提交消息一一对应
	batchMu sync.Mutex
	pending []kafka.Message
	// processMu 在持有 batchMu 时获取，保证批次按取出顺序写入并提交
	processMu sync.Mutex

	haltOnce sync.Once
	halted   chan struct{}
	haltErr  error

	consumed  atomic.Int64
	matched   atomic.Int64
	unmatched atomic.Int64
	failed    atomic.Int64
	dlq       atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewPipeline 创建新的事件处理管线，consumer 为空时按配置创建 Kafka 消费者
func NewPipeline(
	config *PipelineConfig,
	consumer Consumer,
	chain *enricher.EnricherChain,
	outputs Outputs,
	metrics *PipelineMetrics,
	logger *zap.Logger,
) (*Pipeline, error) {
	if config == nil {
		return nil, fmt.Errorf("pipeline config is nil")
	}
	if outputs.Matched == nil {
		return nil, fmt.Errorf("pipeline output writer is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if consumer == nil {
		consumer = NewKafkaConsumer(config.Input.Kafka)
	}

	if config.ErrorHandling.RetryBackoff <= 0 {
		config.ErrorHandling.RetryBackoff = 100 * time.Millisecond
	}

	processorConfig := &BatchProcessorConfig{
		Workers:        config.Processing.WorkerCount,
		BatchSize:      config.Processing.BatchSize,
		BatchTimeout:   config.Processing.BatchTimeout,
		EnableParallel: config.Processing.WorkerCount > 1,
	}
	// 处理器会补齐 processorConfig 的默认值
	processor := NewDefaultBatchProcessor(processorConfig, chain, metrics, logger)

	return &Pipeline{
		config:    config,
		consumer:  consumer,
		processor: processor,
		outputs:   outputs,
		collector: NewBatchCollector(processorConfig),
		metrics:   metrics,
		logger:    logger,
		halted:    make(chan struct{}),
	}, nil
}

// Start 启动管线
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrPipelineRunning
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.logger.Info("Pipeline started",
		zap.String("topic", p.config.Input.Kafka.Topic),
		zap.String("output", p.config.Output.Kafka.Topic),
		zap.Int("workers", p.config.Processing.WorkerCount),
	)

	p.wg.Add(2)
	go p.consumeLoop()
	go p.flushLoop()

	return nil
}

// Stop 停止管线，处理剩余事件并关闭所有资源
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.flush(ctx)

	errs := multierr.Append(nil, p.consumer.Close())
	for _, w := range []writer.Writer{p.outputs.Matched, p.outputs.Unmatched, p.outputs.DLQ} {
		if w != nil {
			errs = multierr.Append(errs, w.Close())
		}
	}

	p.logger.Info("Pipeline stopped", zap.Int64("consumed", p.consumed.Load()))
	return errs
}

// consumeLoop 消费循环
func (p *Pipeline) consumeLoop() {
	defer p.wg.Done()

	for {
		msg, err := p.consumer.FetchMessage(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Warn("Fetch message failed", zap.Error(err))
			p.recordError(StageConsume, err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.config.ErrorHandling.RetryBackoff):
			}
			continue
		}

		p.consumed.Add(1)
		if p.metrics != nil {
			p.metrics.RecordEventConsumed(msg.Topic, 1)
		}

		evt, err := event.Parse(msg.Value)
		if err != nil {
			if dlqErr := p.sendToDLQ(context.WithoutCancel(p.ctx), msg.Value, StageDecode, WrapDecodeError(string(msg.Key), err)); dlqErr != nil {
				p.halt(dlqErr)
				return
			}
			p.batchMu.Lock()
			p.pending = append(p.pending, msg)
			p.batchMu.Unlock()
			continue
		}

		p.batchMu.Lock()
		batch := p.collector.Add(evt)
		p.pending = append(p.pending, msg)
		if batch == nil {
			p.batchMu.Unlock()
			continue
		}
		msgs := p.takePending()
		p.processMu.Lock()
		p.batchMu.Unlock()

		p.complete(context.WithoutCancel(p.ctx), batch, msgs)
		p.processMu.Unlock()
	}
}

// flushLoop 定时刷新循环
func (p *Pipeline) flushLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.collector.config.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			// 已取出的批次在停止时也要处理完
			p.flush(context.WithoutCancel(p.ctx))
			p.updateLag()
		}
	}
}

// flush 处理缓冲区中的事件并提交对应消息
func (p *Pipeline) flush(ctx context.Context) {
	p.batchMu.Lock()
	batch := p.collector.Flush()
	msgs := p.takePending()
	p.processMu.Lock()
	p.batchMu.Unlock()
	defer p.processMu.Unlock()

	if p.metrics != nil {
		p.metrics.SetBufferSize("collector", p.collector.Size())
	}
	p.complete(ctx, batch, msgs)
}

// complete 写出批次后提交对应消息，需要持有 processMu
func (p *Pipeline) complete(ctx context.Context, batch *Batch, msgs []kafka.Message) {
	if batch != nil {
		if err := p.processBatch(ctx, batch); err != nil {
			p.halt(err)
			return
		}
	}
	p.commit(msgs...)
}

// takePending 需要持有 batchMu
func (p *Pipeline) takePending() []kafka.Message {
	msgs := p.pending
	p.pending = nil
	return msgs
}

// processBatch 处理批次，任一输出写入失败时返回错误
func (p *Pipeline) processBatch(ctx context.Context, batch *Batch) error {
	startTime := time.Now()

	result, err := p.processor.Process(ctx, batch)
	if err != nil {
		p.logger.Error("Process batch failed", zap.String("batch_id", batch.ID), zap.Error(err))
		p.recordError(StageEnrich, err)
		return WrapEnrichError(batch.ID, err)
	}

	p.matched.Add(int64(len(result.Matched)))
	p.unmatched.Add(int64(len(result.Unmatched)))
	p.failed.Add(int64(len(result.FailedEvents)))

	unmatchedOut := p.outputs.Unmatched
	if unmatchedOut == nil {
		unmatchedOut = p.outputs.Matched
	}
	if err := p.writeEvents(ctx, "matched", p.outputs.Matched, result.Matched); err != nil {
		return err
	}
	if err := p.writeEvents(ctx, "unmatched", unmatchedOut, result.Unmatched); err != nil {
		return err
	}

	for _, failed := range result.FailedEvents {
		var data []byte
		if failed.Event != nil {
			data, _ = json.Marshal(failed.Event)
		}
		if err := p.sendToDLQ(ctx, data, failed.Stage, failed.Error); err != nil {
			return err
		}
	}

	if p.metrics != nil {
		p.metrics.RecordProcessingDuration("batch_total", time.Since(startTime).Seconds())
	}
	p.logger.Debug("Batch processed",
		zap.String("batch_id", batch.ID),
		zap.Int("matched", len(result.Matched)),
		zap.Int("unmatched", len(result.Unmatched)),
		zap.Int("failed", len(result.FailedEvents)),
		zap.Duration("duration", result.ProcessingTime),
	)
	return nil
}

// writeEvents 序列化并写入事件
func (p *Pipeline) writeEvents(ctx context.Context, name string, w writer.Writer, events []*event.MapEvent) error {
	if len(events) == 0 {
		return nil
	}

	serialized := make([][]byte, 0, len(events))
	for _, evt := range events {
		data, err := json.Marshal(evt)
		if err != nil {
			p.recordError("serialize", err)
			continue
		}
		serialized = append(serialized, data)
	}

	startTime := time.Now()
	err := p.retry(ctx, name, func(ctx context.Context) error {
		return w.WriteBatch(ctx, serialized)
	})
	if p.metrics != nil {
		p.metrics.RecordWriterLatency(name, time.Since(startTime).Seconds())
		p.metrics.RecordEventWritten(name, len(serialized), err == nil)
	}
	if err != nil {
		p.logger.Error("Write events failed", zap.String("output", name), zap.Int("count", len(serialized)), zap.Error(err))
		return err
	}
	return nil
}

// retry 对可重试的写入错误按退避重试，最多 MaxRetries 次
func (p *Pipeline) retry(ctx context.Context, output string, op func(ctx context.Context) error) error {
	backoff := p.config.ErrorHandling.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		werr := WrapWriteError("", err)
		p.recordError(StageWrite, werr)
		if !IsRetryable(werr) || attempt >= p.config.ErrorHandling.MaxRetries {
			return werr
		}

		p.logger.Warn("Write failed, retrying",
			zap.String("output", output), zap.Int("attempt", attempt+1), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return werr
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// keyedWriter 支持分区键的写入器
type keyedWriter interface {
	WriteWithKey(ctx context.Context, key string, event []byte) error
}

// sendToDLQ 发送消息到死信队列，未配置死信队列时丢弃
func (p *Pipeline) sendToDLQ(ctx context.Context, data []byte, reason string, err error) error {
	p.logger.Warn("Sending message to DLQ", zap.String("reason", reason), zap.Error(err))
	if p.outputs.DLQ == nil {
		return nil
	}

	dlqMsg := DLQMessage{
		ID:           uuid.NewString(),
		OriginalData: data,
		Reason:       reason,
		Timestamp:    time.Now(),
	}
	if err != nil {
		dlqMsg.Error = err.Error()
	}

	msgData, marshalErr := json.Marshal(dlqMsg)
	if marshalErr != nil {
		return marshalErr
	}

	writeErr := p.retry(ctx, "dlq", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if kw, ok := p.outputs.DLQ.(keyedWriter); ok {
			return kw.WriteWithKey(ctx, dlqMsg.ID, msgData)
		}
		return p.outputs.DLQ.Write(ctx, msgData)
	})
	if writeErr != nil {
		p.logger.Error("Write DLQ message failed", zap.String("id", dlqMsg.ID), zap.Error(writeErr))
		return writeErr
	}

	p.dlq.Add(1)
	if p.metrics != nil {
		p.metrics.RecordDLQMessage(reason)
	}
	return nil
}

// halt 停止消费并不再提交偏移量，未写出的消息在重启后重新投递
func (p *Pipeline) halt(err error) {
	p.haltOnce.Do(func() {
		p.logger.Error("Pipeline halted, offsets are no longer committed", zap.Error(err))
		p.mu.Lock()
		p.haltErr = err
		p.mu.Unlock()
		close(p.halted)
		p.cancel()
	})
}

// Halted 在写入失败导致管线停止消费时关闭
func (p *Pipeline) Halted() <-chan struct{} {
	return p.halted
}

// Err 返回导致管线停止的写入错误
func (p *Pipeline) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.haltErr
}

// commit 提交消息偏移量
func (p *Pipeline) commit(msgs ...kafka.Message) {
	if len(msgs) == 0 || p.Err() != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.consumer.CommitMessages(ctx, msgs...); err != nil {
		p.logger.Warn("Commit messages failed", zap.Int("count", len(msgs)), zap.Error(err))
		p.recordError(StageCommit, err)
	}
}

func (p *Pipeline) updateLag() {
	if p.metrics == nil {
		return
	}
	stats := p.consumer.Stats()
	p.metrics.SetConsumerLag(stats.Topic, stats.Partition, float64(stats.Lag))
}

func (p *Pipeline) recordError(stage string, err error) {
	if p.metrics != nil {
		p.metrics.RecordError(stage, err)
	}
}

// DLQMessage 死信队列消息
type DLQMessage struct {
	ID           string    `json:"id"`
	OriginalData []byte    `json:"original_data"`
	Reason       string    `json:"reason"`
	Error        string    `json:"error"`
	Timestamp    time.Time `json:"timestamp"`
}

// IsRunning 返回管线是否正在运行
func (p *Pipeline) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// PipelineStats 管线统计信息
type PipelineStats struct {
	Running     bool  `json:"running"`
	BufferSize  int   `json:"buffer_size"`
	ConsumerLag int64 `json:"consumer_lag"`
	Consumed    int64 `json:"consumed"`
	Matched     int64 `json:"matched"`
	Unmatched   int64 `json:"unmatched"`
	Failed      int64 `json:"failed"`
	DLQ         int64 `json:"dlq"`
}

// Stats 返回管线统计信息
func (p *Pipeline) Stats() *PipelineStats {
	return &PipelineStats{
		Running:     p.IsRunning(),
		BufferSize:  p.collector.Size(),
		ConsumerLag: p.consumer.Stats().Lag,
		Consumed:    p.consumed.Load(),
		Matched:     p.matched.Load(),
		Unmatched:   p.unmatched.Load(),
		Failed:      p.failed.Load(),
		DLQ:         p.dlq.Load(),
	}
}

// HealthCheck 健康检查
func (p *Pipeline) HealthCheck() error {
	if err := p.Err(); err != nil {
		return err
	}
	if !p.IsRunning() {
		return ErrPipelineStopped
	}
	return nil
}
