package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/houzhh15/geoip-filter/internal/pipeline/enricher"
	"github.com/houzhh15/geoip-filter/internal/pipeline/event"
)

// Event statuses
const (
	StatusMatched   = "matched"
	StatusUnmatched = "unmatched"
	StatusCancelled = "cancelled"
)

// Batch 事件批次
type Batch struct {
	// Events 原始事件列表
	Events []*event.MapEvent
	// StartTime 批次开始时间
	StartTime time.Time
	// ID 批次ID
	ID string
}

// ProcessedBatch 已处理的批次，事件保持输入顺序
type ProcessedBatch struct {
	// Matched 被过滤器命中的事件
	Matched []*event.MapEvent
	// Unmatched 未命中（含查询失败）的事件，原样透传
	Unmatched []*event.MapEvent
	// FailedEvents 未能处理的事件
	FailedEvents []*FailedEvent
	// BatchID 批次ID
	BatchID string
	// ProcessingTime 处理耗时
	ProcessingTime time.Duration
}

// FailedEvent 处理失败的事件
type FailedEvent struct {
	Event *event.MapEvent
	Error error
	Stage string
}

// BatchProcessor 批处理器接口
type BatchProcessor interface {
	// Process 处理事件批次
	Process(ctx context.Context, batch *Batch) (*ProcessedBatch, error)
}

// BatchProcessorConfig 批处理器配置
type BatchProcessorConfig struct {
	// Workers 工作协程数量
	Workers int
	// BatchSize 批次大小
	BatchSize int
	// BatchTimeout 批次超时时间
	BatchTimeout time.Duration
	// EnableParallel 是否启用并行处理
	EnableParallel bool
}

// DefaultBatchProcessor 默认批处理器实现
type DefaultBatchProcessor struct {
	config  *BatchProcessorConfig
	chain   *enricher.EnricherChain
	metrics *PipelineMetrics
	logger  *zap.Logger
}

// NewDefaultBatchProcessor 创建默认批处理器
func NewDefaultBatchProcessor(
	cfg *BatchProcessorConfig,
	chain *enricher.EnricherChain,
	metrics *PipelineMetrics,
	logger *zap.Logger,
) *DefaultBatchProcessor {
	if cfg == nil {
		cfg = &BatchProcessorConfig{
			Workers:        4,
			BatchSize:      1000,
			BatchTimeout:   100 * time.Millisecond,
			EnableParallel: true,
		}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 100 * time.Millisecond
	}
	if chain == nil {
		chain = enricher.NewEnricherChain()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DefaultBatchProcessor{
		config:  cfg,
		chain:   chain,
		metrics: metrics,
		logger:  logger,
	}
}

// outcome 单个事件的处理结果
type outcome struct {
	status string
	err    error
}

// Process 处理事件批次
func (p *DefaultBatchProcessor) Process(ctx context.Context, batch *Batch) (*ProcessedBatch, error) {
	if batch == nil {
		return &ProcessedBatch{}, nil
	}
	if len(batch.Events) == 0 {
		return &ProcessedBatch{BatchID: batch.ID}, nil
	}

	startTime := time.Now()

	outcomes := make([]outcome, len(batch.Events))
	if p.config.EnableParallel && len(batch.Events) > 1 {
		p.processParallel(ctx, batch.Events, outcomes)
	} else {
		p.processSequential(ctx, batch.Events, outcomes)
	}

	result := &ProcessedBatch{BatchID: batch.ID}
	for i, o := range outcomes {
		evt := batch.Events[i]
		switch o.status {
		case StatusMatched:
			result.Matched = append(result.Matched, evt)
		case StatusUnmatched:
			result.Unmatched = append(result.Unmatched, evt)
		default:
			result.FailedEvents = append(result.FailedEvents, &FailedEvent{Event: evt, Error: o.err, Stage: o.status})
		}
		if p.metrics != nil {
			p.metrics.RecordEventProcessed(o.status)
		}
	}
	result.ProcessingTime = time.Since(startTime)

	if p.metrics != nil {
		p.metrics.RecordProcessingDuration("batch_processing", result.ProcessingTime.Seconds())
		p.metrics.RecordBatchSize("processing", len(batch.Events))
	}

	return result, nil
}

// processSequential 串行处理事件
func (p *DefaultBatchProcessor) processSequential(ctx context.Context, events []*event.MapEvent, outcomes []outcome) {
	for i, evt := range events {
		outcomes[i] = p.processEvent(ctx, evt)
	}
}

// processParallel 并行处理事件
func (p *DefaultBatchProcessor) processParallel(ctx context.Context, events []*event.MapEvent, outcomes []outcome) {
	var wg sync.WaitGroup

	indexCh := make(chan int, len(events))
	for i := range events {
		indexCh <- i
	}
	close(indexCh)

	workers := p.config.Workers
	if workers > len(events) {
		workers = len(events)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 每个下标只由一个协程写入
			for i := range indexCh {
				outcomes[i] = p.processEvent(ctx, events[i])
			}
		}()
	}

	wg.Wait()
}

// processEvent 处理单个事件，丰富化错误不中断处理
func (p *DefaultBatchProcessor) processEvent(ctx context.Context, evt *event.MapEvent) outcome {
	select {
	case <-ctx.Done():
		return outcome{status: StatusCancelled, err: ctx.Err()}
	default:
	}

	startTime := time.Now()
	matched, err := p.chain.Enrich(ctx, evt)
	if p.metrics != nil {
		p.metrics.RecordEnricherLatency("chain", time.Since(startTime).Seconds())
		if err != nil {
			p.metrics.RecordError(StageEnrich, WrapEnrichError(evt.ID(), err))
		}
	}

	if matched {
		return outcome{status: StatusMatched}
	}
	return outcome{status: StatusUnmatched, err: err}
}

// BatchCollector 批次收集器
type BatchCollector struct {
	config    *BatchProcessorConfig
	buffer    []*event.MapEvent
	mu        sync.Mutex
	lastFlush time.Time
}

// NewBatchCollector 创建批次收集器
func NewBatchCollector(cfg *BatchProcessorConfig) *BatchCollector {
	return &BatchCollector{
		config:    cfg,
		buffer:    make([]*event.MapEvent, 0, cfg.BatchSize),
		lastFlush: time.Now(),
	}
}

// Add 添加事件到收集器，满批或超时返回批次
func (c *BatchCollector) Add(evt *event.MapEvent) *Batch {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.buffer = append(c.buffer, evt)

	if len(c.buffer) >= c.config.BatchSize || time.Since(c.lastFlush) >= c.config.BatchTimeout {
		return c.flush()
	}
	return nil
}

// Flush 强制刷新缓冲区
func (c *BatchCollector) Flush() *Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flush()
}

// flush 需要持有锁
func (c *BatchCollector) flush() *Batch {
	if len(c.buffer) == 0 {
		return nil
	}

	batch := &Batch{
		Events:    c.buffer,
		StartTime: time.Now(),
		ID:        uuid.NewString(),
	}

	c.buffer = make([]*event.MapEvent, 0, c.config.BatchSize)
	c.lastFlush = time.Now()

	return batch
}

// Size 返回当前缓冲区大小
func (c *BatchCollector) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}
