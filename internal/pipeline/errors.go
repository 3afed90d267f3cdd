package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/houzhh15/geoip-filter/internal/pipeline/writer"
)

// PipelineError 管线错误
type PipelineError struct {
	Stage     string // consume, decode, enrich, write, commit
	EventID   string
	Err       error
	Retryable bool
}

// Error 实现 error 接口
func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error at %s (event_id=%s): %v", e.Stage, e.EventID, e.Err)
}

// Unwrap 返回原始错误
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Error stages
const (
	StageConsume = "consume"
	StageDecode  = "decode"
	StageEnrich  = "enrich"
	StageWrite   = "write"
	StageCommit  = "commit"
)

// Predefined errors
var (
	ErrPipelineRunning = errors.New("pipeline is already running")
	ErrPipelineStopped = errors.New("pipeline is not running")
)

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// kafka.Error 等协议错误通过 Temporary 标记可重试
	var tempErr interface{ Temporary() bool }
	if errors.As(err, &tempErr) {
		return tempErr.Temporary()
	}

	return false
}

// WrapDecodeError 包装解码错误
func WrapDecodeError(eventID string, err error) *PipelineError {
	return &PipelineError{Stage: StageDecode, EventID: eventID, Err: err}
}

// WrapEnrichError 包装丰富化错误
func WrapEnrichError(eventID string, err error) *PipelineError {
	return &PipelineError{Stage: StageEnrich, EventID: eventID, Err: err}
}

// WrapWriteError 包装写入错误
func WrapWriteError(eventID string, err error) *PipelineError {
	return &PipelineError{Stage: StageWrite, EventID: eventID, Err: err, Retryable: IsRetryable(err)}
}

// errorType 按原始错误分类，作为指标标签
func errorType(err error) string {
	var pErr *PipelineError
	if errors.As(err, &pErr) && pErr.Err != nil {
		err = pErr.Err
	}

	var netErr net.Error
	switch {
	case errors.Is(err, net.ErrClosed), errors.Is(err, writer.ErrWriterClosed):
		return "closed"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case IsRetryable(err):
		return "temporary"
	default:
		return "other"
	}
}
