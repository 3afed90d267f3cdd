// Package writer 提供事件输出能力
package writer

import (
	"context"

	"go.uber.org/multierr"
)

// Writer 输出接口
type Writer interface {
	// Write 写入单个事件
	Write(ctx context.Context, event []byte) error
	// WriteBatch 批量写入事件
	WriteBatch(ctx context.Context, events [][]byte) error
	// Close 关闭写入器
	Close() error
}

// MultiWriter 多目标写入器
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter 创建多目标写入器
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write 写入单个事件到所有目标
func (m *MultiWriter) Write(ctx context.Context, event []byte) error {
	var errs error
	for _, w := range m.writers {
		errs = multierr.Append(errs, w.Write(ctx, event))
	}
	return errs
}

// WriteBatch 批量写入事件到所有目标
func (m *MultiWriter) WriteBatch(ctx context.Context, events [][]byte) error {
	var errs error
	for _, w := range m.writers {
		errs = multierr.Append(errs, w.WriteBatch(ctx, events))
	}
	return errs
}

// Close 关闭所有写入器
func (m *MultiWriter) Close() error {
	var errs error
	for _, w := range m.writers {
		errs = multierr.Append(errs, w.Close())
	}
	return errs
}
