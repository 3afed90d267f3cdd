// Package enricher provides event enrichment functionality.
package enricher

import (
	"context"

	"go.uber.org/multierr"

	"github.com/houzhh15/geoip-filter/internal/pipeline/event"
)

// Enricher 事件丰富化器接口
//
// Enrich 返回事件是否被本阶段命中；返回的错误仅用于观测，调用方不得据此中断处理。
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, evt event.Event) (bool, error)
	Enabled() bool
	Close() error
}

// Observer 查询结果观测接口
type Observer interface {
	RecordLookup(enricher, outcome string)
}

// Lookup outcomes
const (
	OutcomeMatched      = "matched"
	OutcomeNotFound     = "not_found"
	OutcomeInvalid      = "invalid"
	OutcomeFailed       = "failed"
	OutcomeMissingField = "missing_field"
	OutcomeConflict     = "conflict"
	OutcomeSkipped      = "skipped"
)

type nopObserver struct{}

func (nopObserver) RecordLookup(string, string) {}

// EnricherChain 丰富化器链
type EnricherChain struct {
	enrichers []Enricher
}

// NewEnricherChain 创建丰富化器链
func NewEnricherChain(enrichers ...Enricher) *EnricherChain {
	return &EnricherChain{enrichers: enrichers}
}

// Enrich 依次调用所有丰富化器，任一命中即视为命中
func (c *EnricherChain) Enrich(ctx context.Context, evt event.Event) (bool, error) {
	var (
		matched bool
		errs    error
	)
	for _, e := range c.enrichers {
		if !e.Enabled() {
			continue
		}
		ok, err := e.Enrich(ctx, evt)
		matched = matched || ok
		errs = multierr.Append(errs, err)
	}
	return matched, errs
}

// Len 返回丰富化器数量
func (c *EnricherChain) Len() int { return len(c.enrichers) }

// Close 关闭所有丰富化器
func (c *EnricherChain) Close() error {
	var errs error
	for _, e := range c.enrichers {
		errs = multierr.Append(errs, e.Close())
	}
	return errs
}
