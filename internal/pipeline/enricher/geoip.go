// Package enricher provides GeoIP enrichment functionality.
package enricher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/houzhh15/geoip-filter/internal/geoip"
	"github.com/houzhh15/geoip-filter/internal/pipeline/event"
)

// TargetField GeoIP 属性写入的字段
const TargetField = "geoip"

// Per-record errors
var (
	ErrMissingSourceField = errors.New("source field missing")
	ErrTargetConflict     = errors.New("target field holds a non-object value")
)

// Lookuper 数据库查询接口（*geoip.Database 满足该接口）
type Lookuper interface {
	Lookup(ctx context.Context, key string) geoip.Result
}

// GeoIPEnricherConfig GeoIP丰富化器配置
type GeoIPEnricherConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Database 数据库路径，为空时使用默认数据库
	Database string `yaml:"database" mapstructure:"database"`
	// Field 已废弃，等同于 Source
	Field string `yaml:"field,omitempty" mapstructure:"field"`
	// Source 保存 IP 或主机名的字段
	Source string `yaml:"source" mapstructure:"source"`
	// Fields 输出属性白名单，为空时输出全部
	Fields []string `yaml:"fields" mapstructure:"fields"`

	ResolveHostnames  bool          `yaml:"resolve_hostnames" mapstructure:"resolve_hostnames"`
	ResolveTimeout    time.Duration `yaml:"resolve_timeout" mapstructure:"resolve_timeout"`
	HostnameCacheSize int           `yaml:"hostname_cache_size" mapstructure:"hostname_cache_size"`
	HostnameCacheTTL  time.Duration `yaml:"hostname_cache_ttl" mapstructure:"hostname_cache_ttl"`
	TempDir           string        `yaml:"temp_dir" mapstructure:"temp_dir"`

	CommonConfig `yaml:",inline" mapstructure:",squash"`
}

// DatabaseConfig 转换为数据库配置
func (c *GeoIPEnricherConfig) DatabaseConfig() *geoip.Config {
	return &geoip.Config{
		Path:              c.Database,
		TempDir:           c.TempDir,
		ResolveHostnames:  c.ResolveHostnames,
		ResolveTimeout:    c.ResolveTimeout,
		HostnameCacheSize: c.HostnameCacheSize,
		HostnameCacheTTL:  c.HostnameCacheTTL,
	}
}

// GeoIPEnricher GeoIP丰富化器
type GeoIPEnricher struct {
	db       Lookuper
	closer   func() error
	source   string
	fields   map[string]struct{}
	common   CommonConfig
	enabled  bool
	observer Observer
	logger   *zap.Logger
}

// NewGeoIPEnricher 创建GeoIP丰富化器，数据库由调用方持有
func NewGeoIPEnricher(cfg *GeoIPEnricherConfig, db Lookuper, logger *zap.Logger) (*GeoIPEnricher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil || !cfg.Enabled {
		return &GeoIPEnricher{enabled: false, observer: nopObserver{}, logger: logger}, nil
	}
	if db == nil {
		return nil, fmt.Errorf("geoip enricher: database is nil")
	}

	source, err := resolveSource(cfg, logger)
	if err != nil {
		return nil, err
	}

	var fields map[string]struct{}
	if len(cfg.Fields) > 0 {
		fields = make(map[string]struct{}, len(cfg.Fields))
		for _, f := range cfg.Fields {
			fields[f] = struct{}{}
		}
	}

	return &GeoIPEnricher{
		db:       db,
		source:   source,
		fields:   fields,
		common:   cfg.CommonConfig,
		enabled:  true,
		observer: nopObserver{},
		logger:   logger,
	}, nil
}

// OpenGeoIPEnricher 打开数据库并创建丰富化器，Close 时关闭数据库
func OpenGeoIPEnricher(cfg *GeoIPEnricherConfig, logger *zap.Logger) (*GeoIPEnricher, error) {
	if cfg == nil || !cfg.Enabled {
		return NewGeoIPEnricher(cfg, nil, logger)
	}

	db, err := geoip.Open(cfg.DatabaseConfig(), logger)
	if err != nil {
		return nil, err
	}

	e, err := NewGeoIPEnricher(cfg, db, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	e.closer = db.Close
	return e, nil
}

// resolveSource picks the canonical source, falling back to the deprecated alias.
func resolveSource(cfg *GeoIPEnricherConfig, logger *zap.Logger) (string, error) {
	switch {
	case cfg.Source != "" && cfg.Field != "":
		logger.Warn("'field' and 'source' are the same setting, but 'field' is deprecated. Please use only 'source'",
			zap.String("source", cfg.Source), zap.String("field", cfg.Field))
		return cfg.Source, nil
	case cfg.Source != "":
		return cfg.Source, nil
	case cfg.Field != "":
		logger.Warn("'field' is deprecated, please use 'source'", zap.String("field", cfg.Field))
		return cfg.Field, nil
	default:
		return "", &geoip.ConfigError{Field: "source", Message: "source field is required"}
	}
}

// SetObserver 设置查询结果观测者
func (e *GeoIPEnricher) SetObserver(o Observer) {
	if o != nil {
		e.observer = o
	}
}

// Name 返回丰富化器名称
func (e *GeoIPEnricher) Name() string { return "geoip" }

// Enabled 返回是否启用
func (e *GeoIPEnricher) Enabled() bool { return e.enabled }

// Source 返回实际使用的源字段
func (e *GeoIPEnricher) Source() string { return e.source }

// Enrich 丰富化事件
func (e *GeoIPEnricher) Enrich(ctx context.Context, evt event.Event) (bool, error) {
	if !e.enabled || e.db == nil {
		return false, nil
	}
	if !e.common.Match(evt) {
		e.observer.RecordLookup(e.Name(), OutcomeSkipped)
		return false, nil
	}

	key, ok := sourceKey(evt, e.source)
	if !ok {
		e.observer.RecordLookup(e.Name(), OutcomeMissingField)
		e.logger.Error("GeoIP source field missing or empty",
			zap.String("field", e.source), eventField(evt))
		return false, &LookupError{Field: e.source, Err: ErrMissingSourceField}
	}

	res := e.db.Lookup(ctx, key)
	switch res.Status {
	case geoip.StatusFailed:
		lerr := &LookupError{Field: e.source, Key: key, Err: res.Err}
		if errors.Is(res.Err, geoip.ErrInvalidAddress) {
			e.observer.RecordLookup(e.Name(), OutcomeInvalid)
			e.logger.Error("IP field contained invalid IP address or hostname",
				zap.String("field", e.source), zap.String("key", key), eventField(evt), zap.Error(res.Err))
		} else {
			e.observer.RecordLookup(e.Name(), OutcomeFailed)
			e.logger.Error("Unknown error while looking up GeoIP data",
				zap.String("field", e.source), zap.String("key", key), eventField(evt), zap.Error(res.Err))
		}
		return false, lerr
	case geoip.StatusNotFound:
		e.observer.RecordLookup(e.Name(), OutcomeNotFound)
		e.logger.Debug("GeoIP lookup found no data", zap.String("field", e.source), zap.String("key", key))
		return false, nil
	}

	target := make(map[string]any, len(res.Record))
	if existing, ok := evt.Get(TargetField); ok && existing != nil {
		m, isMap := existing.(map[string]any)
		if !isMap {
			e.observer.RecordLookup(e.Name(), OutcomeConflict)
			e.logger.Error("GeoIP target field holds a non-object value",
				zap.String("field", e.source), zap.String("target", TargetField), eventField(evt))
			return false, &LookupError{Field: e.source, Key: key, Err: ErrTargetConflict}
		}
		target = m
	}

	delete(res.Record, geoip.RequestAttribute)
	for name, value := range res.Record {
		if e.fields != nil {
			if _, keep := e.fields[name]; !keep {
				continue
			}
		}
		target[name] = value
	}
	evt.Set(TargetField, target)

	e.common.Decorate(evt)
	e.observer.RecordLookup(e.Name(), OutcomeMatched)
	return true, nil
}

// DatabaseInfo 返回数据库元数据（数据库不支持时返回 false）
func (e *GeoIPEnricher) DatabaseInfo() (geoip.Info, bool) {
	src, ok := e.db.(interface{ Info() geoip.Info })
	if !ok {
		return geoip.Info{}, false
	}
	return src.Info(), true
}

// Close 关闭丰富化器
func (e *GeoIPEnricher) Close() error {
	if e.closer != nil {
		return e.closer()
	}
	return nil
}

// sourceKey 读取查询键：数组取第一个元素，其余标量转为字符串
func sourceKey(evt event.Event, field string) (string, bool) {
	v, ok := evt.Get(field)
	if !ok || v == nil {
		return "", false
	}

	switch seq := v.(type) {
	case []any:
		if len(seq) == 0 {
			return "", false
		}
		v = seq[0]
	case []string:
		if len(seq) == 0 {
			return "", false
		}
		v = seq[0]
	}

	key, err := cast.ToStringE(v)
	if err != nil || key == "" {
		return "", false
	}
	return key, true
}

func eventField(evt event.Event) zap.Field {
	if s, ok := evt.(fmt.Stringer); ok {
		return zap.Stringer("event", s)
	}
	return zap.Any("event", evt)
}

// LookupError 单条事件的查询错误
type LookupError struct {
	Field string
	Key   string
	Err   error
}

// Error 实现 error 接口
func (e *LookupError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("geoip lookup on field %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("geoip lookup on field %s (key=%s): %v", e.Field, e.Key, e.Err)
}

// Unwrap 返回原始错误
func (e *LookupError) Unwrap() error {
	return e.Err
}
