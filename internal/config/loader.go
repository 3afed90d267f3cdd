// Package config 加载 geoip-filter 的运行配置
package config

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/houzhh15/geoip-filter/internal/pipeline"
)

// EnvPrefix 环境变量前缀，如 GEOIP_FILTER_FILTER_GEOIP_SOURCE
const EnvPrefix = "GEOIP_FILTER"

// Loader 配置加载器
type Loader struct {
	v       *viper.Viper
	paths   []string
	config  *pipeline.PipelineConfig
	mu      sync.RWMutex
	watches []func(*pipeline.PipelineConfig)
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{
		v:      viper.New(),
		config: pipeline.DefaultPipelineConfig(),
	}
}

// Load 从指定路径加载配置
// 支持多个路径，后面的配置会覆盖前面的
func (l *Loader) Load(paths ...string) (*pipeline.PipelineConfig, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.v.SetConfigType("yaml")
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.paths = l.paths[:0]
	for _, path := range paths {
		if path != "" {
			l.paths = append(l.paths, path)
		}
	}

	cfg, err := l.read()
	if err != nil {
		return nil, err
	}
	l.config = cfg
	return cfg, nil
}

// read 依次加载默认配置与配置文件
func (l *Loader) read() (*pipeline.PipelineConfig, error) {
	if err := l.setDefaults(); err != nil {
		return nil, err
	}

	for _, path := range l.paths {
		l.v.SetConfigFile(path)
		if err := l.v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return l.unmarshal()
}

// setDefaults 以默认配置作为基础层，使所有键都可被环境变量覆盖
func (l *Loader) setDefaults() error {
	def, err := Render(pipeline.DefaultPipelineConfig())
	if err != nil {
		return err
	}
	if err := l.v.ReadConfig(bytes.NewReader(def)); err != nil {
		return fmt.Errorf("failed to load default config: %w", err)
	}
	return nil
}

func (l *Loader) unmarshal() (*pipeline.PipelineConfig, error) {
	cfg := &pipeline.PipelineConfig{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Get 获取当前配置（线程安全）
func (l *Loader) Get() *pipeline.PipelineConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Watch 监听配置文件变更
// 新配置通过校验后才会通知 callback
func (l *Loader) Watch(callback func(*pipeline.PipelineConfig)) {
	l.mu.Lock()
	l.watches = append(l.watches, callback)
	l.mu.Unlock()

	l.v.OnConfigChange(func(fsnotify.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()

		// 配置无效时保持原配置
		cfg, err := l.read()
		if err != nil {
			return
		}
		if err := cfg.Validate(); err != nil {
			return
		}

		l.config = cfg
		for _, watch := range l.watches {
			watch(cfg)
		}
	})

	l.v.WatchConfig()
}

// LoadAndValidate 加载并验证配置
func LoadAndValidate(paths ...string) (*pipeline.PipelineConfig, error) {
	cfg, err := NewLoader().Load(paths...)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Render 将配置渲染为 YAML
func Render(cfg *pipeline.PipelineConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return buf.Bytes(), nil
}
