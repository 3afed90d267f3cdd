// Package log 提供 geoip-filter 的日志系统封装
package log

import (
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" mapstructure:"level"`             // debug, info, warn, error
	Format     string `yaml:"format" mapstructure:"format"`           // json, console
	Output     string `yaml:"output" mapstructure:"output"`           // console, file, both
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"` // 单文件最大大小(MB)
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// DefaultConfig 返回默认日志配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		Output:     "console",
		FilePath:   "/var/log/geoip-filter/geoip-filter.log",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

// Logger 根级日志器及其动态级别
type Logger struct {
	*zap.Logger
	level  zap.AtomicLevel
	closer io.Closer
}

// New 根据配置创建 Logger
func New(cfg Config) (*Logger, error) {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg Config, console zapcore.WriteSyncer) (*Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	var (
		ws     zapcore.WriteSyncer
		closer io.Closer
	)
	switch cfg.Output {
	case "file":
		file := fileWriter(cfg)
		ws, closer = zapcore.AddSync(file), file
	case "both":
		file := fileWriter(cfg)
		ws, closer = zapcore.NewMultiWriteSyncer(console, zapcore.AddSync(file)), file
	default:
		ws = console
	}

	core := zapcore.NewCore(encoder, ws, level)
	return &Logger{
		Logger: zap.New(core, zap.AddCaller()),
		level:  level,
		closer: closer,
	}, nil
}

// fileWriter 创建支持轮转的文件输出
func fileWriter(cfg Config) *lumberjack.Logger {
	if dir := filepath.Dir(cfg.FilePath); dir != "" && dir != "." {
		// lumberjack 写入时会再次尝试创建目录
		_ = os.MkdirAll(dir, 0755)
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

// SetLevel 动态调整日志级别
func (l *Logger) SetLevel(level string) error {
	return l.level.UnmarshalText([]byte(level))
}

// GetLevel 获取当前日志级别
func (l *Logger) GetLevel() string {
	return l.level.Level().String()
}

// Close 刷新缓冲并关闭文件输出
func (l *Logger) Close() error {
	_ = l.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
