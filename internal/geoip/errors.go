package geoip

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	ErrUnsupportedDatabase = errors.New("this GeoIP database is not currently supported")
	ErrInvalidAddress      = errors.New("invalid IP address or hostname")
	ErrDatabaseClosed      = errors.New("geoip database is closed")
)

// DatabaseError 数据库打开/读取错误
type DatabaseError struct {
	Op   string // locate, extract, open
	Path string
	Err  error
}

// Error 实现 error 接口
func (e *DatabaseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("geoip %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("geoip %s %q: %v", e.Op, e.Path, e.Err)
}

// Unwrap 返回原始错误
func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// ConfigError 配置错误
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + ": " + e.Message
}
