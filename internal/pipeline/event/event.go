// Package event provides the loosely-typed event representation flowing
// through the pipeline.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Well-known fields
const (
	FieldType = "type"
	FieldTags = "tags"
	FieldID   = "@id"
)

// Event 事件字段读写接口
//
// 字段名支持 [outer][inner] 形式的嵌套引用。
type Event interface {
	Get(field string) (any, bool)
	Set(field string, value any)
	Remove(field string)
}

// MapEvent 基于 map 的事件实现
type MapEvent struct {
	mu   sync.RWMutex
	data map[string]any
}

// New 创建事件
func New(data map[string]any) *MapEvent {
	if data == nil {
		data = make(map[string]any)
	}
	return &MapEvent{data: data}
}

// Parse 从 JSON 解析事件
func Parse(raw []byte) (*MapEvent, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if data == nil {
		return nil, fmt.Errorf("unmarshal event: not a JSON object")
	}
	return New(data), nil
}

// Get 读取字段
func (e *MapEvent) Get(field string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	path := ParseFieldRef(field)
	cur := any(e.data)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set 写入字段，中间层级不存在时自动创建
func (e *MapEvent) Set(field string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := ParseFieldRef(field)
	m := e.data
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = value
}

// Remove 删除字段
func (e *MapEvent) Remove(field string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	path := ParseFieldRef(field)
	m := e.data
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			return
		}
		m = next
	}
	delete(m, path[len(path)-1])
}

// ID 返回事件 ID（可能为空）
func (e *MapEvent) ID() string {
	v, ok := e.Get(FieldID)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// MarshalJSON 实现 json.Marshaler
func (e *MapEvent) MarshalJSON() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return json.Marshal(e.data)
}

// String 返回 JSON 形式，用于日志上下文
func (e *MapEvent) String() string {
	b, err := e.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%v", e.data)
	}
	return string(b)
}

// ParseFieldRef 解析字段引用
//
// "[a][b]" 解析为 ["a", "b"]；不带方括号的名称按单个顶层字段处理，点号不拆分。
func ParseFieldRef(field string) []string {
	if !strings.HasPrefix(field, "[") || !strings.HasSuffix(field, "]") {
		return []string{field}
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(field, "["), "]"), "][")
	path := parts[:0]
	for _, p := range parts {
		if p != "" {
			path = append(path, p)
		}
	}
	if len(path) == 0 {
		return []string{field}
	}
	return path
}
