package enricher

import (
	"regexp"

	"github.com/spf13/cast"

	"github.com/houzhh15/geoip-filter/internal/pipeline/event"
)

// CommonConfig 所有过滤器共享的匹配条件与命中后的修饰
type CommonConfig struct {
	// Type 仅处理该类型的事件
	Type string `yaml:"type" mapstructure:"type"`
	// Tags 事件必须包含全部标签
	Tags []string `yaml:"tags" mapstructure:"tags"`
	// ExcludeTags 事件包含任一标签时跳过
	ExcludeTags []string `yaml:"exclude_tags" mapstructure:"exclude_tags"`
	// AddTag 命中后添加的标签，支持 %{field} 引用
	AddTag []string `yaml:"add_tag" mapstructure:"add_tag"`
	// RemoveTag 命中后删除的标签
	RemoveTag []string `yaml:"remove_tag" mapstructure:"remove_tag"`
	// AddField 命中后添加的字段，值支持 %{field} 引用
	AddField map[string]string `yaml:"add_field" mapstructure:"add_field"`
}

// Match 判断事件是否满足匹配条件
func (c *CommonConfig) Match(evt event.Event) bool {
	if c.Type != "" && event.Type(evt) != c.Type {
		return false
	}
	for _, tag := range c.Tags {
		if !event.HasTag(evt, tag) {
			return false
		}
	}
	for _, tag := range c.ExcludeTags {
		if event.HasTag(evt, tag) {
			return false
		}
	}
	return true
}

// Decorate 应用命中后的修饰
func (c *CommonConfig) Decorate(evt event.Event) {
	for field, value := range c.AddField {
		field = Sprintf(evt, field)
		value = Sprintf(evt, value)
		existing, ok := evt.Get(field)
		switch {
		case !ok || existing == nil:
			evt.Set(field, value)
		case existing == value:
		default:
			if list, isList := existing.([]any); isList {
				evt.Set(field, append(list, value))
			} else {
				evt.Set(field, []any{existing, value})
			}
		}
	}
	for _, tag := range c.AddTag {
		event.AddTag(evt, Sprintf(evt, tag))
	}
	for _, tag := range c.RemoveTag {
		event.RemoveTag(evt, Sprintf(evt, tag))
	}
}

var fieldRefPattern = regexp.MustCompile(`%\{([^}]+)\}`)

// Sprintf 替换 %{field} 引用，缺失字段保持原样
func Sprintf(evt event.Event, format string) string {
	return fieldRefPattern.ReplaceAllStringFunc(format, func(ref string) string {
		name := fieldRefPattern.FindStringSubmatch(ref)[1]
		v, ok := evt.Get(name)
		if !ok {
			return ref
		}
		s, err := cast.ToStringE(v)
		if err != nil {
			return ref
		}
		return s
	})
}
