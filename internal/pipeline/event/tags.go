package event

import "github.com/spf13/cast"

// Tags 读取标签列表
func Tags(e Event) []string {
	v, ok := e.Get(FieldTags)
	if !ok || v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return []string{s}
	}
	tags, err := cast.ToStringSliceE(v)
	if err != nil {
		return nil
	}
	return tags
}

// HasTag 判断是否包含标签
func HasTag(e Event, tag string) bool {
	for _, t := range Tags(e) {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag 添加标签（已存在则忽略）
func AddTag(e Event, tag string) {
	tags := Tags(e)
	for _, t := range tags {
		if t == tag {
			return
		}
	}
	e.Set(FieldTags, toAny(append(tags, tag)))
}

// RemoveTag 删除标签
func RemoveTag(e Event, tag string) {
	tags := Tags(e)
	kept := make([]string, 0, len(tags))
	for _, t := range tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	if len(kept) == len(tags) {
		return
	}
	e.Set(FieldTags, toAny(kept))
}

// Type 返回事件类型
func Type(e Event) string {
	v, ok := e.Get(FieldType)
	if !ok {
		return ""
	}
	return cast.ToString(v)
}

// toAny keeps tags as []any so events round-trip like JSON-decoded ones.
func toAny(tags []string) []any {
	out := make([]any, len(tags))
	for i, t := range tags {
		out[i] = t
	}
	return out
}
