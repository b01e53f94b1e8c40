// Package logger 结构化日志，JSON 输出，敏感字段统一打码
package logger

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync/atomic"
)

// Fields 结构化日志字段
type Fields map[string]any

const masked = "******"

// 这些字段无论出现在哪一层都会被打码
var sensitiveKeys = map[string]struct{}{
	"pin":         {},
	"newpin":      {},
	"new_pin":     {},
	"confirmpin":  {},
	"confirm_pin": {},
	"pinhash":     {},
	"pin_hash":    {},
	"token":       {},
}

var current atomic.Pointer[slog.Logger]

func init() {
	SetOutput(os.Stdout)
}

// SetOutput 替换输出目标
func SetOutput(w io.Writer) {
	current.Store(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{ReplaceAttr: maskAttr})))
}

func Info(message string, fields Fields) {
	current.Load().Info(message, attrs(fields)...)
}

func Warn(message string, fields Fields) {
	current.Load().Warn(message, attrs(fields)...)
}

func Error(message string, err error, fields Fields) {
	args := attrs(fields)
	if err != nil {
		args = append(args, slog.String("error", err.Error()))
	}
	current.Load().Error(message, args...)
}

// attrs 按 key 排序，输出稳定
func attrs(fields Fields) []any {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, slog.Any(k, fields[k]))
	}
	return out
}

// maskAttr 顶层敏感字段直接打码，map / slice / struct 递归打码
func maskAttr(_ []string, a slog.Attr) slog.Attr {
	if isSensitiveKey(a.Key) {
		return slog.String(a.Key, masked)
	}
	if a.Value.Kind() != slog.KindAny {
		return a
	}
	switch reflect.ValueOf(a.Value.Any()).Kind() {
	case reflect.Map, reflect.Slice, reflect.Struct, reflect.Pointer:
		a.Value = slog.AnyValue(SanitizePayload(a.Value.Any()))
	}
	return a
}

// SanitizePayload 返回打码后的副本
func SanitizePayload(payload any) any {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "<unavailable>"
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		return "<unavailable>"
	}

	return sanitizeValue(data)
}

func sanitizeValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, inner := range typed {
			if isSensitiveKey(key) {
				out[key] = masked
				continue
			}
			out[key] = sanitizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeValue(item))
		}
		return out
	default:
		return value
	}
}

func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", ""))
	_, ok := sensitiveKeys[normalized]
	return ok
}
