package logger

import (
	"log/slog"
	"strings"
)

// Level names as written to the "level" field.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

func levelName(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// closedEnums lists fields whose values are restricted. Unknown values are
// dropped so dashboards only ever see these.
var closedEnums = map[string]map[string]bool{
	"outcome":    set("ok", "fail", "cancelled", "rate_limited"),
	"error_kind": set("missing_resource", "transport", "internal", "analysis"),
}

// openEnums are lowercased but otherwise kept.
var openEnums = []string{"status", "kind", "mode"}

func set(values ...string) map[string]bool {
	m := make(map[string]bool, len(values))
	for _, v := range values {
		m[v] = true
	}
	return m
}

func normalizeEnums(f fieldSet) {
	for _, key := range openEnums {
		if s, ok := f[key].(string); ok {
			f[key] = strings.ToLower(s)
		}
	}
	for key, allowed := range closedEnums {
		s, ok := f[key].(string)
		if !ok {
			continue
		}
		s = strings.ToLower(s)
		if !allowed[s] {
			delete(f, key)
			continue
		}
		f[key] = s
	}
}

// defaultKeyOrder puts the envelope first, then request identity, then the
// checklist fields, then error details. Other keys follow alphabetically.
var defaultKeyOrder = []string{
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "ts_unix_nano", "update_id", "user_id", "chat_id",
	"handler", "state", "operation", "kind", "outcome", "took_ms", "duration_ms",
	"messages", "kb",
	"location", "item", "items", "verdict", "photos", "model", "max_tokens", "tokens", "report_id", "count",
	"payload", "mode", "listen", "public_url", "timeout_ms", "db", "host", "port",
	"err", "err_code", "error_kind", "cause", "retryable", "attempt", "attempts", "backoff_ms",
}
