package logger

import "strings"

const (
	// LevelDebug represents the debug severity level name.
	LevelDebug = "DEBUG"
	// LevelInfo represents the info severity level name.
	LevelInfo = "INFO"
	// LevelWarn represents the warning severity level name.
	LevelWarn = "WARN"
	// LevelError represents the error severity level name.
	LevelError = "ERROR"
)

var levelNames = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
}

var knownStatus = map[string]struct{}{
	"ok":           {},
	"fail":         {},
	"error":        {},
	"skip":         {},
	"retry":        {},
	"rate_limited": {},
	"cancelled":    {},
}

// knownOutcomes lists the values accepted in the outcome field: engine
// transition outcomes plus delivery results.
var knownOutcomes = map[string]struct{}{
	"ok":                {},
	"fail":              {},
	"cancelled":         {},
	"rate_limited":      {},
	"opening":           {},
	"language_selected": {},
	"navigated":         {},
	"back":              {},
	"main_menu":         {},
	"fallback":          {},
	"restart":           {},
	"change_language":   {},
	"idle_warning":      {},
	"already_warned":    {},
	"expired":           {},
	"stale":             {},
	"ignored":           {},
}

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

// normalizeEnum lowercases v and reports whether it belongs to set.
func normalizeEnum(v string, set map[string]struct{}) (string, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "", false
	}
	_, ok := set[v]
	return v, ok
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"transport",
	"update_id",
	"user_id",
	"chat_id",
	"handler",
	"kind",
	"outcome",
	"stage",
	"node",
	"lang",
	"epoch",
	"directives",
	"duration_ms",
	"took_ms",
	"payload",
	"presentation",
	"op",
	"mode",
	"listen",
	"public_url",
	"http_code",
	"db",
	"host",
	"port",
	"nodes",
	"languages",
	"warnings",
	"err",
	"cause",
	"retryable",
	"attempts",
	"backoff_ms",
	"pending_count",
}
