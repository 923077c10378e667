package util

import "strings"

// SanitizePostgresText drops NUL bytes and invalid UTF-8, both of which
// Postgres rejects in text and jsonb columns.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// SanitizePostgresValue applies SanitizePostgresText to every string inside
// v, descending into maps and slices. Other values are returned unchanged.
func SanitizePostgresValue(v any) any {
	switch val := v.(type) {
	case string:
		return SanitizePostgresText(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[SanitizePostgresText(k)] = SanitizePostgresValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = SanitizePostgresValue(inner)
		}
		return out
	default:
		return v
	}
}
