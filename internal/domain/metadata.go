package domain

import (
	"strconv"
	"strings"
)

// Well-known metadata keys. Everything else in the map is provider-specific
// passthrough and is never interpreted by the service.
const (
	MetaImagePrompt = "image_prompt"
	MetaSeedValue   = "seed_value"
	MetaAudioFiles  = "audio_files"
)

// Metadata carries model-reported attributes alongside a generation record.
// Values arrive from JSON bodies and provider responses, so the typed
// accessors coerce strings and floats and treat the engine's "N/A" sentinel
// as absent.
type Metadata map[string]any

func absent(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		trimmed := strings.TrimSpace(s)
		return trimmed == "" || trimmed == "N/A"
	}
	return false
}

// Int returns the value under key coerced to int.
func (m Metadata) Int(key string) (int, bool) {
	v, ok := m[key]
	if !ok || absent(v) {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Float returns the value under key coerced to float64.
func (m Metadata) Float(key string) (float64, bool) {
	v, ok := m[key]
	if !ok || absent(v) {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Bool returns the value under key coerced to bool. String forms accepted:
// 1/true/yes/on, case-insensitive.
func (m Metadata) Bool(key string) (bool, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true, true
		case "0", "false", "no", "off", "":
			return false, true
		}
	case float64:
		return t != 0, true
	}
	return false, false
}

// String returns the value under key as a trimmed string.
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok || absent(v) {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// Clone returns a shallow copy. Nil maps clone to an empty map so callers can
// assign without a nil check.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Merge overlays other onto a copy of m; keys in other win on conflict.
func (m Metadata) Merge(other Metadata) Metadata {
	out := m.Clone()
	for k, v := range other {
		out[k] = v
	}
	return out
}
