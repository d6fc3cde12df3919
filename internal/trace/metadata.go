package trace

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// DecodeAttributes decodes a JSON attribute string into a generic map.
// Returns nil for empty input or JSON parse errors.
func DecodeAttributes(raw string) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	decoded := make(map[string]any)
	if err := decoder.Decode(&decoded); err != nil {
		return nil
	}
	return decoded
}

// EncodeAttributes serializes attributes to compact JSON. Values that cannot
// be encoded are replaced by their string form.
func EncodeAttributes(attrs map[string]any) string {
	if len(attrs) == 0 {
		return ""
	}
	encoded, err := marshalCompact(attrs)
	if err == nil {
		return encoded
	}
	safe := make(map[string]any, len(attrs))
	for key, value := range attrs {
		if _, err := json.Marshal(value); err != nil {
			safe[key] = AttributeText(value)
			continue
		}
		safe[key] = value
	}
	encoded, err = marshalCompact(safe)
	if err != nil {
		return ""
	}
	return encoded
}

func marshalCompact(value any) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// AttributeString extracts a trimmed string value from an attribute map.
func AttributeString(attrs map[string]any, key string) string {
	if len(attrs) == 0 {
		return ""
	}
	raw, ok := attrs[key]
	if !ok {
		return ""
	}
	value, ok := raw.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

// AttributeText renders any attribute value as text without trimming.
func AttributeText(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	case bool:
		return strconv.FormatBool(typed)
	case error:
		return typed.Error()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	}
	if n, ok := CoerceInt64(value); ok {
		return strconv.FormatInt(n, 10)
	}
	encoded, err := marshalCompact(value)
	if err != nil {
		return ""
	}
	return encoded
}

// CoerceInt64 converts a loosely-typed value to int64, handling float64,
// float32, the integer kinds, json.Number, and string representations.
func CoerceInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case float64:
		return int64(typed), true
	case float32:
		return int64(typed), true
	case int:
		return int64(typed), true
	case int64:
		return typed, true
	case int32:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case *int64:
		if typed == nil {
			return 0, false
		}
		return *typed, true
	case json.Number:
		parsed, err := typed.Int64()
		if err != nil {
			f, ferr := typed.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return parsed, true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// AttributeInt64 extracts an int64 value from an attribute map key.
func AttributeInt64(attrs map[string]any, key string) (int64, bool) {
	if len(attrs) == 0 {
		return 0, false
	}
	raw, ok := attrs[key]
	if !ok {
		return 0, false
	}
	return CoerceInt64(raw)
}

// AttributeInt64Ptr is AttributeInt64 returning nil when the key is absent.
func AttributeInt64Ptr(attrs map[string]any, key string) *int64 {
	value, ok := AttributeInt64(attrs, key)
	if !ok {
		return nil
	}
	return &value
}

// CloneAttributes returns a shallow copy of attrs that is never nil.
func CloneAttributes(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for key, value := range attrs {
		out[key] = value
	}
	return out
}
