package core

import "strings"

// Field and header names containing any of these fragments are never logged
// in cleartext.
var sensitiveFragments = []string{"authorization", "secret", "key", "token", "password"}

const maskedValue = "***"

// SensitiveName reports whether a header or field name must be masked before
// it reaches a log call.
func SensitiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// RedactHeaders returns a copy of headers safe for logging.
func RedactHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if SensitiveName(name) {
			out[name] = maskedValue
		} else {
			out[name] = value
		}
	}
	return out
}

// RedactFields returns a copy of a structured log payload with sensitive
// values masked. Nested maps are redacted recursively.
func RedactFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}
	out := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		if SensitiveName(name) {
			out[name] = maskedValue
			continue
		}
		out[name] = redactValue(value)
	}
	return out
}

func redactValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return RedactFields(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}
