package core

import (
	"slices"
	"strings"
)

const RedactedValue = "[REDACTED]"

var (
	sensitiveKeyParts = []string{
		"password", "secret", "token", "authorization", "api_key",
		"apikey", "cookie", "hmac", "nonce", "signature",
	}
	// keys that look sensitive but only identify a request or shop
	traceKeys = []string{
		"shop", "topic", "webhook_id", "session_id", "request_id", "trace_id", "key_id",
	}
)

// RedactSensitiveMap returns a copy of fields with credential-like keys
// masked. Nested maps, string maps and slices are walked.
func RedactSensitiveMap(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		if sensitiveKey(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = redactValue(value)
	}
	return out
}

func redactValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return RedactSensitiveMap(typed)
	case map[string]string:
		out := make(map[string]string, len(typed))
		for key, item := range typed {
			if sensitiveKey(key) {
				item = RedactedValue
			}
			out[key] = item
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = redactValue(item)
		}
		return out
	default:
		return value
	}
}

func sensitiveKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || slices.Contains(traceKeys, key) {
		return false
	}
	return slices.ContainsFunc(sensitiveKeyParts, func(part string) bool {
		return strings.Contains(key, part)
	})
}
