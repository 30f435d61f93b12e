package tracing

import (
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

var sensitiveKeyFragments = []string{"password", "token", "secret", "email", "authorization", "cookie"}

// SafeAttributes drops attributes whose keys look like they carry credentials
// or personal data.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if isSensitiveKey(string(attr.Key)) {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns an error whose message is safe to attach to a span.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lower, fragment) {
			return errors.New("redacted error")
		}
	}
	return errors.New(msg)
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(key, fragment) {
			return true
		}
	}
	return false
}
