// Package redact provides secret masking and text truncation applied before
// anything leaves the process through a log line or a stored step record.
package redact

import (
	"fmt"
	"strings"
)

const (
	// minMaskLen is the shortest secret that keeps any visible characters.
	minMaskLen = 8

	// longValueLen is the threshold above which non-secret string values are
	// reduced to a head/tail excerpt.
	longValueLen = 100
)

// sensitiveKeyMarkers flag argument keys whose values are masked wholesale.
var sensitiveKeyMarkers = []string{
	"token", "key", "secret", "password", "auth", "bearer", "credential",
}

// Secret masks a credential for logging. Values longer than 8 characters are
// rendered as first3***last2; shorter values are fully masked.
func Secret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= minMaskLen {
		return "***"
	}
	return value[:3] + "***" + value[len(value)-2:]
}

// Truncate caps text at max runes, appending an ellipsis marker when content
// was dropped.
func Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

// Args returns a copy of a tool-argument map safe for storage and logging:
// sensitive keys are masked, long string values are excerpted, everything
// else is stringified as-is. The input map is never modified.
func Args(args map[string]any) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			out[k] = "***REDACTED***"
			continue
		}
		s := fmt.Sprintf("%v", v)
		if len(s) > longValueLen {
			out[k] = s[:40] + "...[truncated]..." + s[len(s)-20:]
			continue
		}
		out[k] = s
	}
	return out
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
