package protocol

import (
	"fmt"
	"strings"
)

// textRule attempts to pull a human-readable string out of a decoded result
// payload. Rules are tried in order; the first match wins.
type textRule func(v any) (string, bool)

// textRules is the ordered extraction chain for result text. Providers are
// inconsistent about payload shape, so the chain covers the conventional
// spellings: a bare string, the well-known text/content/answer keys, and MCP
// style content arrays of {type: "text", text: ...} blocks.
var textRules = []textRule{
	extractString,
	extractKeyedString("text"),
	extractKeyedString("content"),
	extractKeyedString("answer"),
	extractContentBlocks,
}

// ExtractText returns the best-effort human-readable text of a result
// payload, or "" if no rule matches. Pure function, no side effects.
func ExtractText(v any) string {
	for _, rule := range textRules {
		if s, ok := rule(v); ok {
			return s
		}
	}
	return ""
}

// ExtractMeta returns side-channel metadata from a result payload. It probes
// a top-level "meta" object and a top-level "model" field; values are
// stringified. Returns an empty map when nothing matches.
func ExtractMeta(v any) map[string]string {
	meta := make(map[string]string)
	m, ok := v.(map[string]any)
	if !ok {
		return meta
	}
	if mv, ok := m["meta"].(map[string]any); ok {
		for k, val := range mv {
			meta[k] = stringify(val)
		}
	}
	if model, ok := m["model"]; ok {
		meta["model"] = stringify(model)
	}
	return meta
}

func extractString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// extractKeyedString matches a map payload carrying key as a string, or as a
// nested value the string rules themselves can handle.
func extractKeyedString(key string) textRule {
	return func(v any) (string, bool) {
		m, ok := v.(map[string]any)
		if !ok {
			return "", false
		}
		inner, ok := m[key]
		if !ok {
			return "", false
		}
		if s, ok := inner.(string); ok {
			return s, true
		}
		if s, ok := extractContentBlocks(inner); ok {
			return s, true
		}
		return "", false
	}
}

// extractContentBlocks joins the text of an array of content blocks,
// accepting both bare strings and {"type": "text", "text": ...} objects.
func extractContentBlocks(v any) (string, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return "", false
	}
	var parts []string
	for _, item := range arr {
		switch block := item.(type) {
		case string:
			parts = append(parts, block)
		case map[string]any:
			if s, ok := block["text"].(string); ok {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
