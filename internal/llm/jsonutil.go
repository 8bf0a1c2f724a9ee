package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON parses a JSON object or array out of model output. Models often
// wrap JSON in markdown fences or surround it with prose, so this strips
// fences first and then falls back to the outermost bracket pair.
func ExtractJSON(content string, v any) error {
	trimmed := strings.TrimSpace(content)

	if fenced := stripFences(trimmed); fenced != "" {
		trimmed = fenced
	}

	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	candidate := outermost(trimmed, '{', '}')
	if candidate == "" {
		candidate = outermost(trimmed, '[', ']')
	}
	if candidate == "" {
		return fmt.Errorf("no JSON found in model output")
	}
	if err := json.Unmarshal([]byte(candidate), v); err != nil {
		return fmt.Errorf("parse model JSON: %w", err)
	}
	return nil
}

// stripFences returns the contents of the first ``` fence, or "".
func stripFences(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		tag := strings.TrimSpace(rest[:nl])
		if tag == "" || strings.EqualFold(tag, "json") {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// outermost returns the substring from the first open bracket to its last
// matching close bracket, or "".
func outermost(s string, open, close byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, close)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
