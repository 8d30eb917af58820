// Package jsonx extracts structured JSON from free-form AI completion text.
//
// Model output is rarely clean JSON: it arrives wrapped in markdown fences,
// prefixed with reasoning, with trailing commas or smart quotes. Extract runs
// a fixed fallback ladder and returns the first variant that parses:
//
//	direct parse → strip fences → first balanced {...}/[...] → repair → fail
package jsonx

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when no parseable JSON could be recovered.
var ErrNoJSON = fmt.Errorf("no valid JSON found in text")

// Extract unmarshals the first JSON object or array recoverable from text
// into out.
// Parameters:
//   - text: raw completion text, possibly fenced or malformed.
//   - out: destination for json.Unmarshal.
// Returns:
//   - error: ErrNoJSON (wrapped) when every ladder step fails.
func Extract(text string, out interface{}) error {
	candidates := []string{
		strings.TrimSpace(text),
		stripFences(text),
	}
	if balanced := firstBalanced(stripFences(text)); balanced != "" {
		candidates = append(candidates, balanced, repair(balanced))
	}

	var lastErr error
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c), out); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	if lastErr == nil {
		return ErrNoJSON
	}
	return fmt.Errorf("%w: %v", ErrNoJSON, lastErr)
}

// stripFences removes markdown code fences and any surrounding prose lines
// that are clearly not part of the JSON body.
func stripFences(text string) string {
	s := strings.TrimSpace(text)

	if start := strings.Index(s, "```"); start != -1 {
		rest := s[start+3:]
		// Drop an optional language tag on the fence line.
		if nl := strings.IndexByte(rest, '\n'); nl != -1 {
			first := strings.TrimSpace(rest[:nl])
			if first == "json" || first == "JSON" || first == "" {
				rest = rest[nl+1:]
			}
		}
		if end := strings.Index(rest, "```"); end != -1 {
			rest = rest[:end]
		}
		s = strings.TrimSpace(rest)
	}
	return s
}

// firstBalanced returns the first balanced {...} or [...] block, honoring
// string literals and escapes so braces inside values do not confuse the scan.
func firstBalanced(s string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if s[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// repair fixes the malformations models produce most often: smart quotes and
// trailing commas before a closing brace or bracket.
func repair(s string) string {
	replacer := strings.NewReplacer(
		"“", `"`, "”", `"`,
		"‘", `'`, "’", `'`,
	)
	s = replacer.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			b.WriteByte(c)
			continue
		}
		if c == '\\' && inString {
			escaped = true
			b.WriteByte(c)
			continue
		}
		if c == '"' {
			inString = !inString
			b.WriteByte(c)
			continue
		}
		if c == ',' && !inString {
			// Look ahead past whitespace for a closer.
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\t' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
