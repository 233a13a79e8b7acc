// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package jsonextract recovers a JSON document from LLM prose output.
//
// # Description
//
// Providers without a structured-output mode frequently wrap JSON in
// markdown code fences or surround it with commentary. This package is the
// single best-effort text-to-JSON boundary: strip fences, locate the
// outermost object or array, and unmarshal. Callers treat a failure here
// as a hard "malformed model output" error; there is no second heuristic
// hiding elsewhere in request logic.
//
// # Limitations
//
//   - Brace matching is textual, not a JSON parse; a stray brace inside a
//     string literal before the real document can defeat it.
package jsonextract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Extract unmarshals the first JSON object or array found in text into out.
//
// # Description
//
// Tries, in order: the raw text as-is, the contents of a ```json (or bare
// ```) code fence, and the longest balanced {...} or [...] span. Returns a
// descriptive error when none of them parse.
//
// # Inputs
//
//   - text: Model output, possibly prose-wrapped.
//   - out: Destination for json.Unmarshal. Must be a pointer.
//
// # Outputs
//
//   - error: Non-nil if no parseable JSON document was found.
func Extract(text string, out any) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("jsonextract: empty text")
	}

	candidates := []string{trimmed}
	if fenced := stripFence(trimmed); fenced != "" {
		candidates = append(candidates, fenced)
	}
	if span := balancedSpan(trimmed); span != "" {
		candidates = append(candidates, span)
	}

	var lastErr error
	for _, c := range candidates {
		if err := json.Unmarshal([]byte(c), out); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("jsonextract: no JSON document in text: %w", lastErr)
}

// stripFence returns the body of the first markdown code fence, or "".
func stripFence(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	rest := text[start+3:]
	// Skip an optional language tag on the fence line ("json", "JSON", ...).
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// balancedSpan returns the longest balanced top-level {...} or [...] span.
func balancedSpan(text string) string {
	for _, pair := range [][2]byte{{'{', '}'}, {'[', ']'}} {
		open := strings.IndexByte(text, pair[0])
		if open < 0 {
			continue
		}
		depth := 0
		inString := false
		escaped := false
		for i := open; i < len(text); i++ {
			ch := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inString = false
				}
				continue
			}
			switch ch {
			case '"':
				inString = true
			case pair[0]:
				depth++
			case pair[1]:
				depth--
				if depth == 0 {
					return text[open : i+1]
				}
			}
		}
	}
	return ""
}
