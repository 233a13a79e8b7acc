// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mathtext reflows LLM-produced proof text without touching math.
//
// # Description
//
// Decomposition output tends to arrive as one wall of text. NormalizeParagraphs
// re-flows the prose into short paragraphs for readability while leaving every
// LaTeX math span byte-for-byte intact, so downstream rendering never sees a
// delimiter split across paragraphs.
//
// Recognized math delimiters: $$...$$, \[...\], $...$, \(...\).
//
// # Limitations
//
//   - Sentence splitting is heuristic (period-space-capital); abbreviations
//     such as "e.g." can produce a short sentence. The reflow only inserts
//     blank lines, never edits characters, so the worst case is an odd
//     paragraph boundary.
package mathtext

import "strings"

const (
	// reflowMinChars is the minimum plain-span length eligible for reflow.
	reflowMinChars = 400

	// reflowMinSentences is the minimum sentence count eligible for reflow.
	reflowMinSentences = 3
)

// segment is one run of text, either protected math or plain prose.
type segment struct {
	text string
	math bool
}

// NormalizeParagraphs re-flows long unbroken prose into 2-3 sentence
// paragraphs separated by blank lines.
//
// # Description
//
// The input is split into math and plain segments. A plain segment is
// re-flowed only when it has no existing blank-line break, is at least 400
// characters long, and splits into at least 3 sentences; anything else is
// returned unchanged. Math segments are always returned verbatim.
//
// # Inputs
//
//   - text: Proof prose, possibly containing LaTeX math spans.
//
// # Outputs
//
//   - string: Text with blank-line paragraph breaks inserted into
//     qualifying plain spans.
func NormalizeParagraphs(text string) string {
	if text == "" {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + 64)
	for _, seg := range splitMathSegments(text) {
		if seg.math {
			b.WriteString(seg.text)
			continue
		}
		b.WriteString(reflowPlain(seg.text))
	}
	return b.String()
}

// splitMathSegments partitions text into alternating plain and math runs.
//
// Display delimiters ($$, \[) are matched before inline ones ($, \() so a
// display block is never mistaken for two inline spans.
func splitMathSegments(text string) []segment {
	var segs []segment
	plainStart := 0

	i := 0
	for i < len(text) {
		open, close := matchMathOpen(text[i:])
		if open == "" {
			i++
			continue
		}
		end := strings.Index(text[i+len(open):], close)
		if end < 0 {
			// Unterminated delimiter: treat the rest as plain text.
			break
		}
		if i > plainStart {
			segs = append(segs, segment{text: text[plainStart:i]})
		}
		spanEnd := i + len(open) + end + len(close)
		segs = append(segs, segment{text: text[i:spanEnd], math: true})
		i = spanEnd
		plainStart = i
	}
	if plainStart < len(text) {
		segs = append(segs, segment{text: text[plainStart:]})
	}
	return segs
}

// matchMathOpen reports the opening delimiter at the start of s, if any,
// along with its closing counterpart.
func matchMathOpen(s string) (open, close string) {
	switch {
	case strings.HasPrefix(s, "$$"):
		return "$$", "$$"
	case strings.HasPrefix(s, `\[`):
		return `\[`, `\]`
	case strings.HasPrefix(s, `\(`):
		return `\(`, `\)`
	case strings.HasPrefix(s, "$"):
		return "$", "$"
	}
	return "", ""
}

// reflowPlain applies the paragraph heuristic to one plain-text span.
func reflowPlain(text string) string {
	if strings.Contains(text, "\n\n") {
		return text
	}
	if len(text) < reflowMinChars {
		return text
	}
	sentences := splitSentences(text)
	if len(sentences) < reflowMinSentences {
		return text
	}

	// Preserve any leading/trailing whitespace of the span so math spans on
	// either side keep their original spacing.
	leading := text[:len(text)-len(strings.TrimLeft(text, " \t\n"))]
	trailing := text[len(strings.TrimRight(text, " \t\n")):]

	var paragraphs []string
	for idx := 0; idx < len(sentences); {
		take := 3
		remaining := len(sentences) - idx
		if remaining == 4 {
			take = 2
		} else if remaining < 3 {
			take = remaining
		}
		paragraphs = append(paragraphs, strings.Join(sentences[idx:idx+take], " "))
		idx += take
	}
	return leading + strings.Join(paragraphs, "\n\n") + trailing
}

// splitSentences breaks prose on terminal punctuation followed by space.
func splitSentences(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	var sentences []string
	start := 0
	for i := 0; i < len(trimmed)-1; i++ {
		ch := trimmed[i]
		if ch != '.' && ch != '!' && ch != '?' {
			continue
		}
		next := trimmed[i+1]
		if next != ' ' && next != '\t' && next != '\n' {
			continue
		}
		sentences = append(sentences, strings.TrimSpace(trimmed[start:i+1]))
		start = i + 1
	}
	if rest := strings.TrimSpace(trimmed[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}
