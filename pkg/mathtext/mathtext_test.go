// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mathtext

import (
	"strings"
	"testing"
)

// longProse builds a >=400 char span of n sentences without blank lines.
func longProse(n int) string {
	sentence := "This step follows from the previous inequality by a direct application of the triangle inequality and some algebra."
	parts := make([]string, n)
	for i := range parts {
		parts[i] = sentence
	}
	return strings.Join(parts, " ")
}

// TestNormalizeParagraphs_ReflowsLongSpan verifies the 400-char/3-sentence
// threshold inserts blank-line paragraph breaks.
func TestNormalizeParagraphs_ReflowsLongSpan(t *testing.T) {
	t.Parallel()

	in := longProse(6)
	out := NormalizeParagraphs(in)

	if !strings.Contains(out, "\n\n") {
		t.Fatal("Expected paragraph breaks in reflowed output")
	}
	// Reflow must not alter the prose itself.
	if strings.ReplaceAll(out, "\n\n", " ") != in {
		t.Error("Reflow changed text content, not just whitespace")
	}
}

// TestNormalizeParagraphs_ShortSpanUnchanged verifies short text is left alone.
func TestNormalizeParagraphs_ShortSpanUnchanged(t *testing.T) {
	t.Parallel()

	in := "Short proof. Done."
	if out := NormalizeParagraphs(in); out != in {
		t.Errorf("Expected unchanged output, got %q", out)
	}
}

// TestNormalizeParagraphs_ExistingBreaksUnchanged verifies spans that already
// have blank-line breaks are not re-flowed.
func TestNormalizeParagraphs_ExistingBreaksUnchanged(t *testing.T) {
	t.Parallel()

	in := longProse(3) + "\n\n" + longProse(3)
	if out := NormalizeParagraphs(in); out != in {
		t.Error("Expected text with existing breaks to pass through unchanged")
	}
}

// TestNormalizeParagraphs_ProtectsMathSpans verifies every math delimiter
// form survives byte-for-byte.
func TestNormalizeParagraphs_ProtectsMathSpans(t *testing.T) {
	t.Parallel()

	mathSpans := []string{
		`$x^2 \geq 0. For all. Sentences.$`,
		`$$\int_0^1 f(x)\,dx. More. Text.$$`,
		`\(a+b\)`,
		`\[e^{i\pi} + 1 = 0\]`,
	}
	for _, m := range mathSpans {
		in := longProse(6) + " " + m + " " + longProse(6)
		out := NormalizeParagraphs(in)
		if !strings.Contains(out, m) {
			t.Errorf("Math span %q was not preserved verbatim", m)
		}
	}
}

// TestNormalizeParagraphs_UnterminatedMath verifies a dangling delimiter does
// not eat the rest of the text.
func TestNormalizeParagraphs_UnterminatedMath(t *testing.T) {
	t.Parallel()

	in := "An unterminated $x span."
	if out := NormalizeParagraphs(in); out != in {
		t.Errorf("Expected unchanged output, got %q", out)
	}
}

// TestSplitSentences_Counts verifies heuristic sentence splitting.
func TestSplitSentences_Counts(t *testing.T) {
	t.Parallel()

	got := splitSentences("One. Two! Three? Four")
	if len(got) != 4 {
		t.Fatalf("Expected 4 sentences, got %d: %v", len(got), got)
	}
	if got[3] != "Four" {
		t.Errorf("Expected trailing fragment kept, got %q", got[3])
	}
}
