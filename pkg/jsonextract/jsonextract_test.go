// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package jsonextract

import "testing"

type attemptPayload struct {
	Status      string `json:"status"`
	Explanation string `json:"explanation"`
}

// TestExtract_RawJSON verifies that clean JSON passes through untouched.
func TestExtract_RawJSON(t *testing.T) {
	t.Parallel()

	var out attemptPayload
	err := Extract(`{"status":"FAILED","explanation":"no"}`, &out)
	if err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if out.Status != "FAILED" {
		t.Errorf("Expected status FAILED, got %q", out.Status)
	}
}

// TestExtract_FencedJSON verifies markdown code fences are stripped.
func TestExtract_FencedJSON(t *testing.T) {
	t.Parallel()

	text := "Here is the result:\n```json\n{\"status\":\"PROVED_AS_IS\",\"explanation\":\"ok\"}\n```\nDone."
	var out attemptPayload
	if err := Extract(text, &out); err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if out.Status != "PROVED_AS_IS" {
		t.Errorf("Expected status PROVED_AS_IS, got %q", out.Status)
	}
}

// TestExtract_ProseWrapped verifies brace matching finds embedded objects.
func TestExtract_ProseWrapped(t *testing.T) {
	t.Parallel()

	text := `The model concluded {"status":"PROVED_VARIANT","explanation":"a {nested} brace in text"} as shown.`
	var out attemptPayload
	if err := Extract(text, &out); err != nil {
		t.Fatalf("Extract returned error: %v", err)
	}
	if out.Explanation != "a {nested} brace in text" {
		t.Errorf("Unexpected explanation: %q", out.Explanation)
	}
}

// TestExtract_NoJSON verifies a descriptive error when nothing parses.
func TestExtract_NoJSON(t *testing.T) {
	t.Parallel()

	var out attemptPayload
	if err := Extract("there is no json here", &out); err == nil {
		t.Fatal("Expected error for prose-only input")
	}
	if err := Extract("   ", &out); err == nil {
		t.Fatal("Expected error for blank input")
	}
}
