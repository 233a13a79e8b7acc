// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"os"
	"path/filepath"
	"testing"
)

// TestBuildCandidatesFullChain verifies the canonical three-step chain:
// default model, pro upgrade, secondary provider.
func TestBuildCandidatesFullChain(t *testing.T) {
	t.Parallel()

	got, err := BuildCandidates(Config{
		Provider:     ProviderGemini,
		Model:        "gemini-2.5-flash",
		OpenAIAPIKey: "sk-test",
	})
	if err != nil {
		t.Fatalf("BuildCandidates() error = %v", err)
	}

	want := []Candidate{
		{Provider: ProviderGemini, Model: "gemini-2.5-flash"},
		{Provider: ProviderGemini, Model: "gemini-2.5-pro"},
		{Provider: ProviderOpenAI, Model: "gpt-4o"},
	}
	assertChain(t, got, want)
}

// TestBuildCandidatesAlreadyPro verifies that no duplicate upgrade step is
// added when the configured model is already the pro variant.
func TestBuildCandidatesAlreadyPro(t *testing.T) {
	t.Parallel()

	got, err := BuildCandidates(Config{
		Provider: ProviderGemini,
		Model:    "gemini-2.5-pro",
	})
	if err != nil {
		t.Fatalf("BuildCandidates() error = %v", err)
	}

	want := []Candidate{
		{Provider: ProviderGemini, Model: "gemini-2.5-pro"},
	}
	assertChain(t, got, want)
}

// TestBuildCandidatesNoSecondaryWithoutKey verifies the secondary provider
// is only appended when its credential is configured.
func TestBuildCandidatesNoSecondaryWithoutKey(t *testing.T) {
	t.Parallel()

	got, err := BuildCandidates(Config{Provider: ProviderGemini})
	if err != nil {
		t.Fatalf("BuildCandidates() error = %v", err)
	}

	want := []Candidate{
		{Provider: ProviderGemini, Model: "gemini-2.5-flash"},
		{Provider: ProviderGemini, Model: "gemini-2.5-pro"},
	}
	assertChain(t, got, want)
}

// TestBuildCandidatesSecondaryProvider verifies a non-primary provider gets
// no pro upgrade step but still falls back to the secondary model.
func TestBuildCandidatesSecondaryProvider(t *testing.T) {
	t.Parallel()

	got, err := BuildCandidates(Config{
		Provider:     ProviderAnthropic,
		Model:        "claude-sonnet-4-20250514",
		OpenAIAPIKey: "sk-test",
	})
	if err != nil {
		t.Fatalf("BuildCandidates() error = %v", err)
	}

	want := []Candidate{
		{Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514"},
		{Provider: ProviderOpenAI, Model: "gpt-4o"},
	}
	assertChain(t, got, want)
}

// TestBuildCandidatesDedupes verifies an openai default chain does not list
// the secondary model twice.
func TestBuildCandidatesDedupes(t *testing.T) {
	t.Parallel()

	got, err := BuildCandidates(Config{
		Provider:     ProviderOpenAI,
		Model:        "gpt-4o",
		OpenAIAPIKey: "sk-test",
	})
	if err != nil {
		t.Fatalf("BuildCandidates() error = %v", err)
	}

	want := []Candidate{
		{Provider: ProviderOpenAI, Model: "gpt-4o"},
	}
	assertChain(t, got, want)
}

// TestBuildCandidatesUnknownProvider verifies an unrecognized provider is
// rejected instead of producing an empty chain.
func TestBuildCandidatesUnknownProvider(t *testing.T) {
	t.Parallel()

	if _, err := BuildCandidates(Config{Provider: "mistral"}); err == nil {
		t.Fatal("BuildCandidates() expected error for unknown provider, got nil")
	}
}

// TestBuildCandidatesFromFile verifies the YAML override replaces the
// computed chain outright.
func TestBuildCandidatesFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "models.yaml")
	content := `candidates:
  - provider: anthropic
    model: claude-sonnet-4-20250514
  - provider: gemini
    model: gemini-2.5-flash
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write models file: %v", err)
	}

	got, err := BuildCandidates(Config{
		Provider:   ProviderGemini,
		ModelsFile: path,
	})
	if err != nil {
		t.Fatalf("BuildCandidates() error = %v", err)
	}

	want := []Candidate{
		{Provider: ProviderAnthropic, Model: "claude-sonnet-4-20250514"},
		{Provider: ProviderGemini, Model: "gemini-2.5-flash"},
	}
	assertChain(t, got, want)
}

// TestBuildCandidatesFromFileEmpty verifies an override file with no
// candidates is an error rather than a silent fallback.
func TestBuildCandidatesFromFileEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte("candidates: []\n"), 0600); err != nil {
		t.Fatalf("write models file: %v", err)
	}

	if _, err := BuildCandidates(Config{ModelsFile: path}); err == nil {
		t.Fatal("BuildCandidates() expected error for empty models file, got nil")
	}
}

func assertChain(t *testing.T, got, want []Candidate) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("chain length = %d, want %d (got %v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("chain[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
