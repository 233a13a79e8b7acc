// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// ProviderGemini is the primary provider; it is the only one whose
	// candidate chain gets the in-provider "pro" upgrade step.
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	defaultGeminiModel = "gemini-2.5-flash"
	geminiProModel     = "gemini-2.5-pro"
	defaultOpenAIModel = "gpt-4o-mini"
	secondaryModel     = "gpt-4o"
	defaultClaudeModel = "claude-sonnet-4-20250514"
)

// Candidate is one entry in the ordered provider/model fallback chain.
type Candidate struct {
	Provider string `json:"provider" yaml:"provider"`
	Model    string `json:"model" yaml:"model"`
}

func (c Candidate) String() string {
	return c.Provider + "/" + c.Model
}

// Config is the environment-driven gateway configuration.
type Config struct {
	// Provider selects the default provider. Empty means gemini.
	Provider string

	// Model overrides the default model for the selected provider.
	Model string

	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string

	// ModelsFile optionally points at a YAML file that replaces the
	// computed candidate chain outright.
	ModelsFile string
}

// ConfigFromEnv reads the gateway configuration from the environment.
//
// # Description
//
// Reads LLM_PROVIDER, GEMINI_MODEL / OPENAI_MODEL / CLAUDE_MODEL, the
// per-provider API keys, and PROOFBENCH_MODELS_FILE. Missing values are
// left empty; validation happens in BuildCandidates / NewGateway so tests
// can construct Configs directly.
func ConfigFromEnv() Config {
	cfg := Config{
		Provider:        strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER"))),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		ModelsFile:      os.Getenv("PROOFBENCH_MODELS_FILE"),
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderGemini
	}
	switch cfg.Provider {
	case ProviderGemini:
		cfg.Model = os.Getenv("GEMINI_MODEL")
	case ProviderOpenAI:
		cfg.Model = os.Getenv("OPENAI_MODEL")
	case ProviderAnthropic:
		cfg.Model = os.Getenv("CLAUDE_MODEL")
	}
	return cfg
}

// defaultModel returns the default model for a provider.
func defaultModel(provider string) string {
	switch provider {
	case ProviderGemini:
		return defaultGeminiModel
	case ProviderOpenAI:
		return defaultOpenAIModel
	case ProviderAnthropic:
		return defaultClaudeModel
	}
	return ""
}

// BuildCandidates computes the ordered fallback chain for cfg.
//
// # Description
//
// The chain is built in three steps:
//
//  1. the configured default model;
//  2. if the provider is the primary one (gemini) and the configured model
//     is not already the pro variant, the pro variant;
//  3. if the secondary provider's credential is configured, one secondary
//     (openai) model as a last resort.
//
// Duplicates are dropped while preserving first-seen order. When
// cfg.ModelsFile names a readable YAML file its chain replaces the
// computed one entirely.
//
// # Outputs
//
//	[]Candidate - Always at least one entry.
//	error - Non-nil for an unknown provider or an unreadable ModelsFile.
func BuildCandidates(cfg Config) ([]Candidate, error) {
	if cfg.ModelsFile != "" {
		return candidatesFromFile(cfg.ModelsFile)
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderGemini
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel(provider)
	}
	if model == "" {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}

	chain := []Candidate{{Provider: provider, Model: model}}

	if provider == ProviderGemini && model != geminiProModel {
		chain = append(chain, Candidate{Provider: ProviderGemini, Model: geminiProModel})
	}

	if cfg.OpenAIAPIKey != "" {
		chain = append(chain, Candidate{Provider: ProviderOpenAI, Model: secondaryModel})
	}

	return dedupe(chain), nil
}

func dedupe(in []Candidate) []Candidate {
	seen := make(map[Candidate]struct{}, len(in))
	out := in[:0]
	for _, c := range in {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// modelsFile is the YAML override schema:
//
//	candidates:
//	  - provider: gemini
//	    model: gemini-2.5-flash
//	  - provider: openai
//	    model: gpt-4o
type modelsFile struct {
	Candidates []Candidate `yaml:"candidates"`
}

func candidatesFromFile(path string) ([]Candidate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file %s: %w", path, err)
	}
	var mf modelsFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("parse models file %s: %w", path, err)
	}
	if len(mf.Candidates) == 0 {
		return nil, fmt.Errorf("models file %s lists no candidates", path)
	}
	for _, c := range mf.Candidates {
		if c.Provider == "" || c.Model == "" {
			return nil, fmt.Errorf("models file %s: candidate missing provider or model", path)
		}
	}
	slog.Info("Candidate chain loaded from file", "path", path, "count", len(mf.Candidates))
	return dedupe(mf.Candidates), nil
}
