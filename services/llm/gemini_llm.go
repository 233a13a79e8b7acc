// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"google.golang.org/genai"
)

// GeminiClient adapts the Gemini API behind the Client interface.
//
// # Description
//
// Uses the official google.golang.org/genai SDK. JSON-mode requests set
// ResponseMIMEType so the model emits a bare JSON document instead of a
// fenced markdown block. Streaming goes through GenerateContentStream and
// surfaces a model_switch event when the API reports a different serving
// model than the one requested.
type GeminiClient struct {
	client *genai.Client
}

var _ Client = (*GeminiClient)(nil)

// NewGeminiClient builds a Gemini adapter from GEMINI_API_KEY.
func NewGeminiClient(ctx context.Context) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is missing")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

func (g *GeminiClient) Provider() string { return ProviderGemini }

func (g *GeminiClient) generateConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.JSONOutput {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

// Generate implements the Client interface.
func (g *GeminiClient) Generate(ctx context.Context, model string, req Request) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), g.generateConfig(req))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned empty content")
	}
	return text, nil
}

// GenerateStream implements the Client interface.
func (g *GeminiClient) GenerateStream(ctx context.Context, model string, req Request, cb StreamCallback) error {
	serving := ""
	for chunk, err := range g.client.Models.GenerateContentStream(ctx, model, genai.Text(req.Prompt), g.generateConfig(req)) {
		if err != nil {
			return fmt.Errorf("gemini stream: %w", err)
		}
		// The API can reroute to a sibling model under load; tell the
		// caller once per distinct serving model.
		if v := chunk.ModelVersion; v != "" && v != model && v != serving {
			serving = v
			slog.Debug("Gemini stream served by different model", "requested", model, "serving", v)
			if cbErr := cb(StreamEvent{Type: StreamEventModelSwitch, Text: v}); cbErr != nil {
				return cbErr
			}
		}
		if text := chunk.Text(); text != "" {
			if cbErr := cb(StreamEvent{Type: StreamEventToken, Text: text}); cbErr != nil {
				return cbErr
			}
		}
	}
	return nil
}
