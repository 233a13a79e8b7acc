// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicBaseURL    = "https://api.anthropic.com/v1/messages"
	anthropicMaxTokens  = 8192
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
	Error   *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicStreamEvent covers the subset of SSE event payloads the stream
// reader cares about: text deltas, terminal events, and inline errors.
type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Error *anthropicError `json:"error"`
}

// AnthropicClient adapts the Anthropic Messages API behind the Client
// interface using a hand-rolled HTTP transport.
//
// # Description
//
// One-shot requests use the plain JSON response; streaming requests set
// stream=true and read the SSE event feed directly. System prompts over
// 1KiB are marked with ephemeral cache control to keep repeated proof
// prompts cheap. Anthropic has no native JSON output mode, so JSON-mode
// requests are reinforced in the system prompt and callers fall back to
// extraction.
type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient builds an Anthropic adapter from ANTHROPIC_API_KEY,
// falling back to the container secrets path.
func NewAnthropicClient() (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")

	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API Key from container secrets")
		}
	}

	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is missing")
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		baseURL:    anthropicBaseURL,
	}, nil
}

func (a *AnthropicClient) Provider() string { return ProviderAnthropic }

func (a *AnthropicClient) buildPayload(model string, req Request, stream bool) anthropicRequest {
	system := req.System
	if req.JSONOutput {
		if system != "" {
			system += "\n\n"
		}
		system += "Respond with a single JSON object and nothing else."
	}

	var systemBlocks []systemBlock
	if system != "" {
		block := systemBlock{Type: "text", Text: system}
		if len(system) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	return anthropicRequest{
		Model:     model,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
		System:    systemBlocks,
		MaxTokens: anthropicMaxTokens,
		Stream:    stream,
	}
}

func (a *AnthropicClient) send(ctx context.Context, payload anthropicRequest) (*http.Response, error) {
	reqBodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	slog.Debug("Sending REST request to Anthropic", "model", payload.Model, "stream", payload.Stream)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)

		// Pull out the API error type so capacity classification can
		// distinguish rate_limit_error / overloaded_error from the rest.
		var apiResp anthropicResponse
		apiType, message := "", string(bodyBytes)
		if json.Unmarshal(bodyBytes, &apiResp) == nil && apiResp.Error != nil {
			apiType = apiResp.Error.Type
			message = apiResp.Error.Message
		}
		return nil, &httpStatusError{
			status:   resp.StatusCode,
			apiType:  apiType,
			message:  message,
			provider: ProviderAnthropic,
		}
	}

	return resp, nil
}

// Generate implements the Client interface.
func (a *AnthropicClient) Generate(ctx context.Context, model string, req Request) (string, error) {
	resp, err := a.send(ctx, a.buildPayload(model, req, false))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}

	finalText := ""
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			finalText += block.Text
		}
	}
	if finalText == "" {
		return "", fmt.Errorf("received empty content from Anthropic")
	}
	return finalText, nil
}

// GenerateStream implements the Client interface.
//
// # Description
//
// Reads the Messages API SSE feed line by line. Only content_block_delta
// text deltas reach the callback; ping and bookkeeping events are skipped,
// and an error event aborts the stream with the API error surfaced.
func (a *AnthropicClient) GenerateStream(ctx context.Context, model string, req Request, cb StreamCallback) error {
	resp, err := a.send(ctx, a.buildPayload(model, req, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			slog.Warn("Skipping malformed Anthropic stream event", "error", err)
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				if cbErr := cb(StreamEvent{Type: StreamEventToken, Text: event.Delta.Text}); cbErr != nil {
					return cbErr
				}
			}
		case "message_stop":
			return nil
		case "error":
			if event.Error != nil {
				return fmt.Errorf("anthropic stream error: %s - %s", event.Error.Type, event.Error.Message)
			}
			return fmt.Errorf("anthropic stream error: unknown")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("anthropic stream read: %w", err)
	}
	return nil
}
