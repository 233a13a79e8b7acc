// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import "context"

// Request is a single generation request, provider-agnostic.
//
// System is optional. When JSONOutput is set the adapter asks the provider
// for a JSON response (native JSON mode where the provider has one); callers
// must still parse defensively because not every provider honors it.
type Request struct {
	System     string `json:"system,omitempty"`
	Prompt     string `json:"prompt"`
	JSONOutput bool   `json:"json_output,omitempty"`
}

// StreamEventType discriminates events delivered by GenerateStream.
type StreamEventType string

const (
	// StreamEventToken carries one incremental text delta.
	StreamEventToken StreamEventType = "token"

	// StreamEventModelSwitch is emitted when the provider reports that a
	// different underlying model is serving the stream than the one
	// requested (some providers silently reroute under load). Text holds
	// the model identifier actually serving.
	StreamEventModelSwitch StreamEventType = "model_switch"
)

// StreamEvent is one event from a streaming generation.
type StreamEvent struct {
	Type StreamEventType
	Text string
}

// StreamCallback receives stream events in order. Returning a non-nil error
// aborts the stream; the adapter propagates that error to the caller.
type StreamCallback func(StreamEvent) error

// Client is a per-provider model adapter.
//
// # Description
//
// One Client wraps one provider API (Gemini, OpenAI, Anthropic). The model
// is passed per call rather than fixed at construction so the candidate
// fallback chain can reuse a single client for several models of the same
// provider.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Provider returns the stable provider name ("gemini", "openai", ...).
	Provider() string

	// Generate performs a one-shot generation and returns the full text.
	Generate(ctx context.Context, model string, req Request) (string, error)

	// GenerateStream streams the generation through cb. It returns after
	// the stream completes, the context is canceled, or cb errors.
	GenerateStream(ctx context.Context, model string, req Request, cb StreamCallback) error
}
