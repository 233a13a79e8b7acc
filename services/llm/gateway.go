// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lemmalab/proofbench/pkg/jsonextract"
)

var tracer = otel.Tracer("proofbench/services/llm")

// Gateway iterates an ordered candidate chain over per-provider clients.
//
// # Description
//
// Every generation request walks the chain in order. A candidate that
// fails with a capacity error (MODEL_RATE_LIMIT) is skipped and the next
// one is tried; any other failure stops iteration and propagates so a
// retry can never silently substitute a different answer. When the chain
// is exhausted the last observed error is returned, or a generic message
// if none was recorded.
//
// # Thread Safety
//
// Gateway is immutable after construction and safe for concurrent use.
type Gateway struct {
	clients    map[string]Client
	candidates []Candidate
}

// StreamHooks receives streaming-generation callbacks.
//
// OnStart fires once per candidate attempted, before its first byte, so
// the transport layer can emit a model start event (and reset any partial
// draft from a failed previous candidate). OnSwitch fires when the active
// provider internally swapped serving models mid-stream. Only OnDelta may
// abort the stream by returning an error. Nil hooks are skipped.
type StreamHooks struct {
	OnStart  func(c Candidate)
	OnDelta  func(text string) error
	OnSwitch func(model string)
}

// NewGateway builds a gateway from cfg.
//
// # Description
//
// Computes the candidate chain, then constructs one client per distinct
// provider in it. A provider whose client cannot be constructed (missing
// credential) has its candidates dropped with a warning, unless that
// leaves the chain empty.
//
// # Inputs
//
//	ctx - Used by provider SDK construction.
//	cfg - Gateway configuration, typically ConfigFromEnv().
//
// # Outputs
//
//	*Gateway - Ready for concurrent use.
//	error - Non-nil if the chain cannot be built or no client is usable.
func NewGateway(ctx context.Context, cfg Config) (*Gateway, error) {
	candidates, err := BuildCandidates(cfg)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]Client)
	usable := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := clients[c.Provider]; !ok {
			client, err := newProviderClient(ctx, c.Provider)
			if err != nil {
				slog.Warn("Dropping candidates for unusable provider",
					"provider", c.Provider, "error", err)
				clients[c.Provider] = nil
			} else {
				clients[c.Provider] = client
			}
		}
		if clients[c.Provider] != nil {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("no usable model candidates (check provider API keys)")
	}

	slog.Info("Model gateway initialized", "candidates", fmt.Sprint(usable))
	return &Gateway{clients: clients, candidates: usable}, nil
}

// NewGatewayWithClients builds a gateway from explicit clients, keyed by
// their Provider(). Used by tests and by callers that manage construction.
func NewGatewayWithClients(candidates []Candidate, clients ...Client) *Gateway {
	m := make(map[string]Client, len(clients))
	for _, c := range clients {
		m[c.Provider()] = c
	}
	return &Gateway{clients: m, candidates: candidates}
}

func newProviderClient(ctx context.Context, provider string) (Client, error) {
	switch provider {
	case ProviderGemini:
		return NewGeminiClient(ctx)
	case ProviderOpenAI:
		return NewOpenAIClient()
	case ProviderAnthropic:
		return NewAnthropicClient()
	}
	return nil, fmt.Errorf("unknown provider %q", provider)
}

// Candidates returns the active chain, in order.
func (g *Gateway) Candidates() []Candidate {
	out := make([]Candidate, len(g.candidates))
	copy(out, g.candidates)
	return out
}

// Generate performs a one-shot generation, iterating candidates.
//
// # Outputs
//
//	string - The generated text from the first candidate that succeeded.
//	Candidate - Which candidate produced it.
//	error - A *GatewayError when all usable candidates were exhausted or a
//	        candidate failed non-retryably.
func (g *Gateway) Generate(ctx context.Context, req Request) (string, Candidate, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Generate")
	defer span.End()

	var lastErr *GatewayError
	for i, c := range g.candidates {
		span.SetAttributes(
			attribute.String("llm.candidate", c.String()),
			attribute.Int("llm.candidate_index", i),
		)

		out, err := g.clients[c.Provider].Generate(ctx, c.Model, req)
		if err == nil {
			return out, c, nil
		}

		lastErr = normalizeError(c.Provider, err)
		if !lastErr.Retryable() {
			slog.Error("Candidate failed non-retryably", "candidate", c.String(), "error", lastErr.Detail)
			return "", c, lastErr
		}
		slog.Warn("Candidate at capacity, trying next", "candidate", c.String())
	}

	if lastErr == nil {
		lastErr = &GatewayError{Message: "no model candidates available"}
	}
	return "", Candidate{}, lastErr
}

// GenerateStream streams a generation, iterating candidates.
//
// # Description
//
// For each candidate: OnStart fires, then deltas flow through OnDelta. A
// capacity failure (before or during the stream) advances to the next
// candidate; the hooks' OnStart for the next candidate signals that any
// partial output must be discarded. Non-capacity failures and OnDelta
// errors stop immediately.
//
// # Outputs
//
//	Candidate - The candidate whose stream completed.
//	error - Nil on a completed stream.
func (g *Gateway) GenerateStream(ctx context.Context, req Request, hooks StreamHooks) (Candidate, error) {
	ctx, span := tracer.Start(ctx, "Gateway.GenerateStream")
	defer span.End()

	cb := func(ev StreamEvent) error {
		switch ev.Type {
		case StreamEventToken:
			if hooks.OnDelta != nil {
				return hooks.OnDelta(ev.Text)
			}
		case StreamEventModelSwitch:
			if hooks.OnSwitch != nil {
				hooks.OnSwitch(ev.Text)
			}
		}
		return nil
	}

	var lastErr *GatewayError
	for i, c := range g.candidates {
		span.SetAttributes(
			attribute.String("llm.candidate", c.String()),
			attribute.Int("llm.candidate_index", i),
		)
		if hooks.OnStart != nil {
			hooks.OnStart(c)
		}

		err := g.clients[c.Provider].GenerateStream(ctx, c.Model, req, cb)
		if err == nil {
			return c, nil
		}
		if ctx.Err() != nil {
			// Caller went away; no point trying another candidate.
			return c, normalizeError(c.Provider, err)
		}

		lastErr = normalizeError(c.Provider, err)
		if !lastErr.Retryable() {
			slog.Error("Streaming candidate failed non-retryably", "candidate", c.String(), "error", lastErr.Detail)
			return c, lastErr
		}
		slog.Warn("Streaming candidate at capacity, trying next", "candidate", c.String())
	}

	if lastErr == nil {
		lastErr = &GatewayError{Message: "no model candidates available"}
	}
	return Candidate{}, lastErr
}

// GenerateJSON generates with JSON output requested and unmarshals into out.
//
// # Description
//
// Requests native JSON mode, then parses the reply. If the reply is not a
// bare JSON document (prose preamble, markdown fence) extraction is
// attempted before failing. A schema/parse failure is a hard failure of
// the call, not a capacity error, so it is never retried on the next
// candidate.
func (g *Gateway) GenerateJSON(ctx context.Context, req Request, out any) (Candidate, error) {
	req.JSONOutput = true

	raw, c, err := g.Generate(ctx, req)
	if err != nil {
		return c, err
	}

	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return c, nil
	}
	if err := jsonextract.Extract(raw, out); err != nil {
		slog.Error("Model reply did not contain usable JSON", "candidate", c.String(), "error", err)
		return c, &GatewayError{
			Message: "model returned malformed output",
			Detail:  fmt.Sprintf("extract JSON: %v", err),
		}
	}
	return c, nil
}
