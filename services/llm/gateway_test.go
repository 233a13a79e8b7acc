// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// scriptedClient returns canned results per model, recording call order.
type scriptedClient struct {
	provider string
	results  map[string]scriptedResult
	calls    []string
}

type scriptedResult struct {
	text string
	err  error
}

func (s *scriptedClient) Provider() string { return s.provider }

func (s *scriptedClient) Generate(_ context.Context, model string, _ Request) (string, error) {
	s.calls = append(s.calls, s.provider+"/"+model)
	r := s.results[model]
	return r.text, r.err
}

func (s *scriptedClient) GenerateStream(_ context.Context, model string, _ Request, cb StreamCallback) error {
	s.calls = append(s.calls, s.provider+"/"+model)
	r := s.results[model]
	if r.err != nil {
		return r.err
	}
	// Deliver the canned text one rune cluster at a time to exercise
	// delta accumulation in callers.
	for _, part := range strings.SplitAfter(r.text, " ") {
		if err := cb(StreamEvent{Type: StreamEventToken, Text: part}); err != nil {
			return err
		}
	}
	return nil
}

func rateLimited() error {
	return &GatewayError{Code: CodeModelRateLimit, Message: "model is at capacity"}
}

func testChain() []Candidate {
	return []Candidate{
		{Provider: "gemini", Model: "gemini-2.5-flash"},
		{Provider: "gemini", Model: "gemini-2.5-pro"},
		{Provider: "openai", Model: "gpt-4o"},
	}
}

// TestGenerateCapacityRetry verifies a rate-limited first candidate is
// skipped and the second candidate's result is returned with no error.
func TestGenerateCapacityRetry(t *testing.T) {
	t.Parallel()

	gemini := &scriptedClient{provider: "gemini", results: map[string]scriptedResult{
		"gemini-2.5-flash": {err: rateLimited()},
		"gemini-2.5-pro":   {text: "proof body"},
	}}
	openai := &scriptedClient{provider: "openai", results: map[string]scriptedResult{}}
	gw := NewGatewayWithClients(testChain(), gemini, openai)

	out, c, err := gw.Generate(context.Background(), Request{Prompt: "prove it"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if out != "proof body" {
		t.Errorf("Generate() = %q, want %q", out, "proof body")
	}
	if c.Model != "gemini-2.5-pro" {
		t.Errorf("winning candidate = %v, want gemini-2.5-pro", c)
	}
	if len(openai.calls) != 0 {
		t.Errorf("secondary provider was called: %v", openai.calls)
	}
}

// TestGenerateNonCapacityShortCircuit verifies a non-rate-limit failure
// stops candidate iteration immediately.
func TestGenerateNonCapacityShortCircuit(t *testing.T) {
	t.Parallel()

	gemini := &scriptedClient{provider: "gemini", results: map[string]scriptedResult{
		"gemini-2.5-flash": {err: errors.New("invalid request")},
		"gemini-2.5-pro":   {text: "never reached"},
	}}
	openai := &scriptedClient{provider: "openai", results: map[string]scriptedResult{}}
	gw := NewGatewayWithClients(testChain(), gemini, openai)

	_, _, err := gw.Generate(context.Background(), Request{Prompt: "prove it"})
	if err == nil {
		t.Fatal("Generate() expected error, got nil")
	}
	if IsRateLimit(err) {
		t.Errorf("error unexpectedly classified as rate limit: %v", err)
	}
	if len(gemini.calls) != 1 {
		t.Errorf("calls = %v, want only the first candidate", gemini.calls)
	}
	if len(openai.calls) != 0 {
		t.Errorf("secondary provider was called: %v", openai.calls)
	}
}

// TestGenerateExhaustedReturnsLastError verifies the last capacity error
// surfaces after every candidate was tried in order.
func TestGenerateExhaustedReturnsLastError(t *testing.T) {
	t.Parallel()

	gemini := &scriptedClient{provider: "gemini", results: map[string]scriptedResult{
		"gemini-2.5-flash": {err: rateLimited()},
		"gemini-2.5-pro":   {err: rateLimited()},
	}}
	openai := &scriptedClient{provider: "openai", results: map[string]scriptedResult{
		"gpt-4o": {err: rateLimited()},
	}}
	gw := NewGatewayWithClients(testChain(), gemini, openai)

	_, _, err := gw.Generate(context.Background(), Request{Prompt: "prove it"})
	if !IsRateLimit(err) {
		t.Fatalf("Generate() error = %v, want rate limit", err)
	}

	wantOrder := []string{"gemini/gemini-2.5-flash", "gemini/gemini-2.5-pro"}
	for i, w := range wantOrder {
		if gemini.calls[i] != w {
			t.Errorf("gemini call %d = %s, want %s", i, gemini.calls[i], w)
		}
	}
	if len(openai.calls) != 1 || openai.calls[0] != "openai/gpt-4o" {
		t.Errorf("openai calls = %v, want exactly gpt-4o last", openai.calls)
	}
}

// TestGenerateStreamFailover verifies OnStart fires for every candidate
// attempted and deltas concatenate to the winning candidate's full text.
func TestGenerateStreamFailover(t *testing.T) {
	t.Parallel()

	gemini := &scriptedClient{provider: "gemini", results: map[string]scriptedResult{
		"gemini-2.5-flash": {err: rateLimited()},
		"gemini-2.5-pro":   {text: "a complete streamed proof"},
	}}
	openai := &scriptedClient{provider: "openai", results: map[string]scriptedResult{}}
	gw := NewGatewayWithClients(testChain(), gemini, openai)

	var starts []string
	var sb strings.Builder
	c, err := gw.GenerateStream(context.Background(), Request{Prompt: "prove it"}, StreamHooks{
		OnStart: func(c Candidate) {
			starts = append(starts, c.String())
			sb.Reset()
		},
		OnDelta: func(text string) error {
			sb.WriteString(text)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("GenerateStream() error = %v", err)
	}
	if c.Model != "gemini-2.5-pro" {
		t.Errorf("winning candidate = %v, want gemini-2.5-pro", c)
	}
	if len(starts) != 2 {
		t.Fatalf("OnStart fired %d times (%v), want 2", len(starts), starts)
	}
	if got := sb.String(); got != "a complete streamed proof" {
		t.Errorf("accumulated deltas = %q, want full text", got)
	}
}

// TestGenerateStreamDeltaAbort verifies an OnDelta error stops the stream
// and is not treated as a provider capacity failure.
func TestGenerateStreamDeltaAbort(t *testing.T) {
	t.Parallel()

	gemini := &scriptedClient{provider: "gemini", results: map[string]scriptedResult{
		"gemini-2.5-flash": {text: "some text here"},
	}}
	gw := NewGatewayWithClients(testChain()[:1], gemini)

	abort := errors.New("client went away")
	_, err := gw.GenerateStream(context.Background(), Request{Prompt: "p"}, StreamHooks{
		OnDelta: func(string) error { return abort },
	})
	if err == nil {
		t.Fatal("GenerateStream() expected error, got nil")
	}
	if IsRateLimit(err) {
		t.Errorf("abort misclassified as rate limit: %v", err)
	}
	if len(gemini.calls) != 1 {
		t.Errorf("calls = %v, want no retry after abort", gemini.calls)
	}
}

// TestGenerateJSONExtractsFromProse verifies prose-wrapped JSON is still
// decoded via extraction.
func TestGenerateJSONExtractsFromProse(t *testing.T) {
	t.Parallel()

	gemini := &scriptedClient{provider: "gemini", results: map[string]scriptedResult{
		"gemini-2.5-flash": {text: "Here is the result:\n```json\n{\"status\":\"PROVED_AS_IS\"}\n```"},
	}}
	gw := NewGatewayWithClients(testChain()[:1], gemini)

	var out struct {
		Status string `json:"status"`
	}
	if _, err := gw.GenerateJSON(context.Background(), Request{Prompt: "p"}, &out); err != nil {
		t.Fatalf("GenerateJSON() error = %v", err)
	}
	if out.Status != "PROVED_AS_IS" {
		t.Errorf("Status = %q, want PROVED_AS_IS", out.Status)
	}
}

// TestGenerateJSONMalformedIsHardFailure verifies unusable output fails the
// call without retrying the next candidate.
func TestGenerateJSONMalformedIsHardFailure(t *testing.T) {
	t.Parallel()

	gemini := &scriptedClient{provider: "gemini", results: map[string]scriptedResult{
		"gemini-2.5-flash": {text: "I could not produce JSON, sorry."},
		"gemini-2.5-pro":   {text: "{\"status\":\"FAILED\"}"},
	}}
	gw := NewGatewayWithClients(testChain()[:2], gemini)

	var out map[string]any
	_, err := gw.GenerateJSON(context.Background(), Request{Prompt: "p"}, &out)
	if err == nil {
		t.Fatal("GenerateJSON() expected error, got nil")
	}
	if IsRateLimit(err) {
		t.Errorf("schema failure misclassified as rate limit: %v", err)
	}
	if len(gemini.calls) != 1 {
		t.Errorf("calls = %v, want no candidate retry on malformed output", gemini.calls)
	}
}
