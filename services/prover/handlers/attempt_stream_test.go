// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemmalab/proofbench/services/llm"
	"github.com/lemmalab/proofbench/services/prover/datatypes"
	"github.com/lemmalab/proofbench/services/prover/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Doubles
// =============================================================================

// stubGenerator scripts gateway behavior: GenerateJSON consumes jsonReplies
// in order; GenerateStream announces one candidate and emits streamParts.
type stubGenerator struct {
	mu          sync.Mutex
	jsonReplies []string
	jsonErrs    []error
	jsonCalls   int
	streamParts []string
	streamErr   error
	starts      int
}

var testCandidate = llm.Candidate{Provider: "gemini", Model: "gemini-2.5-flash"}

func (s *stubGenerator) GenerateJSON(_ context.Context, _ llm.Request, out any) (llm.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.jsonCalls
	s.jsonCalls++
	if i < len(s.jsonErrs) && s.jsonErrs[i] != nil {
		return llm.Candidate{}, s.jsonErrs[i]
	}
	if i >= len(s.jsonReplies) {
		return llm.Candidate{}, &llm.GatewayError{Code: "MALFORMED_OUTPUT", Message: "no scripted reply"}
	}
	if err := json.Unmarshal([]byte(s.jsonReplies[i]), out); err != nil {
		return llm.Candidate{}, err
	}
	return testCandidate, nil
}

func (s *stubGenerator) GenerateStream(_ context.Context, _ llm.Request, hooks llm.StreamHooks) (llm.Candidate, error) {
	s.mu.Lock()
	s.starts++
	s.mu.Unlock()
	if hooks.OnStart != nil {
		hooks.OnStart(testCandidate)
	}
	if s.streamErr != nil {
		return llm.Candidate{}, s.streamErr
	}
	for _, part := range s.streamParts {
		if err := hooks.OnDelta(part); err != nil {
			return llm.Candidate{}, err
		}
	}
	return testCandidate, nil
}

func newTestRouter(gen *stubGenerator) *gin.Engine {
	h := NewAttemptHandlers(
		services.NewAttemptService(gen),
		services.NewClassifyService(gen),
		services.NewDecomposeService(gen),
	)
	router := gin.New()
	router.GET("/v1/attempt/stream", h.StreamAttemptGET)
	router.POST("/v1/attempt/stream", h.StreamAttemptPOST)
	router.POST("/v1/attempt", h.Attempt)
	router.POST("/v1/classify", h.ClassifyProof)
	router.POST("/v1/decompose", h.DecomposeProof)
	return router
}

func eventNames(events []parsedEvent) []string {
	names := make([]string, len(events))
	for i, ev := range events {
		names[i] = ev.name
	}
	return names
}

// =============================================================================
// Streaming Tier Tests
// =============================================================================

// TestStreamAttemptGET_ProvedAsIs walks the full happy path: draft deltas,
// classification, automatic decomposition, and the terminal done event.
func TestStreamAttemptGET_ProvedAsIs(t *testing.T) {
	problem := "Prove that there is no largest prime."
	gen := &stubGenerator{
		streamParts: []string{"Suppose p were the largest prime. ", "Then p! + 1 has a prime factor above p."},
		jsonReplies: []string{
			`{"status":"PROVED_AS_IS","finalStatement":"Prove that there is no largest prime.","variantType":null,"explanation":"Euclid's argument is complete."}`,
			`{"provedStatement":"There is no largest prime.","sublemmas":[{"title":"Constructing a witness","statement":"p! + 1 has a prime factor greater than p.","proof":"No prime up to p divides p! + 1."}],"normalizedProof":"Suppose p were the largest prime. Then p! + 1 has a prime factor above p."}`,
		},
	}
	router := newTestRouter(gen)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/attempt/stream?problem="+url.QueryEscape(problem), nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseSSE(t, w.Body.String())
	assert.Equal(t, []string{
		"model.start", "model.delta", "model.delta", "model.end",
		"classify.start", "classify.result",
		"decompose.start", "decompose.result",
		"done",
	}, eventNames(events))

	draft := "Suppose p were the largest prime. Then p! + 1 has a prime factor above p."
	assert.Equal(t, "gemini", events[0].data.Provider)
	assert.Equal(t, "gemini-2.5-flash", events[0].data.Model)
	assert.Equal(t, len(draft), events[3].data.Length)
	assert.Equal(t, datatypes.StatusProvedAsIs, events[5].data.Status)
	assert.Equal(t, 1, events[7].data.SublemmasCount)

	done := events[len(events)-1].data
	require.NotNil(t, done.Success)
	assert.True(t, *done.Success)
	require.NotNil(t, done.Attempt)
	require.NotNil(t, done.Attempt.RawProof)
	assert.Equal(t, draft, *done.Attempt.RawProof)
	require.NotNil(t, done.Decompose)
	assert.Len(t, done.Decompose.Sublemmas, 1)
}

// TestStreamAttemptPOST_VariantSkipsDecompose verifies that a proved
// variant is reported without automatic decomposition: the client decides
// whether to accept the substitute statement first.
func TestStreamAttemptPOST_VariantSkipsDecompose(t *testing.T) {
	gen := &stubGenerator{
		streamParts: []string{"The claim fails for n = 2, ", "but holds for all n >= 3."},
		jsonReplies: []string{
			`{"status":"PROVED_VARIANT","finalStatement":"The inequality holds for all n >= 3.","variantType":"WEAKENING","explanation":"The base case n = 2 is a counterexample."}`,
		},
	}
	router := newTestRouter(gen)

	body := `{"problem":"Prove the inequality holds for all n >= 2."}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/attempt/stream", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	events := parseSSE(t, w.Body.String())
	assert.Equal(t, []string{
		"model.start", "model.delta", "model.delta", "model.end",
		"classify.start", "classify.result", "done",
	}, eventNames(events))

	done := events[len(events)-1].data
	require.NotNil(t, done.Attempt)
	assert.Equal(t, datatypes.StatusProvedVariant, done.Attempt.Status)
	require.NotNil(t, done.Attempt.VariantType)
	assert.Equal(t, datatypes.VariantWeakening, *done.Attempt.VariantType)
	require.NotNil(t, done.Attempt.RawProof, "variant keeps the streamed draft")
	assert.Nil(t, done.Decompose)
}

// TestStreamAttemptGET_FailedClearsRawProof verifies the FAILED field
// policy survives the streaming path: the done event carries no proof even
// though deltas were streamed.
func TestStreamAttemptGET_FailedClearsRawProof(t *testing.T) {
	gen := &stubGenerator{
		streamParts: []string{"I could not close the induction step."},
		jsonReplies: []string{
			`{"status":"FAILED","finalStatement":null,"variantType":null,"explanation":"The induction step is circular."}`,
		},
	}
	router := newTestRouter(gen)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/attempt/stream?problem=Prove+the+claim+by+induction.", nil)
	router.ServeHTTP(w, req)

	events := parseSSE(t, w.Body.String())
	assert.Equal(t, []string{
		"model.start", "model.delta", "model.end",
		"classify.start", "classify.result", "done",
	}, eventNames(events))

	done := events[len(events)-1].data
	require.NotNil(t, done.Attempt)
	assert.Equal(t, datatypes.StatusFailed, done.Attempt.Status)
	assert.Nil(t, done.Attempt.RawProof)
	assert.Nil(t, done.Attempt.FinalStatement)
}

// TestStreamAttemptGET_CapacityError verifies a pre-model.end failure: the
// stream dies with a coded server-error and never reaches model.end, which
// the client reads as "demote to the next tier".
func TestStreamAttemptGET_CapacityError(t *testing.T) {
	gen := &stubGenerator{
		streamErr: &llm.GatewayError{Code: llm.CodeModelRateLimit, Message: "model is at capacity"},
	}
	router := newTestRouter(gen)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/attempt/stream?problem=Prove+something+hard.", nil)
	router.ServeHTTP(w, req)

	events := parseSSE(t, w.Body.String())
	names := eventNames(events)
	require.NotEmpty(t, names)
	assert.Equal(t, "server-error", names[len(names)-1])
	assert.NotContains(t, names, "model.end")
	assert.NotContains(t, names, "done")

	last := events[len(events)-1].data
	assert.Equal(t, llm.CodeModelRateLimit, last.Code)
	assert.Equal(t, "model is at capacity", last.Error)
}

// TestStreamAttemptGET_ClassifyFailureKeepsDraft verifies a post-model.end
// failure: model.end was already sent, so the client keeps the draft, and
// the stream ends with server-error instead of done.
func TestStreamAttemptGET_ClassifyFailureKeepsDraft(t *testing.T) {
	gen := &stubGenerator{
		streamParts: []string{"A complete and convincing argument."},
		jsonErrs:    []error{&llm.GatewayError{Code: "MALFORMED_OUTPUT", Message: "model returned malformed output"}},
	}
	router := newTestRouter(gen)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/attempt/stream?problem=Prove+the+statement.", nil)
	router.ServeHTTP(w, req)

	events := parseSSE(t, w.Body.String())
	names := eventNames(events)
	assert.Contains(t, names, "model.end", "draft completed before the failure")
	assert.Equal(t, "server-error", names[len(names)-1])
	assert.NotContains(t, names, "done")
}

func TestStreamAttemptGET_MissingProblem(t *testing.T) {
	router := newTestRouter(&stubGenerator{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/attempt/stream", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestStreamAttempt_HashChainSpansTiers verifies the integrity chain holds
// across every event of a mixed stream.
func TestStreamAttempt_HashChainSpansTiers(t *testing.T) {
	gen := &stubGenerator{
		streamParts: []string{"First half. ", "Second half of the proof."},
		jsonReplies: []string{
			`{"status":"FAILED","finalStatement":null,"variantType":null,"explanation":"Incomplete."}`,
		},
	}
	router := newTestRouter(gen)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/attempt/stream?problem=Prove+it+outright.", nil)
	router.ServeHTTP(w, req)

	events := parseSSE(t, w.Body.String())
	require.Greater(t, len(events), 2)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].data.Hash, events[i].data.PrevHash,
			"chain broken at event %d (%s)", i, events[i].name)
	}
}
