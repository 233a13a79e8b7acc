// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemmalab/proofbench/services/llm"
	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// Unary Attempt Tests
// =============================================================================

// TestAttempt_ProvedAsIsIncludesDecompose verifies the unary tier runs
// decomposition inline when the statement was proved outright.
func TestAttempt_ProvedAsIsIncludesDecompose(t *testing.T) {
	problem := "Prove that the sum of two even integers is even."
	gen := &stubGenerator{
		jsonReplies: []string{
			`{"status":"PROVED_AS_IS","finalStatement":"Prove that the sum of two even integers is even.","variantType":null,"rawProof":"Write the integers as 2a and 2b; their sum is 2(a+b).","explanation":"Direct computation."}`,
			`{"provedStatement":"The sum of two even integers is even.","sublemmas":[{"title":"Factoring the sum","statement":"2a + 2b = 2(a+b).","proof":"Distributivity."}],"normalizedProof":"Write the integers as 2a and 2b; their sum is 2(a+b)."}`,
		},
	}
	router := newTestRouter(gen)

	w := postJSON(t, router, "/v1/attempt", `{"problem":"`+problem+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp datatypes.AttemptResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Attempt)
	assert.Equal(t, datatypes.StatusProvedAsIs, resp.Attempt.Status)
	require.NotNil(t, resp.Attempt.RawProof)
	require.NotNil(t, resp.Decompose)
	assert.Len(t, resp.Decompose.Sublemmas, 1)
}

// TestAttempt_FailedSkipsDecompose verifies a failed attempt returns with
// decompose null and no second generation call.
func TestAttempt_FailedSkipsDecompose(t *testing.T) {
	gen := &stubGenerator{
		jsonReplies: []string{
			`{"status":"FAILED","finalStatement":null,"variantType":null,"rawProof":null,"explanation":"No usable argument found."}`,
		},
	}
	router := newTestRouter(gen)

	w := postJSON(t, router, "/v1/attempt", `{"problem":"Prove the open conjecture."}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.AttemptResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.StatusFailed, resp.Attempt.Status)
	assert.Nil(t, resp.Attempt.RawProof)
	assert.Nil(t, resp.Decompose)
	assert.Equal(t, 1, gen.jsonCalls, "FAILED must not trigger decomposition")
}

func TestAttempt_RateLimitMapsTo503(t *testing.T) {
	gen := &stubGenerator{
		jsonErrs: []error{&llm.GatewayError{Code: llm.CodeModelRateLimit, Message: "model is at capacity"}},
	}
	router := newTestRouter(gen)

	w := postJSON(t, router, "/v1/attempt", `{"problem":"Prove anything at all."}`)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, llm.CodeModelRateLimit, resp.Code)
	assert.Equal(t, "model is at capacity", resp.Error)
}

func TestAttempt_MissingProblem(t *testing.T) {
	router := newTestRouter(&stubGenerator{})

	w := postJSON(t, router, "/v1/attempt", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Decompose Endpoint Tests
// =============================================================================

func TestDecompose_ReturnsStructuredProof(t *testing.T) {
	gen := &stubGenerator{
		jsonReplies: []string{
			`{"provedStatement":"The square root of 2 is irrational.","sublemmas":[{"title":"Setting up the contradiction","statement":"Assume sqrt(2) = p/q in lowest terms.","proof":"Then p^2 = 2q^2."},{"title":"Parity argument","statement":"p and q are both even.","proof":"Contradicts lowest terms."}],"normalizedProof":"Assume sqrt(2) = p/q in lowest terms. Then p and q are both even."}`,
		},
	}
	router := newTestRouter(gen)

	w := postJSON(t, router, "/v1/decompose", `{"rawProof":"Assume sqrt(2) = p/q in lowest terms. Then p^2 = 2q^2, so p and q are both even."}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out datatypes.DecomposeOutput
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Len(t, out.Sublemmas, 2)
	assert.NotEmpty(t, out.NormalizedProof)
}

// TestDecompose_RejectsShortProof verifies the 10-character floor is
// enforced at the binding layer before any model call.
func TestDecompose_RejectsShortProof(t *testing.T) {
	gen := &stubGenerator{}
	router := newTestRouter(gen)

	w := postJSON(t, router, "/v1/decompose", `{"rawProof":"QED"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, gen.jsonCalls)
}

// =============================================================================
// Classify Endpoint Tests
// =============================================================================

func TestClassify_JudgesPastedProof(t *testing.T) {
	gen := &stubGenerator{
		jsonReplies: []string{
			`{"status":"PROVED_VARIANT","finalStatement":"The sum of two even integers is divisible by 2.","variantType":"WEAKENING","explanation":"The draft proves divisibility, not the stated parity form."}`,
		},
	}
	router := newTestRouter(gen)

	w := postJSON(t, router, "/v1/classify",
		`{"problem":"Prove the sum of two even integers is even.","rawProof":"Write the integers as 2a and 2b; their sum is 2(a+b)."}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var summary datatypes.ClassifySummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	assert.Equal(t, datatypes.StatusProvedVariant, summary.Status)
	require.NotNil(t, summary.VariantType)
	assert.Equal(t, datatypes.VariantWeakening, *summary.VariantType)
}

func TestClassify_RejectsMissingProblem(t *testing.T) {
	gen := &stubGenerator{}
	router := newTestRouter(gen)

	w := postJSON(t, router, "/v1/classify", `{"rawProof":"A perfectly fine proof body."}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, gen.jsonCalls)
}

// TestAttempt_OversizedProblemRejected verifies the byte bound is
// enforced before any model call.
func TestAttempt_OversizedProblemRejected(t *testing.T) {
	gen := &stubGenerator{}
	router := newTestRouter(gen)

	problem := strings.Repeat("x", datatypes.MaxProblemBytes+1)
	w := postJSON(t, router, "/v1/attempt", `{"problem":"`+problem+`"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, gen.jsonCalls)
}
