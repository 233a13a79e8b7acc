// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lemmalab/proofbench/pkg/proofflow"
	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

func TestStreamRenderer_DeltasPrintVerbatim(t *testing.T) {
	var buf bytes.Buffer
	r := NewStreamRenderer(&buf)

	r.Render(proofflow.ModelStart{Provider: "gemini", Model: "gemini-2.5-flash"})
	r.Render(proofflow.ModelDelta{Text: "Suppose x > 0. "})
	r.Render(proofflow.ModelDelta{Text: "Then x^2 > 0."})
	r.Render(proofflow.ModelEnd{DurationMs: 800, Length: 28})

	out := buf.String()
	assert.Contains(t, out, "gemini/gemini-2.5-flash")
	assert.Contains(t, out, "Suppose x > 0. Then x^2 > 0.")
	assert.Contains(t, out, "28 chars")
}

func TestStreamRenderer_FailoverNotice(t *testing.T) {
	var buf bytes.Buffer
	r := NewStreamRenderer(&buf)

	r.Render(proofflow.ModelStart{Provider: "gemini", Model: "gemini-2.5-pro"})
	r.Render(proofflow.ModelDelta{Text: "partial"})
	r.Render(proofflow.ModelStart{Provider: "gemini", Model: "gemini-2.5-flash"})

	assert.Contains(t, buf.String(), "restarting draft")
}

func TestStreamRenderer_ClassificationVerdicts(t *testing.T) {
	statement := "a weaker statement"
	cases := []struct {
		name string
		ev   proofflow.ClassifyResult
		want string
	}{
		{"proved", proofflow.ClassifyResult{Status: datatypes.StatusProvedAsIs}, "proved as stated"},
		{"variant", proofflow.ClassifyResult{
			Status:         datatypes.StatusProvedVariant,
			FinalStatement: &statement,
		}, statement},
		{"failed", proofflow.ClassifyResult{
			Status:      datatypes.StatusFailed,
			Explanation: "counterexample at n = 2",
		}, "counterexample at n = 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewStreamRenderer(&buf).Render(tc.ev)
			assert.Contains(t, buf.String(), tc.want)
		})
	}
}

func TestStreamRenderer_DoneRendersSublemmas(t *testing.T) {
	var buf bytes.Buffer
	r := NewStreamRenderer(&buf)
	r.Render(proofflow.Done{
		Success: true,
		Attempt: &datatypes.AttemptSummary{Status: datatypes.StatusProvedAsIs},
		Decompose: &datatypes.DecomposeOutput{
			ProvedStatement: "the statement",
			Sublemmas: []datatypes.Sublemma{
				{Title: "Base case", Statement: "n = 1 holds"},
				{Title: "Inductive step", Statement: "n implies n+1"},
			},
			NormalizedProof: "normalized",
		},
	})

	out := buf.String()
	assert.Contains(t, out, "Base case")
	assert.Contains(t, out, "Inductive step")
	assert.Contains(t, out, "finished in")
}

func TestStreamRenderer_ServerErrorIncludesCode(t *testing.T) {
	var buf bytes.Buffer
	NewStreamRenderer(&buf).Render(proofflow.ServerError{Err: "model is at capacity", Code: "RATE_LIMIT"})
	assert.Contains(t, buf.String(), "model is at capacity (RATE_LIMIT)")
}

func TestSpinner_StopIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner("working").WithWriter(&buf)
	s.Start()
	time.Sleep(150 * time.Millisecond)
	s.Stop()
	s.Stop()

	assert.True(t, strings.Contains(buf.String(), "working"))
}
