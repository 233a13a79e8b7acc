// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lemmalab/proofbench/pkg/mathtext"
	"github.com/lemmalab/proofbench/services/llm"
	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

const decomposeSystemPrompt = `You are a careful research mathematician structuring a proof.

Given a raw proof text, decompose it into an ordered sequence of
sublemmas. Each sublemma has a short title, the precise statement it
establishes, and the portion of the proof establishing it. Also produce
the proved statement (what the whole proof establishes) and a cleaned-up
normalized version of the full proof.

Respond with a single JSON object, no surrounding prose:
{
  "provedStatement": string,
  "sublemmas": [{"title": string, "statement": string, "proof": string}],
  "normalizedProof": string
}

Rules:
- Preserve every LaTeX math span byte-for-byte.
- Sublemmas must cover the whole argument in order; do not invent steps
  the proof does not contain.
- normalizedProof is the same argument with fixed typos and consistent
  notation, not a new proof.`

// DecomposeService structures raw proofs into sublemmas.
//
// # Thread Safety
//
// Safe for concurrent use.
type DecomposeService struct {
	gen Generator
}

// NewDecomposeService builds a decomposition service over gen.
func NewDecomposeService(gen Generator) *DecomposeService {
	return &DecomposeService{gen: gen}
}

// Decompose structures rawProof.
//
// # Description
//
// The result always carries at least one sublemma: a model that returns
// none gets a single synthetic step substituted, because the structured
// proof view renders from the sublemma list and an empty list would leave
// it blank. The normalized proof and every sublemma proof are re-flowed
// into short paragraphs with math spans left untouched.
//
// # Inputs
//
//	ctx - Bounds the generation.
//	rawProof - The proof text, at least 10 characters.
//
// # Outputs
//
//	*datatypes.DecomposeOutput - Sublemmas is never empty.
//	error - Non-nil on generation or contract failure.
func (s *DecomposeService) Decompose(ctx context.Context, rawProof string) (*datatypes.DecomposeOutput, error) {
	ctx, span := tracer.Start(ctx, "DecomposeService.Decompose")
	defer span.End()

	if len(strings.TrimSpace(rawProof)) < 10 {
		return nil, fmt.Errorf("rawProof must be at least 10 characters")
	}

	var out datatypes.DecomposeOutput
	c, err := s.gen.GenerateJSON(ctx, llm.Request{
		System: decomposeSystemPrompt,
		Prompt: "Raw proof:\n" + rawProof,
	}, &out)
	if err != nil {
		if llm.IsRateLimit(err) {
			return nil, err
		}
		slog.Error("Decomposition failed", "error", err)
		return nil, errors.New("decomposition failed")
	}
	span.SetAttributes(attribute.Int("decompose.sublemmas", len(out.Sublemmas)))

	if out.NormalizedProof == "" {
		out.NormalizedProof = rawProof
	}

	if len(out.Sublemmas) == 0 {
		slog.Warn("Model returned zero sublemmas, substituting synthetic step", "candidate", c.String())
		out.Sublemmas = []datatypes.Sublemma{syntheticSublemma(&out, rawProof)}
	}

	out.NormalizedProof = mathtext.NormalizeParagraphs(out.NormalizedProof)
	for i := range out.Sublemmas {
		out.Sublemmas[i].Proof = mathtext.NormalizeParagraphs(out.Sublemmas[i].Proof)
	}

	slog.Info("Decomposition completed", "candidate", c.String(), "sublemmas", len(out.Sublemmas))
	return &out, nil
}

// syntheticSublemma builds the single compensating step for an empty
// sublemma list.
func syntheticSublemma(out *datatypes.DecomposeOutput, rawProof string) datatypes.Sublemma {
	title := "Direct proof"
	if strings.Contains(strings.ToLower(out.NormalizedProof), "counterexample") {
		title = "Counterexample"
	}
	statement := out.ProvedStatement
	if statement == "" {
		statement = strings.TrimSpace(rawProof)
	}
	proof := out.NormalizedProof
	if proof == "" {
		proof = rawProof
	}
	return datatypes.Sublemma{Title: title, Statement: statement, Proof: proof}
}
