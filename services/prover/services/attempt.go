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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lemmalab/proofbench/services/llm"
	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

var tracer = otel.Tracer("proofbench/services/prover/services")

// AttemptFailureMessage is surfaced when the model returns nothing usable.
const AttemptFailureMessage = "The AI failed to return an attempt result."

const attemptSystemPrompt = `You are a careful research mathematician drafting proofs.

Given a mathematical statement, do exactly one of the following:
1. Prove the statement as given.
2. If the statement as given is false or unprovable, prove the closest
   provable variant: either a weakening of it, or its negation.
3. If neither is possible, fail explicitly with a short explanation.

Respond with a single JSON object, no surrounding prose:
{
  "status": "PROVED_AS_IS" | "PROVED_VARIANT" | "FAILED",
  "finalStatement": string | null,
  "variantType": "WEAKENING" | "OPPOSITE" | null,
  "rawProof": string | null,
  "explanation": string
}

Rules:
- PROVED_AS_IS: finalStatement repeats the given statement verbatim;
  variantType is null; rawProof holds the complete proof.
- PROVED_VARIANT: finalStatement is the statement you actually proved;
  variantType says how it relates to the original; rawProof holds the
  complete proof of the variant.
- FAILED: rawProof and finalStatement are null; explanation says why.
- Use LaTeX math delimiters ($...$ inline, $$...$$ display) in proofs.`

const draftSystemPrompt = `You are a careful research mathematician drafting proofs.

Given a mathematical statement, write the best complete proof you can:
of the statement itself, or of the closest provable variant (a weakening
or the negation) if the statement as given does not hold. Output only the
proof text. Use LaTeX math delimiters ($...$ inline, $$...$$ display).
Do not repeat the statement as a preamble and do not add commentary.`

// AttemptService produces a classified proof attempt for a problem.
//
// # Thread Safety
//
// Safe for concurrent use.
type AttemptService struct {
	gen Generator
}

// NewAttemptService builds an attempt service over gen.
func NewAttemptService(gen Generator) *AttemptService {
	return &AttemptService{gen: gen}
}

// Run performs the one-shot attempt: generate, parse, enforce field policy.
//
// # Description
//
// Asks the model for the full attempt contract in one structured call.
// Candidate fallback on capacity errors happens inside the gateway. A
// reply that cannot be parsed into the contract fails with
// AttemptFailureMessage; capacity exhaustion propagates the gateway error
// so callers can distinguish the two.
//
// # Inputs
//
//	ctx - Bounds the generation.
//	problem - The statement to prove. Must be non-blank.
//
// # Outputs
//
//	*datatypes.AttemptSummary - The normalized, validated attempt.
//	error - Non-nil on generation or contract failure.
func (s *AttemptService) Run(ctx context.Context, problem string) (*datatypes.AttemptSummary, error) {
	ctx, span := tracer.Start(ctx, "AttemptService.Run")
	defer span.End()

	problem = strings.TrimSpace(problem)
	if problem == "" {
		return nil, fmt.Errorf("problem is empty")
	}
	span.SetAttributes(attribute.Int("attempt.problem_length", len(problem)))

	var summary datatypes.AttemptSummary
	c, err := s.gen.GenerateJSON(ctx, llm.Request{
		System: attemptSystemPrompt,
		Prompt: "Statement:\n" + problem,
	}, &summary)
	if err != nil {
		if llm.IsRateLimit(err) {
			return nil, err
		}
		slog.Error("Attempt generation failed", "error", err)
		return nil, errors.New(AttemptFailureMessage)
	}

	normalizeSummary(problem, &summary)
	if err := summary.Validate(problem); err != nil {
		slog.Error("Attempt result violated contract", "candidate", c.String(), "error", err)
		return nil, errors.New(AttemptFailureMessage)
	}

	slog.Info("Attempt completed", "candidate", c.String(), "status", string(summary.Status))
	return &summary, nil
}

// StreamDraft streams a raw proof draft through the caller's hooks.
//
// # Description
//
// The streaming tiers draft first and classify the finished text
// afterwards, so the user watches the proof appear token by token.
// Accumulation is deliberately left to the caller: the streaming handler
// keeps the draft in locked memory and must not have a second plaintext
// copy built here. OnStart signals that any partial draft from a failed
// previous candidate must be discarded.
func (s *AttemptService) StreamDraft(ctx context.Context, problem string, hooks llm.StreamHooks) (llm.Candidate, error) {
	ctx, span := tracer.Start(ctx, "AttemptService.StreamDraft")
	defer span.End()

	problem = strings.TrimSpace(problem)
	if problem == "" {
		return llm.Candidate{}, fmt.Errorf("problem is empty")
	}

	return s.gen.GenerateStream(ctx, llm.Request{
		System: draftSystemPrompt,
		Prompt: "Statement:\n" + problem,
	}, hooks)
}

// normalizeSummary coerces tolerable contract drift instead of failing:
// models proving as-is often paraphrase the echo, and FAILED replies
// sometimes leave partial text in the nullable fields.
func normalizeSummary(problem string, s *datatypes.AttemptSummary) {
	switch s.Status {
	case datatypes.StatusProvedAsIs:
		echo := problem
		s.FinalStatement = &echo
		s.VariantType = nil
	case datatypes.StatusFailed:
		s.RawProof = nil
		s.FinalStatement = nil
		s.VariantType = nil
	}
	if s.FinalStatement != nil && strings.TrimSpace(*s.FinalStatement) == "" {
		s.FinalStatement = nil
	}
	if s.RawProof != nil && strings.TrimSpace(*s.RawProof) == "" {
		s.RawProof = nil
	}
}
