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

	"github.com/lemmalab/proofbench/services/llm"
	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

const classifySystemPrompt = `You are a careful research mathematician reviewing a drafted proof.

Given the originally requested statement and the drafted proof text,
decide what the draft actually establishes. Do not write a new proof;
judge only the given text.

Respond with a single JSON object, no surrounding prose:
{
  "status": "PROVED_AS_IS" | "PROVED_VARIANT" | "FAILED",
  "finalStatement": string | null,
  "variantType": "WEAKENING" | "OPPOSITE" | null,
  "explanation": string
}

Rules:
- PROVED_AS_IS: the draft proves the requested statement itself;
  finalStatement repeats it verbatim; variantType is null.
- PROVED_VARIANT: the draft proves a different statement; finalStatement
  is what it proves; variantType is WEAKENING if it is a weaker claim,
  OPPOSITE if it refutes the request.
- FAILED: the draft proves nothing usable; finalStatement is null and
  explanation says what is wrong.`

// ClassifyService judges an existing proof draft against its problem.
//
// # Description
//
// Applies the same status rubric as the attempt service but against text
// the caller already holds, so the streaming tiers never regenerate a
// proof just to find out what it proved.
//
// # Thread Safety
//
// Safe for concurrent use.
type ClassifyService struct {
	gen Generator
}

// NewClassifyService builds a classification service over gen.
func NewClassifyService(gen Generator) *ClassifyService {
	return &ClassifyService{gen: gen}
}

// Classify judges rawProof against problem.
//
// # Inputs
//
//	ctx - Bounds the generation.
//	problem - The originally requested statement.
//	rawProof - The drafted proof text, at least 10 characters.
//
// # Outputs
//
//	*datatypes.ClassifySummary - The normalized verdict.
//	error - Non-nil on generation or contract failure.
func (s *ClassifyService) Classify(ctx context.Context, problem, rawProof string) (*datatypes.ClassifySummary, error) {
	ctx, span := tracer.Start(ctx, "ClassifyService.Classify")
	defer span.End()

	problem = strings.TrimSpace(problem)
	if problem == "" {
		return nil, fmt.Errorf("problem is empty")
	}
	if len(strings.TrimSpace(rawProof)) < 10 {
		return nil, fmt.Errorf("rawProof must be at least 10 characters")
	}

	var verdict datatypes.ClassifySummary
	c, err := s.gen.GenerateJSON(ctx, llm.Request{
		System: classifySystemPrompt,
		Prompt: fmt.Sprintf("Requested statement:\n%s\n\nDrafted proof:\n%s", problem, rawProof),
	}, &verdict)
	if err != nil {
		if llm.IsRateLimit(err) {
			return nil, err
		}
		slog.Error("Classification failed", "error", err)
		return nil, errors.New(AttemptFailureMessage)
	}

	// Reuse the attempt field policy by lifting into the full shape.
	full := datatypes.AttemptSummary{
		Status:         verdict.Status,
		FinalStatement: verdict.FinalStatement,
		VariantType:    verdict.VariantType,
		Explanation:    verdict.Explanation,
	}
	normalizeSummary(problem, &full)
	if err := full.Validate(problem); err != nil {
		slog.Error("Classification violated contract", "candidate", c.String(), "error", err)
		return nil, errors.New(AttemptFailureMessage)
	}

	verdict.Status = full.Status
	verdict.FinalStatement = full.FinalStatement
	verdict.VariantType = full.VariantType
	slog.Info("Classification completed", "candidate", c.String(), "status", string(verdict.Status))
	return &verdict, nil
}
