// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package services implements the proof attempt, classification, and
// decomposition services on top of the model gateway.
package services

import (
	"context"

	"github.com/lemmalab/proofbench/services/llm"
)

// Generator is the slice of the model gateway these services consume.
// *llm.Gateway satisfies it; tests substitute stubs.
type Generator interface {
	GenerateJSON(ctx context.Context, req llm.Request, out any) (llm.Candidate, error)
	GenerateStream(ctx context.Context, req llm.Request, hooks llm.StreamHooks) (llm.Candidate, error)
}

var _ Generator = (*llm.Gateway)(nil)
