// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the wire and service types for the prover.
package datatypes

import "fmt"

// AttemptStatus classifies the outcome of a proof attempt.
type AttemptStatus string

const (
	StatusProvedAsIs    AttemptStatus = "PROVED_AS_IS"
	StatusProvedVariant AttemptStatus = "PROVED_VARIANT"
	StatusFailed        AttemptStatus = "FAILED"
)

// VariantType says how a proved variant relates to the requested statement.
type VariantType string

const (
	VariantWeakening VariantType = "WEAKENING"
	VariantOpposite  VariantType = "OPPOSITE"
)

// AttemptSummary is the immutable outcome of one proof attempt run.
//
// # Description
//
// Exactly one summary is produced per attempt; a retry produces a new
// summary rather than mutating the old one. Nullable fields are pointers
// so "absent" survives the JSON round trip distinct from "empty".
type AttemptSummary struct {
	Status         AttemptStatus `json:"status"`
	FinalStatement *string       `json:"finalStatement"`
	VariantType    *VariantType  `json:"variantType"`
	RawProof       *string       `json:"rawProof"`
	Explanation    string        `json:"explanation"`
}

// Validate enforces the per-status field policy.
//
// # Description
//
// PROVED_AS_IS requires a final statement echoing the input and no variant
// type. PROVED_VARIANT requires a final statement plus WEAKENING or
// OPPOSITE. FAILED requires both rawProof and finalStatement to be null.
//
// # Inputs
//
//	problem - The originally requested statement, for the echo check.
//	        May be empty to skip the echo comparison (classification of
//	        text whose originating problem is unknown).
func (a *AttemptSummary) Validate(problem string) error {
	switch a.Status {
	case StatusProvedAsIs:
		if a.FinalStatement == nil || *a.FinalStatement == "" {
			return fmt.Errorf("PROVED_AS_IS requires finalStatement")
		}
		if problem != "" && *a.FinalStatement != problem {
			return fmt.Errorf("PROVED_AS_IS finalStatement must echo the problem")
		}
		if a.VariantType != nil {
			return fmt.Errorf("PROVED_AS_IS forbids variantType")
		}
	case StatusProvedVariant:
		if a.FinalStatement == nil || *a.FinalStatement == "" {
			return fmt.Errorf("PROVED_VARIANT requires finalStatement")
		}
		if a.VariantType == nil || (*a.VariantType != VariantWeakening && *a.VariantType != VariantOpposite) {
			return fmt.Errorf("PROVED_VARIANT requires variantType WEAKENING or OPPOSITE")
		}
	case StatusFailed:
		if a.RawProof != nil {
			return fmt.Errorf("FAILED forbids rawProof")
		}
		if a.FinalStatement != nil {
			return fmt.Errorf("FAILED forbids finalStatement")
		}
	default:
		return fmt.Errorf("unknown attempt status %q", a.Status)
	}
	return nil
}

// ClassifySummary is AttemptSummary minus rawProof: the caller already
// holds the proof text that was classified.
type ClassifySummary struct {
	Status         AttemptStatus `json:"status"`
	FinalStatement *string       `json:"finalStatement"`
	VariantType    *VariantType  `json:"variantType"`
	Explanation    string        `json:"explanation"`
}

// Sublemma is one titled step of a structured proof. Statement and proof
// may contain LaTeX math and are treated as opaque text.
type Sublemma struct {
	Title     string `json:"title"`
	Statement string `json:"statement"`
	Proof     string `json:"proof"`
}

// DecomposeOutput is the result of structuring a raw proof. Sublemmas is
// never empty: the service substitutes a synthetic step when the model
// returns none.
type DecomposeOutput struct {
	ProvedStatement string     `json:"provedStatement"`
	Sublemmas       []Sublemma `json:"sublemmas"`
	NormalizedProof string     `json:"normalizedProof"`
}
