// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package proofflow drives a proof attempt end to end on the client side:
// transport tier selection and demotion, the live draft, classification
// and decomposition results, and the branching proof version history.
package proofflow

import (
	"encoding/json"
	"fmt"

	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

// =============================================================================
// Event Union
// =============================================================================

// Event is one attempt-stream occurrence as seen by the state machine.
//
// # Description
//
// All three transports produce values of this closed union, so the
// machine switches on concrete types instead of comparing event-name
// strings at every call site. StreamClosed is synthetic: transports emit
// it when the connection ends without a terminal done.
type Event interface {
	isEvent()
}

// ModelStart announces a candidate model beginning to stream. A second
// ModelStart in one stream means the server failed over to another
// candidate and any partial draft must be discarded.
type ModelStart struct {
	Provider string
	Model    string
	Ts       int64
}

// ModelDelta carries one draft fragment. Concatenating all deltas in
// receipt order reconstructs the draft exactly.
type ModelDelta struct {
	Text string
}

// ModelSwitch reports a provider-internal serving-model swap.
type ModelSwitch struct {
	To string
}

// ModelEnd closes the drafting phase.
type ModelEnd struct {
	DurationMs int64
	Length     int
}

// ClassifyStart marks the start of the classification phase.
type ClassifyStart struct {
	Ts int64
}

// ClassifyResult carries the classification verdict.
type ClassifyResult struct {
	Status         datatypes.AttemptStatus
	FinalStatement *string
	VariantType    *datatypes.VariantType
	Explanation    string
}

// DecomposeStart marks the start of the decomposition phase.
type DecomposeStart struct {
	Ts int64
}

// DecomposeResult summarizes a server-side decomposition.
type DecomposeResult struct {
	SublemmasCount int
	ProvedLen      int
	NormLen        int
}

// ServerError reports a mid-stream failure. Received before ModelEnd it
// means this tier is dead; after ModelEnd the streamed draft survives.
type ServerError struct {
	Err    string
	Detail string
	Code   string
}

// Done is the single terminal event of a successful stream.
type Done struct {
	Success   bool
	Attempt   *datatypes.AttemptSummary
	Decompose *datatypes.DecomposeOutput
}

// StreamClosed is synthesized by a transport when its connection ends
// without Done: EOF, socket drop, or read error.
type StreamClosed struct {
	Err error
}

func (ModelStart) isEvent()      {}
func (ModelDelta) isEvent()      {}
func (ModelSwitch) isEvent()     {}
func (ModelEnd) isEvent()        {}
func (ClassifyStart) isEvent()   {}
func (ClassifyResult) isEvent()  {}
func (DecomposeStart) isEvent()  {}
func (DecomposeResult) isEvent() {}
func (ServerError) isEvent()     {}
func (Done) isEvent()            {}
func (StreamClosed) isEvent()    {}

// parseEvent decodes one named SSE frame into its envelope and the union.
func parseEvent(name string, data []byte) (datatypes.StreamEvent, Event, error) {
	var env datatypes.StreamEvent
	if err := json.Unmarshal(data, &env); err != nil {
		return env, nil, fmt.Errorf("decode %s event: %w", name, err)
	}
	ev, err := eventFromEnvelope(name, env)
	return env, ev, err
}

// eventFromEnvelope maps a wire envelope onto the union.
func eventFromEnvelope(name string, env datatypes.StreamEvent) (Event, error) {
	switch name {
	case datatypes.EventModelStart:
		return ModelStart{Provider: env.Provider, Model: env.Model, Ts: env.Ts}, nil
	case datatypes.EventModelDelta:
		return ModelDelta{Text: env.Text}, nil
	case datatypes.EventModelSwitch:
		return ModelSwitch{To: env.To}, nil
	case datatypes.EventModelEnd:
		return ModelEnd{DurationMs: env.DurationMs, Length: env.Length}, nil
	case datatypes.EventClassifyStart:
		return ClassifyStart{Ts: env.Ts}, nil
	case datatypes.EventClassifyResult:
		return ClassifyResult{
			Status:         env.Status,
			FinalStatement: env.FinalStatement,
			VariantType:    env.VariantType,
			Explanation:    env.Explanation,
		}, nil
	case datatypes.EventDecomposeStart:
		return DecomposeStart{Ts: env.Ts}, nil
	case datatypes.EventDecomposeResult:
		return DecomposeResult{
			SublemmasCount: env.SublemmasCount,
			ProvedLen:      env.ProvedLen,
			NormLen:        env.NormLen,
		}, nil
	case datatypes.EventServerError:
		return ServerError{Err: env.Error, Detail: env.Detail, Code: env.Code}, nil
	case datatypes.EventDone:
		success := env.Success != nil && *env.Success
		return Done{Success: success, Attempt: env.Attempt, Decompose: env.Decompose}, nil
	default:
		return nil, fmt.Errorf("unknown event name %q", name)
	}
}
