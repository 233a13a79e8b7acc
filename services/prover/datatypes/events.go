// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Canonical SSE event names for the attempt stream. Both streaming tiers
// emit exactly this vocabulary; consumers must treat it as closed.
const (
	EventModelStart      = "model.start"
	EventModelDelta      = "model.delta"
	EventModelSwitch     = "model.switch"
	EventModelEnd        = "model.end"
	EventClassifyStart   = "classify.start"
	EventClassifyResult  = "classify.result"
	EventDecomposeStart  = "decompose.start"
	EventDecomposeResult = "decompose.result"
	EventServerError     = "server-error"
	EventDone            = "done"
)

// StreamEvent is the wire envelope for one attempt-stream SSE event.
//
// # Description
//
// One flat struct carries every event variant; which payload fields are
// populated depends on Type. Metadata (Id, CreatedAt, Hash, PrevHash) is
// filled by the SSE writer: each event's Hash covers its content and
// PrevHash links to the previous event, giving the client an integrity
// chain over the streamed proof.
type StreamEvent struct {
	Id        string `json:"id,omitempty"`
	Type      string `json:"type"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Hash      string `json:"hash,omitempty"`
	PrevHash  string `json:"prev_hash,omitempty"`

	// model.start
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Ts       int64  `json:"ts,omitempty"`

	// model.delta
	Text string `json:"text,omitempty"`

	// model.switch
	To string `json:"to,omitempty"`

	// model.end
	DurationMs int64 `json:"durationMs,omitempty"`
	Length     int   `json:"length,omitempty"`

	// classify.result
	Status         AttemptStatus `json:"status,omitempty"`
	FinalStatement *string       `json:"finalStatement,omitempty"`
	VariantType    *VariantType  `json:"variantType,omitempty"`
	Explanation    string        `json:"explanation,omitempty"`

	// decompose.result
	SublemmasCount int `json:"sublemmasCount,omitempty"`
	ProvedLen      int `json:"provedLen,omitempty"`
	NormLen        int `json:"normLen,omitempty"`

	// server-error
	Error  string `json:"error,omitempty"`
	Detail string `json:"detail,omitempty"`
	Code   string `json:"code,omitempty"`

	// done
	Success   *bool            `json:"success,omitempty"`
	Attempt   *AttemptSummary  `json:"attempt,omitempty"`
	Decompose *DecomposeOutput `json:"decompose,omitempty"`
}
