// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the prover's HTTP endpoints.
package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// SSEWriter writes attempt-stream events in SSE wire format.
//
// # Description
//
// SSEWriter abstracts SSE serialization ("event: type\ndata: json\n\n")
// from HTTP response mechanics. Each written event is automatically
// assigned:
//   - Id: UUID v4 for ordering and deduplication
//   - CreatedAt: Unix timestamp in milliseconds
//   - Hash: SHA-256 of the event content for integrity
//   - PrevHash: Hash of the previous event for chain verification
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the heartbeat
// goroutine and the streaming callback write through the same instance.
//
// # Assumptions
//
//   - Caller has set SSE headers via SetSSEHeaders() before first write.
type SSEWriter interface {
	// WriteEvent writes one event, populating its metadata, and flushes.
	WriteEvent(event datatypes.StreamEvent) error

	// WriteModelStart announces a candidate model beginning to stream.
	WriteModelStart(provider, model string) error

	// WriteDelta streams one text delta.
	WriteDelta(text string) error

	// WriteModelSwitch reports a provider-internal serving-model swap.
	WriteModelSwitch(to string) error

	// WriteModelEnd closes the drafting phase for the active model.
	WriteModelEnd(duration time.Duration, length int) error

	// WriteClassifyStart / WriteClassifyResult bracket classification.
	WriteClassifyStart() error
	WriteClassifyResult(verdict *datatypes.ClassifySummary) error

	// WriteDecomposeStart / WriteDecomposeResult bracket decomposition.
	WriteDecomposeStart() error
	WriteDecomposeResult(out *datatypes.DecomposeOutput) error

	// WriteServerError reports a failure. Emitted before model.end it
	// marks the stream failed; after model.end the client may keep the
	// already-streamed draft and wait for done.
	WriteServerError(errMsg, detail, code string) error

	// WriteDone writes the single terminal event and ends the stream.
	WriteDone(attempt *datatypes.AttemptSummary, decompose *datatypes.DecomposeOutput) error

	// WriteKeepAlive sends an SSE comment (": ping") to hold the
	// connection open through load-balancer idle timeouts. Comments are
	// not events and do not advance the hash chain.
	WriteKeepAlive() error
}

// =============================================================================
// Implementation
// =============================================================================

// sseWriter wraps an http.ResponseWriter to emit SSE-formatted events,
// maintaining the per-stream hash chain under a mutex.
type sseWriter struct {
	writer   http.ResponseWriter
	flusher  http.Flusher
	prevHash string
	mu       sync.Mutex
}

var _ SSEWriter = (*sseWriter)(nil)

// NewSSEWriter creates an SSEWriter over w.
//
// # Inputs
//
//	w - HTTP ResponseWriter. Must implement http.Flusher.
//
// # Outputs
//
//	SSEWriter - Ready to write events.
//	error - Non-nil if w does not support flushing.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// WriteEvent writes one event to the response.
//
// # Description
//
// Populates Id, CreatedAt, Hash, and PrevHash, serializes to JSON, writes
// the SSE frame, and flushes immediately so every delta reaches the
// client without buffering.
func (w *sseWriter) WriteEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	event.Id = uuid.New().String()
	event.CreatedAt = time.Now().UnixMilli()
	event.PrevHash = w.prevHash
	event.Hash = computeEventHash(event)
	w.prevHash = event.Hash

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w.writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	w.flusher.Flush()
	return nil
}

// computeEventHash hashes the serialized event with its Hash field empty,
// so the hash covers every payload field without a hand-kept field list.
func computeEventHash(event datatypes.StreamEvent) string {
	event.Hash = ""
	data, err := json.Marshal(event)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (w *sseWriter) WriteModelStart(provider, model string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:     datatypes.EventModelStart,
		Provider: provider,
		Model:    model,
		Ts:       time.Now().UnixMilli(),
	})
}

func (w *sseWriter) WriteDelta(text string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type: datatypes.EventModelDelta,
		Text: text,
	})
}

func (w *sseWriter) WriteModelSwitch(to string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type: datatypes.EventModelSwitch,
		To:   to,
	})
}

func (w *sseWriter) WriteModelEnd(duration time.Duration, length int) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:       datatypes.EventModelEnd,
		DurationMs: duration.Milliseconds(),
		Length:     length,
	})
}

func (w *sseWriter) WriteClassifyStart() error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type: datatypes.EventClassifyStart,
		Ts:   time.Now().UnixMilli(),
	})
}

func (w *sseWriter) WriteClassifyResult(verdict *datatypes.ClassifySummary) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:           datatypes.EventClassifyResult,
		Status:         verdict.Status,
		FinalStatement: verdict.FinalStatement,
		VariantType:    verdict.VariantType,
		Explanation:    verdict.Explanation,
	})
}

func (w *sseWriter) WriteDecomposeStart() error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type: datatypes.EventDecomposeStart,
		Ts:   time.Now().UnixMilli(),
	})
}

func (w *sseWriter) WriteDecomposeResult(out *datatypes.DecomposeOutput) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:           datatypes.EventDecomposeResult,
		SublemmasCount: len(out.Sublemmas),
		ProvedLen:      len(out.ProvedStatement),
		NormLen:        len(out.NormalizedProof),
	})
}

func (w *sseWriter) WriteServerError(errMsg, detail, code string) error {
	return w.WriteEvent(datatypes.StreamEvent{
		Type:   datatypes.EventServerError,
		Error:  errMsg,
		Detail: detail,
		Code:   code,
	})
}

func (w *sseWriter) WriteDone(attempt *datatypes.AttemptSummary, decompose *datatypes.DecomposeOutput) error {
	success := true
	return w.WriteEvent(datatypes.StreamEvent{
		Type:      datatypes.EventDone,
		Success:   &success,
		Attempt:   attempt,
		Decompose: decompose,
	})
}

func (w *sseWriter) WriteKeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, ": ping\n\n"); err != nil {
		return fmt.Errorf("write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// SetSSEHeaders sets the response headers for an SSE stream: no caching,
// no proxy buffering, connection held open.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
