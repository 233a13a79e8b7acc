// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lemmalab/proofbench/services/llm"
	"github.com/lemmalab/proofbench/services/prover/datatypes"
	"github.com/lemmalab/proofbench/services/prover/observability"
	"github.com/lemmalab/proofbench/services/prover/services"
)

var tracer = otel.Tracer("proofbench/services/prover/handlers")

// heartbeatInterval is how often SSE keepalive comments are sent while a
// stream is open. 15s stays under common load-balancer idle timeouts.
const heartbeatInterval = 15 * time.Second

// AttemptHandlers serves the proof-attempt endpoints across all three
// transport tiers.
//
// # Thread Safety
//
// Safe for concurrent use; all state is per-request.
type AttemptHandlers struct {
	attempt   *services.AttemptService
	classify  *services.ClassifyService
	decompose *services.DecomposeService
}

// NewAttemptHandlers wires the attempt endpoints to their services.
func NewAttemptHandlers(attempt *services.AttemptService, classify *services.ClassifyService, decompose *services.DecomposeService) *AttemptHandlers {
	return &AttemptHandlers{attempt: attempt, classify: classify, decompose: decompose}
}

// StreamAttemptGET handles GET /v1/attempt/stream?problem=...
//
// # Description
//
// The EventSource tier: the problem rides in the query string, so this
// tier is only usable for statements small enough to survive URL
// encoding. The event sequence is identical to the POST tier.
func (h *AttemptHandlers) StreamAttemptGET(c *gin.Context) {
	problem := strings.TrimSpace(c.Query("problem"))
	if problem == "" {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Success: false,
			Error:   "problem query parameter is required",
		})
		return
	}
	if err := (datatypes.AttemptRequest{Problem: problem}).Validate(); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Success: false,
			Error:   "invalid problem",
			Detail:  err.Error(),
		})
		return
	}
	h.streamAttempt(c, observability.EndpointAttemptStreamGet, problem)
}

// StreamAttemptPOST handles POST /v1/attempt/stream with body {problem}.
func (h *AttemptHandlers) StreamAttemptPOST(c *gin.Context) {
	var req datatypes.AttemptRequest
	err := c.ShouldBindJSON(&req)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Success: false,
			Error:   "invalid request body",
			Detail:  err.Error(),
		})
		return
	}
	h.streamAttempt(c, observability.EndpointAttemptStreamPost, strings.TrimSpace(req.Problem))
}

// streamAttempt runs the shared streaming pipeline for both SSE tiers.
//
// # Description
//
// The event sequence on the happy path:
//
//	model.start (per candidate) -> model.delta* -> model.end
//	-> classify.start -> classify.result
//	-> [decompose.start -> decompose.result]   (PROVED_AS_IS only)
//	-> done
//
// A failure before model.end emits server-error and closes, telling the
// client to demote to the next transport tier. A failure after model.end
// emits server-error without discarding the streamed draft. Proof deltas
// are accumulated in locked memory; the finalize hash is reported in logs
// as the draft's content hash.
func (h *AttemptHandlers) streamAttempt(c *gin.Context, endpoint observability.Endpoint, problem string) {
	ctx, span := tracer.Start(c.Request.Context(), "AttemptHandlers.streamAttempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("attempt.endpoint", string(endpoint)),
		attribute.Int("attempt.problem_length", len(problem)),
	)

	// Step 1: Switch the response into SSE mode.
	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	writer, err := NewSSEWriter(c.Writer)
	if err != nil {
		slog.Error("Streaming unsupported by response writer", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Success: false,
			Error:   "streaming not supported",
		})
		return
	}

	metrics := observability.DefaultMetrics
	metrics.StreamStarted(endpoint)
	defer metrics.StreamEnded(endpoint)

	// Step 2: Heartbeat until the stream finishes.
	stopHeartbeat := startHeartbeat(writer, endpoint)
	defer stopHeartbeat()

	// Step 3: Stream the draft, accumulating in locked memory.
	acc := NewDraftAccumulator()
	defer acc.Destroy()

	start := time.Now()
	var mu sync.Mutex
	var activeModel string
	firstDelta := true

	winner, streamErr := h.attempt.StreamDraft(ctx, problem, llm.StreamHooks{
		OnStart: func(cand llm.Candidate) {
			mu.Lock()
			activeModel = cand.Model
			mu.Unlock()
			acc.Reset()
			if err := writer.WriteModelStart(cand.Provider, cand.Model); err != nil {
				slog.Debug("Client disconnected during model.start", "error", err)
			}
		},
		OnDelta: func(text string) error {
			if err := acc.Write(text); err != nil {
				return err
			}
			mu.Lock()
			model := activeModel
			mu.Unlock()
			metrics.RecordDelta(model)
			if firstDelta {
				firstDelta = false
				metrics.RecordTimeToFirstDelta(endpoint, time.Since(start).Seconds())
			}
			return writer.WriteDelta(text)
		},
		OnSwitch: func(to string) {
			mu.Lock()
			activeModel = to
			mu.Unlock()
			if err := writer.WriteModelSwitch(to); err != nil {
				slog.Debug("Client disconnected during model.switch", "error", err)
			}
		},
	})

	if streamErr != nil {
		h.failStream(c, writer, endpoint, streamErr, "draft generation failed")
		metrics.RecordStreamDuration(endpoint, time.Since(start).Seconds(), false)
		return
	}

	draft, draftHash, err := acc.Finalize()
	if err != nil || strings.TrimSpace(draft) == "" {
		h.failStream(c, writer, endpoint, errors.New(services.AttemptFailureMessage), "empty draft")
		metrics.RecordStreamDuration(endpoint, time.Since(start).Seconds(), false)
		return
	}
	metrics.RecordCandidate(winner.Provider, winner.Model, "success")

	if err := writer.WriteModelEnd(time.Since(start), len(draft)); err != nil {
		metrics.RecordClientDisconnect(endpoint)
		return
	}
	slog.Info("Draft streamed",
		"endpoint", string(endpoint),
		"candidate", winner.String(),
		"length", len(draft),
		"content_hash", draftHash,
	)

	// Step 4: Classify the finished draft. Failures from here on are
	// post-model.end: the client keeps the draft it watched stream.
	if err := writer.WriteClassifyStart(); err != nil {
		metrics.RecordClientDisconnect(endpoint)
		return
	}
	verdict, err := h.classify.Classify(ctx, problem, draft)
	if err != nil {
		slog.Error("Post-draft classification failed", "error", err)
		metrics.RecordError(endpoint, observability.ErrorCodeGeneration)
		_ = writer.WriteServerError("classification failed", err.Error(), errCode(err))
		metrics.RecordStreamDuration(endpoint, time.Since(start).Seconds(), false)
		return
	}
	if err := writer.WriteClassifyResult(verdict); err != nil {
		metrics.RecordClientDisconnect(endpoint)
		return
	}

	attempt := summaryFromVerdict(verdict, draft)

	// Step 5: Decompose server-side only for PROVED_AS_IS. A variant
	// waits behind the client's accept gate, and FAILED has no proof.
	var decomp *datatypes.DecomposeOutput
	if attempt.Status == datatypes.StatusProvedAsIs {
		if err := writer.WriteDecomposeStart(); err != nil {
			metrics.RecordClientDisconnect(endpoint)
			return
		}
		decomp, err = h.decompose.Decompose(ctx, draft)
		if err != nil {
			// Non-fatal: the raw proof stands on its own.
			slog.Warn("Background decomposition failed", "error", err)
			metrics.RecordError(endpoint, observability.ErrorCodeGeneration)
			_ = writer.WriteServerError("decomposition failed", err.Error(), errCode(err))
			decomp = nil
		} else if err := writer.WriteDecomposeResult(decomp); err != nil {
			metrics.RecordClientDisconnect(endpoint)
			return
		}
	}

	// Step 6: Terminal event.
	if err := writer.WriteDone(attempt, decomp); err != nil {
		metrics.RecordClientDisconnect(endpoint)
		return
	}
	metrics.RecordRequest(endpoint, true)
	metrics.RecordStreamDuration(endpoint, time.Since(start).Seconds(), true)
}

// failStream emits a pre-model.end server-error, which tells the client
// this tier is dead and it should demote.
func (h *AttemptHandlers) failStream(c *gin.Context, writer SSEWriter, endpoint observability.Endpoint, err error, detail string) {
	metrics := observability.DefaultMetrics
	if c.Request.Context().Err() != nil {
		metrics.RecordClientDisconnect(endpoint)
		return
	}

	code := errCode(err)
	if code == llm.CodeModelRateLimit {
		metrics.RecordError(endpoint, observability.ErrorCodeRateLimit)
	} else {
		metrics.RecordError(endpoint, observability.ErrorCodeGeneration)
	}
	metrics.RecordRequest(endpoint, false)
	slog.Error("Attempt stream failed", "endpoint", string(endpoint), "error", err, "detail", detail)
	_ = writer.WriteServerError(publicError(err), detail, code)
}

// startHeartbeat launches the keepalive goroutine and returns its stop
// function. Stopping is idempotent through sync.OnceFunc.
func startHeartbeat(writer SSEWriter, endpoint observability.Endpoint) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := writer.WriteKeepAlive(); err != nil {
					return
				}
				observability.DefaultMetrics.RecordKeepAlive(endpoint)
			}
		}
	}()
	return sync.OnceFunc(func() { close(done) })
}

// summaryFromVerdict lifts a classification verdict plus the streamed
// draft into the full attempt shape, honoring the FAILED field policy.
func summaryFromVerdict(verdict *datatypes.ClassifySummary, draft string) *datatypes.AttemptSummary {
	attempt := &datatypes.AttemptSummary{
		Status:         verdict.Status,
		FinalStatement: verdict.FinalStatement,
		VariantType:    verdict.VariantType,
		Explanation:    verdict.Explanation,
	}
	if verdict.Status != datatypes.StatusFailed {
		d := draft
		attempt.RawProof = &d
	}
	return attempt
}

// errCode extracts the normalized gateway code, if any.
func errCode(err error) string {
	var ge *llm.GatewayError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ""
}

// publicError returns a client-safe error message.
func publicError(err error) string {
	var ge *llm.GatewayError
	if errors.As(err, &ge) {
		return ge.Message
	}
	return err.Error()
}
