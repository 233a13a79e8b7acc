// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lemmalab/proofbench/services/llm"
	"github.com/lemmalab/proofbench/services/prover/datatypes"
	"github.com/lemmalab/proofbench/services/prover/observability"
)

// Attempt handles POST /v1/attempt.
//
// # Description
//
// The unary tier: the whole attempt runs server-side and returns a single
// JSON body. This is the last-resort transport for clients whose
// environment breaks SSE entirely, so there are no interim events and no
// partial drafts. Decomposition runs inline for PROVED_AS_IS attempts and
// is skipped for everything else.
func (h *AttemptHandlers) Attempt(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "AttemptHandlers.Attempt")
	defer span.End()

	var req datatypes.AttemptRequest
	err := c.ShouldBindJSON(&req)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		observability.DefaultMetrics.RecordError(observability.EndpointAttemptUnary, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Success: false,
			Error:   "invalid request body",
			Detail:  err.Error(),
		})
		return
	}
	span.SetAttributes(attribute.Int("attempt.problem_length", len(req.Problem)))

	attempt, err := h.attempt.Run(ctx, req.Problem)
	if err != nil {
		h.writeJSONError(c, observability.EndpointAttemptUnary, err)
		return
	}

	resp := datatypes.AttemptResponse{Attempt: attempt}
	if attempt.Status == datatypes.StatusProvedAsIs && attempt.RawProof != nil {
		decomp, derr := h.decompose.Decompose(ctx, *attempt.RawProof)
		if derr == nil {
			resp.Decompose = decomp
		}
		// Decomposition failure keeps the attempt result usable.
	}

	observability.DefaultMetrics.RecordRequest(observability.EndpointAttemptUnary, true)
	c.JSON(http.StatusOK, resp)
}

// ClassifyProof handles POST /v1/classify, judging an already-drafted
// proof against its statement without rerunning the attempt.
func (h *AttemptHandlers) ClassifyProof(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "AttemptHandlers.ClassifyProof")
	defer span.End()

	var req datatypes.ClassifyRequest
	err := c.ShouldBindJSON(&req)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		observability.DefaultMetrics.RecordError(observability.EndpointClassify, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Success: false,
			Error:   "invalid request body",
			Detail:  err.Error(),
		})
		return
	}
	span.SetAttributes(attribute.Int("classify.proof_length", len(req.RawProof)))

	summary, err := h.classify.Classify(ctx, req.Problem, req.RawProof)
	if err != nil {
		h.writeJSONError(c, observability.EndpointClassify, err)
		return
	}

	observability.DefaultMetrics.RecordRequest(observability.EndpointClassify, true)
	c.JSON(http.StatusOK, summary)
}

// DecomposeProof handles POST /v1/decompose.
func (h *AttemptHandlers) DecomposeProof(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "AttemptHandlers.DecomposeProof")
	defer span.End()

	var req datatypes.DecomposeRequest
	err := c.ShouldBindJSON(&req)
	if err == nil {
		err = req.Validate()
	}
	if err != nil {
		observability.DefaultMetrics.RecordError(observability.EndpointDecompose, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Success: false,
			Error:   "invalid request body",
			Detail:  err.Error(),
		})
		return
	}
	span.SetAttributes(attribute.Int("decompose.proof_length", len(req.RawProof)))

	out, err := h.decompose.Decompose(ctx, req.RawProof)
	if err != nil {
		h.writeJSONError(c, observability.EndpointDecompose, err)
		return
	}

	observability.DefaultMetrics.RecordRequest(observability.EndpointDecompose, true)
	c.JSON(http.StatusOK, out)
}

// writeJSONError maps a service failure to the shared error envelope.
// Rate-limited upstreams surface as 503 so clients can back off; malformed
// or rejected model output is a 502 from the caller's point of view.
func (h *AttemptHandlers) writeJSONError(c *gin.Context, endpoint observability.Endpoint, err error) {
	status := http.StatusBadGateway
	code := errCode(err)
	errorCode := observability.ErrorCodeGeneration
	if code == llm.CodeModelRateLimit {
		status = http.StatusServiceUnavailable
		errorCode = observability.ErrorCodeRateLimit
	}
	observability.DefaultMetrics.RecordError(endpoint, errorCode)
	observability.DefaultMetrics.RecordRequest(endpoint, false)
	c.JSON(status, datatypes.ErrorResponse{
		Success: false,
		Error:   publicError(err),
		Code:    code,
	})
}
