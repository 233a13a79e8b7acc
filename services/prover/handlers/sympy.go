// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/lemmalab/proofbench/services/prover/datatypes"
	"github.com/lemmalab/proofbench/services/prover/observability"
	"github.com/lemmalab/proofbench/services/sympy"
)

// SympyHandlers proxies symbolic-math requests to the worker process.
//
// # Description
//
// The worker speaks a small JSON protocol over HTTP and owns all
// expression parsing; this layer only validates the envelope, forwards,
// and records outcomes. Worker-side computation failures come back as
// ok=false results with HTTP 200 so clients can distinguish "the math is
// wrong" from "the worker is down".
//
// # Thread Safety
//
// Safe for concurrent use.
type SympyHandlers struct {
	client *sympy.Client
}

// NewSympyHandlers wires the sympy endpoints to a worker client.
func NewSympyHandlers(client *sympy.Client) *SympyHandlers {
	return &SympyHandlers{client: client}
}

// Run handles POST /v1/sympy/run.
func (h *SympyHandlers) Run(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "SympyHandlers.Run")
	defer span.End()

	var spec sympy.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		observability.DefaultMetrics.RecordError(observability.EndpointSympy, observability.ErrorCodeValidation)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Success: false,
			Error:   "invalid request body",
			Detail:  err.Error(),
		})
		return
	}
	span.SetAttributes(attribute.String("sympy.op", spec.Op))

	result, err := h.client.Run(ctx, spec)
	if err != nil {
		slog.Error("Sympy worker unreachable", "op", spec.Op, "error", err)
		observability.DefaultMetrics.RecordSympyRun(spec.Op, "unreachable")
		observability.DefaultMetrics.RecordError(observability.EndpointSympy, observability.ErrorCodeSympyWorker)
		c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{
			Success: false,
			Error:   "sympy worker unavailable",
		})
		return
	}

	status := "ok"
	if !result.OK {
		status = "failed"
	}
	observability.DefaultMetrics.RecordSympyRun(spec.Op, status)
	observability.DefaultMetrics.RecordRequest(observability.EndpointSympy, result.OK)
	c.JSON(http.StatusOK, result)
}

// Preload handles POST /v1/sympy/preload, asking the worker to warm its
// interpreter so the first real computation does not pay import cost.
func (h *SympyHandlers) Preload(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "SympyHandlers.Preload")
	defer span.End()

	if err := h.client.Preload(ctx); err != nil {
		slog.Warn("Sympy preload failed", "error", err)
		observability.DefaultMetrics.RecordSympyRun("preload", "unreachable")
		c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{
			Success: false,
			Error:   "sympy worker unavailable",
		})
		return
	}
	observability.DefaultMetrics.RecordSympyRun("preload", "ok")
	c.JSON(http.StatusOK, gin.H{"success": true})
}
