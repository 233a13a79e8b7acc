// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes wires the prover's HTTP surface.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lemmalab/proofbench/services/prover/handlers"
	"github.com/lemmalab/proofbench/services/prover/middleware"
)

// SetupRoutes registers every prover endpoint on the router.
//
// # Description
//
// The three attempt tiers live side by side so a client can demote
// GET stream -> POST stream -> unary without renegotiating anything:
//
//	GET  /v1/attempt/stream   EventSource tier (problem in query string)
//	POST /v1/attempt/stream   fetch-SSE tier (problem in JSON body)
//	POST /v1/attempt          unary tier (single JSON response)
//
// Classify and decompose are also exposed standalone for drafts that
// arrived outside the attempt pipeline (pasted or edited proofs).
//
// The limiter guards only /v1 routes; /health and /metrics stay open
// for probes and scrapers.
func SetupRoutes(router *gin.Engine, attempt *handlers.AttemptHandlers,
	sympy *handlers.SympyHandlers, limiter *middleware.ClientLimiter) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.RequestIDMiddleware())
	if limiter != nil {
		v1.Use(middleware.RateLimitMiddleware(limiter))
	}
	{
		v1.GET("/attempt/stream", attempt.StreamAttemptGET)
		v1.POST("/attempt/stream", attempt.StreamAttemptPOST)
		v1.POST("/attempt", attempt.Attempt)
		v1.POST("/classify", attempt.ClassifyProof)
		v1.POST("/decompose", attempt.DecomposeProof)
		// Symbolic math proxy routes
		sympyGroup := v1.Group("/sympy")
		{
			sympyGroup.POST("/run", sympy.Run)
			sympyGroup.POST("/preload", sympy.Preload)
		}
	}
}
