// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/lemmalab/proofbench/pkg/ux"
	"github.com/lemmalab/proofbench/services/llm"
	"github.com/lemmalab/proofbench/services/prover/handlers"
	"github.com/lemmalab/proofbench/services/prover/middleware"
	"github.com/lemmalab/proofbench/services/prover/observability"
	"github.com/lemmalab/proofbench/services/prover/routes"
	proverservices "github.com/lemmalab/proofbench/services/prover/services"
	"github.com/lemmalab/proofbench/services/sympy"
)

// runServe runs the prover service in the foreground. It is the same
// wiring as the standalone prover binary, minus the OTLP exporter:
// tracing spans still exist but stay local unless a collector-backed
// provider was installed by the environment.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	observability.InitMetrics()

	ux.Info("configuring the model gateway")
	gateway, err := llm.NewGateway(ctx, llm.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("initialize model gateway: %w", err)
	}

	attemptSvc := proverservices.NewAttemptService(gateway)
	classifySvc := proverservices.NewClassifyService(gateway)
	decomposeSvc := proverservices.NewDecomposeService(gateway)

	sympyClient := sympy.NewClient(os.Getenv("SYMPY_WORKER_URL"))
	go func() {
		preloadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := sympyClient.Preload(preloadCtx); err != nil {
			slog.Warn("Sympy worker preload failed; continuing without it", "error", err)
		}
	}()

	limiter := middleware.NewClientLimiter(serveRateFromEnv())

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(otelgin.Middleware("prover-service"))

	routes.SetupRoutes(router,
		handlers.NewAttemptHandlers(attemptSvc, classifySvc, decomposeSvc),
		handlers.NewSympyHandlers(sympyClient),
		limiter)

	server := &http.Server{
		Addr:    ":" + servePort,
		Handler: router,
		// No WriteTimeout: attempt streams stay open for minutes.
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ux.Success("prover server listening on port %s", servePort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down prover server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func serveRateFromEnv() (float64, int) {
	rps := 1.0
	if v := os.Getenv("PROVER_RATE_LIMIT_RPS"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			rps = parsed
		}
	}
	burst := 5
	if v := os.Getenv("PROVER_RATE_LIMIT_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			burst = parsed
		}
	}
	return rps, burst
}
