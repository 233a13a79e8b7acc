// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package sympy talks to the sandboxed symbolic-computation worker.
//
// # Description
//
// The worker is a Python sidecar reached over HTTP. It evaluates small
// symbolic jobs (equality verification, simplification, calculus, equation
// and ODE solving) deterministically, as a side-channel next to the LLM
// services. This package only speaks the wire protocol; the symbolic
// algorithms live in the worker.
package sympy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// Supported Spec operations.
const (
	OpVerify    = "verify"
	OpSimplify  = "simplify"
	OpDiff      = "diff"
	OpIntegrate = "integrate"
	OpSolve     = "solve"
	OpDsolve    = "dsolve"
)

// Spec is one symbolic job.
//
// Expr carries the input for the single-expression ops (simplify, diff,
// integrate). LHS/RHS carry the two sides for verify and solve, and are
// the preferred structured input for dsolve. ODE is the legacy free-text
// ODE notation; it is heuristically normalized before sending and is only
// consulted when LHS is empty.
type Spec struct {
	Op   string `json:"op" binding:"required"`
	Expr string `json:"expr,omitempty"`
	LHS  string `json:"lhs,omitempty"`
	RHS  string `json:"rhs,omitempty"`
	ODE  string `json:"ode,omitempty"`
	Var  string `json:"var,omitempty"`
}

// Result is the worker's reply.
//
// On success OK is true and ResultLatex/ResultText hold the rendered
// output; Meta carries op-specific extras (verify sets meta["truth"] to
// "true", "false", or "error"). On failure OK is false and Error holds
// the worker's message.
type Result struct {
	OK          bool              `json:"ok"`
	Op          string            `json:"op,omitempty"`
	ResultLatex string            `json:"result_latex,omitempty"`
	ResultText  string            `json:"result_text,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
	Error       string            `json:"error,omitempty"`
}

type workerMessage struct {
	Type string `json:"type"`
	Spec *Spec  `json:"spec,omitempty"`
}

// Client is an HTTP client for one worker instance.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a worker client. An empty baseURL falls back to
// SYMPY_WORKER_URL, then to the local sidecar default.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("SYMPY_WORKER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8100"
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Preload asks the worker to initialize its symbolic environment.
//
// # Description
//
// The worker boots lazily; the first Run after a cold start pays the
// interpreter warmup. Preload triggers that warmup eagerly and returns
// once the worker reports ready.
func (c *Client) Preload(ctx context.Context) error {
	res, err := c.post(ctx, workerMessage{Type: "preload"})
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("sympy worker preload failed: %s", res.Error)
	}
	slog.Debug("SymPy worker preloaded")
	return nil
}

// Run submits one symbolic job.
//
// # Description
//
// A dsolve spec carrying only legacy free-text ODE notation is normalized
// into derivative notation first (see NormalizeODE). Worker-reported
// failures come back as a Result with OK=false, not as a Go error; the
// error return covers transport and protocol failures only.
//
// # Inputs
//
//	ctx - Bounds the request.
//	spec - The job. Op is required.
//
// # Outputs
//
//	*Result - The worker's reply, including worker-side failures.
//	error - Non-nil for transport or decode failures.
func (c *Client) Run(ctx context.Context, spec Spec) (*Result, error) {
	if spec.Op == "" {
		return nil, fmt.Errorf("sympy spec missing op")
	}
	if spec.Op == OpDsolve && spec.LHS == "" && spec.ODE != "" {
		spec.ODE = NormalizeODE(spec.ODE)
	}
	return c.post(ctx, workerMessage{Type: "run", Spec: &spec})
}

func (c *Client) post(ctx context.Context, msg workerMessage) (*Result, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal worker message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/run", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sympy worker request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read worker response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sympy worker returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var res Result
	if err := json.Unmarshal(bodyBytes, &res); err != nil {
		return nil, fmt.Errorf("failed to parse worker response: %w", err)
	}
	return &res, nil
}
