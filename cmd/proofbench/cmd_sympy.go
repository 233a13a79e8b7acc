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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lemmalab/proofbench/pkg/ux"
	"github.com/lemmalab/proofbench/services/sympy"
)

// runSympy submits one symbolic job through the prover service and
// renders the worker's reply.
func runSympy(cmd *cobra.Command, args []string) error {
	spec := sympy.Spec{
		Op:   sympyOp,
		Expr: sympyExpr,
		LHS:  sympyLHS,
		RHS:  sympyRHS,
		ODE:  sympyODE,
		Var:  sympyVar,
	}

	body, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode spec: %w", err)
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
		serverURL+"/v1/sympy/run", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call prover service: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var result sympy.Result
	if err := json.Unmarshal(payload, &result); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if !result.OK {
		if result.Error != "" {
			return fmt.Errorf("sympy %s failed: %s", spec.Op, result.Error)
		}
		return fmt.Errorf("sympy %s failed (status %d)", spec.Op, resp.StatusCode)
	}

	renderSympyResult(result)
	return nil
}

func renderSympyResult(result sympy.Result) {
	if result.ResultText != "" {
		fmt.Println(ux.Styles.Bold.Render(result.ResultText))
	}
	if result.ResultLatex != "" {
		fmt.Println(ux.Styles.Muted.Render(result.ResultLatex))
	}
	if truth, ok := result.Meta["truth"]; ok {
		switch truth {
		case "true":
			ux.Success("identity holds")
		case "false":
			ux.Error("identity does not hold")
		default:
			ux.Warn("identity could not be decided")
		}
	}
	for _, w := range result.Warnings {
		ux.Warn("%s", w)
	}
}
