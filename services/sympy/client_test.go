// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package sympy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeWorker answers worker messages with a scripted handler and records
// the decoded messages it received.
func fakeWorker(t *testing.T, handle func(msg workerMessage) Result) (*Client, *[]workerMessage) {
	t.Helper()
	var received []workerMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var msg workerMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decode worker message: %v", err)
		}
		received = append(received, msg)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handle(msg))
	}))
	t.Cleanup(server.Close)
	return NewClient(server.URL), &received
}

// TestRunDsolveLegacyNotation verifies the legacy free-text ODE is
// normalized before it reaches the worker and a general solution comes
// back.
func TestRunDsolveLegacyNotation(t *testing.T) {
	t.Parallel()

	client, received := fakeWorker(t, func(msg workerMessage) Result {
		return Result{
			OK:          true,
			Op:          OpDsolve,
			ResultLatex: `y{\left(x \right)} = C_{1} \sin{\left(3 x \right)} + C_{2} \cos{\left(3 x \right)}`,
			ResultText:  "Eq(y(x), C1*sin(3*x) + C2*cos(3*x))",
		}
	})

	res, err := client.Run(context.Background(), Spec{Op: OpDsolve, ODE: "y'' + 9y = 0"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !res.OK {
		t.Fatalf("Run() not ok: %s", res.Error)
	}
	if res.ResultLatex == "" || !strings.Contains(res.ResultLatex, "C_{1}") {
		t.Errorf("ResultLatex = %q, want general solution form", res.ResultLatex)
	}

	if len(*received) != 1 {
		t.Fatalf("worker received %d messages, want 1", len(*received))
	}
	sent := (*received)[0]
	if sent.Type != "run" || sent.Spec == nil {
		t.Fatalf("worker received %+v, want run message with spec", sent)
	}
	if want := "Derivative(y(x), x, 2) + 9*y(x) = 0"; sent.Spec.ODE != want {
		t.Errorf("sent ODE = %q, want %q", sent.Spec.ODE, want)
	}
}

// TestRunDsolveStructuredSkipsHeuristic verifies structured lhs/rhs input
// bypasses ODE normalization entirely.
func TestRunDsolveStructuredSkipsHeuristic(t *testing.T) {
	t.Parallel()

	client, received := fakeWorker(t, func(msg workerMessage) Result {
		return Result{OK: true, Op: OpDsolve}
	})

	spec := Spec{
		Op:  OpDsolve,
		LHS: "Derivative(y(x), x, 2) + 9*y(x)",
		RHS: "0",
		ODE: "y'' + 9y = 0",
	}
	if _, err := client.Run(context.Background(), spec); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := (*received)[0].Spec.ODE; got != "y'' + 9y = 0" {
		t.Errorf("sent ODE = %q, want untouched legacy field", got)
	}
}

// TestRunVerifyFalse verifies an inequality reports meta truth "false".
func TestRunVerifyFalse(t *testing.T) {
	t.Parallel()

	client, _ := fakeWorker(t, func(msg workerMessage) Result {
		return Result{
			OK:         true,
			Op:         OpVerify,
			ResultText: "1 != 2",
			Meta:       map[string]string{"truth": "false"},
		}
	})

	res, err := client.Run(context.Background(), Spec{Op: OpVerify, LHS: "1", RHS: "2"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Meta["truth"] != "false" {
		t.Errorf(`Meta["truth"] = %q, want "false"`, res.Meta["truth"])
	}
}

// TestRunWorkerFailure verifies a worker-side failure surfaces as an
// ok=false result, not a transport error.
func TestRunWorkerFailure(t *testing.T) {
	t.Parallel()

	client, _ := fakeWorker(t, func(msg workerMessage) Result {
		return Result{OK: false, Error: "could not parse expression"}
	})

	res, err := client.Run(context.Background(), Spec{Op: OpSimplify, Expr: "(("})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.OK {
		t.Fatal("Run() ok = true, want false")
	}
	if res.Error != "could not parse expression" {
		t.Errorf("Error = %q", res.Error)
	}
}

// TestRunMissingOp verifies a spec without an op is rejected locally.
func TestRunMissingOp(t *testing.T) {
	t.Parallel()

	client := NewClient("http://localhost:1")
	if _, err := client.Run(context.Background(), Spec{Expr: "x"}); err == nil {
		t.Fatal("Run() expected error for missing op, got nil")
	}
}

// TestPreload verifies the preload handshake.
func TestPreload(t *testing.T) {
	t.Parallel()

	client, received := fakeWorker(t, func(msg workerMessage) Result {
		return Result{OK: true}
	})

	if err := client.Preload(context.Background()); err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	if (*received)[0].Type != "preload" {
		t.Errorf("message type = %q, want preload", (*received)[0].Type)
	}
}

// TestPreloadFailure verifies a not-ready worker surfaces as an error.
func TestPreloadFailure(t *testing.T) {
	t.Parallel()

	client, _ := fakeWorker(t, func(msg workerMessage) Result {
		return Result{OK: false, Error: "interpreter boot failed"}
	})

	if err := client.Preload(context.Background()); err == nil {
		t.Fatal("Preload() expected error, got nil")
	}
}
