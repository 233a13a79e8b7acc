// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemmalab/proofbench/services/sympy"
)

func newSympyRouter(workerURL string) *gin.Engine {
	h := NewSympyHandlers(sympy.NewClient(workerURL))
	router := gin.New()
	router.POST("/v1/sympy/run", h.Run)
	router.POST("/v1/sympy/preload", h.Preload)
	return router
}

func TestSympyRun_ForwardsToWorker(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"op":"dsolve","result_latex":"y{\\left(x \\right)} = C_{1} e^{- x}","result_text":"Eq(y(x), C1*exp(-x))"}`))
	}))
	defer worker.Close()
	router := newSympyRouter(worker.URL)

	w := postJSON(t, router, "/v1/sympy/run", `{"op":"dsolve","ode":"y' + y = 0"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result sympy.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.True(t, result.OK)
	assert.Equal(t, "dsolve", result.Op)
	assert.Contains(t, result.ResultText, "C1*exp(-x)")
}

// TestSympyRun_WorkerFailureIs200 verifies a computation failure inside
// the worker comes back as an ok=false result, not a transport error.
func TestSympyRun_WorkerFailureIs200(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"op":"solve","error":"could not parse expression"}`))
	}))
	defer worker.Close()
	router := newSympyRouter(worker.URL)

	w := postJSON(t, router, "/v1/sympy/run", `{"op":"solve","expr":"x^^2"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result sympy.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "could not parse")
}

func TestSympyRun_WorkerDownIs502(t *testing.T) {
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	worker.Close() // unreachable from the start
	router := newSympyRouter(worker.URL)

	w := postJSON(t, router, "/v1/sympy/run", `{"op":"simplify","expr":"sin(x)**2 + cos(x)**2"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestSympyRun_MissingOp(t *testing.T) {
	router := newSympyRouter("http://localhost:1")

	w := postJSON(t, router, "/v1/sympy/run", `{"expr":"x + 1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSympyPreload(t *testing.T) {
	var gotType string
	worker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg map[string]any
		_ = json.NewDecoder(r.Body).Decode(&msg)
		gotType, _ = msg["type"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer worker.Close()
	router := newSympyRouter(worker.URL)

	w := postJSON(t, router, "/v1/sympy/preload", ``)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "preload", gotType)
}
