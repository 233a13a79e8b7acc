// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Rate Limit Tests
// =============================================================================

func TestRateLimit_AllowsWithinBurst(t *testing.T) {
	router := gin.New()
	router.Use(RateLimitMiddleware(NewClientLimiter(1, 3)))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, "request %d within burst should pass", i)
	}
}

func TestRateLimit_RejectsOverBurst(t *testing.T) {
	router := gin.New()
	// Sustained rate near zero so the bucket does not refill mid-test.
	router.Use(RateLimitMiddleware(NewClientLimiter(0.001, 2)))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/ping", nil)
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, http.StatusOK, codes[0])
	assert.Equal(t, http.StatusOK, codes[1])
	assert.Equal(t, http.StatusTooManyRequests, codes[2])
}

func TestRateLimit_BurstFloor(t *testing.T) {
	limiter := NewClientLimiter(1, 0)
	assert.True(t, limiter.Allow("10.0.0.1"), "zero burst should fall back to a usable default")
}

// =============================================================================
// Request ID Tests
// =============================================================================

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/ping", nil)
	router.ServeHTTP(w, req)

	require.NotEmpty(t, seen)
	_, err := uuid.Parse(seen)
	assert.NoError(t, err, "generated id should be a UUID")
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader), "id should echo on the response")
}

func TestRequestID_HonorsClientSupplied(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = GetRequestID(c)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/ping", nil)
	req.Header.Set(RequestIDHeader, "client-chosen-id")
	router.ServeHTTP(w, req)

	assert.Equal(t, "client-chosen-id", seen)
	assert.Equal(t, "client-chosen-id", w.Header().Get(RequestIDHeader))
}
