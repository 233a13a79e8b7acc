// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the prover service.
package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ClientLimiter implements per-client-IP token-bucket rate limiting.
//
// # Description
//
// Each client IP gets its own rate.Limiter created on first request.
// The attempt endpoints fan out to paid model providers, so the limiter
// sits in front of them to keep one browser tab from burning quota.
//
// # Thread Safety
//
// Safe for concurrent use.
type ClientLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewClientLimiter creates a limiter allowing requestsPerSecond sustained
// with the given burst per client IP.
func NewClientLimiter(requestsPerSecond float64, burst int) *ClientLimiter {
	if burst <= 0 {
		burst = 3
	}
	return &ClientLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

// Allow reports whether a request from the given client may proceed.
func (l *ClientLimiter) Allow(clientIP string) bool {
	return l.getLimiter(clientIP).Allow()
}

// getLimiter returns the limiter for a client, creating it on first use.
func (l *ClientLimiter) getLimiter(clientIP string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[clientIP]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[clientIP]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.rate, l.burst)
	l.limiters[clientIP] = limiter
	return limiter
}

// RateLimitMiddleware rejects over-limit requests with 429.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.RateLimitMiddleware(middleware.NewClientLimiter(1, 3)))
func RateLimitMiddleware(limiter *ClientLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests",
			})
			return
		}
		c.Next()
	}
}
