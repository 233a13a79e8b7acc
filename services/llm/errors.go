// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	openai "github.com/sashabaranov/go-openai"
)

// CodeModelRateLimit is the only error code the gateway treats as
// retryable by advancing to the next candidate. Every other code (or the
// absence of one) stops candidate iteration immediately so a retry can
// never silently mask a real failure.
const CodeModelRateLimit = "MODEL_RATE_LIMIT"

// GatewayError is the normalized shape every raw provider error is mapped
// to before it leaves this package.
//
// Code is empty when the raw error carried nothing classifiable. Detail
// preserves the raw provider message for logs; Message is safe to show.
type GatewayError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

func (e *GatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Retryable reports whether the gateway may continue to the next candidate.
func (e *GatewayError) Retryable() bool {
	return e.Code == CodeModelRateLimit
}

// IsRateLimit reports whether err normalizes to a capacity error.
func IsRateLimit(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Retryable()
}

// httpStatusError carries a raw status for adapters that speak HTTP
// directly (Anthropic). The API error type string rides along because
// Anthropic reports overload both as 429 and as a 529 "overloaded_error".
type httpStatusError struct {
	status   int
	apiType  string
	message  string
	provider string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s API returned status %d: %s", e.provider, e.status, e.message)
}

// normalizeError maps a raw provider error to a GatewayError.
//
// # Description
//
// Classification is deliberately narrow: only provider signals that
// unambiguously mean "capacity" become MODEL_RATE_LIMIT. Ambiguous
// failures keep an empty code and therefore stop the candidate loop.
//
// # Inputs
//
//	provider - Provider name, used for the Detail prefix.
//	err - The raw error. A *GatewayError passes through unchanged.
//
// # Outputs
//
//	*GatewayError - Never nil when err is non-nil.
func normalizeError(provider string, err error) *GatewayError {
	if err == nil {
		return nil
	}

	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}

	// Gemini: the SDK surfaces HTTP failures as genai.APIError with the
	// canonical gRPC status string.
	var gerr genai.APIError
	if errors.As(err, &gerr) {
		out := &GatewayError{
			Message: gerr.Message,
			Detail:  fmt.Sprintf("%s: %v", provider, err),
		}
		if gerr.Code == http.StatusTooManyRequests || gerr.Status == "RESOURCE_EXHAUSTED" {
			out.Code = CodeModelRateLimit
			out.Message = "model is at capacity"
		}
		return out
	}

	var oerr *openai.APIError
	if errors.As(err, &oerr) {
		out := &GatewayError{
			Message: oerr.Message,
			Detail:  fmt.Sprintf("%s: %v", provider, err),
		}
		if oerr.HTTPStatusCode == http.StatusTooManyRequests || oerr.Type == "rate_limit_error" {
			out.Code = CodeModelRateLimit
			out.Message = "model is at capacity"
		}
		return out
	}

	var herr *httpStatusError
	if errors.As(err, &herr) {
		out := &GatewayError{
			Message: herr.message,
			Detail:  fmt.Sprintf("%s: %v", provider, err),
		}
		if herr.status == http.StatusTooManyRequests ||
			herr.apiType == "rate_limit_error" ||
			herr.apiType == "overloaded_error" {
			out.Code = CodeModelRateLimit
			out.Message = "model is at capacity"
		}
		return out
	}

	return &GatewayError{
		Message: err.Error(),
		Detail:  fmt.Sprintf("%s: %v", provider, err),
	}
}
