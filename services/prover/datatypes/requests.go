// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"github.com/go-playground/validator/v10"
)

const (
	// MaxProblemBytes bounds a submitted statement. Byte length, not
	// rune count, so oversized payloads are rejected before any model
	// call regardless of encoding.
	MaxProblemBytes = 16 * 1024 // 16KB

	// MaxProofBytes bounds a submitted draft for classify/decompose.
	MaxProofBytes = 256 * 1024 // 256KB
)

// validate is the shared validator for request datatypes. Initialized
// in init() with the custom byte-length rules.
var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("problembytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxProblemBytes
	})
	_ = validate.RegisterValidation("proofbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxProofBytes
	})
}

// AttemptRequest starts a proof attempt.
type AttemptRequest struct {
	Problem string `json:"problem" binding:"required" validate:"required,problembytes"`
}

// Validate enforces the bounds gin's binding tags do not cover.
func (r AttemptRequest) Validate() error {
	return validate.Struct(r)
}

// ClassifyRequest classifies an already-drafted proof against its problem.
type ClassifyRequest struct {
	Problem  string `json:"problem" binding:"required" validate:"required,problembytes"`
	RawProof string `json:"rawProof" binding:"required,min=10" validate:"required,min=10,proofbytes"`
}

func (r ClassifyRequest) Validate() error {
	return validate.Struct(r)
}

// DecomposeRequest structures a raw proof into sublemmas.
type DecomposeRequest struct {
	RawProof string `json:"rawProof" binding:"required,min=10" validate:"required,min=10,proofbytes"`
}

func (r DecomposeRequest) Validate() error {
	return validate.Struct(r)
}

// AttemptResponse is the non-streaming tier's single reply: the attempt
// plus, when the attempt produced proof text, its decomposition.
type AttemptResponse struct {
	Attempt   *AttemptSummary  `json:"attempt"`
	Decompose *DecomposeOutput `json:"decompose"`
}

// ErrorResponse is the uniform JSON error body.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
	Code    string `json:"code,omitempty"`
}
