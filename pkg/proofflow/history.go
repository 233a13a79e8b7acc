// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proofflow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

// VersionType distinguishes raw drafts from structured decompositions.
type VersionType string

const (
	VersionRaw        VersionType = "raw"
	VersionStructured VersionType = "structured"
)

// StructuredContent is the decomposition payload of a structured version.
type StructuredContent struct {
	ProvedStatement string `json:"provedStatement"`
	NormalizedProof string `json:"normalizedProof"`
}

// ValidationResult caches an AI review of a version's content. It is
// keyed to SourceHash; a content change elsewhere invalidates it.
type ValidationResult struct {
	IsValid    bool      `json:"isValid"`
	IsError    bool      `json:"isError"`
	Feedback   string    `json:"feedback"`
	Timestamp  time.Time `json:"timestamp"`
	SourceType string    `json:"sourceType"`
	SourceHash string    `json:"sourceHash"`
}

// ProofVersion is one immutable entry in the proof history.
//
// # Description
//
// Raw versions carry the draft text and a whole-number version ("3");
// structured versions carry the normalized text plus sublemmas and a
// dotted version under their raw parent's major ("3.1", "3.2"). Entries
// are never mutated after append; edits create new versions.
type ProofVersion struct {
	ID            string               `json:"id"`
	Type          VersionType          `json:"type"`
	VersionNumber string               `json:"versionNumber"`
	BaseMajor     int                  `json:"baseMajor"`
	Content       string               `json:"content"`
	Structured    *StructuredContent   `json:"structured,omitempty"`
	Sublemmas     []datatypes.Sublemma `json:"sublemmas,omitempty"`
	UserEdited    bool                 `json:"userEdited"`
	Derived       bool                 `json:"derived"`
	Timestamp     time.Time            `json:"timestamp"`
	SourceHash    string               `json:"sourceHash"`

	Validation     *ValidationResult        `json:"validation,omitempty"`
	StepValidation map[int]ValidationResult `json:"stepValidation,omitempty"`
	GraphHash      string                   `json:"graphHash,omitempty"`
}

// ContentHash returns the sha256 hex digest of s, the key used for
// validation-cache and duplicate-decomposition checks.
func ContentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// History is the append-only, branching log of proof versions.
//
// # Description
//
// Raw majors are monotonically increasing and never reused, even after
// deletion. Deleting a raw version cascades to every structured version
// sharing its major; deleting the only structured version of a major
// also deletes that major's raw version, leaving no raw-only group
// behind. The active index is clamped after every mutation.
//
// # Thread Safety
//
// Safe for concurrent use.
type History struct {
	mu        sync.RWMutex
	versions  []ProofVersion
	activeIdx int
	nextMajor int
}

// NewHistory creates an empty history. Majors start at 1.
func NewHistory() *History {
	return &History{nextMajor: 1}
}

// CommitRaw appends a raw version with the next major number and makes
// it active.
func (h *History) CommitRaw(content string, userEdited bool) ProofVersion {
	h.mu.Lock()
	defer h.mu.Unlock()

	major := h.nextMajor
	h.nextMajor++
	v := ProofVersion{
		ID:            uuid.New().String(),
		Type:          VersionRaw,
		VersionNumber: fmt.Sprintf("%d", major),
		BaseMajor:     major,
		Content:       content,
		UserEdited:    userEdited,
		Timestamp:     time.Now(),
		SourceHash:    ContentHash(content),
	}
	h.versions = append(h.versions, v)
	h.activeIdx = len(h.versions) - 1
	return v
}

// CommitStructured appends a structured version under baseMajor with the
// next free minor number.
//
// # Inputs
//
//	baseMajor - Major of an existing raw version.
//	out - The decomposition result. Sublemmas must be non-empty.
//	derived - True when produced by decomposition rather than user edit.
//	activate - When true the new version becomes active.
func (h *History) CommitStructured(baseMajor int, out *datatypes.DecomposeOutput, derived, activate bool) (ProofVersion, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.hasRawMajorLocked(baseMajor) {
		return ProofVersion{}, fmt.Errorf("no raw version with major %d", baseMajor)
	}

	minor := 1
	for _, v := range h.versions {
		if v.Type == VersionStructured && v.BaseMajor == baseMajor {
			minor++
		}
	}

	v := ProofVersion{
		ID:            uuid.New().String(),
		Type:          VersionStructured,
		VersionNumber: fmt.Sprintf("%d.%d", baseMajor, minor),
		BaseMajor:     baseMajor,
		Content:       out.NormalizedProof,
		Structured: &StructuredContent{
			ProvedStatement: out.ProvedStatement,
			NormalizedProof: out.NormalizedProof,
		},
		Sublemmas:  out.Sublemmas,
		Derived:    derived,
		UserEdited: !derived,
		Timestamp:  time.Now(),
		SourceHash: ContentHash(out.NormalizedProof),
	}
	h.versions = append(h.versions, v)
	if activate {
		h.activeIdx = len(h.versions) - 1
	}
	h.clampActiveLocked()
	return v, nil
}

// Delete removes the version with the given id, applying both cascade
// rules, and reports whether anything was removed.
func (h *History) Delete(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := -1
	for i, v := range h.versions {
		if v.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	target := h.versions[idx]

	drop := map[string]bool{id: true}
	switch target.Type {
	case VersionRaw:
		// Removing a raw version orphans its decompositions.
		for _, v := range h.versions {
			if v.Type == VersionStructured && v.BaseMajor == target.BaseMajor {
				drop[v.ID] = true
			}
		}
	case VersionStructured:
		// Removing the sole structured version leaves a raw-only group,
		// which is treated as incomplete and removed with it.
		siblings := 0
		for _, v := range h.versions {
			if v.Type == VersionStructured && v.BaseMajor == target.BaseMajor {
				siblings++
			}
		}
		if siblings == 1 {
			for _, v := range h.versions {
				if v.Type == VersionRaw && v.BaseMajor == target.BaseMajor {
					drop[v.ID] = true
				}
			}
		}
	}

	kept := h.versions[:0]
	for _, v := range h.versions {
		if !drop[v.ID] {
			kept = append(kept, v)
		}
	}
	h.versions = kept
	h.clampActiveLocked()
	return true
}

// SetActive makes the version with the given id active.
func (h *History) SetActive(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, v := range h.versions {
		if v.ID == id {
			h.activeIdx = i
			return true
		}
	}
	return false
}

// Active returns the active version, or false when the history is empty.
func (h *History) Active() (ProofVersion, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.versions) == 0 {
		return ProofVersion{}, false
	}
	return h.versions[h.activeIdx], true
}

// Versions returns a snapshot copy in append order.
func (h *History) Versions() []ProofVersion {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ProofVersion, len(h.versions))
	copy(out, h.versions)
	return out
}

// Len returns the number of versions.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.versions)
}

// FindRawByContent returns the raw version whose content equals text
// byte-for-byte, preferring the most recent match.
func (h *History) FindRawByContent(text string) (ProofVersion, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.versions) - 1; i >= 0; i-- {
		if h.versions[i].Type == VersionRaw && h.versions[i].Content == text {
			return h.versions[i], true
		}
	}
	return ProofVersion{}, false
}

// LatestRawMajor returns the highest major among surviving raw versions,
// or 0 when none remain.
func (h *History) LatestRawMajor() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	best := 0
	for _, v := range h.versions {
		if v.Type == VersionRaw && v.BaseMajor > best {
			best = v.BaseMajor
		}
	}
	return best
}

// SetValidation attaches a validation result to the version with the
// given id. The result is dropped later if the content hash it names no
// longer matches (see Validation).
func (h *History) SetValidation(id string, res ValidationResult) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, v := range h.versions {
		if v.ID == id {
			h.versions[i].Validation = &res
			return true
		}
	}
	return false
}

// Validation returns the cached validation result for id, or false when
// absent or stale (recorded against a different content hash).
func (h *History) Validation(id string) (ValidationResult, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, v := range h.versions {
		if v.ID == id {
			if v.Validation == nil || v.Validation.SourceHash != v.SourceHash {
				return ValidationResult{}, false
			}
			return *v.Validation, true
		}
	}
	return ValidationResult{}, false
}

func (h *History) hasRawMajorLocked(major int) bool {
	for _, v := range h.versions {
		if v.Type == VersionRaw && v.BaseMajor == major {
			return true
		}
	}
	return false
}

func (h *History) clampActiveLocked() {
	if len(h.versions) == 0 {
		h.activeIdx = 0
		return
	}
	if h.activeIdx >= len(h.versions) {
		h.activeIdx = len(h.versions) - 1
	}
	if h.activeIdx < 0 {
		h.activeIdx = 0
	}
}

// String renders a short listing for logs and the CLI.
func (h *History) String() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var b strings.Builder
	for i, v := range h.versions {
		marker := " "
		if i == h.activeIdx {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s v%s (%s, %d sublemmas)\n", marker, v.VersionNumber, v.Type, len(v.Sublemmas))
	}
	return b.String()
}
