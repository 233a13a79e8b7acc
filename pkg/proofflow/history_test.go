// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proofflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

func decomposition(statement string) *datatypes.DecomposeOutput {
	return &datatypes.DecomposeOutput{
		ProvedStatement: statement,
		Sublemmas: []datatypes.Sublemma{
			{Title: "Base case", Statement: "n = 1 holds", Proof: "Direct check."},
		},
		NormalizedProof: "Normalized proof of " + statement,
	}
}

func TestHistory_MajorsAreMonotonic(t *testing.T) {
	h := NewHistory()

	v1 := h.CommitRaw("first draft", false)
	v2 := h.CommitRaw("second draft", false)
	assert.Equal(t, "1", v1.VersionNumber)
	assert.Equal(t, "2", v2.VersionNumber)

	require.True(t, h.Delete(v2.ID))

	// A deleted major is never reissued.
	v3 := h.CommitRaw("third draft", false)
	assert.Equal(t, "3", v3.VersionNumber)
	assert.Equal(t, 3, v3.BaseMajor)
}

func TestHistory_MinorNumberingPerMajor(t *testing.T) {
	h := NewHistory()
	v1 := h.CommitRaw("proof one", false)
	v2 := h.CommitRaw("proof two", false)

	s11, err := h.CommitStructured(v1.BaseMajor, decomposition("one"), true, false)
	require.NoError(t, err)
	s12, err := h.CommitStructured(v1.BaseMajor, decomposition("one again"), false, false)
	require.NoError(t, err)
	s21, err := h.CommitStructured(v2.BaseMajor, decomposition("two"), true, false)
	require.NoError(t, err)

	assert.Equal(t, "1.1", s11.VersionNumber)
	assert.Equal(t, "1.2", s12.VersionNumber)
	assert.Equal(t, "2.1", s21.VersionNumber)

	assert.True(t, s11.Derived)
	assert.False(t, s11.UserEdited)
	assert.False(t, s12.Derived)
	assert.True(t, s12.UserEdited)
}

func TestHistory_CommitStructuredRequiresRawMajor(t *testing.T) {
	h := NewHistory()
	_, err := h.CommitStructured(7, decomposition("orphan"), true, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no raw version with major 7")
}

func TestHistory_DeleteRawCascadesToStructured(t *testing.T) {
	h := NewHistory()
	v1 := h.CommitRaw("doomed", false)
	v2 := h.CommitRaw("survivor", false)
	_, err := h.CommitStructured(v1.BaseMajor, decomposition("doomed"), true, false)
	require.NoError(t, err)
	_, err = h.CommitStructured(v1.BaseMajor, decomposition("doomed edit"), false, false)
	require.NoError(t, err)

	require.True(t, h.Delete(v1.ID))

	require.Equal(t, 1, h.Len())
	remaining := h.Versions()
	assert.Equal(t, v2.ID, remaining[0].ID)
}

func TestHistory_DeletingSoleStructuredDeletesItsRaw(t *testing.T) {
	h := NewHistory()
	v1 := h.CommitRaw("paired", false)
	s, err := h.CommitStructured(v1.BaseMajor, decomposition("paired"), true, false)
	require.NoError(t, err)

	require.True(t, h.Delete(s.ID))
	assert.Equal(t, 0, h.Len())
}

func TestHistory_DeletingOneOfTwoStructuredKeepsRaw(t *testing.T) {
	h := NewHistory()
	v1 := h.CommitRaw("shared base", false)
	s1, err := h.CommitStructured(v1.BaseMajor, decomposition("a"), true, false)
	require.NoError(t, err)
	_, err = h.CommitStructured(v1.BaseMajor, decomposition("b"), false, false)
	require.NoError(t, err)

	require.True(t, h.Delete(s1.ID))

	require.Equal(t, 2, h.Len())
	kinds := map[VersionType]int{}
	for _, v := range h.Versions() {
		kinds[v.Type]++
	}
	assert.Equal(t, 1, kinds[VersionRaw])
	assert.Equal(t, 1, kinds[VersionStructured])
}

func TestHistory_ActiveClampedAfterDelete(t *testing.T) {
	h := NewHistory()
	h.CommitRaw("one", false)
	v2 := h.CommitRaw("two", false)

	active, ok := h.Active()
	require.True(t, ok)
	require.Equal(t, v2.ID, active.ID)

	require.True(t, h.Delete(v2.ID))

	active, ok = h.Active()
	require.True(t, ok)
	assert.Equal(t, "one", active.Content)
}

func TestHistory_DeleteUnknownID(t *testing.T) {
	h := NewHistory()
	h.CommitRaw("kept", false)
	assert.False(t, h.Delete("no-such-id"))
	assert.Equal(t, 1, h.Len())
}

func TestHistory_SetActive(t *testing.T) {
	h := NewHistory()
	v1 := h.CommitRaw("one", false)
	h.CommitRaw("two", false)

	require.True(t, h.SetActive(v1.ID))
	active, ok := h.Active()
	require.True(t, ok)
	assert.Equal(t, v1.ID, active.ID)

	assert.False(t, h.SetActive("missing"))
}

func TestHistory_FindRawByContentPrefersLatest(t *testing.T) {
	h := NewHistory()
	first := h.CommitRaw("same text", false)
	h.CommitRaw("other text", false)
	second := h.CommitRaw("same text", true)

	found, ok := h.FindRawByContent("same text")
	require.True(t, ok)
	assert.Equal(t, second.ID, found.ID)
	assert.NotEqual(t, first.ID, found.ID)

	_, ok = h.FindRawByContent("never committed")
	assert.False(t, ok)
}

func TestHistory_LatestRawMajor(t *testing.T) {
	h := NewHistory()
	assert.Equal(t, 0, h.LatestRawMajor())

	h.CommitRaw("one", false)
	v2 := h.CommitRaw("two", false)
	assert.Equal(t, v2.BaseMajor, h.LatestRawMajor())
}

func TestHistory_ValidationStaleness(t *testing.T) {
	h := NewHistory()
	v := h.CommitRaw("validated content", false)

	res := ValidationResult{
		IsValid:    true,
		Feedback:   "all steps check out",
		Timestamp:  time.Now(),
		SourceType: string(VersionRaw),
		SourceHash: v.SourceHash,
	}
	require.True(t, h.SetValidation(v.ID, res))

	got, ok := h.Validation(v.ID)
	require.True(t, ok)
	assert.True(t, got.IsValid)

	// A result hashed against different content no longer applies.
	stale := res
	stale.SourceHash = ContentHash("some other content")
	require.True(t, h.SetValidation(v.ID, stale))
	_, ok = h.Validation(v.ID)
	assert.False(t, ok)
}

func TestHistory_VersionsReturnsSnapshot(t *testing.T) {
	h := NewHistory()
	h.CommitRaw("one", false)

	snap := h.Versions()
	snap[0].Content = "mutated"

	got := h.Versions()
	assert.Equal(t, "one", got[0].Content)
}
