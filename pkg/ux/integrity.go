// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

// ChainVerifier checks the hash chain over a proof attempt stream.
//
// # Description
//
// Every attempt-stream event carries a Hash over its own content and a
// PrevHash linking it to the event before it. Feeding events to Verify
// in receipt order detects both tampered events (content hash mismatch)
// and dropped or reordered events (broken link). A missing Hash is
// tolerated and counted separately, since comment keepalives and
// proxy-injected frames carry none.
//
// # Thread Safety
//
// Not safe for concurrent use; one verifier per stream.
type ChainVerifier struct {
	prevHash string
	verified int
	unhashed int
	breaks   []ChainBreak
}

// ChainBreak records one integrity failure.
type ChainBreak struct {
	Index     int
	EventType string
	Reason    string
}

// ChainReport summarizes a verified stream.
type ChainReport struct {
	Verified int
	Unhashed int
	Breaks   []ChainBreak
}

// Intact reports whether every hashed event checked out.
func (r ChainReport) Intact() bool { return len(r.Breaks) == 0 }

// NewChainVerifier creates a verifier positioned before the first event.
func NewChainVerifier() *ChainVerifier {
	return &ChainVerifier{}
}

// Verify checks one event against the chain. The returned error repeats
// the recorded break; verification continues from the event's own hash
// so one bad frame does not condemn the rest of the stream.
func (v *ChainVerifier) Verify(ev datatypes.StreamEvent) error {
	index := v.verified + v.unhashed + len(v.breaks)

	if ev.Hash == "" {
		v.unhashed++
		return nil
	}

	if computed := EventHash(ev); !hashEqual(computed, ev.Hash) {
		// Later events link to the hash as written, so resync on it.
		v.prevHash = ev.Hash
		return v.record(index, ev.Type, "content hash mismatch")
	}
	if v.prevHash != "" || index > 0 {
		if !hashEqual(ev.PrevHash, v.prevHash) {
			v.prevHash = ev.Hash
			return v.record(index, ev.Type, "previous-hash link broken")
		}
	} else if ev.PrevHash != "" {
		v.prevHash = ev.Hash
		return v.record(index, ev.Type, "first event claims a predecessor")
	}

	v.prevHash = ev.Hash
	v.verified++
	return nil
}

// Report returns the verification summary so far.
func (v *ChainVerifier) Report() ChainReport {
	breaks := make([]ChainBreak, len(v.breaks))
	copy(breaks, v.breaks)
	return ChainReport{Verified: v.verified, Unhashed: v.unhashed, Breaks: breaks}
}

func (v *ChainVerifier) record(index int, eventType, reason string) error {
	v.breaks = append(v.breaks, ChainBreak{Index: index, EventType: eventType, Reason: reason})
	return fmt.Errorf("event %d (%s): %s", index, eventType, reason)
}

// EventHash recomputes the content hash of an event: the SHA-256 of its
// JSON serialization with the Hash field cleared, matching what the
// server signed.
func EventHash(ev datatypes.StreamEvent) string {
	ev.Hash = ""
	data, err := json.Marshal(ev)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hashEqual compares hashes in constant time.
func hashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
