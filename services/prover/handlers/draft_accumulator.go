// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file implements secure draft accumulation for streamed proofs.
// Deltas are stored in mlocked memory so partially drafted proofs never
// swap to disk, and are incrementally hashed; the final hash doubles as
// the content hash used to key version caches downstream.

package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

// secureBufferSize is the mlocked buffer size for draft accumulation.
// 512 KB holds any realistic proof draft with room to spare; the system
// must allow at least this much locked memory per stream.
const secureBufferSize = 512 * 1024

var (
	memguardInitOnce sync.Once
	mlockSufficient  bool
)

// DraftAccumulator accumulates streamed proof deltas.
//
// # Description
//
// Deltas are appended and hashed incrementally as they arrive. Reset
// discards everything accumulated so far (used when the gateway falls
// back to a fresh candidate mid-stream). Finalize returns the full draft
// and its SHA-256 hex hash, after which the accumulator is spent.
//
// # Thread Safety
//
// Implementations are safe for concurrent use.
type DraftAccumulator interface {
	// Write appends one delta.
	Write(delta string) error

	// Reset discards the accumulated draft and restarts the hash.
	Reset()

	// Finalize returns (draft, sha256 hex, error) and wipes the buffer.
	// The accumulator cannot be written after Finalize.
	Finalize() (string, string, error)

	// Destroy wipes and releases the buffer. Idempotent.
	Destroy()
}

// NewDraftAccumulator returns a secure (mlocked) accumulator when the
// process rlimits allow it, or a plain in-memory fallback with a warning.
func NewDraftAccumulator() DraftAccumulator {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient = checkMlockLimit()
		if !mlockSufficient {
			slog.Warn("mlock limit too low for secure draft buffers, falling back to plain memory",
				"required_bytes", secureBufferSize)
		}
	})
	if mlockSufficient {
		if acc, err := newSecureDraftAccumulator(); err == nil {
			return acc
		}
	}
	return &plainDraftAccumulator{hasher: sha256.New()}
}

func checkMlockLimit() bool {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rl); err != nil {
		return false
	}
	if rl.Cur == unix.RLIM_INFINITY {
		return true
	}
	return rl.Cur >= secureBufferSize
}

// =============================================================================
// Secure implementation
// =============================================================================

type secureDraftAccumulator struct {
	mu        sync.Mutex
	buffer    *memguard.LockedBuffer
	used      int
	hasher    hash.Hash
	finalized bool
	destroyed bool
}

var _ DraftAccumulator = (*secureDraftAccumulator)(nil)

func newSecureDraftAccumulator() (*secureDraftAccumulator, error) {
	buf := memguard.NewBuffer(secureBufferSize)
	if buf == nil {
		return nil, fmt.Errorf("failed to allocate secure buffer")
	}
	return &secureDraftAccumulator{
		buffer: buf,
		hasher: sha256.New(),
	}, nil
}

func (a *secureDraftAccumulator) Write(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed || a.finalized {
		return fmt.Errorf("accumulator is no longer writable")
	}
	if a.used+len(delta) > secureBufferSize {
		return fmt.Errorf("draft exceeds secure buffer capacity (%d bytes)", secureBufferSize)
	}

	copy(a.buffer.Bytes()[a.used:], delta)
	a.used += len(delta)
	a.hasher.Write([]byte(delta))
	return nil
}

func (a *secureDraftAccumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed || a.finalized {
		return
	}
	wipe(a.buffer.Bytes()[:a.used])
	a.used = 0
	a.hasher = sha256.New()
}

func (a *secureDraftAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.finalized {
		return "", "", fmt.Errorf("accumulator already finalized")
	}
	a.finalized = true

	draft := string(a.buffer.Bytes()[:a.used])
	sum := hex.EncodeToString(a.hasher.Sum(nil))
	wipe(a.buffer.Bytes()[:a.used])
	return draft, sum, nil
}

func (a *secureDraftAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.destroyed = true
	a.buffer.Destroy()
}

// =============================================================================
// Plain fallback
// =============================================================================

type plainDraftAccumulator struct {
	mu        sync.Mutex
	data      []byte
	hasher    hash.Hash
	finalized bool
	destroyed bool
}

var _ DraftAccumulator = (*plainDraftAccumulator)(nil)

func (a *plainDraftAccumulator) Write(delta string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed || a.finalized {
		return fmt.Errorf("accumulator is no longer writable")
	}
	if len(a.data)+len(delta) > secureBufferSize {
		return fmt.Errorf("draft exceeds buffer capacity (%d bytes)", secureBufferSize)
	}
	a.data = append(a.data, delta...)
	a.hasher.Write([]byte(delta))
	return nil
}

func (a *plainDraftAccumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed || a.finalized {
		return
	}
	wipe(a.data)
	a.data = a.data[:0]
	a.hasher = sha256.New()
}

func (a *plainDraftAccumulator) Finalize() (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return "", "", fmt.Errorf("accumulator already destroyed")
	}
	if a.finalized {
		return "", "", fmt.Errorf("accumulator already finalized")
	}
	a.finalized = true

	draft := string(a.data)
	sum := hex.EncodeToString(a.hasher.Sum(nil))
	wipe(a.data)
	a.data = nil
	return draft, sum, nil
}

func (a *plainDraftAccumulator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	a.destroyed = true
	wipe(a.data)
	a.data = nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
