// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proofflow

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/lemmalab/proofbench/pkg/badgerstore"
)

// sessionPrefix namespaces proof sessions inside a shared store.
const sessionPrefix = "proofflow/session"

// ErrSessionNotFound is returned by Load when no session exists for a
// problem.
var ErrSessionNotFound = errors.New("proofflow: session not found")

// Session is the durable snapshot of one problem's proof state.
type Session struct {
	Problem   string         `json:"problem"`
	ViewMode  string         `json:"viewMode"`
	Rejection string         `json:"rejection,omitempty"`
	Versions  []ProofVersion `json:"versions"`
	ActiveID  string         `json:"activeId,omitempty"`
	NextMajor int            `json:"nextMajor"`
	SavedAt   time.Time      `json:"savedAt"`
}

// SessionStore persists proof sessions keyed by the hash of their
// original problem statement, so a reopened problem finds its history.
type SessionStore struct {
	store *badgerstore.Store
}

// NewSessionStore wraps an opened snapshot store.
func NewSessionStore(store *badgerstore.Store) *SessionStore {
	return &SessionStore{store: store}
}

// Save snapshots the machine's history and panel state under the key
// for problemKey. problemKey is the original problem statement, which
// stays stable even after a variant acceptance rewrites Machine.Problem.
func (s *SessionStore) Save(problemKey string, m *Machine) error {
	if problemKey == "" {
		return fmt.Errorf("problem key is required")
	}
	session := snapshotMachine(m)
	if err := s.store.Put(sessionPrefix, ContentHash(problemKey), session); err != nil {
		return fmt.Errorf("save proof session: %w", err)
	}
	return nil
}

// Load restores a saved session into a fresh machine built from cfg.
func (s *SessionStore) Load(problemKey string, cfg Config) (*Machine, error) {
	var session Session
	err := s.store.Get(sessionPrefix, ContentHash(problemKey), &session)
	if errors.Is(err, badgerstore.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load proof session: %w", err)
	}

	m := NewMachine(cfg)
	m.mu.Lock()
	m.problem = session.Problem
	if session.ViewMode != "" {
		m.viewMode = session.ViewMode
	}
	m.rejection = session.Rejection
	m.state = StateSettled
	if len(session.Versions) == 0 {
		m.state = StateIdle
	}
	m.mu.Unlock()

	m.history.restore(session.Versions, session.ActiveID, session.NextMajor)
	if active, ok := m.history.Active(); ok && active.Type == VersionRaw {
		m.mu.Lock()
		m.lastSaved = active.Content
		m.editBuffer = active.Content
		m.mu.Unlock()
	}
	return m, nil
}

// Delete removes a saved session. Missing sessions are not an error.
func (s *SessionStore) Delete(problemKey string) error {
	return s.store.Delete(sessionPrefix, ContentHash(problemKey))
}

// Keys lists the problem hashes with saved sessions.
func (s *SessionStore) Keys() ([]string, error) {
	return s.store.Keys(sessionPrefix)
}

// List loads every saved session, most recently saved first.
func (s *SessionStore) List() ([]Session, error) {
	keys, err := s.store.Keys(sessionPrefix)
	if err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(keys))
	for _, key := range keys {
		var session Session
		if err := s.store.Get(sessionPrefix, key, &session); err != nil {
			return nil, fmt.Errorf("load session %s: %w", key, err)
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].SavedAt.After(sessions[j].SavedAt)
	})
	return sessions, nil
}

// snapshotMachine captures the machine state worth persisting. Live
// stream state (draft in flight, pending suggestion) is deliberately
// excluded: an interrupted attempt restarts rather than resumes.
func snapshotMachine(m *Machine) Session {
	m.mu.Lock()
	session := Session{
		Problem:   m.problem,
		ViewMode:  m.viewMode,
		Rejection: m.rejection,
		SavedAt:   time.Now().UTC(),
	}
	m.mu.Unlock()

	m.history.mu.RLock()
	session.Versions = make([]ProofVersion, len(m.history.versions))
	copy(session.Versions, m.history.versions)
	session.NextMajor = m.history.nextMajor
	if m.history.activeIdx >= 0 && m.history.activeIdx < len(m.history.versions) {
		session.ActiveID = m.history.versions[m.history.activeIdx].ID
	}
	m.history.mu.RUnlock()

	return session
}

// restore replaces the history's contents with a saved snapshot.
func (h *History) restore(versions []ProofVersion, activeID string, nextMajor int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.versions = make([]ProofVersion, len(versions))
	copy(h.versions, versions)

	h.activeIdx = -1
	for i, v := range h.versions {
		if v.ID == activeID {
			h.activeIdx = i
			break
		}
	}
	h.clampActiveLocked()

	// Never let a stale snapshot shrink the major counter; reused
	// majors would break the append-only numbering.
	h.nextMajor = nextMajor
	for _, v := range h.versions {
		if v.BaseMajor >= h.nextMajor {
			h.nextMajor = v.BaseMajor + 1
		}
	}
	if h.nextMajor < 1 {
		h.nextMajor = 1
	}
}
