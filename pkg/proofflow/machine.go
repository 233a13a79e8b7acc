// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proofflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

// MachineState names the phases of one attempt run.
type MachineState string

const (
	StateIdle              MachineState = "idle"
	StateAttempting        MachineState = "attempting"
	StateStreaming         MachineState = "streaming"
	StateClassifying       MachineState = "classifying"
	StateSuggestionPending MachineState = "suggestion-pending"
	StateSettled           MachineState = "settled"
	StateFailed            MachineState = "failed"
	StateCancelled         MachineState = "cancelled"
)

// View modes for the proof panel.
const (
	ViewRaw        = "raw"
	ViewStructured = "structured"
)

const (
	defaultQueryBudget     = 1800
	defaultWatchdogTimeout = 4 * time.Second
	defaultAutosaveDelay   = 3 * time.Second
)

// PendingSuggestion holds a PROVED_VARIANT result awaiting the user's
// accept/decline decision. It is not part of the history until accepted.
type PendingSuggestion struct {
	FinalStatement string
	VariantType    datatypes.VariantType
	RawProof       string
	Explanation    string
	// Decompose is non-nil when sublemmas arrived with the result (the
	// unary tier decomposes server-side; the streaming tiers do not).
	Decompose *datatypes.DecomposeOutput
}

// Config assembles a Machine.
type Config struct {
	// Transports in demotion order. The conventional order is the
	// EventSource tier, the POST streaming tier, then the unary tier.
	Transports []Transport

	// Decomposer serves background decomposition requests.
	Decomposer Decomposer

	// QueryBudget is the character budget for the EventSource tier's
	// query-string predicate. Zero means 1800.
	QueryBudget int

	// WatchdogTimeout is the first-byte deadline for the EventSource
	// tier. Zero means 4s.
	WatchdogTimeout time.Duration

	// AutosaveDelay is the raw-edit debounce. Zero means 3s.
	AutosaveDelay time.Duration

	// OnEvent, when set, observes every event of the current run before
	// the machine applies it. Stale-run events are not delivered. The
	// callback runs on the stream goroutine, so it must not block.
	OnEvent func(Event)
}

// Machine is the client-side proof state machine.
//
// # Description
//
// One Machine owns one problem's proof session: it runs attempts across
// the transport tiers with watchdog-driven demotion, accumulates the
// live draft, gates PROVED_VARIANT results behind a pending suggestion,
// runs background decomposition, and owns the version History.
//
// Every attempt carries a monotonically increasing run id. Callbacks
// capture the id at spawn and re-check it before touching state, which
// is the sole staleness/cancellation mechanism: a newer StartProof or a
// Cancel bumps the id and all older callbacks discard themselves.
//
// # Thread Safety
//
// Safe for concurrent use.
type Machine struct {
	cfg     Config
	history *History

	runID    atomic.Uint64
	decompID atomic.Uint64

	mu              sync.Mutex
	state           MachineState
	problem         string
	liveDraft       strings.Builder
	draftStreaming  bool
	modelEndSeen    bool
	pending         *PendingSuggestion
	rejection       string
	err             error
	decomposeErr    error
	lastDecomposed  string
	viewMode        string
	cancelTransport context.CancelFunc

	editBuffer string
	lastSaved  string
	editTimer  *time.Timer

	decompWG sync.WaitGroup
}

// NewMachine creates an idle machine.
func NewMachine(cfg Config) *Machine {
	if cfg.QueryBudget <= 0 {
		cfg.QueryBudget = defaultQueryBudget
	}
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = defaultWatchdogTimeout
	}
	if cfg.AutosaveDelay <= 0 {
		cfg.AutosaveDelay = defaultAutosaveDelay
	}
	return &Machine{
		cfg:      cfg,
		history:  NewHistory(),
		state:    StateIdle,
		viewMode: ViewRaw,
	}
}

// =============================================================================
// Accessors
// =============================================================================

// History returns the machine's version history.
func (m *Machine) History() *History { return m.history }

// State returns the current phase.
func (m *Machine) State() MachineState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Problem returns the active problem statement. AcceptSuggestion may
// replace it with the accepted variant statement.
func (m *Machine) Problem() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.problem
}

// LiveDraft returns the draft streamed so far in the current run.
func (m *Machine) LiveDraft() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveDraft.String()
}

// Pending returns the suggestion awaiting accept/decline, if any.
func (m *Machine) Pending() *PendingSuggestion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// RejectionNotice returns the model's explanation for a FAILED attempt
// that produced no proof. Distinct from Err: a rejection is an answer,
// not a system failure.
func (m *Machine) RejectionNotice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejection
}

// Err returns the terminal error of the last run, if it failed.
func (m *Machine) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// DecomposeErr returns the last background-decomposition failure. It is
// non-fatal: the raw proof stays usable.
func (m *Machine) DecomposeErr() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decomposeErr
}

// SetViewMode records which panel the user is looking at; background
// decomposition only switches the active version while in structured view.
func (m *Machine) SetViewMode(mode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewMode = mode
}

// =============================================================================
// Attempt Lifecycle
// =============================================================================

// StartProof begins a new attempt for problem.
//
// # Description
//
// A blank problem is a no-op (the returned channel is already closed).
// Starting invalidates any in-flight run: its callbacks self-discard
// against the new run id. The returned channel closes when this run
// reaches a terminal state; background decomposition may still be in
// flight at that point.
func (m *Machine) StartProof(ctx context.Context, problem string) <-chan struct{} {
	done := make(chan struct{})
	problem = strings.TrimSpace(problem)
	if problem == "" {
		close(done)
		return done
	}

	runID := m.runID.Add(1)

	m.mu.Lock()
	if m.cancelTransport != nil {
		m.cancelTransport()
		m.cancelTransport = nil
	}
	m.state = StateAttempting
	m.problem = problem
	m.liveDraft.Reset()
	m.draftStreaming = false
	m.modelEndSeen = false
	m.pending = nil
	m.rejection = ""
	m.err = nil
	m.decomposeErr = nil
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.run(ctx, runID, problem)
	}()
	return done
}

// Cancel aborts the current run. Idempotent; a cancelled run commits no
// version and records no error.
func (m *Machine) Cancel() {
	m.runID.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelTransport != nil {
		m.cancelTransport()
		m.cancelTransport = nil
	}
	if m.state != StateIdle && m.state != StateSettled && m.state != StateFailed {
		m.state = StateCancelled
	}
}

// tierOutcome is the result of consuming one transport's stream.
type tierOutcome int

const (
	tierTerminal tierOutcome = iota // terminal event handled, run over
	tierDemote                      // tier failed before model.end, try next
	tierStale                       // superseded by a newer run
)

// run drives one attempt across the transport tiers.
func (m *Machine) run(ctx context.Context, runID uint64, problem string) {
	start := 0
	if len(m.cfg.Transports) > 1 && m.cfg.Transports[0].Name() == TierNameGet &&
		!FitsQuery(problem, m.cfg.QueryBudget) {
		slog.Debug("Problem too large for query-string tier", "length", len(problem))
		start = 1
	}

	var lastErr error
	for tier := start; tier < len(m.cfg.Transports); tier++ {
		transport := m.cfg.Transports[tier]
		if m.runID.Load() != runID {
			return
		}

		outcome, err := m.runTier(ctx, runID, problem, transport)
		switch outcome {
		case tierTerminal, tierStale:
			return
		case tierDemote:
			if err != nil {
				lastErr = err
			}
			slog.Info("Demoting transport tier", "from", transport.Name(), "error", err)
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all transport tiers failed")
	}
	m.ifCurrent(runID, func() {
		m.state = StateFailed
		m.err = lastErr
	})
}

// runTier opens one transport and consumes its events until a terminal
// outcome. The EventSource tier gets a first-byte watchdog: if neither
// model.start, model.switch, nor a delta arrives in time, the connection
// is closed and the tier reports demotion.
func (m *Machine) runTier(ctx context.Context, runID uint64, problem string, transport Transport) (tierOutcome, error) {
	events, cancel, err := transport.Open(ctx, problem)
	if err != nil {
		return tierDemote, err
	}
	defer cancel()

	m.mu.Lock()
	m.cancelTransport = cancel
	m.liveDraft.Reset()
	m.modelEndSeen = false
	m.mu.Unlock()

	var watchdog *time.Timer
	if transport.Name() == TierNameGet {
		watchdog = time.AfterFunc(m.cfg.WatchdogTimeout, cancel)
	}
	clearWatchdog := func() {
		if watchdog != nil {
			watchdog.Stop()
		}
	}
	defer clearWatchdog()

	var postEndError *ServerError
	for ev := range events {
		if m.runID.Load() != runID {
			return tierStale, nil
		}
		if m.cfg.OnEvent != nil {
			m.cfg.OnEvent(ev)
		}

		switch ev := ev.(type) {
		case ModelStart:
			clearWatchdog()
			m.ifCurrent(runID, func() {
				// A repeated start is a server-side candidate failover;
				// the partial draft from the failed candidate is void.
				m.liveDraft.Reset()
				m.draftStreaming = true
				m.state = StateStreaming
			})
		case ModelDelta:
			clearWatchdog()
			m.ifCurrent(runID, func() {
				m.liveDraft.WriteString(ev.Text)
				m.draftStreaming = true
				m.state = StateStreaming
			})
		case ModelSwitch:
			clearWatchdog()
		case ModelEnd:
			m.ifCurrent(runID, func() {
				m.draftStreaming = false
				m.modelEndSeen = true
			})
		case ClassifyStart:
			m.ifCurrent(runID, func() { m.state = StateClassifying })
		case ClassifyResult, DecomposeStart, DecomposeResult:
			// Informational; the terminal done carries the full payload.
		case ServerError:
			m.mu.Lock()
			ended := m.modelEndSeen
			m.mu.Unlock()
			if !ended {
				return tierDemote, fmt.Errorf("%s: %s", transport.Name(), ev.Err)
			}
			// The draft already streamed in full; note the error and
			// keep waiting for done so it can be salvaged either way.
			slog.Warn("Post-draft server error; keeping streamed draft",
				"tier", transport.Name(), "error", ev.Err, "detail", ev.Detail)
			postEndError = &ev
		case Done:
			if !m.handleDone(ctx, runID, ev) {
				return tierStale, nil
			}
			return tierTerminal, nil
		case StreamClosed:
			m.mu.Lock()
			ended := m.modelEndSeen
			draft := m.liveDraft.String()
			m.mu.Unlock()
			if ended && strings.TrimSpace(draft) != "" {
				// The full draft arrived before the drop. Committing it
				// beats restarting and showing a different proof than
				// the one the user watched stream.
				m.ifCurrent(runID, func() {
					m.history.CommitRaw(draft, false)
					m.viewMode = ViewRaw
					m.state = StateSettled
				})
				return tierTerminal, nil
			}
			return tierDemote, ev.Err
		}
	}

	// Channel closed without Done or StreamClosed: treat as a drop.
	if postEndError != nil {
		return tierDemote, fmt.Errorf("%s: %s", transport.Name(), postEndError.Err)
	}
	return tierDemote, fmt.Errorf("%s: stream ended unexpectedly", transport.Name())
}

// handleDone applies the terminal event. Returns false when stale.
func (m *Machine) handleDone(ctx context.Context, runID uint64, done Done) bool {
	if done.Attempt == nil {
		return m.ifCurrent(runID, func() {
			m.state = StateFailed
			m.err = fmt.Errorf("done event carried no attempt result")
		})
	}
	attempt := done.Attempt

	m.mu.Lock()
	draft := m.liveDraft.String()
	m.mu.Unlock()
	if strings.TrimSpace(draft) == "" && attempt.RawProof != nil {
		draft = *attempt.RawProof
	}

	switch attempt.Status {
	case datatypes.StatusProvedVariant:
		if attempt.FinalStatement != nil && strings.TrimSpace(*attempt.FinalStatement) != "" {
			return m.ifCurrent(runID, func() {
				variant := datatypes.VariantWeakening
				if attempt.VariantType != nil {
					variant = *attempt.VariantType
				}
				m.pending = &PendingSuggestion{
					FinalStatement: *attempt.FinalStatement,
					VariantType:    variant,
					RawProof:       draft,
					Explanation:    attempt.Explanation,
					Decompose:      done.Decompose,
				}
				m.state = StateSuggestionPending
			})
		}
		// Degenerate variant with no usable statement: reveal the draft.
		fallthrough

	case datatypes.StatusProvedAsIs:
		if strings.TrimSpace(draft) == "" {
			return m.ifCurrent(runID, func() {
				m.state = StateFailed
				m.err = fmt.Errorf("attempt succeeded but produced no proof text")
			})
		}
		ok := m.ifCurrent(runID, func() {
			m.history.CommitRaw(draft, false)
			m.viewMode = ViewRaw
			m.lastSaved = draft
			m.state = StateSettled
		})
		if !ok {
			return false
		}
		if done.Decompose != nil {
			m.commitDecomposition(draft, done.Decompose)
		} else {
			m.decomposeAsync(ctx, draft)
		}
		return true

	case datatypes.StatusFailed:
		if strings.TrimSpace(draft) != "" {
			// The model narrated a failed attempt; keep the text but
			// never decompose it.
			return m.ifCurrent(runID, func() {
				m.history.CommitRaw(draft, false)
				m.viewMode = ViewRaw
				m.lastSaved = draft
				m.rejection = attempt.Explanation
				m.state = StateSettled
			})
		}
		return m.ifCurrent(runID, func() {
			m.rejection = attempt.Explanation
			m.state = StateSettled
		})
	}

	return m.ifCurrent(runID, func() {
		m.state = StateFailed
		m.err = fmt.Errorf("unknown attempt status %q", attempt.Status)
	})
}

// ifCurrent applies fn under the lock only if runID is still current.
func (m *Machine) ifCurrent(runID uint64, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runID.Load() != runID {
		return false
	}
	fn()
	return true
}

// =============================================================================
// Suggestion Gate
// =============================================================================

// AcceptSuggestion commits the pending variant suggestion.
//
// # Description
//
// Commits (or reuses, when byte-identical) a raw version for the
// suggestion's proof text and adopts the suggested statement as the
// active problem. When sublemmas arrived with the suggestion they are
// committed immediately as a structured version; otherwise background
// decomposition is kicked off.
func (m *Machine) AcceptSuggestion(ctx context.Context) error {
	m.mu.Lock()
	pending := m.pending
	m.mu.Unlock()
	if pending == nil {
		return fmt.Errorf("no pending suggestion")
	}

	raw, exists := m.history.FindRawByContent(pending.RawProof)
	if !exists {
		raw = m.history.CommitRaw(pending.RawProof, false)
	} else {
		m.history.SetActive(raw.ID)
	}

	m.mu.Lock()
	m.problem = pending.FinalStatement
	m.pending = nil
	m.lastSaved = pending.RawProof
	m.viewMode = ViewRaw
	m.state = StateSettled
	m.mu.Unlock()

	if pending.Decompose != nil {
		if _, err := m.history.CommitStructured(raw.BaseMajor, pending.Decompose, true, true); err != nil {
			return err
		}
		m.mu.Lock()
		m.lastDecomposed = strings.TrimSpace(pending.RawProof)
		m.viewMode = ViewStructured
		m.mu.Unlock()
		return nil
	}

	m.decomposeAsync(ctx, pending.RawProof)
	return nil
}

// DeclineSuggestion discards the pending suggestion. Nothing is
// committed and the problem statement is unchanged.
func (m *Machine) DeclineSuggestion() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		m.rejection = m.pending.Explanation
		m.pending = nil
		m.state = StateSettled
	}
}

// =============================================================================
// Background Decomposition
// =============================================================================

// decomposeAsync structures rawProof in the background.
//
// # Description
//
// Fire and forget: failures land in DecomposeErr and never disturb the
// committed raw version. Guarded two ways: an exact-text no-op check so
// duplicate triggers for the same draft do nothing, and a generation
// counter so an edit that triggers a fresh request invalidates any
// older in-flight one.
func (m *Machine) decomposeAsync(ctx context.Context, rawProof string) {
	if m.cfg.Decomposer == nil {
		return
	}
	trimmed := strings.TrimSpace(rawProof)

	m.mu.Lock()
	if m.lastDecomposed == trimmed {
		m.mu.Unlock()
		return
	}
	m.lastDecomposed = trimmed
	m.mu.Unlock()

	id := m.decompID.Add(1)
	m.decompWG.Add(1)
	go func() {
		defer m.decompWG.Done()

		out, err := m.cfg.Decomposer.Decompose(ctx, rawProof)
		if m.decompID.Load() != id {
			return
		}
		if err != nil {
			m.mu.Lock()
			m.decomposeErr = err
			if m.lastDecomposed == trimmed {
				m.lastDecomposed = ""
			}
			m.mu.Unlock()
			return
		}
		m.commitDecomposition(rawProof, out)
	}()
}

// commitDecomposition appends a structured version for rawProof under
// the right major: the active version's major when it is raw, else the
// raw version matching the text exactly, else the most recent major.
func (m *Machine) commitDecomposition(rawProof string, out *datatypes.DecomposeOutput) {
	baseMajor := 0
	if active, ok := m.history.Active(); ok && active.Type == VersionRaw {
		baseMajor = active.BaseMajor
	} else if match, ok := m.history.FindRawByContent(rawProof); ok {
		baseMajor = match.BaseMajor
	} else {
		baseMajor = m.history.LatestRawMajor()
	}
	if baseMajor == 0 {
		return
	}

	m.mu.Lock()
	m.lastDecomposed = strings.TrimSpace(rawProof)
	activate := m.viewMode == ViewStructured
	m.mu.Unlock()

	if _, err := m.history.CommitStructured(baseMajor, out, true, activate); err != nil {
		m.mu.Lock()
		m.decomposeErr = err
		m.mu.Unlock()
	}
}

// WaitForDecomposition blocks until in-flight background decompositions
// finish. Intended for shutdown and tests.
func (m *Machine) WaitForDecomposition() {
	m.decompWG.Wait()
}

// =============================================================================
// Raw Edit Autosave
// =============================================================================

// UpdateDraft records a raw-proof edit.
//
// # Description
//
// The buffer updates immediately; if the trimmed text differs from the
// last decomposed text, the previous decomposition is marked stale so
// the next trigger re-runs it. After AutosaveDelay of inactivity the
// buffer is committed as a new raw major, when it differs from the last
// saved snapshot.
func (m *Machine) UpdateDraft(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.editBuffer = text
	if strings.TrimSpace(text) != m.lastDecomposed {
		m.lastDecomposed = ""
	}

	if m.editTimer != nil {
		m.editTimer.Stop()
	}
	m.editTimer = time.AfterFunc(m.cfg.AutosaveDelay, m.flushEdit)
}

// FlushEdit commits the edit buffer immediately, bypassing the debounce.
func (m *Machine) FlushEdit() {
	m.mu.Lock()
	if m.editTimer != nil {
		m.editTimer.Stop()
		m.editTimer = nil
	}
	m.mu.Unlock()
	m.flushEdit()
}

func (m *Machine) flushEdit() {
	m.mu.Lock()
	text := m.editBuffer
	if text == m.lastSaved || strings.TrimSpace(text) == "" {
		m.mu.Unlock()
		return
	}
	m.lastSaved = text
	m.mu.Unlock()

	m.history.CommitRaw(text, true)
}
