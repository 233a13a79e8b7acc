// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package proofflow

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

// maxSSELineSize bounds one SSE line; a single delta never approaches it.
const maxSSELineSize = 1024 * 1024

// Tier names, in demotion order.
const (
	TierNameGet   = "sse-get"
	TierNamePost  = "sse-post"
	TierNameUnary = "unary"
)

// Transport carries one attempt's events from the server.
//
// # Description
//
// Open starts the attempt and returns a channel that yields events in
// wire order and closes when the stream ends. The cancel function aborts
// the attempt; it is safe to call more than once and after the channel
// closed. A channel that closes without a Done event will have yielded
// StreamClosed (or ServerError) last.
type Transport interface {
	// Name identifies the tier in logs ("sse-get", "sse-post", "unary").
	Name() string

	// Open starts the attempt for problem.
	Open(ctx context.Context, problem string) (<-chan Event, context.CancelFunc, error)
}

// =============================================================================
// GET / EventSource Tier
// =============================================================================

// GetStreamTransport is the EventSource tier: the problem travels in the
// query string of GET /v1/attempt/stream.
type GetStreamTransport struct {
	BaseURL string
	Client  *http.Client

	// OnEnvelope, when set, observes every raw wire envelope before it
	// is mapped onto the event union. Integrity checking hangs off it.
	OnEnvelope func(datatypes.StreamEvent)
}

var _ Transport = (*GetStreamTransport)(nil)

func (t *GetStreamTransport) Name() string { return TierNameGet }

// FitsQuery reports whether problem is small enough for this tier:
// the raw text within budget characters and its URL encoding within
// twice that.
func FitsQuery(problem string, budget int) bool {
	if len([]rune(problem)) > budget {
		return false
	}
	return len(url.QueryEscape(problem)) <= 2*budget
}

func (t *GetStreamTransport) Open(ctx context.Context, problem string) (<-chan Event, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	u := strings.TrimRight(t.BaseURL, "/") + "/v1/attempt/stream?problem=" + url.QueryEscape(problem)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	return openSSE(t.Client, req, cancel, t.OnEnvelope)
}

// =============================================================================
// POST / Streaming-Body Tier
// =============================================================================

// PostStreamTransport is the fetch-SSE tier: the problem travels in a
// JSON body, so size is unconstrained.
type PostStreamTransport struct {
	BaseURL string
	Client  *http.Client

	// OnEnvelope mirrors GetStreamTransport.OnEnvelope.
	OnEnvelope func(datatypes.StreamEvent)
}

var _ Transport = (*PostStreamTransport)(nil)

func (t *PostStreamTransport) Name() string { return TierNamePost }

func (t *PostStreamTransport) Open(ctx context.Context, problem string) (<-chan Event, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(ctx)
	body, err := json.Marshal(datatypes.AttemptRequest{Problem: problem})
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST",
		strings.TrimRight(t.BaseURL, "/")+"/v1/attempt/stream", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	return openSSE(t.Client, req, cancel, t.OnEnvelope)
}

// openSSE issues the request and pumps SSE frames into an event channel.
func openSSE(client *http.Client, req *http.Request, cancel context.CancelFunc, onEnvelope func(datatypes.StreamEvent)) (<-chan Event, context.CancelFunc, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("open attempt stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("attempt stream returned status %d", resp.StatusCode)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		readSSE(req.Context(), resp.Body, events, onEnvelope)
	}()
	return events, cancel, nil
}

// readSSE parses "event:"/"data:" frames, ignoring comment keepalives,
// and sends the decoded union values. When the body ends without a Done
// frame it synthesizes StreamClosed so the consumer can distinguish a
// drop from completion.
func readSSE(ctx context.Context, body io.Reader, events chan<- Event, onEnvelope func(datatypes.StreamEvent)) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineSize)

	var currentEvent, currentData string
	sawDone := false

	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			// Blank line terminates a frame.
			if currentEvent != "" && currentData != "" {
				env, ev, err := parseEvent(currentEvent, []byte(currentData))
				if onEnvelope != nil && env.Type != "" {
					onEnvelope(env)
				}
				if err == nil {
					if _, ok := ev.(Done); ok {
						sawDone = true
					}
					if !send(ev) {
						return
					}
				}
				// Unknown or malformed frames are skipped: the event
				// vocabulary may grow and old clients must stay usable.
			}
			currentEvent = ""
			currentData = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue // keepalive comment
		}
		if after, ok := strings.CutPrefix(line, "event:"); ok {
			currentEvent = strings.TrimPrefix(after, " ")
		} else if after, ok := strings.CutPrefix(line, "data:"); ok {
			currentData = strings.TrimPrefix(after, " ")
		}
	}

	if sawDone {
		return
	}
	err := scanner.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	send(StreamClosed{Err: err})
}

// =============================================================================
// Unary Fallback Tier
// =============================================================================

// UnaryTransport is the last-resort tier: one blocking POST /v1/attempt
// whose single JSON reply is replayed as a synthetic event sequence, so
// the machine consumes every tier identically.
type UnaryTransport struct {
	BaseURL string
	Client  *http.Client
	// Timeout bounds the whole blocking call; zero means 5 minutes.
	Timeout time.Duration
}

var _ Transport = (*UnaryTransport)(nil)

func (t *UnaryTransport) Name() string { return TierNameUnary }

func (t *UnaryTransport) Open(ctx context.Context, problem string) (<-chan Event, context.CancelFunc, error) {
	timeout := t.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	events := make(chan Event)
	go func() {
		defer close(events)
		send := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		resp, err := t.call(ctx, problem)
		if err != nil {
			send(StreamClosed{Err: err})
			return
		}
		if resp.Attempt == nil {
			send(ServerError{Err: "attempt response missing attempt"})
			return
		}
		// Replay the unary result as the canonical sequence: one delta
		// carrying the whole draft keeps the round-trip property intact.
		if resp.Attempt.RawProof != nil {
			if !send(ModelDelta{Text: *resp.Attempt.RawProof}) {
				return
			}
			if !send(ModelEnd{Length: len(*resp.Attempt.RawProof)}) {
				return
			}
		}
		send(Done{Success: true, Attempt: resp.Attempt, Decompose: resp.Decompose})
	}()
	return events, cancel, nil
}

func (t *UnaryTransport) call(ctx context.Context, problem string) (*datatypes.AttemptResponse, error) {
	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(datatypes.AttemptRequest{Problem: problem})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST",
		strings.TrimRight(t.BaseURL, "/")+"/v1/attempt", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attempt request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read attempt response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		var errResp datatypes.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("attempt failed: %s", errResp.Error)
		}
		return nil, fmt.Errorf("attempt returned status %d", httpResp.StatusCode)
	}

	var resp datatypes.AttemptResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("parse attempt response: %w", err)
	}
	return &resp, nil
}

// =============================================================================
// Decomposer Client
// =============================================================================

// Decomposer structures a raw proof into sublemmas. The machine's
// background decomposition goes through this boundary.
type Decomposer interface {
	Decompose(ctx context.Context, rawProof string) (*datatypes.DecomposeOutput, error)
}

// HTTPDecomposer calls POST /v1/decompose.
type HTTPDecomposer struct {
	BaseURL string
	Client  *http.Client
}

var _ Decomposer = (*HTTPDecomposer)(nil)

func (d *HTTPDecomposer) Decompose(ctx context.Context, rawProof string) (*datatypes.DecomposeOutput, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(datatypes.DecomposeRequest{RawProof: rawProof})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST",
		strings.TrimRight(d.BaseURL, "/")+"/v1/decompose", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("decompose request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read decompose response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		var errResp datatypes.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("decompose failed: %s", errResp.Error)
		}
		return nil, fmt.Errorf("decompose returned status %d", httpResp.StatusCode)
	}

	var out datatypes.DecomposeOutput
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("parse decompose response: %w", err)
	}
	return &out, nil
}
