// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner is an animated progress indicator for phases with no
// incremental output, such as classification and decomposition.
//
// # Thread Safety
//
// Start, UpdateMessage and Stop are safe to call from different
// goroutines. Stop is idempotent.
type Spinner struct {
	mu      sync.Mutex
	message string
	out     io.Writer
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewSpinner creates a spinner writing to stderr.
func NewSpinner(message string) *Spinner {
	return &Spinner{
		message: message,
		out:     os.Stderr,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// WithWriter redirects the spinner output, mainly for tests.
func (s *Spinner) WithWriter(w io.Writer) *Spinner {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = w
	return s
}

// UpdateMessage swaps the message while the spinner keeps running.
func (s *Spinner) UpdateMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

// Start begins the animation. A second Start is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		frame := 0
		for {
			select {
			case <-s.stop:
				s.mu.Lock()
				fmt.Fprint(s.out, "\r\033[K")
				s.mu.Unlock()
				return
			case <-ticker.C:
				s.mu.Lock()
				fmt.Fprintf(s.out, "\r%s %s", Styles.Subtitle.Render(spinnerFrames[frame]), s.message)
				s.mu.Unlock()
				frame = (frame + 1) % len(spinnerFrames)
			}
		}
	}()
}

// Stop ends the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stop)
	<-s.done
}
