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
	"time"

	"github.com/lemmalab/proofbench/pkg/proofflow"
	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

// StreamRenderer prints a live proof attempt to the terminal.
//
// # Description
//
// Deltas are written as they arrive so the draft reads like the model is
// typing; phase transitions get their own status lines. The renderer is
// a pure consumer: feed it every event from a transport in order.
//
// # Thread Safety
//
// Not safe for concurrent use; one renderer per stream.
type StreamRenderer struct {
	out       io.Writer
	streaming bool
	started   time.Time
}

// NewStreamRenderer creates a renderer writing to out.
func NewStreamRenderer(out io.Writer) *StreamRenderer {
	return &StreamRenderer{out: out, started: time.Now()}
}

// Render prints one event.
func (r *StreamRenderer) Render(ev proofflow.Event) {
	switch ev := ev.(type) {
	case proofflow.ModelStart:
		if r.streaming {
			// Candidate failover: the draft so far is void.
			fmt.Fprintln(r.out)
			fmt.Fprintln(r.out, Styles.Warning.Render("— candidate failed, restarting draft —"))
		}
		fmt.Fprintln(r.out, Styles.Subtitle.Render(fmt.Sprintf("drafting with %s/%s", ev.Provider, ev.Model)))
		r.streaming = true
	case proofflow.ModelDelta:
		fmt.Fprint(r.out, ev.Text)
	case proofflow.ModelSwitch:
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, Styles.Muted.Render(fmt.Sprintf("serving model switched to %s", ev.To)))
	case proofflow.ModelEnd:
		r.streaming = false
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, Styles.Muted.Render(fmt.Sprintf("draft complete (%d chars, %s)", ev.Length, formatDuration(ev.DurationMs))))
	case proofflow.ClassifyStart:
		fmt.Fprintln(r.out, Styles.Subtitle.Render("classifying draft against the statement"))
	case proofflow.ClassifyResult:
		r.renderClassification(ev)
	case proofflow.DecomposeStart:
		fmt.Fprintln(r.out, Styles.Subtitle.Render("decomposing proof into sublemmas"))
	case proofflow.DecomposeResult:
		fmt.Fprintln(r.out, Styles.Muted.Render(fmt.Sprintf("structured into %d sublemmas", ev.SublemmasCount)))
	case proofflow.ServerError:
		line := ev.Err
		if ev.Code != "" {
			line = fmt.Sprintf("%s (%s)", ev.Err, ev.Code)
		}
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, Styles.Error.Render("server error: "+line))
	case proofflow.Done:
		r.renderDone(ev)
	case proofflow.StreamClosed:
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, Styles.Warning.Render(fmt.Sprintf("stream dropped: %v", ev.Err)))
	}
}

func (r *StreamRenderer) renderClassification(ev proofflow.ClassifyResult) {
	switch ev.Status {
	case datatypes.StatusProvedAsIs:
		fmt.Fprintf(r.out, "%s %s\n", Styles.StatusOK.String(), Styles.Success.Render("proved as stated"))
	case datatypes.StatusProvedVariant:
		variant := "variant"
		if ev.VariantType != nil {
			variant = string(*ev.VariantType)
		}
		fmt.Fprintf(r.out, "%s %s\n", Styles.StatusWarning.String(), Styles.Warning.Render("proved a "+variant))
		if ev.FinalStatement != nil {
			fmt.Fprintln(r.out, Styles.Bold.Render("  "+*ev.FinalStatement))
		}
	case datatypes.StatusFailed:
		fmt.Fprintf(r.out, "%s %s\n", Styles.StatusError.String(), Styles.Error.Render("attempt failed"))
		if ev.Explanation != "" {
			fmt.Fprintln(r.out, Styles.Muted.Render("  "+ev.Explanation))
		}
	}
}

func (r *StreamRenderer) renderDone(ev proofflow.Done) {
	if ev.Attempt == nil {
		fmt.Fprintln(r.out, Styles.Error.Render("attempt finished without a result"))
		return
	}
	if ev.Decompose != nil {
		fmt.Fprintln(r.out, Styles.Box.Render(renderSublemmas(ev.Decompose)))
	}
	fmt.Fprintln(r.out, Styles.Muted.Render(fmt.Sprintf("finished in %s", time.Since(r.started).Round(time.Millisecond))))
}

func renderSublemmas(out *datatypes.DecomposeOutput) string {
	s := Styles.Title.Render(out.ProvedStatement)
	for i, sub := range out.Sublemmas {
		s += fmt.Sprintf("\n%s %s", Styles.Highlight.Render(fmt.Sprintf("%d.", i+1)), sub.Title)
		if sub.Statement != "" {
			s += "\n   " + sub.Statement
		}
	}
	return s
}

func formatDuration(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).Round(10 * time.Millisecond).String()
}
