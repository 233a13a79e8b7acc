// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/lemmalab/proofbench/pkg/badgerstore"
	"github.com/lemmalab/proofbench/pkg/proofflow"
	"github.com/lemmalab/proofbench/pkg/ux"
	"github.com/lemmalab/proofbench/services/prover/datatypes"
)

// runAttempt streams one proof attempt end to end: transport selection
// and demotion, live draft rendering, the variant suggestion gate, and
// session persistence.
func runAttempt(cmd *cobra.Command, args []string) error {
	problem, err := resolveProblem(args)
	if err != nil {
		return err
	}

	// Every streamed frame feeds the integrity chain alongside the
	// machine. Demotion restarts the chain with the new connection.
	var (
		verifyMu sync.Mutex
		verifier = ux.NewChainVerifier()
	)
	onEnvelope := func(ev datatypes.StreamEvent) {
		verifyMu.Lock()
		defer verifyMu.Unlock()
		_ = verifier.Verify(ev)
	}

	renderer := ux.NewStreamRenderer(os.Stdout)
	machine := proofflow.NewMachine(proofflow.Config{
		Transports: []proofflow.Transport{
			&proofflow.GetStreamTransport{BaseURL: serverURL, OnEnvelope: onEnvelope},
			&proofflow.PostStreamTransport{BaseURL: serverURL, OnEnvelope: onEnvelope},
			&proofflow.UnaryTransport{BaseURL: serverURL},
		},
		Decomposer: &proofflow.HTTPDecomposer{BaseURL: serverURL},
		OnEvent:    renderer.Render,
	})

	ux.Title("proofbench attempt")
	ux.Info("statement: %s", problem)

	<-machine.StartProof(cmd.Context(), problem)

	switch machine.State() {
	case proofflow.StateFailed:
		return fmt.Errorf("attempt failed: %w", machine.Err())
	case proofflow.StateSuggestionPending:
		if err := resolveSuggestion(cmd, machine); err != nil {
			return err
		}
	}

	if notice := machine.RejectionNotice(); notice != "" {
		ux.Warn("no proof committed: %s", notice)
	}

	if ux.IsInteractive() {
		spin := ux.NewSpinner("structuring proof")
		spin.Start()
		machine.WaitForDecomposition()
		spin.Stop()
	} else {
		machine.WaitForDecomposition()
	}
	if err := machine.DecomposeErr(); err != nil {
		ux.Warn("decomposition unavailable: %v", err)
	}

	reportChain(verifier)

	if machine.History().Len() > 0 {
		if err := saveSession(problem, machine); err != nil {
			ux.Warn("session not saved: %v", err)
		}
		fmt.Print(machine.History().String())
	}
	return nil
}

// resolveSuggestion prompts for the variant decision, honoring the
// non-interactive flags.
func resolveSuggestion(cmd *cobra.Command, machine *proofflow.Machine) error {
	pending := machine.Pending()
	if pending == nil {
		return nil
	}

	fmt.Println(ux.Styles.WarningBox.Render(fmt.Sprintf(
		"The model proved a %s of your statement:\n%s\n%s",
		strings.ToLower(string(pending.VariantType)),
		ux.Styles.Bold.Render(pending.FinalStatement),
		ux.Styles.Muted.Render(pending.Explanation))))

	accept := acceptVariant
	if !accept && !declineOnly {
		if !ux.IsInteractive() {
			ux.Warn("non-interactive session; declining the suggested variant")
		} else {
			fmt.Print("Accept the suggested statement? [y/N] ")
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			accept = strings.EqualFold(strings.TrimSpace(answer), "y")
		}
	}

	if !accept {
		machine.DeclineSuggestion()
		ux.Info("suggestion declined; nothing was committed")
		return nil
	}
	if err := machine.AcceptSuggestion(cmd.Context()); err != nil {
		return fmt.Errorf("accept suggestion: %w", err)
	}
	ux.Success("working statement updated")
	return nil
}

func reportChain(verifier *ux.ChainVerifier) {
	report := verifier.Report()
	if report.Intact() {
		if report.Verified > 0 {
			ux.Info("integrity: %d events verified", report.Verified)
		}
		return
	}
	for _, b := range report.Breaks {
		ux.Warn("integrity break at event %d (%s): %s", b.Index, b.EventType, b.Reason)
	}
}

func saveSession(problem string, machine *proofflow.Machine) error {
	store, err := badgerstore.Open(badgerstore.DefaultConfig(expandHome(storePath)))
	if err != nil {
		return err
	}
	defer store.Close()
	return proofflow.NewSessionStore(store).Save(problem, machine)
}

func resolveProblem(args []string) (string, error) {
	if problemFile != "" {
		data, err := os.ReadFile(problemFile)
		if err != nil {
			return "", fmt.Errorf("read statement file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	problem := strings.TrimSpace(strings.Join(args, " "))
	if problem == "" {
		return "", fmt.Errorf("provide a statement as an argument or with --file")
	}
	return problem, nil
}
