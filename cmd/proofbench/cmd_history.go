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
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lemmalab/proofbench/pkg/badgerstore"
	"github.com/lemmalab/proofbench/pkg/proofflow"
	"github.com/lemmalab/proofbench/pkg/ux"
)

func openSessionStore() (*badgerstore.Store, *proofflow.SessionStore, error) {
	store, err := badgerstore.Open(badgerstore.DefaultConfig(expandHome(storePath)))
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return store, proofflow.NewSessionStore(store), nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, sessions, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := sessions.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(list) == 0 {
		ux.Info("no saved sessions")
		return nil
	}

	ux.Title("saved sessions")
	for _, s := range list {
		raw, structured := 0, 0
		for _, v := range s.Versions {
			if v.Type == proofflow.VersionRaw {
				raw++
			} else {
				structured++
			}
		}
		fmt.Printf("  %s  %s\n",
			ux.Styles.Muted.Render(s.SavedAt.Format("2006-01-02 15:04")),
			truncate(s.Problem, 72))
		fmt.Printf("  %s\n",
			ux.Styles.Subtitle.Render(fmt.Sprintf("    %d raw, %d structured", raw, structured)))
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	problem := strings.Join(args, " ")
	store, sessions, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	machine, err := sessions.Load(problem, proofflow.Config{})
	if err != nil {
		if errors.Is(err, proofflow.ErrSessionNotFound) {
			return fmt.Errorf("no saved session for that statement")
		}
		return fmt.Errorf("load session: %w", err)
	}

	ux.Title(machine.Problem())
	fmt.Print(machine.History().String())
	if active, ok := machine.History().Active(); ok {
		fmt.Println(ux.Styles.Box.Render(active.Content))
	}
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	problem := strings.Join(args, " ")
	store, sessions, err := openSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := sessions.Delete(problem); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	ux.Success("session deleted")
	return nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
