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
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lemmalab/proofbench/pkg/logging"
)

// --- Global Command Variables ---
var (
	serverURL     string
	storePath     string
	logDir        string
	verbose       bool
	problemFile   string
	acceptVariant bool
	declineOnly   bool
	sympyOp       string
	sympyExpr     string
	sympyLHS      string
	sympyRHS      string
	sympyODE      string
	sympyVar      string
	servePort     string

	rootCmd = &cobra.Command{
		Use:   "proofbench",
		Short: "A cli for drafting, classifying and structuring mathematical proofs",
		Long: `Proofbench drives the prover service: stream a proof attempt for a
statement, review variant suggestions, browse the version history of
past sessions, and query the sympy worker.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			logger, err := logging.New(logging.Config{
				Level:   level,
				LogDir:  logDir,
				Service: "cli",
			})
			if err == nil {
				slog.SetDefault(logger.Slog())
			}
		},
	}

	attemptCmd = &cobra.Command{
		Use:   "attempt [statement]",
		Short: "Stream a proof attempt for a statement",
		Args:  cobra.ArbitraryArgs,
		RunE:  runAttempt, // Defined in cmd_attempt.go
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Browse saved proof sessions",
	}
	historyListCmd = &cobra.Command{
		Use:   "list",
		Short: "List saved proof sessions",
		RunE:  runHistoryList, // Defined in cmd_history.go
	}
	historyShowCmd = &cobra.Command{
		Use:   "show [statement]",
		Short: "Show the version history of one session",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runHistoryShow,
	}
	historyDeleteCmd = &cobra.Command{
		Use:   "delete [statement]",
		Short: "Delete a saved session",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runHistoryDelete,
	}

	sympyCmd = &cobra.Command{
		Use:   "sympy",
		Short: "Run symbolic computations through the prover service",
	}
	sympyRunCmd = &cobra.Command{
		Use:   "run",
		Short: "Run one sympy operation (dsolve, simplify, verify, ...)",
		RunE:  runSympy, // Defined in cmd_sympy.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the prover service in the foreground",
		RunE:  runServe, // Defined in cmd_serve.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("PROOFBENCH_SERVER", "http://localhost:12310"), "Prover service base URL")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", envOr("PROOFBENCH_STORE", "~/.proofbench/history"), "Session store directory")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", os.Getenv("PROOFBENCH_LOG_DIR"), "Directory for log files (empty disables file logging)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	attemptCmd.Flags().StringVarP(&problemFile, "file", "f", "", "Read the statement from a file")
	attemptCmd.Flags().BoolVar(&acceptVariant, "accept-variant", false, "Accept a suggested variant statement without prompting")
	attemptCmd.Flags().BoolVar(&declineOnly, "decline-variant", false, "Decline a suggested variant statement without prompting")

	sympyRunCmd.Flags().StringVar(&sympyOp, "op", "", "Operation (verify, simplify, diff, integrate, solve, dsolve)")
	sympyRunCmd.Flags().StringVar(&sympyExpr, "expr", "", "Expression input")
	sympyRunCmd.Flags().StringVar(&sympyLHS, "lhs", "", "Left-hand side for verify")
	sympyRunCmd.Flags().StringVar(&sympyRHS, "rhs", "", "Right-hand side for verify")
	sympyRunCmd.Flags().StringVar(&sympyODE, "ode", "", "Differential equation for dsolve")
	sympyRunCmd.Flags().StringVar(&sympyVar, "var", "", "Dependent or solve variable")
	sympyRunCmd.MarkFlagRequired("op")

	serveCmd.Flags().StringVar(&servePort, "port", envOr("PROVER_PORT", "12310"), "Listen port")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)
	sympyCmd.AddCommand(sympyRunCmd)
	rootCmd.AddCommand(attemptCmd, historyCmd, sympyCmd, serveCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// expandHome resolves a leading ~ in store paths.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
