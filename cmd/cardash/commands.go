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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	seedValue  uint64
	seedDryRun bool

	rootCmd = &cobra.Command{
		Use:   "cardash",
		Short: "Used car price dashboard backed by CouchDB and InfluxDB",
		Long: `cardash serves a per-country used car price chart from a CouchDB
listing store and pushes a summary point per refresh to InfluxDB.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Connect to the stores and serve the dashboard API",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Insert generated sample listings into the document store",
		RunE:  runSeed, // Defined in cmd_seed.go
	}

	ensureSinkCmd = &cobra.Command{
		Use:   "ensure-sink",
		Short: "Create the metrics database or bucket if it does not exist",
		RunE:  runEnsureSink, // Defined in cmd_seed.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Optional YAML config file; environment variables override it")

	seedCmd.Flags().Uint64Var(&seedValue, "seed", 42, "Random seed for the generated listings")
	seedCmd.Flags().BoolVar(&seedDryRun, "dry-run", false, "Generate and count listings without writing them")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(ensureSinkCmd)
}
