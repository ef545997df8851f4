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
	"context"
	"fmt"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/cardash/services/dashboard/connector"
	"github.com/AleutianAI/cardash/services/dashboard/store"
)

// runSeed generates sample listings and bulk-inserts them, waiting for the
// store with the same retry policy as serve.
func runSeed(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Slog()

	records := store.Generate(gofakeit.New(seedValue), store.DefaultSeedOptions())
	if seedDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "generated %d listings (dry run)\n", len(records))
		return nil
	}

	policy := connector.RetryPolicy{MaxAttempts: cfg.Connector.MaxAttempts, Delay: cfg.Connector.Delay}
	couch, err := connector.Connect[*store.CouchStore](cmd.Context(), "couchdb", func(ctx context.Context) (*store.CouchStore, error) {
		return store.DialCouch(ctx, store.CouchOptions{
			URL:      cfg.StoreURL(),
			Database: cfg.Store.Database,
			MaxDocs:  cfg.Store.MaxDocs,
			Logger:   log,
		})
	}, policy, connector.WithLogger(log))
	if err != nil {
		return err
	}
	defer couch.Close()

	stored, err := couch.Seed(cmd.Context(), records)
	if err != nil {
		return err
	}
	log.Info("Sample listings stored", "stored", stored, "generated", len(records), "database", cfg.Store.Database)
	fmt.Fprintf(cmd.OutOrStdout(), "stored %d of %d listings\n", stored, len(records))
	return nil
}

// runEnsureSink creates the metrics database or bucket once and exits.
func runEnsureSink(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Close()

	sink, release := connector.NewSinkEnsurer(cfg.Metrics, logger.Slog())
	defer release()

	if err := sink.Ensure(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "metrics sink ready")
	return nil
}
