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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/faultline/services/locate/config"
	"github.com/AleutianAI/faultline/services/locate/index"
)

// newIndexCommand builds the project index without a model, which is
// useful for checking what the search primitives will see.
func newIndexCommand() *cobra.Command {
	var (
		project string
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index a Python project and print its statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			idx, err := index.Build(cmd.Context(), project,
				index.WithParallelism(cfg.Parallelism),
				index.WithLogger(slog.Default()),
			)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			stats := idx.Stats()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			_, err = fmt.Fprint(out, renderStats(stats, isTerminal(out)))
			return err
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", ".", "Python project root")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the statistics as JSON")
	return cmd
}
