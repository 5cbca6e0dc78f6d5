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
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/faultline/services/locate"
	"github.com/AleutianAI/faultline/services/locate/config"
)

func newLocateCommand() *cobra.Command {
	var (
		project        string
		issueFile      string
		sbflFile       string
		reproducerFile string
		outputDir      string
		roundLimit     int
		asJSON         bool
	)

	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Run a search session and print the bug locations",
		Long: `Runs one search session for an issue against a Python project.

The issue is read from --issue (use "-" for stdin). The session writes
tool_call_layers.json, bug_locations.json and one transcript per round
to --output, or to <output_dir>/<session id> when --output is unset.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issue, err := readInput(cmd.InOrStdin(), issueFile)
			if err != nil {
				return err
			}
			sbfl, err := readInput(cmd.InOrStdin(), sbflFile)
			if err != nil {
				return err
			}
			reproducer, err := readInput(cmd.InOrStdin(), reproducerFile)
			if err != nil {
				return err
			}

			svc, cleanup, err := loadService(func(c *config.Config) {
				if roundLimit > 0 {
					c.ConvRoundLimit = roundLimit
				}
				if sbfl != "" {
					c.EnableSBFL = true
				}
				if reproducer != "" {
					c.ReproduceAndReview = true
				}
			})
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := svc.Locate(ctx, locate.LocateRequest{
				ProjectRoot: project,
				Issue:       issue,
				SBFL:        sbfl,
				Reproducer:  reproducer,
				OutputDir:   outputDir,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			_, err = fmt.Fprint(out, renderResult(res, isTerminal(out)))
			return err
		},
	}

	cmd.Flags().StringVarP(&project, "project", "p", ".", "Python project root")
	cmd.Flags().StringVarP(&issueFile, "issue", "i", "", `Issue statement file ("-" for stdin)`)
	cmd.Flags().StringVar(&sbflFile, "sbfl", "", "Fault-localization report to prime the conversation with")
	cmd.Flags().StringVar(&reproducerFile, "reproducer", "", "Reproduction test output to prime the conversation with")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Session output directory (default <output_dir>/<session id>)")
	cmd.Flags().IntVar(&roundLimit, "rounds", 0, "Conversation round limit (overrides conv_round_limit)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}
