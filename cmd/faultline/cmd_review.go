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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/faultline/services/locate"
)

func newReviewCommand() *cobra.Command {
	var (
		issueFile      string
		patchFile      string
		testFile       string
		testOutputFile string
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Ask the model whether a patch and its reproduction test are correct",
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			var req locate.ReviewRequest
			var err error
			if req.Issue, err = readInput(in, issueFile); err != nil {
				return err
			}
			if req.Patch, err = readInput(in, patchFile); err != nil {
				return err
			}
			if req.Test, err = readInput(in, testFile); err != nil {
				return err
			}
			if req.TestOutput, err = readInput(in, testOutputFile); err != nil {
				return err
			}

			svc, cleanup, err := loadService(nil)
			if err != nil {
				return err
			}
			defer cleanup()

			review, err := svc.Review(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(review)
		},
	}

	cmd.Flags().StringVarP(&issueFile, "issue", "i", "", `Issue statement file ("-" for stdin)`)
	cmd.Flags().StringVar(&patchFile, "patch", "", "Patch file")
	cmd.Flags().StringVar(&testFile, "test", "", "Reproduction test file")
	cmd.Flags().StringVar(&testOutputFile, "test-output", "", "Output of running the reproduction test")
	_ = cmd.MarkFlagRequired("issue")
	_ = cmd.MarkFlagRequired("patch")
	return cmd
}
