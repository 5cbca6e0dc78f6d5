// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package parse

import (
	"strings"
)

// Decision is a reviewer verdict.
type Decision string

// Reviewer verdicts.
const (
	DecisionYes Decision = "YES"
	DecisionNo  Decision = "NO"
)

func parseDecision(s string) (Decision, bool) {
	switch strings.ToLower(s) {
	case "yes":
		return DecisionYes, true
	case "no":
		return DecisionNo, true
	}
	return "", false
}

// Review is a reviewer's verdict on a patch and its reproduction test.
type Review struct {
	PatchDecision Decision `json:"patch-correct"`
	PatchAnalysis string   `json:"patch-analysis"`
	PatchAdvice   string   `json:"patch-advice"`
	TestDecision  Decision `json:"test-correct"`
	TestAnalysis  string   `json:"test-analysis"`
	TestAdvice    string   `json:"test-advice"`
}

// DecodeReview decodes a reviewer reply.
//
// Description:
//
//	All six keys must be present and hold strings. The two "-correct" keys
//	must be yes or no in any case. A review that rejects both the patch and
//	the test without any advice carries no actionable information and
//	decodes as nil, the same as malformed input.
//
// Outputs:
//   - *Review: The review, or nil.
//
// Thread Safety: Safe for concurrent use (pure function).
func DecodeReview(text string) *Review {
	obj, err := extractJSONObject(text)
	if err != nil {
		return nil
	}

	field := func(key string) (string, bool) { return rawString(obj[key]) }

	var r Review
	var ok bool
	var raw string

	if raw, ok = field("patch-correct"); !ok {
		return nil
	}
	if r.PatchDecision, ok = parseDecision(raw); !ok {
		return nil
	}
	if raw, ok = field("test-correct"); !ok {
		return nil
	}
	if r.TestDecision, ok = parseDecision(raw); !ok {
		return nil
	}
	for key, dst := range map[string]*string{
		"patch-analysis": &r.PatchAnalysis,
		"patch-advice":   &r.PatchAdvice,
		"test-analysis":  &r.TestAnalysis,
		"test-advice":    &r.TestAdvice,
	} {
		if *dst, ok = field(key); !ok {
			return nil
		}
	}

	if r.PatchDecision == DecisionNo && r.PatchAdvice == "" &&
		r.TestDecision == DecisionNo && r.TestAdvice == "" {
		return nil
	}
	return &r
}
