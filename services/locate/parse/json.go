// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package parse decodes the model's replies: API-selection JSON, single
// search call expressions, and patch/test review verdicts.
//
// The decoders are total. Malformed input yields a sentinel value or an
// error, never a panic.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSONObject indicates no {...} span was found in a reply.
var ErrNoJSONObject = errors.New("no JSON object found")

// extractJSONObject strips markdown fences and surrounding prose and
// decodes the outermost {...} span into a map.
func extractJSONObject(text string) (map[string]json.RawMessage, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, ErrNoJSONObject
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil, fmt.Errorf("decoding JSON object: %w", err)
	}
	return obj, nil
}

// rawString decodes raw as a JSON string. Missing, null, or non-string
// values yield ok=false.
func rawString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
