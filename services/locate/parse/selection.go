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
	"encoding/json"
)

// Candidate is a bug location proposed by the model.
type Candidate struct {
	File             string `json:"file"`
	Method           string `json:"method"`
	Class            string `json:"class"`
	IntendedBehavior string `json:"intended_behavior"`
}

// Selection is the decoded API-selection reply.
type Selection struct {
	APICalls     []string    `json:"API_calls"`
	BugLocations []Candidate `json:"bug_locations"`
}

// Empty reports whether the selection carries neither calls nor candidates.
func (s Selection) Empty() bool {
	return len(s.APICalls) == 0 && len(s.BugLocations) == 0
}

// DecodeSelection decodes an API-selection reply.
//
// Description:
//
//	Accepts the JSON object with or without markdown fences or surrounding
//	prose. API_calls entries that are not strings are skipped; bug_locations
//	entries that are not objects are skipped, and their missing or non-string
//	fields become empty strings. Either key may be absent.
//
// Outputs:
//   - Selection: The decoded selection; the zero value on failure.
//   - bool: False when no JSON object could be decoded or a key holds a
//     non-list value.
//
// Thread Safety: Safe for concurrent use (pure function).
func DecodeSelection(text string) (Selection, bool) {
	obj, err := extractJSONObject(text)
	if err != nil {
		return Selection{}, false
	}

	var sel Selection
	if raw, ok := obj["API_calls"]; ok && string(raw) != "null" {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return Selection{}, false
		}
		for _, item := range items {
			if s, ok := rawString(item); ok {
				sel.APICalls = append(sel.APICalls, s)
			}
		}
	}

	if raw, ok := obj["bug_locations"]; ok && string(raw) != "null" {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return Selection{}, false
		}
		for _, item := range items {
			var fields map[string]json.RawMessage
			if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
				continue
			}
			c := Candidate{}
			c.File, _ = rawString(fields["file"])
			c.Method, _ = rawString(fields["method"])
			c.Class, _ = rawString(fields["class"])
			c.IntendedBehavior, _ = rawString(fields["intended_behavior"])
			sel.BugLocations = append(sel.BugLocations, c)
		}
	}
	return sel, true
}
