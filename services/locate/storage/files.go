// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage persists a search session's audit trail: JSON files in
// the session's output directory and an optional BadgerDB archive that
// keeps sessions across runs.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// File names written to a session's output directory.
const (
	ToolCallLayersFile = "tool_call_layers.json"
	BugLocationsFile   = "bug_locations.json"
)

// RoundTranscriptFile names the transcript of round i.
func RoundTranscriptFile(i int) string {
	return fmt.Sprintf("conversation_round_%d.json", i)
}

// RemoveRoundTranscripts deletes the round transcripts an earlier session
// left in dir. A missing dir is not an error.
func RemoveRoundTranscripts(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "conversation_round_*.json"))
	if err != nil {
		return fmt.Errorf("listing transcripts in %s: %w", dir, err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", m, err)
		}
	}
	return nil
}

// WriteJSON writes v as indented JSON to dir/name.
//
// Description:
//
//	dir is created if missing. The file is written to a temporary sibling
//	and renamed into place, so readers never observe a partial file.
//
// Outputs:
//   - string: The written path.
//   - error: Non-nil on encode or I/O failure.
func WriteJSON(dir, name string, v any) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating output directory %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encoding %s: %w", name, err)
	}

	path := filepath.Join(dir, name)
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("renaming %s: %w", name, err)
	}
	return path, nil
}
