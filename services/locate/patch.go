// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package locate

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

const devNull = "/dev/null"

// PatchFile summarizes one file of a unified diff.
type PatchFile struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Deleted int    `json:"deleted"`
	Hunks   int    `json:"hunks"`
}

// SummarizePatch parses a unified diff and counts its changes per file.
//
// Description:
//
//	Paths drop the conventional a/ and b/ prefixes. A deleted file is
//	reported under its original name.
//
// Outputs:
//   - []PatchFile: One entry per file, in patch order.
//   - error: ErrInvalidRequest when the text does not parse or touches no
//     file.
func SummarizePatch(patch string) ([]PatchFile, error) {
	fds, err := diff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return nil, fmt.Errorf("%w: patch is not a unified diff: %v", ErrInvalidRequest, err)
	}

	files := make([]PatchFile, 0, len(fds))
	for _, fd := range fds {
		name := fd.NewName
		if name == "" || name == devNull {
			name = fd.OrigName
		}
		if name == "" || name == devNull {
			continue
		}
		pf := PatchFile{Path: stripDiffPrefix(name), Hunks: len(fd.Hunks)}
		for _, h := range fd.Hunks {
			for _, line := range bytes.Split(h.Body, []byte("\n")) {
				switch {
				case bytes.HasPrefix(line, []byte("+")):
					pf.Added++
				case bytes.HasPrefix(line, []byte("-")):
					pf.Deleted++
				}
			}
		}
		files = append(files, pf)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: patch touches no file", ErrInvalidRequest)
	}
	return files, nil
}

func stripDiffPrefix(name string) string {
	for _, prefix := range []string{"a/", "b/"} {
		if rest, ok := strings.CutPrefix(name, prefix); ok {
			return rest
		}
	}
	return name
}
