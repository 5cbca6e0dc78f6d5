// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// skippedDirs are directory names never descended into when enumerating
// project sources: virtual environments, VCS metadata, caches.
var skippedDirs = map[string]bool{
	".git":          true,
	".hg":           true,
	".svn":          true,
	".tox":          true,
	".nox":          true,
	".venv":         true,
	"venv":          true,
	"virtualenv":    true,
	"site-packages": true,
	"__pycache__":   true,
	"node_modules":  true,
	".eggs":         true,
	".mypy_cache":   true,
	".pytest_cache": true,
}

// rootOnlyDirs are skipped only directly under the project root. Deeper
// down they are ordinary package names (src/build, mypkg/env).
var rootOnlyDirs = map[string]bool{
	"env":   true,
	"build": true,
	"dist":  true,
}

// venvMarker is present at the top of every virtual environment.
const venvMarker = "pyvenv.cfg"

// skipDir reports whether the directory at path, below root, holds no
// project sources.
func skipDir(root, path, name string) bool {
	if path == root {
		return false
	}
	if skippedDirs[name] {
		return true
	}
	if rootOnlyDirs[name] && filepath.Dir(path) == root {
		return true
	}
	_, err := os.Stat(filepath.Join(path, venvMarker))
	return err == nil
}

// IsTestFile reports whether a (relative) Python path is test code.
//
// Description:
//
//	A file is test code when any path component is exactly "test" or
//	"tests", or when its stem starts with "test_" or ends with "_test".
//	Names that merely contain "test" (greatest_common_divisor.py,
//	latest.py) are not test files.
//
// Examples:
//
//	IsTestFile("test_utils.py")           // true
//	IsTestFile("search_test.py")          // true
//	IsTestFile("test/test_utils.py")      // true
//	IsTestFile("config/routing.py")       // false
//
// Thread Safety: Safe for concurrent use (pure function).
func IsTestFile(path string) bool {
	path = filepath.ToSlash(path)
	parts := strings.Split(path, "/")
	for _, part := range parts[:len(parts)-1] {
		if part == "test" || part == "tests" {
			return true
		}
	}
	base := parts[len(parts)-1]
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.HasPrefix(stem, "test_") ||
		strings.HasSuffix(stem, "_test")
}

// FindPythonFiles lists the non-test .py files under root.
//
// Description:
//
//	Walks root in lexical order, skipping virtual environments, VCS and
//	cache directories, build output at the root, and any directory named
//	test or tests. Files are returned as absolute paths.
//	Unreadable subdirectories are skipped rather than failing the walk.
//
// Inputs:
//   - root: Project root directory.
//
// Outputs:
//   - []string: Absolute paths, sorted lexically.
//   - error: Non-nil if root itself cannot be resolved or walked.
//
// Thread Safety: Safe for concurrent use.
func FindPythonFiles(root string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}

	var files []string
	walkErr := filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == absRoot {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != absRoot && (skipDir(absRoot, path, d.Name()) || d.Name() == "test" || d.Name() == "tests") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".py" {
			return nil
		}
		rel, relErr := filepath.Rel(absRoot, path)
		if relErr != nil || IsTestFile(rel) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking %s: %w", absRoot, walkErr)
	}
	return files, nil
}
