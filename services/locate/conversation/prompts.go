// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// maxPromptsSize bounds a user-supplied catalog.
const maxPromptsSize = 1 << 20

// toolsPlaceholder is replaced with the primitive catalog by WithTools.
const toolsPlaceholder = "{{tools}}"

// Prompts is the catalog of instruction texts used in a session.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Prompts struct {
	System           string `yaml:"system"`
	AnalyzeAndSelect string `yaml:"analyze_and_select"`
	SBFL             string `yaml:"sbfl"`
	Reproducer       string `yaml:"reproducer"`
	Corrective       string `yaml:"corrective"`
	Proxy            string `yaml:"proxy"`
	ProxyRetry       string `yaml:"proxy_retry"`
	Review           string `yaml:"review"`
}

var (
	defaultPromptsOnce sync.Once
	defaultPrompts     *Prompts
	defaultPromptsErr  error
)

// DefaultPrompts returns the embedded catalog, parsed on first use.
func DefaultPrompts() (*Prompts, error) {
	defaultPromptsOnce.Do(func() {
		defaultPrompts, defaultPromptsErr = LoadPrompts(defaultPromptsYAML)
	})
	return defaultPrompts, defaultPromptsErr
}

// LoadPrompts parses and validates a YAML prompt catalog.
//
// Outputs:
//   - *Prompts: The catalog with surrounding whitespace trimmed from entries.
//   - error: ErrInvalidPrompts when the data is empty, too large, malformed,
//     or leaves an entry blank.
func LoadPrompts(data []byte) (*Prompts, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty YAML data", ErrInvalidPrompts)
	}
	if len(data) > maxPromptsSize {
		return nil, fmt.Errorf("%w: YAML data exceeds maximum size (%d > %d)", ErrInvalidPrompts, len(data), maxPromptsSize)
	}

	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: parsing YAML: %v", ErrInvalidPrompts, err)
	}

	for name, field := range p.fields() {
		*field = strings.TrimSpace(*field)
		if *field == "" {
			return nil, fmt.Errorf("%w: %q is empty", ErrInvalidPrompts, name)
		}
	}
	return &p, nil
}

func (p *Prompts) fields() map[string]*string {
	return map[string]*string{
		"system":             &p.System,
		"analyze_and_select": &p.AnalyzeAndSelect,
		"sbfl":               &p.SBFL,
		"reproducer":         &p.Reproducer,
		"corrective":         &p.Corrective,
		"proxy":              &p.Proxy,
		"proxy_retry":        &p.ProxyRetry,
		"review":             &p.Review,
	}
}

// WithTools returns a copy of p whose {{tools}} placeholders list the given
// primitive catalog.
func (p *Prompts) WithTools(catalog string) *Prompts {
	out := *p
	catalog = strings.TrimRight(catalog, "\n")
	for _, field := range out.fields() {
		*field = strings.ReplaceAll(*field, toolsPlaceholder, catalog)
	}
	return &out
}
