// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"github.com/AleutianAI/faultline/services/locate/storage"
)

// ToolCallRecord is one attempted primitive invocation.
type ToolCallRecord struct {
	FuncName  string            `json:"func_name"`
	Arguments map[string]string `json:"arguments"`
	CallOK    bool              `json:"call_ok"`
}

// ToolCallLayer holds the records of one round, in call order.
type ToolCallLayer []ToolCallRecord

// StartNewToolCallLayer opens a new, empty layer.
func (m *Manager) StartNewToolCallLayer() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers = append(m.layers, ToolCallLayer{})
}

// AddToolCallToCurrLayer appends a record to the newest layer, opening one
// first if none exists. A nil args map is recorded as empty.
func (m *Manager) AddToolCallToCurrLayer(funcName string, args map[string]string, ok bool) {
	copied := make(map[string]string, len(args))
	for k, v := range args {
		copied[k] = v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.layers) == 0 {
		m.layers = append(m.layers, ToolCallLayer{})
	}
	last := len(m.layers) - 1
	m.layers[last] = append(m.layers[last], ToolCallRecord{FuncName: funcName, Arguments: copied, CallOK: ok})
}

// ToolCallLayers returns a copy of the audit trail.
func (m *Manager) ToolCallLayers() []ToolCallLayer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ToolCallLayer, len(m.layers))
	for i, layer := range m.layers {
		out[i] = append(ToolCallLayer{}, layer...)
	}
	return out
}

// DumpToolCallLayersToFile writes the audit trail to
// <output_dir>/tool_call_layers.json and returns the path.
func (m *Manager) DumpToolCallLayersToFile() (string, error) {
	return storage.WriteJSON(m.cfg.OutputDir, storage.ToolCallLayersFile, m.ToolCallLayers())
}

func (m *Manager) resetLayers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layers = []ToolCallLayer{}
}
