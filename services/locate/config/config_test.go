// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvProvider, EnvModel, EnvRoundLimit, EnvOutputDir} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faultline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.ResultShowLimit)
	assert.True(t, cfg.Proxy.Enabled)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
conv_round_limit: 4
enable_sbfl: true
model:
  provider: openai
  name: gpt-4o
  temperature: 0.2
archive:
  enabled: true
  path: /tmp/archive
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.ConvRoundLimit)
	assert.True(t, cfg.EnableSBFL)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "gpt-4o", cfg.Model.Name)
	assert.InDelta(t, 0.2, cfg.Model.Temperature, 1e-6)
	assert.Equal(t, 4096, cfg.Model.MaxTokens, "unset keys keep defaults")
	assert.Equal(t, "output", cfg.OutputDir)

	cc := cfg.ClientConfig()
	assert.Equal(t, "openai", cc.Provider)
	opts := cfg.ChatOptions()
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, 0.2, *opts.Temperature, 1e-6)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvProvider, "OpenAI")
	t.Setenv(EnvModel, "gpt-4o-mini")
	t.Setenv(EnvRoundLimit, "7")
	t.Setenv(EnvOutputDir, "/tmp/out")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.Model.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.Model.Name)
	assert.Equal(t, 7, cfg.ConvRoundLimit)
	assert.Equal(t, "/tmp/out", cfg.OutputDir)

	t.Setenv(EnvRoundLimit, "many")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.ConvRoundLimit)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	tests := map[string]string{
		"zero rounds":        "conv_round_limit: 0\n",
		"unknown provider":   "model:\n  provider: llama\n",
		"archive no path":    "archive:\n  enabled: true\n  path: \"\"\n",
		"bad addr":           "server:\n  addr: not-an-address\n",
		"negative rpm":       "model:\n  requests_per_minute: -1\n",
		"bad base url":       "model:\n  base_url: \"::nope\"\n",
		"proxy zero retries": "proxy:\n  retries: 0\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "conv_round_limit: [1, 2\n"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}
