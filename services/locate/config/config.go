// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads faultline's configuration from YAML, applies
// environment overrides, and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/faultline/services/llm"
)

// MaxConfigFileSize bounds the config file read by Load.
const MaxConfigFileSize = 1 << 20

// Environment variables that override file values.
const (
	EnvProvider   = "FAULTLINE_PROVIDER"
	EnvModel      = "FAULTLINE_MODEL"
	EnvRoundLimit = "FAULTLINE_ROUND_LIMIT"
	EnvOutputDir  = "FAULTLINE_OUTPUT_DIR"
)

// ErrInvalidConfig indicates a configuration that failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete faultline configuration.
type Config struct {
	// ConvRoundLimit bounds the model replies handled per session.
	ConvRoundLimit int `yaml:"conv_round_limit" validate:"gte=1,lte=100"`

	// ResultShowLimit is how many matches a primitive shows in full.
	ResultShowLimit int `yaml:"result_show_limit" validate:"gte=1,lte=50"`

	// OutputDir holds one subdirectory per session with its audit trail
	// and transcripts.
	OutputDir string `yaml:"output_dir" validate:"required"`

	// EnableSBFL primes a fault-localization report into the thread.
	EnableSBFL bool `yaml:"enable_sbfl"`

	// ReproduceAndReview primes reproduction output into the thread.
	ReproduceAndReview bool `yaml:"reproduce_and_review"`

	// Parallelism bounds concurrent file parsing at index time. Zero means
	// one worker per CPU.
	Parallelism int `yaml:"parallelism" validate:"gte=0,lte=256"`

	// PromptsFile replaces the embedded prompt catalog when set.
	PromptsFile string `yaml:"prompts_file"`

	// Watch drops a cached project index when its Python sources change.
	Watch bool `yaml:"watch"`

	Proxy   ProxyConfig   `yaml:"proxy"`
	Model   ModelConfig   `yaml:"model"`
	Archive ArchiveConfig `yaml:"archive"`
	Server  ServerConfig  `yaml:"server"`
}

// ProxyConfig configures the normalizer for replies that do not decode.
type ProxyConfig struct {
	Enabled bool `yaml:"enabled"`
	Retries int  `yaml:"retries" validate:"gte=1,lte=20"`
}

// ModelConfig selects and tunes the reasoning model.
type ModelConfig struct {
	Provider          string  `yaml:"provider" validate:"oneof=anthropic openai"`
	Name              string  `yaml:"name"`
	BaseURL           string  `yaml:"base_url" validate:"omitempty,url"`
	Temperature       float32 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int     `yaml:"max_tokens" validate:"gte=0,lte=200000"`
	RequestsPerMinute int     `yaml:"requests_per_minute" validate:"gte=0"`
	RedactPII         bool    `yaml:"redact_pii"`
}

// ArchiveConfig configures the BadgerDB session archive.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		ConvRoundLimit:  15,
		ResultShowLimit: 3,
		OutputDir:       "output",
		Proxy: ProxyConfig{
			Enabled: true,
			Retries: 5,
		},
		Model: ModelConfig{
			Provider:  llm.ProviderAnthropic,
			MaxTokens: 4096,
		},
		Archive: ArchiveConfig{
			Path: ".faultline/archive",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
	}
}

// Load reads path over the defaults, applies environment overrides, and
// validates the result.
//
// Description:
//
//	An empty path or a missing file yields the defaults. Keys absent from
//	the file keep their default values.
//
// Outputs:
//   - Config: The validated configuration.
//   - error: Read or parse failures, or ErrInvalidConfig.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("stat config %s: %w", path, err)
		case info.Size() > MaxConfigFileSize:
			return Config{}, fmt.Errorf("config %s exceeds maximum size (%d > %d)", path, info.Size(), MaxConfigFileSize)
		default:
			data, err := os.ReadFile(path)
			if err != nil {
				return Config{}, fmt.Errorf("reading config %s: %w", path, err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
			}
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FAULTLINE_* environment variables.
// Unparseable numbers leave the current value in place.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvProvider); v != "" {
		c.Model.Provider = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model.Name = v
	}
	c.ConvRoundLimit = envInt(EnvRoundLimit, c.ConvRoundLimit)
	if v := os.Getenv(EnvOutputDir); v != "" {
		c.OutputDir = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ClientConfig returns the model client settings.
func (c *Config) ClientConfig() llm.ClientConfig {
	return llm.ClientConfig{
		Provider:          c.Model.Provider,
		Model:             c.Model.Name,
		BaseURL:           c.Model.BaseURL,
		RequestsPerMinute: c.Model.RequestsPerMinute,
		RedactPII:         c.Model.RedactPII,
	}
}

// ChatOptions returns the per-call model options.
func (c *Config) ChatOptions() llm.ChatOptions {
	temp := c.Model.Temperature
	return llm.ChatOptions{Temperature: &temp, MaxTokens: c.Model.MaxTokens}
}

// envInt reads an integer environment variable with a default value.
func envInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
