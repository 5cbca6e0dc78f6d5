// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"os"
	"strings"
)

// Supported provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ClientConfig describes how to build a ChatClient.
type ClientConfig struct {
	// Provider is "anthropic" or "openai".
	Provider string

	// Model overrides the provider default.
	Model string

	// BaseURL overrides the provider endpoint. For Anthropic this is the full
	// messages URL; for OpenAI it is the API base ("…/v1").
	BaseURL string

	// APIKey overrides the provider's environment variable.
	APIKey string

	// RequestsPerMinute throttles calls. Zero disables throttling.
	RequestsPerMinute int

	// RedactPII scrubs personal data from outgoing user content.
	RedactPII bool
}

// NewClient builds the decorated ChatClient for cfg.
//
// Description:
//
//	Composition order (outermost first): instrumentation, rate limit,
//	redaction, provider. Instrumentation sits outside the limiter so that
//	time spent waiting for a token shows up in the call duration.
//
// Inputs:
//   - cfg: The client configuration.
//
// Outputs:
//   - ChatClient: The decorated client.
//   - error: ErrUnknownProvider or ErrMissingAPIKey.
func NewClient(cfg ClientConfig) (ChatClient, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))

	var base ChatClient
	switch provider {
	case ProviderAnthropic:
		key := firstNonEmpty(cfg.APIKey, os.Getenv("ANTHROPIC_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("%w (ANTHROPIC_API_KEY)", ErrMissingAPIKey)
		}
		base = NewAnthropicClientWithConfig(key, firstNonEmpty(cfg.Model, os.Getenv("CLAUDE_MODEL")), cfg.BaseURL)
	case ProviderOpenAI:
		key := firstNonEmpty(cfg.APIKey, os.Getenv("OPENAI_API_KEY"))
		if key == "" {
			return nil, fmt.Errorf("%w (OPENAI_API_KEY)", ErrMissingAPIKey)
		}
		base = NewOpenAIClientWithConfig(key, firstNonEmpty(cfg.Model, os.Getenv("OPENAI_MODEL")), cfg.BaseURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}

	if cfg.RedactPII {
		base = NewRedactingClient(base)
	}
	if cfg.RequestsPerMinute > 0 {
		base = NewRateLimitedClient(base, cfg.RequestsPerMinute)
	}
	return NewInstrumentedClient(base, provider), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
