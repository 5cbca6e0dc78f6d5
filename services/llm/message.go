// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the model clients used by the localization engine.
//
// Every client implements ChatClient. Concrete providers (Anthropic over raw
// HTTP, OpenAI through go-openai) are composed with decorators for PII
// redaction, rate limiting, and OTel/Prometheus instrumentation by NewClient.
package llm

import (
	"context"
	"errors"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in a model conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions configures a single Chat call.
//
// Description:
//
//	Zero values mean "provider default". Temperature is a pointer so that an
//	explicit 0.0 (deterministic decoding) can be distinguished from unset.
//
// Thread Safety: ChatOptions is a value type and safe to copy.
type ChatOptions struct {
	Temperature *float32
	MaxTokens   int
	Stop        []string
}

// ChatClient sends a conversation to a model and returns the assistant text.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error)
}

// ChatFunc adapts an ordinary function to ChatClient.
type ChatFunc func(ctx context.Context, messages []Message, opts ChatOptions) (string, error)

// Chat implements ChatClient.
func (f ChatFunc) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	return f(ctx, messages, opts)
}

var (
	// ErrMissingAPIKey indicates no API key was configured for a provider.
	ErrMissingAPIKey = errors.New("llm: API key is missing")

	// ErrEmptyResponse indicates the provider answered without any text.
	ErrEmptyResponse = errors.New("llm: empty response")

	// ErrUnknownProvider indicates an unsupported provider name.
	ErrUnknownProvider = errors.New("llm: unknown provider")

	// ErrNilClient indicates a decorator was built around a nil client.
	ErrNilClient = errors.New("llm: client is nil")
)
