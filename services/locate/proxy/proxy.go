// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package proxy rewrites a free-form model reply into API-selection JSON
// using a second model pass.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/faultline/services/llm"
	"github.com/AleutianAI/faultline/services/locate/conversation"
	"github.com/AleutianAI/faultline/services/locate/parse"
)

// DefaultRetries is the number of attempts when none is configured.
const DefaultRetries = 5

var tracer = otel.Tracer("faultline.proxy")

var (
	// ErrNoValidOutput indicates every attempt produced unusable output.
	ErrNoValidOutput = errors.New("proxy produced no valid selection")

	// ErrNilClient indicates New was called without a chat client.
	ErrNilClient = errors.New("proxy: chat client is nil")
)

// Normalizer turns analysis text into the API-selection JSON.
//
// Thread Safety: Safe for concurrent use if the underlying client is.
type Normalizer struct {
	client  llm.ChatClient
	prompts *conversation.Prompts
	retries int
	opts    llm.ChatOptions
	logger  *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithRetries sets the number of attempts. Values below 1 are ignored.
func WithRetries(n int) Option {
	return func(p *Normalizer) {
		if n > 0 {
			p.retries = n
		}
	}
}

// WithPrompts sets the catalog providing the proxy instructions.
func WithPrompts(prompts *conversation.Prompts) Option {
	return func(p *Normalizer) {
		if prompts != nil {
			p.prompts = prompts
		}
	}
}

// WithChatOptions sets the options passed to the model.
func WithChatOptions(opts llm.ChatOptions) Option {
	return func(p *Normalizer) { p.opts = opts }
}

// WithLogger sets the normalizer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Normalizer) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Normalizer backed by client.
func New(client llm.ChatClient, opts ...Option) (*Normalizer, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	n := &Normalizer{client: client, retries: DefaultRetries, logger: slog.Default()}
	for _, opt := range opts {
		opt(n)
	}
	if n.prompts == nil {
		p, err := conversation.DefaultPrompts()
		if err != nil {
			return nil, err
		}
		n.prompts = p
	}
	return n, nil
}

// Normalize asks the model to restate text as API-selection JSON.
//
// Description:
//
//	Each attempt continues the same thread: a rejected reply is kept and
//	followed by the retry instruction. A reply is accepted when it decodes
//	as a non-empty selection whose every API call is a single call
//	expression and whose every location names at least a file, a class or
//	a method.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - text: The reasoning model's free-form reply.
//
// Outputs:
//   - string: The accepted reply.
//   - *conversation.MessageThread: The proxy's own conversation.
//   - error: ErrNoValidOutput after the last attempt, or a model error.
func (n *Normalizer) Normalize(ctx context.Context, text string) (string, *conversation.MessageThread, error) {
	ctx, span := tracer.Start(ctx, "proxy.Normalize")
	defer span.End()

	thread := conversation.NewMessageThread()
	thread.AddSystem(n.prompts.Proxy)
	thread.AddUser(text)

	for attempt := 1; attempt <= n.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", thread, err
		}
		reply, err := n.client.Chat(ctx, thread.Messages, n.opts)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "model call failed")
			return "", thread, fmt.Errorf("proxy attempt %d: %w", attempt, err)
		}
		thread.AddModel(reply)

		if reason := validate(reply); reason != "" {
			n.logger.Warn("proxy output rejected",
				slog.Int("attempt", attempt),
				slog.String("reason", reason),
			)
			thread.AddUser(n.prompts.ProxyRetry)
			continue
		}
		span.SetAttributes(attribute.Int("attempts", attempt))
		return reply, thread, nil
	}

	span.SetStatus(codes.Error, "no valid output")
	return "", thread, fmt.Errorf("%w after %d attempts", ErrNoValidOutput, n.retries)
}

// validate returns why reply is unusable, or "" when it is acceptable.
func validate(reply string) string {
	sel, ok := parse.DecodeSelection(reply)
	if !ok {
		return "not a JSON object of the expected shape"
	}
	if sel.Empty() {
		return "no API calls and no bug locations"
	}
	for _, call := range sel.APICalls {
		if _, err := parse.DecodeCall(call); err != nil {
			return fmt.Sprintf("API call %q is not a call expression", call)
		}
	}
	for _, loc := range sel.BugLocations {
		if loc.File == "" && loc.Class == "" && loc.Method == "" {
			return "bug location without file, class or method"
		}
	}
	return ""
}
