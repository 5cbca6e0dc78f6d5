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
	"context"
	"regexp"
)

// redactionPattern pairs a compiled regex with a replacement label.
//
// Thread Safety: This type is immutable after construction.
type redactionPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// secretPatterns is the ordered list of credential patterns.
//
// IMPORTANT: Order matters. The Anthropic pattern must appear before the
// generic "sk-" pattern so that Anthropic keys get the more specific label.
var secretPatterns = []redactionPattern{
	{
		Pattern:     regexp.MustCompile(`sk-ant-api03-[A-Za-z0-9_-]{20,}`),
		Replacement: "[REDACTED:anthropic_key]",
	},
	{
		Pattern:     regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
		Replacement: "[REDACTED:openai_key]",
	},
	{
		Pattern:     regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]{10,}`),
		Replacement: "[REDACTED:bearer_token]",
	},
	{
		Pattern:     regexp.MustCompile(`key=[A-Za-z0-9._-]{10,}`),
		Replacement: "key=[REDACTED]",
	},
	{
		Pattern:     regexp.MustCompile(`password=[^\s&]{3,}`),
		Replacement: "password=[REDACTED]",
	},
	{
		Pattern:     regexp.MustCompile(`(postgres|mysql|mongodb)://[^\s]+@`),
		Replacement: "${1}://[REDACTED]@",
	},
}

// piiPatterns matches personal data that should not leave the process when
// an issue statement is forwarded to a hosted model.
//
// Card numbers are matched before phone numbers because a 16 digit card
// would otherwise be partially consumed by the phone pattern.
var piiPatterns = []redactionPattern{
	{
		Pattern:     regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		Replacement: "[REDACTED:email]",
	},
	{
		Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		Replacement: "[REDACTED:ssn]",
	},
	{
		Pattern:     regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
		Replacement: "[REDACTED:card]",
	},
	{
		Pattern:     regexp.MustCompile(`(?:\+\d{1,2}\s?)?\(?\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}\b`),
		Replacement: "[REDACTED:phone]",
	},
}

func applyPatterns(s string, patterns []redactionPattern) string {
	if s == "" {
		return s
	}
	for _, p := range patterns {
		s = p.Pattern.ReplaceAllString(s, p.Replacement)
	}
	return s
}

// SafeLogString redacts known secret patterns from a string before logging.
//
// Description:
//
//	Replaces API keys, bearer tokens, passwords, and credentials embedded in
//	connection strings with labeled placeholders so the log reader knows what
//	class of secret was present without seeing the value.
//
// Examples:
//
//	SafeLogString("error: sk-ant-REDACTED returned 401")
//	// Returns: "error: [REDACTED:anthropic_key] returned 401"
//
// Limitations:
//   - Pattern-based detection only.
//   - A secret that spans multiple lines will not be matched.
//
// Thread Safety: This function is safe for concurrent use.
func SafeLogString(s string) string {
	return applyPatterns(s, secretPatterns)
}

// RedactPII removes secrets and personal data (emails, SSNs, card and phone
// numbers) from text bound for a hosted model.
//
// Thread Safety: This function is safe for concurrent use.
func RedactPII(s string) string {
	return applyPatterns(applyPatterns(s, secretPatterns), piiPatterns)
}

// RedactingClient scrubs user and system message content with RedactPII
// before forwarding the conversation to the wrapped client.
//
// Assistant turns are forwarded untouched; they were produced by the model
// from already-redacted input.
//
// Thread Safety: Safe for concurrent use. The caller's slice is not modified.
type RedactingClient struct {
	inner ChatClient
}

// NewRedactingClient wraps inner with PII redaction.
func NewRedactingClient(inner ChatClient) *RedactingClient {
	return &RedactingClient{inner: inner}
}

// Chat implements ChatClient.
func (r *RedactingClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	if r.inner == nil {
		return "", ErrNilClient
	}
	scrubbed := make([]Message, len(messages))
	for i, m := range messages {
		scrubbed[i] = m
		if m.Role != RoleAssistant {
			scrubbed[i].Content = RedactPII(m.Content)
		}
	}
	return r.inner.Chat(ctx, scrubbed, opts)
}
