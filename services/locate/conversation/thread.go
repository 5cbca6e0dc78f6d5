// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation runs the exchange with the reasoning model: the
// message thread, issue preparation, the prompt catalog, and the
// suspend/resume driver the search manager pulls turns from.
package conversation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/AleutianAI/faultline/services/llm"
	"github.com/AleutianAI/faultline/services/locate/storage"
)

// MessageThread is an append-only sequence of messages.
//
// Thread Safety: Not safe for concurrent use. The driver hands callers
// snapshots, never the live thread.
type MessageThread struct {
	Messages []llm.Message `json:"messages"`
}

// NewMessageThread returns an empty thread.
func NewMessageThread() *MessageThread {
	return &MessageThread{Messages: []llm.Message{}}
}

// AddSystem appends a system message.
func (t *MessageThread) AddSystem(content string) {
	t.Messages = append(t.Messages, llm.Message{Role: llm.RoleSystem, Content: content})
}

// AddUser appends a user message.
func (t *MessageThread) AddUser(content string) {
	t.Messages = append(t.Messages, llm.Message{Role: llm.RoleUser, Content: content})
}

// AddModel appends an assistant message.
func (t *MessageThread) AddModel(content string) {
	t.Messages = append(t.Messages, llm.Message{Role: llm.RoleAssistant, Content: content})
}

// Len returns the number of messages.
func (t *MessageThread) Len() int { return len(t.Messages) }

// Clone returns an independent copy.
func (t *MessageThread) Clone() *MessageThread {
	out := &MessageThread{Messages: make([]llm.Message, len(t.Messages))}
	copy(out.Messages, t.Messages)
	return out
}

// SaveToFile writes the thread's messages as an indented JSON array,
// creating parent directories as needed. The file is replaced atomically.
func (t *MessageThread) SaveToFile(path string) error {
	if _, err := storage.WriteJSON(filepath.Dir(path), filepath.Base(path), t.Messages); err != nil {
		return fmt.Errorf("saving transcript: %w", err)
	}
	return nil
}

var htmlComment = regexp.MustCompile(`(?s)<!--.*?-->`)

// PrepareIssuePrompt cleans an issue statement for the model.
//
// Description:
//
//	HTML comments (including multi-line ones) are removed, every line is
//	trimmed, blank lines are dropped, and the rest is wrapped in
//	<issue>...</issue> tags with a newline before the closing tag.
//
// Examples:
//
//	PrepareIssuePrompt("  a  \n<!-- x -->\n\nb")  // "<issue>a\nb\n</issue>"
func PrepareIssuePrompt(statement string) string {
	statement = htmlComment.ReplaceAllString(statement, "")
	var lines []string
	for _, line := range strings.Split(statement, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return "<issue>" + strings.Join(lines, "\n") + "\n</issue>"
}
