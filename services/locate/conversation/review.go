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
	"context"
	"errors"
	"fmt"

	"github.com/AleutianAI/faultline/services/llm"
	"github.com/AleutianAI/faultline/services/locate/parse"
)

// ErrNoReview indicates the reviewer reply carried no usable verdict.
var ErrNoReview = errors.New("reviewer gave no usable verdict")

// ReviewInput is what the reviewer is shown.
type ReviewInput struct {
	Issue      string
	Patch      string
	Test       string
	TestOutput string
}

// AskReview asks the model to judge a patch and its reproduction test.
//
// Outputs:
//   - *parse.Review: The verdict.
//   - *MessageThread: The review conversation, including the reply.
//   - error: ErrModelCall, or ErrNoReview when the reply does not decode.
func AskReview(ctx context.Context, client llm.ChatClient, prompts *Prompts, in ReviewInput, opts llm.ChatOptions) (*parse.Review, *MessageThread, error) {
	if client == nil {
		return nil, nil, ErrNilClient
	}
	if prompts == nil {
		p, err := DefaultPrompts()
		if err != nil {
			return nil, nil, err
		}
		prompts = p
	}

	ctx, span := tracer.Start(ctx, "conversation.AskReview")
	defer span.End()

	t := NewMessageThread()
	t.AddSystem(prompts.Review)
	t.AddUser(PrepareIssuePrompt(in.Issue))
	t.AddUser("<patch>\n" + in.Patch + "\n</patch>")
	if in.Test != "" {
		t.AddUser("<reproducer>\n" + in.Test + "\n</reproducer>")
	}
	if in.TestOutput != "" {
		t.AddUser("<reproducer_output>\n" + in.TestOutput + "\n</reproducer_output>")
	}

	reply, err := client.Chat(ctx, t.Messages, opts)
	if err != nil {
		span.RecordError(err)
		return nil, t, fmt.Errorf("%w: %w", ErrModelCall, err)
	}
	t.AddModel(reply)

	review := parse.DecodeReview(reply)
	if review == nil {
		return nil, t, ErrNoReview
	}
	return review, t, nil
}
