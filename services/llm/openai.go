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
	"fmt"
	"log/slog"
	"os"

	"github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient wraps the go-openai chat completion API.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClientWithConfig creates an OpenAIClient with explicit configuration.
//
// Inputs:
//   - apiKey: The OpenAI API key.
//   - model: The model name. Empty selects gpt-4o-mini.
//   - baseURL: API base URL (e.g. "https://api.openai.com/v1"). Empty keeps
//     the library default.
//
// Outputs:
//   - *OpenAIClient: The configured client.
func NewOpenAIClientWithConfig(apiKey, model, baseURL string) *OpenAIClient {
	if model == "" {
		model = defaultOpenAIModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// NewOpenAIClient reads OPENAI_API_KEY and OPENAI_MODEL from the environment.
func NewOpenAIClient() (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		slog.Warn("OpenAI API Key is missing.")
		return nil, fmt.Errorf("%w (OPENAI_API_KEY)", ErrMissingAPIKey)
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		slog.Warn("OPENAI_MODEL not set, defaulting to", "model", defaultOpenAIModel)
	}
	return NewOpenAIClientWithConfig(apiKey, model, ""), nil
}

// Model returns the configured model name.
func (o *OpenAIClient) Model() string { return o.model }

// Chat implements ChatClient.
func (o *OpenAIClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxCompletionTokens = opts.MaxTokens
	}
	if len(opts.Stop) > 0 {
		req.Stop = opts.Stop
	}

	slog.Debug("Sending chat completion to OpenAI", "model", o.model, "messages", len(messages))

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai: API call failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai: %w", ErrEmptyResponse)
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
