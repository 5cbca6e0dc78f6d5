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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicClient_Chat(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicAPIVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","content":[{"type":"text","text":"{\"API_calls\": []}"}]}`))
	}))
	defer srv.Close()

	client := NewAnthropicClientWithConfig("test-key", "claude-test", srv.URL)
	temp := float32(0)
	text, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "you are a search agent"},
		{Role: RoleUser, Content: "<issue>bug</issue>"},
		{Role: RoleSystem, Content: "answer in JSON"},
	}, ChatOptions{Temperature: &temp, MaxTokens: 512})

	require.NoError(t, err)
	assert.Equal(t, `{"API_calls": []}`, text)
	assert.Equal(t, "claude-test", got.Model)
	assert.Equal(t, 512, got.MaxTokens)
	require.Len(t, got.System, 1)
	assert.Equal(t, "you are a search agent\n\nanswer in JSON", got.System[0].Text)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, float32(0), *got.Temperature)
}

func TestAnthropicClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"authentication_error","message":"bad key sk-ant-REDACTED"}}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicClientWithConfig("k", "", srv.URL).Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, ChatOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.NotContains(t, err.Error(), "sk-ant-api03-")
	assert.Equal(t, "auth", classifyChatError(err))
}

func TestAnthropicClient_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"msg_1","content":[]}`))
	}))
	defer srv.Close()

	_, err := NewAnthropicClientWithConfig("k", "", srv.URL).Chat(context.Background(), nil, ChatOptions{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIClient_Chat(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"selected"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClientWithConfig("test-key", "gpt-test", srv.URL+"/v1")
	text, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "issue"},
	}, ChatOptions{})

	require.NoError(t, err)
	assert.Equal(t, "selected", text)
	assert.Equal(t, "gpt-test", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 2)
}

func TestRateLimitedClient_HonorsContext(t *testing.T) {
	calls := 0
	inner := ChatFunc(func(context.Context, []Message, ChatOptions) (string, error) {
		calls++
		return "ok", nil
	})
	limited := NewRateLimitedClient(inner, 1)

	_, err := limited.Chat(context.Background(), nil, ChatOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limited.Chat(ctx, nil, ChatOptions{})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRateLimitedClient_Unlimited(t *testing.T) {
	inner := ChatFunc(func(context.Context, []Message, ChatOptions) (string, error) { return "ok", nil })
	limited := NewRateLimitedClient(inner, 0)
	for i := 0; i < 5; i++ {
		_, err := limited.Chat(context.Background(), nil, ChatOptions{})
		require.NoError(t, err)
	}
}

func TestInstrumentedClient_PassesThroughErrors(t *testing.T) {
	boom := errors.New("server error")
	inner := ChatFunc(func(context.Context, []Message, ChatOptions) (string, error) { return "", boom })

	_, err := NewInstrumentedClient(inner, "test").Chat(context.Background(), nil, ChatOptions{})
	assert.ErrorIs(t, err, boom)

	_, err = NewInstrumentedClient(nil, "test").Chat(context.Background(), nil, ChatOptions{})
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestClassifyChatError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNilClient, "nil_client"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("API returned status 429: slow down"), "rate_limit"},
		{errors.New("API returned status 503"), "server"},
		{ErrEmptyResponse, "empty"},
		{errors.New("weird"), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classifyChatError(tt.err))
	}
}

func TestNewClient(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := NewClient(ClientConfig{Provider: "anthropic"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = NewClient(ClientConfig{Provider: "gemini", APIKey: "k"})
	assert.ErrorIs(t, err, ErrUnknownProvider)

	c, err := NewClient(ClientConfig{Provider: "OpenAI", APIKey: "k", RequestsPerMinute: 10, RedactPII: true})
	require.NoError(t, err)
	assert.IsType(t, &InstrumentedClient{}, c)
}
