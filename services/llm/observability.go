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
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// chatTracerName is the OTel tracer name for model calls.
const chatTracerName = "faultline.llm"

var (
	// chatCallDuration measures the duration of model calls.
	//
	// Labels:
	//   - provider: "anthropic", "openai"
	//   - status: "success" or "error"
	chatCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "faultline",
			Subsystem: "chat",
			Name:      "call_duration_seconds",
			Help:      "Duration of model chat calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "status"},
	)

	chatCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultline",
			Subsystem: "chat",
			Name:      "calls_total",
			Help:      "Total number of model chat calls.",
		},
		[]string{"provider", "status"},
	)

	// chatErrorsTotal counts failures by classifyChatError type.
	chatErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultline",
			Subsystem: "chat",
			Name:      "errors_total",
			Help:      "Total model chat errors by type.",
		},
		[]string{"provider", "error_type"},
	)
)

// classifyChatError maps an error to a label-safe error type string.
//
// Outputs:
//
//	string - One of: "timeout", "auth", "rate_limit", "server", "empty",
//	         "nil_client", "unknown". Returns empty string for nil error.
//
// Thread Safety: Safe for concurrent use.
func classifyChatError(err error) string {
	if err == nil {
		return ""
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "client is nil"):
		return "nil_client"
	case strings.Contains(msg, "empty response"):
		return "empty"
	case strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "status 401") ||
		strings.Contains(msg, "status 403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "api key"):
		return "auth"
	case strings.Contains(msg, "status 429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests"):
		return "rate_limit"
	case strings.Contains(msg, "status 500") ||
		strings.Contains(msg, "status 502") ||
		strings.Contains(msg, "status 503") ||
		strings.Contains(msg, "server error"):
		return "server"
	default:
		return "unknown"
	}
}

func recordChatMetrics(provider string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		chatErrorsTotal.WithLabelValues(provider, classifyChatError(err)).Inc()
	}
	chatCallDuration.WithLabelValues(provider, status).Observe(duration.Seconds())
	chatCallsTotal.WithLabelValues(provider, status).Inc()
}

// InstrumentedClient records an OTel span and Prometheus metrics around
// every Chat call of the wrapped client.
//
// Thread Safety: Safe for concurrent use.
type InstrumentedClient struct {
	inner    ChatClient
	provider string
}

// NewInstrumentedClient wraps inner, labelling telemetry with provider.
func NewInstrumentedClient(inner ChatClient, provider string) *InstrumentedClient {
	return &InstrumentedClient{inner: inner, provider: provider}
}

// Chat implements ChatClient.
func (c *InstrumentedClient) Chat(ctx context.Context, messages []Message, opts ChatOptions) (string, error) {
	ctx, span := otel.Tracer(chatTracerName).Start(ctx, "llm.Chat",
		trace.WithAttributes(
			attribute.String("provider", c.provider),
			attribute.Int("message_count", len(messages)),
		),
	)
	defer span.End()

	if c.inner == nil {
		span.RecordError(ErrNilClient)
		span.SetStatus(codes.Error, ErrNilClient.Error())
		recordChatMetrics(c.provider, 0, ErrNilClient)
		return "", ErrNilClient
	}

	start := time.Now()
	text, err := c.inner.Chat(ctx, messages, opts)
	duration := time.Since(start)
	recordChatMetrics(c.provider, duration, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, SafeLogString(err.Error()))
		return "", err
	}
	span.SetAttributes(
		attribute.Int("response_length", len(text)),
		attribute.Int64("duration_ms", duration.Milliseconds()),
	)
	return text, nil
}
