// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "faultline.manager"

var (
	// sessionsTotal counts finished sessions.
	//
	// Labels:
	//   - status: "done", "exhausted" or "failed"
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultline",
			Subsystem: "manager",
			Name:      "sessions_total",
			Help:      "Total search sessions by terminal status.",
		},
		[]string{"status"},
	)

	sessionRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "faultline",
			Subsystem: "manager",
			Name:      "session_rounds",
			Help:      "Rounds used per search session.",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		},
	)

	// roundDecisions counts how each round's reply was handled.
	//
	// Labels:
	//   - decision: "dispatch", "resolve" or "retry"
	roundDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultline",
			Subsystem: "manager",
			Name:      "round_decisions_total",
			Help:      "Total rounds by decision taken on the model reply.",
		},
		[]string{"decision"},
	)

	toolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultline",
			Subsystem: "manager",
			Name:      "tool_calls_total",
			Help:      "Total recorded tool calls by primitive and outcome.",
		},
		[]string{"primitive", "call_ok"},
	)

	fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultline",
			Subsystem: "manager",
			Name:      "fallbacks_total",
			Help:      "Total candidate resolutions satisfied by a fallback primitive.",
		},
		[]string{"primitive"},
	)
)

func startSessionSpan(ctx context.Context, sessionID, projectRoot string, limit int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "manager.SearchIterative",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("session.project_root", projectRoot),
			attribute.Int("session.round_limit", limit),
		),
	)
}

func startRoundSpan(ctx context.Context, round int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "manager.round",
		trace.WithAttributes(attribute.Int("round", round)),
	)
}

func recordToolCall(name string, ok bool) {
	toolCalls.WithLabelValues(name, strconv.FormatBool(ok)).Inc()
}

func recordSession(status string, rounds int) {
	sessionsTotal.WithLabelValues(status).Inc()
	sessionRounds.Observe(float64(rounds))
}
