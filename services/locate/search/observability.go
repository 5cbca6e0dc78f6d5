// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "faultline.search"

var (
	// primitiveCalls counts primitive invocations.
	//
	// Labels:
	//   - primitive: registered name
	//   - found: "true" or "false"
	primitiveCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultline",
			Subsystem: "search",
			Name:      "primitive_calls_total",
			Help:      "Total search primitive invocations.",
		},
		[]string{"primitive", "found"},
	)

	primitiveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "faultline",
			Subsystem: "search",
			Name:      "primitive_duration_seconds",
			Help:      "Duration of search primitive invocations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		},
		[]string{"primitive"},
	)
)

func startPrimitiveSpan(ctx context.Context, name string, args map[string]string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("search.primitive", name)}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, attribute.String("search.arg."+k, args[k]))
	}
	return otel.Tracer(tracerName).Start(ctx, "search."+name, trace.WithAttributes(attrs...))
}

func setPrimitiveSpanResult(span trace.Span, res Result) {
	span.SetAttributes(
		attribute.Bool("search.found", res.Found),
		attribute.Int("search.matches", len(res.Matches)),
	)
}

func recordPrimitiveMetrics(name string, d time.Duration, found bool) {
	primitiveCalls.WithLabelValues(name, strconv.FormatBool(found)).Inc()
	primitiveDuration.WithLabelValues(name).Observe(d.Seconds())
}
