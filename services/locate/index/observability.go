// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "faultline.index"

var (
	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "faultline",
		Subsystem: "index",
		Name:      "build_duration_seconds",
		Help:      "Duration of source index builds in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	filesIndexed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faultline",
		Subsystem: "index",
		Name:      "files_total",
		Help:      "Total Python files added to an index.",
	})

	parseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faultline",
		Subsystem: "index",
		Name:      "parse_failures_total",
		Help:      "Total Python files skipped because they could not be parsed.",
	})
)

func startBuildSpan(ctx context.Context, root string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "index.Build",
		trace.WithAttributes(attribute.String("index.root", root)),
	)
}

func setBuildSpanResult(span trace.Span, files, classes, functions, parseErrors int) {
	span.SetAttributes(
		attribute.Int("index.files", files),
		attribute.Int("index.classes", classes),
		attribute.Int("index.functions", functions),
		attribute.Int("index.parse_errors", parseErrors),
	)
}

func recordBuildError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func recordBuildMetrics(d time.Duration, files, failures int) {
	buildDuration.Observe(d.Seconds())
	filesIndexed.Add(float64(files))
	parseFailures.Add(float64(failures))
}
