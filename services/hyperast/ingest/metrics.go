// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("hyperast.ingest")
	meter  = otel.Meter("hyperast.ingest")
)

var (
	parseLatency metric.Float64Histogram
	parseTotal   metric.Int64Counter
	nodesVisited metric.Int64Histogram
	parseErrors  metric.Int64Counter
	filesSkipped metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		parseLatency, err = meter.Float64Histogram(
			"hyperast_ingest_parse_duration_seconds",
			metric.WithDescription("Duration of parse-and-insert per file"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseTotal, err = meter.Int64Counter(
			"hyperast_ingest_parse_total",
			metric.WithDescription("Files parsed into the node store"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesVisited, err = meter.Int64Histogram(
			"hyperast_ingest_nodes_visited",
			metric.WithDescription("Syntax nodes visited per file, whitespace leaves included"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		parseErrors, err = meter.Int64Counter(
			"hyperast_ingest_parse_errors_total",
			metric.WithDescription("Files that failed to parse"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		filesSkipped, err = meter.Int64Counter(
			"hyperast_ingest_files_skipped_total",
			metric.WithDescription("Files skipped during directory ingestion"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordParseMetrics(ctx context.Context, language string, duration time.Duration, nodes int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("success", success),
	)
	parseLatency.Record(ctx, duration.Seconds(), attrs)
	parseTotal.Add(ctx, 1, attrs)

	lang := metric.WithAttributes(attribute.String("language", language))
	if success {
		nodesVisited.Record(ctx, int64(nodes), lang)
	} else {
		parseErrors.Add(ctx, 1, lang)
	}
}

func recordSkipped(ctx context.Context, reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	filesSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func startParseSpan(ctx context.Context, language, filePath string, contentSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "TreeSitter.Parse",
		trace.WithAttributes(
			attribute.String("ingest.language", language),
			attribute.String("ingest.file", filePath),
			attribute.Int("ingest.content_size", contentSize),
		),
	)
}

func startDirectorySpan(ctx context.Context, root string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ingest.Directory",
		trace.WithAttributes(attribute.String("ingest.root", root)),
	)
}
