// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diff

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
	tracer = otel.Tracer("hyperast.diff")
	meter  = otel.Meter("hyperast.diff")
)

var (
	phaseLatency metric.Float64Histogram
	runTotal     metric.Int64Counter
	mappedNodes  metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		phaseLatency, err = meter.Float64Histogram(
			"hyperast_diff_phase_duration_seconds",
			metric.WithDescription("Duration of each matching phase"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"hyperast_diff_runs_total",
			metric.WithDescription("Completed diff runs"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		mappedNodes, err = meter.Int64Histogram(
			"hyperast_diff_mapped_nodes",
			metric.WithDescription("Pairs in the final mapping"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordPhase(ctx context.Context, algorithm, phase string, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	phaseLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("algorithm", algorithm),
		attribute.String("phase", phase),
	))
}

func recordRun(ctx context.Context, algorithm string, mapped int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("algorithm", algorithm))
	runTotal.Add(ctx, 1, attrs)
	mappedNodes.Record(ctx, int64(mapped), attrs)
}

func startRunSpan(ctx context.Context, id string, opts Options) (context.Context, trace.Span) {
	return tracer.Start(ctx, "diff.Run",
		trace.WithAttributes(
			attribute.String("diff.id", id),
			attribute.String("diff.algorithm", opts.Algorithm.String()),
			attribute.String("diff.variant", opts.Variant.String()),
			attribute.String("diff.arena", opts.Arena.String()),
		),
	)
}

func startPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "diff."+phase)
}
