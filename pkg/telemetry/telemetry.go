// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry installs the OpenTelemetry providers that the
// instruments in the hyperast packages report to.
//
// Without Init every span and instrument is a no-op. Init with the
// "prometheus" metric exporter folds otel metrics into the default
// prometheus registry next to the store counters; WriteMetrics dumps that
// registry in text format, which is how a one-shot CLI run exposes them.
package telemetry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

var (
	// ErrNilContext indicates Init was called with a nil context.
	ErrNilContext = errors.New("telemetry: nil context")

	// ErrUnknownExporter indicates an exporter name Init does not know.
	ErrUnknownExporter = errors.New("telemetry: unknown exporter")
)

// Config selects the exporters.
type Config struct {
	// ServiceName identifies this process in traces and metrics.
	ServiceName string `yaml:"service_name"`

	// ServiceVersion is attached as service.version.
	ServiceVersion string `yaml:"service_version"`

	// TraceExporter is "otlp", "stdout" or "none".
	TraceExporter string `yaml:"trace_exporter" validate:"omitempty,oneof=otlp stdout none"`

	// MetricExporter is "prometheus", "stdout" or "none".
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus stdout none"`

	// OTLPEndpoint is the OTLP gRPC receiver for traces.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// OTLPInsecure disables TLS for the OTLP connection.
	OTLPInsecure bool `yaml:"otlp_insecure"`

	// Writer receives stdout exporter output. Nil means os.Stderr.
	Writer io.Writer `yaml:"-"`
}

// DefaultConfig disables both exporters unless the standard OTel
// environment variables ask for one.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "hyperdiff",
		ServiceVersion: "0.1.0",
		TraceExporter:  getEnvOr("OTEL_TRACES_EXPORTER", "none"),
		MetricExporter: getEnvOr("OTEL_METRICS_EXPORTER", "none"),
		OTLPEndpoint:   getEnvOr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTLPInsecure:   true,
	}
}

// Init installs the global tracer and meter providers.
//
// Description:
//
//	Empty exporter names count as "none". Providers are only replaced for
//	signals with an exporter, so Init with both set to "none" leaves the
//	no-op globals in place.
//
// Outputs:
//
//	shutdown - Flushes and stops the providers. Must be called.
//	error - ErrNilContext, ErrUnknownExporter, or an exporter error.
//
// Thread Safety: Call once at startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	if enabled(cfg.TraceExporter) {
		tp, closeConn, err := initTracer(ctx, cfg, res)
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		otel.SetTracerProvider(tp)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
		if closeConn != nil {
			shutdownFuncs = append(shutdownFuncs, func(context.Context) error { return closeConn() })
		}
	}

	if enabled(cfg.MetricExporter) {
		mp, err := initMeter(cfg, res)
		if err != nil {
			_ = shutdown(ctx)
			return nil, fmt.Errorf("init meter: %w", err)
		}
		otel.SetMeterProvider(mp)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
	}

	return shutdown, nil
}

func enabled(exporter string) bool {
	return exporter != "" && exporter != "none"
}

func (c Config) writer() io.Writer {
	if c.Writer == nil {
		return os.Stderr
	}
	return c.Writer
}

// initTracer also returns the closer of the gRPC connection it dialed, if
// any; the exporter does not own a connection passed to it.
func initTracer(ctx context.Context, cfg Config, res *resource.Resource) (*trace.TracerProvider, func() error, error) {
	var (
		exporter  trace.SpanExporter
		closeConn func() error
		err       error
	)
	switch cfg.TraceExporter {
	case "otlp":
		var conn *grpc.ClientConn
		conn, err = dialOTLP(cfg)
		if err != nil {
			return nil, nil, err
		}
		closeConn = conn.Close
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			_ = conn.Close()
		}
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(cfg.writer()))
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.TraceExporter)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create exporter: %w", err)
	}

	// Spans are exported as they end.
	return trace.NewTracerProvider(
		trace.WithSyncer(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.AlwaysSample()),
	), closeConn, nil
}

// dialOTLP creates the client connection lazily; no I/O happens until the
// first export.
func dialOTLP(cfg Config) (*grpc.ClientConn, error) {
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.OTLPInsecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(cfg.OTLPEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial otlp %s: %w", cfg.OTLPEndpoint, err)
	}
	return conn, nil
}

func initMeter(cfg Config, res *resource.Resource) (*metric.MeterProvider, error) {
	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(exporter),
		), nil

	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithWriter(cfg.writer()))
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(exporter)),
		), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}

// WriteMetrics writes every metric family of the default prometheus
// registry to w in the text exposition format.
func WriteMetrics(w io.Writer) error {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// TraceID returns the trace id of the span in ctx, or "" without one.
func TraceID(ctx context.Context) string {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
