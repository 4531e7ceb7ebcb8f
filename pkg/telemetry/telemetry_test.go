// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_None(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{TraceExporter: "none"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_NilContext(t *testing.T) {
	var ctx context.Context
	_, err := Init(ctx, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_UnknownExporter(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"trace", Config{TraceExporter: "zipkin"}},
		{"metric", Config{MetricExporter: "statsd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Init(context.Background(), tt.cfg)
			assert.ErrorIs(t, err, ErrUnknownExporter)
		})
	}
}

func TestInit_OTLPConnectsLazily(t *testing.T) {
	// Nothing listens on the endpoint; neither Init nor an idle shutdown
	// touches the network.
	shutdown, err := Init(context.Background(), Config{
		ServiceName:   "hyperdiff-test",
		TraceExporter: "otlp",
		OTLPEndpoint:  "127.0.0.1:1",
		OTLPInsecure:  true,
	})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestDialOTLP(t *testing.T) {
	for _, insecure := range []bool{true, false} {
		conn, err := dialOTLP(Config{OTLPEndpoint: "localhost:4317", OTLPInsecure: insecure})
		require.NoError(t, err)
		assert.NoError(t, conn.Close())
	}
}

func TestInit_StdoutTrace(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{
		ServiceName:   "hyperdiff-test",
		TraceExporter: "stdout",
		Writer:        &buf,
	})
	require.NoError(t, err)

	assert.Empty(t, TraceID(context.Background()))
	ctx, span := otel.Tracer("telemetry-test").Start(context.Background(), "diff.test")
	assert.Len(t, TraceID(ctx), 32)
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "diff.test")
}

func TestInit_StdoutMetrics(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init(context.Background(), Config{MetricExporter: "stdout", Writer: &buf})
	require.NoError(t, err)

	c, err := otel.Meter("telemetry-test").Int64Counter("stdout_test_total")
	require.NoError(t, err)
	c.Add(context.Background(), 3)

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "stdout_test_total")
}

func TestInit_PrometheusAndWriteMetrics(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{MetricExporter: "prometheus"})
	require.NoError(t, err)
	defer shutdown(context.Background())

	c, err := otel.Meter("telemetry-test").Int64Counter("prom_test_total")
	require.NoError(t, err)
	c.Add(context.Background(), 2)

	var buf bytes.Buffer
	require.NoError(t, WriteMetrics(&buf))
	assert.Contains(t, buf.String(), "prom_test")
}
