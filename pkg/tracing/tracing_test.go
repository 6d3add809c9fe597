// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package tracing

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDisabledProviderIsNoop(t *testing.T) {
	p := New(Config{Enabled: false}, nil)
	_, span := p.Tracer().Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestSDKProviderRecordsSpans(t *testing.T) {
	rec := tracetest.NewInMemoryExporter()
	p := newSDKProvider(Config{Enabled: true, ServiceName: "conduit-test", SampleRatio: 1}, rec, slog.Default())
	defer p.Shutdown(context.Background())

	ctx, parent := p.Tracer().Start(context.Background(), "route.execute")
	_, child := p.Tracer().Start(ctx, "mapping.call")
	child.SetAttributes(attribute.String("mapping.id", "m1"))
	child.End()
	parent.End()

	spans := rec.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "mapping.call", spans[0].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "conduit-test", service)
}

func TestLogExporter(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := newSDKProvider(Config{Enabled: true, SampleRatio: 1}, NewLogExporter(logger), logger)
	defer p.Shutdown(context.Background())

	_, span := p.Tracer().Start(context.Background(), "mapping.call")
	span.SetAttributes(attribute.String("integration.id", "hospital-a"))
	span.SetStatus(codes.Error, "upstream_error")
	span.End()

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "mapping.call", line["msg"])
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "upstream_error", line["status"])
	attrs, ok := line["attributes"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hospital-a", attrs["integration.id"])
}
