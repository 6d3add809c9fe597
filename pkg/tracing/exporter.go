// Copyright (C) 2025 Logan Ross
//
// This file is part of OpenConduit – https://openconduit.org
//
// SPDX-License-Identifier: AGPL-3.0-or-later OR LicenseRef-OpenConduit-Commercial

package tracing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogExporter writes finished spans to a slog.Logger at debug level, or
// warn level for spans that ended with an error status.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter creates a LogExporter.
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger.With("component", "tracing")}
}

// ExportSpans implements sdktrace.SpanExporter. It never fails.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		sc := span.SpanContext()
		attrs := []any{
			"trace_id", sc.TraceID().String(),
			"span_id", sc.SpanID().String(),
			"duration", span.EndTime().Sub(span.StartTime()),
		}
		if span.Parent().IsValid() {
			attrs = append(attrs, "parent_span_id", span.Parent().SpanID().String())
		}
		if len(span.Attributes()) > 0 {
			attrs = append(attrs, slog.Group("attributes", attributeArgs(span.Attributes())...))
		}

		level := slog.LevelDebug
		if span.Status().Code == codes.Error {
			level = slog.LevelWarn
			attrs = append(attrs, "status", span.Status().Description)
		}
		e.logger.Log(ctx, level, span.Name(), attrs...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(context.Context) error {
	return nil
}

func attributeArgs(kvs []attribute.KeyValue) []any {
	out := make([]any, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, slog.Any(string(kv.Key), kv.Value.AsInterface()))
	}
	return out
}
