// Copyright (c) 2025 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package vfio

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelTrace "go.opentelemetry.io/otel/trace"
)

// tracerName is the otel tracer identifier for spans emitted by this package.
// Exporter configuration is left to the embedding application; without one
// these spans are no-ops.
const tracerName = "vfio"

func trace(parent context.Context, name string, tags ...attribute.KeyValue) (otelTrace.Span, context.Context) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(parent, name)
	span.SetAttributes(tags...)
	return span, ctx
}
