// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package client

import (
	"context"

	"github.com/opentracing/opentracing-go"
)

// startSpan starts a span as a child of any span already in ctx.
func startSpan(ctx context.Context, tracer opentracing.Tracer, name string) (opentracing.Span, context.Context) {
	return opentracing.StartSpanFromContextWithTracer(ctx, tracer, name)
}
