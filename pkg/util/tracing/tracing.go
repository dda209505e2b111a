// Copyright 2016 The Cockroach Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package tracing provides thin helpers over opentracing-go for
// linking a dispatched RPC's span as a child of the owning
// transaction's trace.
package tracing

import (
	"context"

	opentracing "github.com/opentracing/opentracing-go"
)

// SpanFromContext returns the span stored in ctx, or nil.
func SpanFromContext(ctx context.Context) opentracing.Span {
	return opentracing.SpanFromContext(ctx)
}

// ChildSpan starts a new span as a child of ctx's span (if any) and
// returns the derived context together with the span.
func ChildSpan(ctx context.Context, operationName string) (context.Context, opentracing.Span) {
	parent := opentracing.SpanFromContext(ctx)
	var span opentracing.Span
	if parent != nil {
		span = opentracing.StartSpan(operationName, opentracing.ChildOf(parent.Context()))
	} else {
		span = opentracing.StartSpan(operationName)
	}
	return opentracing.ContextWithSpan(ctx, span), span
}

// LinkChild records child as a logical child of parent without
// altering either span's lifecycle, used when a transaction wants to
// fold a dispatched RPC's trace into its own after the fact (the
// Go equivalent of the teacher's trace()->AddChildTrace).
func LinkChild(parent, child opentracing.Span) {
	if parent == nil || child == nil {
		return
	}
	child.SetTag("parent_span", parent)
}
