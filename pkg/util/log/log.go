// Copyright 2015 The Cockroach Authors.
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

// Package log provides context-scoped, tag-annotated structured
// logging on top of zap. Call sites look up the logger (and any tags
// attached via WithTags) from the context, the way request-scoped
// trace/log tags are threaded through cockroachdb/cockroach.
package log

import (
	"context"

	"github.com/cockroachdb/logtags"
	"go.uber.org/zap"
)

type loggerKey struct{}

var base, _ = zap.NewProduction()

// UseLogger replaces the package-wide base logger, e.g. to install a
// development logger in tests.
func UseLogger(l *zap.Logger) {
	base = l
}

// WithTags returns a context carrying the given logtags.Buffer; every
// log call made with the returned context includes those tags as
// structured fields.
func WithTags(ctx context.Context, tags *logtags.Buffer) context.Context {
	return context.WithValue(ctx, loggerKey{}, loggerFor(ctx).With(tagFields(tags)...))
}

func loggerFor(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok {
		return l
	}
	return base
}

func tagFields(tags *logtags.Buffer) []zap.Field {
	if tags == nil {
		return nil
	}
	ts := tags.Get()
	fields := make([]zap.Field, len(ts))
	for i, t := range ts {
		fields[i] = zap.Any(t.Key(), t.Value())
	}
	return fields
}

// Infof logs at info level.
func Infof(ctx context.Context, format string, args ...interface{}) {
	loggerFor(ctx).Sugar().Infof(format, args...)
}

// Warningf logs at warn level.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	loggerFor(ctx).Sugar().Warnf(format, args...)
}

// Errorf logs at error level.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	loggerFor(ctx).Sugar().Errorf(format, args...)
}

// Fatalf logs at fatal level and then terminates the process, matching
// the teacher's log.Fatalf contract (used only for programmer errors
// that must never occur, e.g. calling FlushAsync on a batcher that has
// already started flushing).
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	loggerFor(ctx).Sugar().Fatalf(format, args...)
}

// VEventf logs at a verbosity level. The Batcher uses this for the
// high-frequency, trace-style events the original logs at VLOG(3)/(4):
// tablet lookup completion, RPC dispatch, response merge. Verbosity
// gating is intentionally simple, since this package has no
// flag-parsing layer of its own: level <= 2 is passed to the logger at
// debug level and every higher level is dropped, so the Batcher's
// level-3 and level-4 events are not logged.
func VEventf(ctx context.Context, level int32, format string, args ...interface{}) {
	if level > 2 {
		return
	}
	loggerFor(ctx).Sugar().Debugf(format, args...)
}
