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

package kvbatch

import (
	"github.com/cockroachdb/errors"

	"github.com/qvad/yugabyte-db/pkg/kv/kvpb"
	"github.com/qvad/yugabyte-db/pkg/util/syncutil"
)

// ErrReachingTabletServers is the generic aggregate status fired to
// the user callback when one or more ops failed; detailed per-op
// errors are drained separately via GetAndClearPendingErrors. It is a
// sentinel rather than a formatted string so callers can classify it
// with errors.Is instead of matching on message text.
var ErrReachingTabletServers = errors.New("errors occurred while reaching out to the tablet servers")

// ErrCombined marks an aggregate status built from more than one
// distinct client error code; only produced when TestingKnobs.
// CombineBatcherErrors is set. It is tagged with kvpb.CodeCombined.
var ErrCombined = kvpb.NewClientError(kvpb.CodeCombined, "multiple failures")

// CollectedError pairs a submitted op with the error the batcher
// recorded for it.
type CollectedError struct {
	Op  kvpb.Operation
	Err error
}

// CollectedErrors is the out-of-band detail a caller drains after a
// flush whose aggregate status was non-ok.
type CollectedErrors []CollectedError

// ErrorCollector accumulates per-op errors across a Batcher's
// lifetime for later retrieval by the session.
type ErrorCollector struct {
	mu   syncutil.Mutex
	errs []CollectedError
}

// AddError records err against op.
func (c *ErrorCollector) AddError(op kvpb.Operation, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, CollectedError{Op: op, Err: err})
}

// CountErrors returns the number of errors recorded so far.
func (c *ErrorCollector) CountErrors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errs)
}

// GetAndClearErrors atomically drains and returns all recorded errors.
func (c *ErrorCollector) GetAndClearErrors() CollectedErrors {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.errs
	c.errs = nil
	return out
}

// combineError records op's error in the error collector and, if the
// error indicates stale partition metadata, marks the op's table so
// the next submission refetches it. With TestingKnobs.
// CombineBatcherErrors set, it additionally folds the error into
// b.combinedErr for tests that want a single representative status
// instead of draining the collector.
//
// Callers must hold b.mu.
func (b *Batcher) combineError(op *inFlightOp) {
	if code, ok := kvpb.ClientErrorCodeOf(op.err); ok && code == kvpb.CodeTablePartitionListIsStale {
		if t := op.op.Table(); t != nil {
			t.StalePartitions = true
		}
	}

	b.errorCollector.AddError(op.op, op.err)
	if b.metrics != nil {
		code, ok := kvpb.ClientErrorCodeOf(op.err)
		label := "unclassified"
		if ok {
			label = codeLabel(code)
		}
		b.metrics.ErrorsByCode.WithLabelValues(label).Inc()
	}

	if !b.knobs.CombineBatcherErrors {
		return
	}
	code, _ := kvpb.ClientErrorCodeOf(op.err)
	if b.combinedErr == nil {
		b.combinedErr = errors.Wrapf(op.err, "%s", op)
		b.combinedErrCode = code
		return
	}
	if !errors.Is(b.combinedErr, ErrCombined) && code != b.combinedErrCode {
		b.combinedErr = ErrCombined
	}
}

func codeLabel(code kvpb.ClientErrorCode) string {
	switch code {
	case kvpb.CodeTablePartitionListIsStale:
		return "table_partition_list_is_stale"
	case kvpb.CodeTablePartitionListVersionDoesNotMatch:
		return "table_partition_list_version_does_not_match"
	case kvpb.CodeInternalError:
		return "internal_error"
	case kvpb.CodeIOError:
		return "io_error"
	case kvpb.CodeCombined:
		return "combined"
	default:
		return "none"
	}
}
