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

package kvpb

import "github.com/cockroachdb/errors"

// ClientErrorCode classifies an error the batcher attaches to an
// in-flight op, so callers and the batcher's own error policy never
// need to string-match an error message (the Open Question flagged in
// the original source).
type ClientErrorCode int

const (
	// CodeNone is the zero value: no classification.
	CodeNone ClientErrorCode = iota
	// CodeTablePartitionListIsStale indicates a shard lookup returned a
	// newer partition-list version than the table's cached one.
	CodeTablePartitionListIsStale
	// CodeTablePartitionListVersionDoesNotMatch indicates an op's
	// pinned partition-list version no longer matches its resolved
	// shard.
	CodeTablePartitionListVersionDoesNotMatch
	// CodeInternalError indicates a local consistency check failed
	// (e.g. a resolved shard's partition does not contain the op's
	// key).
	CodeInternalError
	// CodeIOError classifies an I/O failure, e.g. a failed shard lookup
	// or RPC. The batcher's generic aggregate status
	// (kvbatch.ErrReachingTabletServers) carries no code.
	CodeIOError
	// CodeCombined marks an aggregate built from more than one distinct
	// underlying error code (test-only aggregation path).
	CodeCombined
)

type clientError struct {
	code ClientErrorCode
	msg  string
}

func (e *clientError) Error() string { return e.msg }

// NewClientError builds an error tagged with code, retrievable later
// via ClientErrorCodeOf.
func NewClientError(code ClientErrorCode, msg string) error {
	return &clientError{code: code, msg: msg}
}

// NewClientErrorf is NewClientError with fmt-style formatting.
func NewClientErrorf(code ClientErrorCode, format string, args ...interface{}) error {
	return &clientError{code: code, msg: errors.Newf(format, args...).Error()}
}

// ClientErrorCodeOf extracts the ClientErrorCode tagged onto err, if
// any, unwrapping through errors.Wrap chains.
func ClientErrorCodeOf(err error) (ClientErrorCode, bool) {
	var ce *clientError
	if errors.As(err, &ce) {
		return ce.code, true
	}
	return CodeNone, false
}

// ErrPartitionListVersionDoesNotMatch builds the abort-the-batch error
// for a stale pinned partition-list version.
func ErrPartitionListVersionDoesNotMatch(op Operation, want, have uint32) error {
	return NewClientErrorf(
		CodeTablePartitionListVersionDoesNotMatch,
		"operation %s requested table partition list version %d, but ours is: %d",
		op, want, have,
	)
}

// ShouldRetryInSession reports whether err is a failure the session
// retries within the same transaction rather than surfacing to the
// caller. Ops behind such an error must not be reported to the
// transaction as flushed, since the session will resubmit them and the
// transaction needs to keep them in its running set (yugabyte #7984).
func ShouldRetryInSession(err error) bool {
	code, ok := ClientErrorCodeOf(err)
	if !ok {
		return false
	}
	switch code {
	case CodeTablePartitionListIsStale, CodeTablePartitionListVersionDoesNotMatch:
		return true
	default:
		return false
	}
}
