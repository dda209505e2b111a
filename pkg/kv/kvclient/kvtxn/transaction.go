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

// Package kvtxn defines the distributed-transaction handshake the
// batcher gates dispatch on. The real transaction manager (epoch
// bumping, intent tracking, commit protocol) is out of scope for this
// module; Transaction is the narrow slice of it the batcher calls.
package kvtxn

import (
	"context"
	"time"

	opentracing "github.com/opentracing/opentracing-go"

	"github.com/qvad/yugabyte-db/pkg/kv/kvpb"
	"github.com/qvad/yugabyte-db/pkg/util/hlc"
)

// Group is the minimal view of a batcher grouping plan a transaction
// needs to prepare its metadata: which shards and op kinds are about
// to be dispatched to.
type Group struct {
	Shard *kvpb.Shard
	Kind  kvpb.OpGroup
	Size  int
}

// PrepareFunc is invoked exactly once if Prepare returns false, with
// the outcome of the asynchronous metadata-preparation step.
type PrepareFunc func(status error)

// FlushedOp identifies one op that has finished flushing, for
// Transaction.Flushed to release it from its running-request set.
type FlushedOp struct {
	Op       kvpb.Operation
	Sequence int
}

// Transaction is the distributed-transaction handshake surface the
// batcher depends on.
type Transaction interface {
	// ExpectOperations tells the transaction how many ops are about to
	// be flushed, so it can track them as outstanding before any RPC is
	// sent.
	ExpectOperations(n int)
	// Prepare readies per-shard transaction metadata for the given
	// groups. It returns true if ready synchronously; otherwise it
	// returns false and invokes fn later with the outcome.
	Prepare(
		ctx context.Context, groups []Group, forceConsistentRead bool,
		deadline time.Time, initial bool, fn PrepareFunc,
	) bool
	// Flushed notifies the transaction that ops finished flushing with
	// status, so it can drop them from its running-request set and (on
	// success) record the RPC's used read time.
	Flushed(ctx context.Context, ops []FlushedOp, usedReadTime hlc.Timestamp, status error)
	// Trace returns the transaction's root span, so a dispatched RPC's
	// span can be linked as a child of it.
	Trace() opentracing.Span
}
