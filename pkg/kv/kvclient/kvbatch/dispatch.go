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
	"context"
	"time"

	opentracing "github.com/opentracing/opentracing-go"

	"github.com/qvad/yugabyte-db/pkg/kv/kvclient/kvcoord"
	"github.com/qvad/yugabyte-db/pkg/kv/kvclient/kvtxn"
	"github.com/qvad/yugabyte-db/pkg/kv/kvpb"
	"github.com/qvad/yugabyte-db/pkg/util/log"
	"github.com/qvad/yugabyte-db/pkg/util/tracing"
)

// executeOperations is invoked once with initial=true right after
// grouping, and again with initial=false whenever a pending
// transaction.Prepare call resolves asynchronously. If a transaction
// is attached, dispatch is gated on it readying per-shard metadata
// first.
func (b *Batcher) executeOperations(ctx context.Context, initial bool) {
	log.VEventf(ctx, 3, "executeOperations initial=%t", initial)

	// The transaction gate is only consulted on the initial call for
	// this flush attempt. When Prepare could not ready synchronously it
	// calls back into transactionReady, which re-enters here with
	// initial=false purely to run the dispatch half below.
	if initial {
		if txn := b.transaction; txn != nil {
			b.mu.Lock()
			txnGroups := txnGroupsLocked(b.ops, b.groups)
			forceConsistentRead := b.forceConsistentRead
			deadline := b.deadline
			b.mu.Unlock()

			ready := txn.Prepare(ctx, txnGroups, forceConsistentRead, deadline, initial, func(status error) {
				b.transactionReady(ctx, status)
			})
			if !ready {
				return
			}
		}
	}

	b.mu.Lock()
	if b.state != stateTransactionPrepare {
		// The batcher was aborted while we were (synchronously or
		// asynchronously) waiting on the transaction gate.
		b.mu.Unlock()
		return
	}
	b.state = stateTransactionReady
	groups := b.groups
	ops := b.ops
	needConsistentRead := b.forceConsistentRead || b.transaction != nil || len(groups) > 1
	allowLocal := b.allowLocalCalls
	deadline := b.deadline
	factory := b.rpcFactory
	txn := b.transaction
	b.mu.Unlock()

	rpcs := make([]kvcoord.RPC, len(groups))
	for i, g := range groups {
		allowLocalCall := allowLocal && i == len(groups)-1
		rpcs[i] = b.createRPC(factory, ops[g.begin:g.end], g, allowLocalCall, needConsistentRead, deadline)
	}

	b.outstandingRPCs.Store(int32(len(rpcs)))
	if b.metrics != nil {
		b.metrics.OutstandingRPCs.Add(float64(len(rpcs)))
	}

	var txnSpan opentracing.Span
	if txn != nil {
		txnSpan = txn.Trace()
	}
	for _, rpc := range rpcs {
		rctx := ctx
		if txnSpan != nil {
			var span opentracing.Span
			rctx, span = tracing.ChildSpan(ctx, "dispatch")
			tracing.LinkChild(txnSpan, span)
		}
		rpc.Send(rctx)
	}
}

// transactionReady is the continuation passed to transaction.Prepare
// when it could not ready metadata synchronously.
func (b *Batcher) transactionReady(ctx context.Context, status error) {
	if status == nil {
		b.executeOperations(ctx, false)
		return
	}
	b.Abort(ctx, status)
}

// createRPC builds the RPC for one group, dispatching on the group's
// OpGroup kind the way the teacher's Batcher::CreateRpc switches on
// op.group().
func (b *Batcher) createRPC(
	factory kvcoord.Factory,
	ops []*inFlightOp,
	g group,
	allowLocalCall, needConsistentRead bool,
	deadline time.Time,
) kvcoord.RPC {
	handles := make([]kvcoord.OpHandle, len(ops))
	for i, op := range ops {
		handles[i] = op
	}
	data := kvcoord.RPCData{
		Batcher:            b,
		Shard:              ops[0].shard,
		AllowLocalCall:     allowLocalCall,
		NeedConsistentRead: needConsistentRead,
		Ops:                handles,
		NeedMetadata:       g.needMetadata,
		Deadline:           deadline,
	}
	switch ops[0].op.Group() {
	case kvpb.Write:
		return factory.NewWriteRPC(data)
	case kvpb.LeaderRead:
		return factory.NewReadRPC(data, kvcoord.ConsistencyStrong)
	case kvpb.ConsistentPrefixRead:
		return factory.NewReadRPC(data, kvcoord.ConsistencyConsistentPrefix)
	default:
		log.Fatalf(context.Background(), "unhandled op group: %s", ops[0].op.Group())
		return nil
	}
}

// txnGroupsLocked projects the batcher's internal grouping plan into
// the narrow view kvtxn.Transaction.Prepare needs. Callers must hold
// b.mu.
func txnGroupsLocked(ops []*inFlightOp, groups []group) []kvtxn.Group {
	out := make([]kvtxn.Group, len(groups))
	for i, g := range groups {
		out[i] = kvtxn.Group{
			Shard: ops[g.begin].shard,
			Kind:  ops[g.begin].op.Group(),
			Size:  g.end - g.begin,
		}
	}
	return out
}
