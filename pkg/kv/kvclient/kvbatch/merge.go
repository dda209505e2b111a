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

	"github.com/qvad/yugabyte-db/pkg/kv/kvclient/kvcoord"
	"github.com/qvad/yugabyte-db/pkg/kv/kvclient/kvtxn"
	"github.com/qvad/yugabyte-db/pkg/kv/kvpb"
	"github.com/qvad/yugabyte-db/pkg/util/log"
)

// ProcessWriteResponse implements kvcoord.RPCBatcher. The RPC
// implementation has already called SetError on any op with a
// row-specific failure; status carries a batch-level failure that
// applies to every op in rpc still lacking one.
func (b *Batcher) ProcessWriteResponse(ctx context.Context, rpc kvcoord.WriteRPC, status error) {
	log.VEventf(ctx, 4, "write response for shard %s: %v", rpc.Shard(), status)
	b.applyRPCStatus(ctx, rpc.Ops(), status)
}

// ProcessReadResponse implements kvcoord.RPCBatcher, mirroring
// ProcessWriteResponse for the read path.
func (b *Batcher) ProcessReadResponse(ctx context.Context, rpc kvcoord.ReadRPC, status error) {
	log.VEventf(ctx, 4, "read response for shard %s: %v", rpc.Shard(), status)
	b.applyRPCStatus(ctx, rpc.Ops(), status)
}

// applyRPCStatus folds status into every op of the group that does not
// already carry its own row error, then feeds every erroring op into
// the error collector.
func (b *Batcher) applyRPCStatus(ctx context.Context, ops []kvcoord.OpHandle, status error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateTransactionReady {
		log.Errorf(ctx, "applyRPCStatus invoked in wrong state: %s", b.state)
		return
	}
	for _, h := range ops {
		if h.Error() == nil && status != nil {
			h.SetError(status)
		}
		if h.Error() == nil {
			continue
		}
		ifo, ok := h.(*inFlightOp)
		if !ok {
			log.Errorf(ctx, "op handle of unexpected type in applyRPCStatus")
			continue
		}
		b.combineError(ifo)
	}
}

// Flushed implements kvcoord.RPCBatcher. It runs once per dispatched
// RPC, in arbitrary order relative to other RPCs in the same flush;
// the one that drives outstandingRPCs to zero invokes flushFinished.
func (b *Batcher) Flushed(
	ctx context.Context, ops []kvcoord.OpHandle, status error, extra kvcoord.FlushExtraResult,
) {
	if b.client != nil && !extra.PropagatedHybridTime.IsEmpty() {
		b.client.UpdateLatestObservedHybridTime(extra.PropagatedHybridTime)
	}
	if b.readPoint != nil && status == nil && !extra.PropagatedHybridTime.IsEmpty() {
		b.readPoint.UpdateClock(extra.PropagatedHybridTime)
	}

	// Ops behind an error the session will retry within this same
	// transaction must not be reported as flushed: the transaction
	// keeps them in its running set until the retried submission
	// actually succeeds.
	if txn := b.transaction; txn != nil && !kvpb.ShouldRetryInSession(status) {
		flushedOps := make([]kvtxn.FlushedOp, len(ops))
		for i, h := range ops {
			flushedOps[i] = kvtxn.FlushedOp{Op: h.Op(), Sequence: h.Sequence()}
		}
		txn.Flushed(ctx, flushedOps, extra.UsedReadTime, status)
	}

	if b.metrics != nil {
		b.metrics.OutstandingRPCs.Add(-1)
	}
	if b.outstandingRPCs.Add(-1) == 0 {
		b.flushFinished(ctx)
	}
}
