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

	"github.com/qvad/yugabyte-db/pkg/kv/kvpb"
	"github.com/qvad/yugabyte-db/pkg/util/log"
)

// lookupDone is the continuation passed to kvcoord.ShardCache.LookupByKey
// for one in-flight op. Lookups run in parallel and complete in
// arbitrary order; the continuation that decrements outstandingLookups
// to zero is the one that invokes allLookupsDone.
func (b *Batcher) lookupDone(ctx context.Context, op *inFlightOp, shard *kvpb.Shard, err error) {
	if err != nil {
		op.err = err
		log.VEventf(ctx, 3, "lookup failed for %s: %v", op, err)
	} else {
		op.shard = shard
		log.VEventf(ctx, 4, "lookup finished for %s: shard %s", op, shard)
	}

	if b.metrics != nil {
		b.metrics.OutstandingLookups.Add(-1)
	}
	if b.outstandingLookups.Add(-1) == 0 {
		b.allLookupsDone(ctx)
	}
}
