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
	"math/rand"
	"reflect"
	"sort"

	"github.com/qvad/yugabyte-db/pkg/kv/kvpb"
	"github.com/qvad/yugabyte-db/pkg/util/log"
)

// allLookupsDone runs exactly once, when outstandingLookups reaches
// zero, and only if the batcher is still in stateResolvingTablets (it
// may already have been aborted by an explicit Abort).
func (b *Batcher) allLookupsDone(ctx context.Context) {
	b.mu.Lock()
	if b.state != stateResolvingTablets {
		b.mu.Unlock()
		log.Errorf(ctx, "allLookupsDone invoked in wrong state: %s", b.state)
		return
	}

	b.checkPartitionContainsKey(ctx)
	lookupErrors := b.collectLookupErrorsByKey()
	b.state = stateTransactionPrepare

	surviving := b.ops[:0:0]
	if len(lookupErrors) > 0 {
		for _, op := range b.ops {
			if op.err == nil {
				if err, ok := lookupErrors[string(op.partitionKey)]; ok {
					op.err = err
				}
			}
			if op.err != nil {
				b.combineError(op)
				continue
			}
			surviving = append(surviving, op)
		}
		b.ops = surviving
	}

	if len(b.ops) == 0 {
		b.mu.Unlock()
		b.flushFinished(ctx)
		return
	}

	sort.SliceStable(b.ops, func(i, j int) bool {
		oi, oj := b.ops[i], b.ops[j]
		if oi.shard != oj.shard {
			return shardLess(oi.shard, oj.shard)
		}
		if oi.op.Group() != oj.op.Group() {
			return oi.op.Group() < oj.op.Group()
		}
		return oi.sequence < oj.sequence
	})

	for _, op := range b.ops {
		if version, ok := op.op.PartitionListVersion(); ok && version != op.shard.PartitionListVersion {
			err := kvpb.ErrPartitionListVersionDoesNotMatch(op.op, version, op.shard.PartitionListVersion)
			b.mu.Unlock()
			b.Abort(ctx, err)
			return
		}
	}

	b.groups = buildGroups(b.ops)
	b.mu.Unlock()

	b.executeOperations(ctx, true /* initial */)
}

// checkPartitionContainsKey implements the per-op partition-key sanity
// check: a stale cache could route a key to the wrong shard, and
// detecting that locally gives a clearer diagnostic than letting the
// server reject it. Callers must hold b.mu.
func (b *Batcher) checkPartitionContainsKey(ctx context.Context) {
	for _, op := range b.ops {
		if op.err != nil || op.shard == nil {
			continue
		}
		mismatch := !op.shard.TablePartition.ContainsKey(op.partitionKey)
		if !mismatch && b.knobs.SimulatePartitionMismatchProbability > 0 {
			mismatch = randFloat64(b.knobs) < b.knobs.SimulatePartitionMismatchProbability
		}
		if mismatch {
			op.err = kvpb.NewClientErrorf(
				kvpb.CodeInternalError,
				"row %s not in partition of shard %s",
				op.op, op.shard,
			)
			log.Errorf(ctx, "%v", op.err)
		}
	}
}

func randFloat64(knobs TestingKnobs) float64 {
	if knobs.RandFloat64 != nil {
		return knobs.RandFloat64()
	}
	return rand.Float64()
}

// collectLookupErrorsByKey builds the partition-key -> error map used
// for error contagion: if any op for a given partition key errored,
// every other op sharing that key inherits the same error, preserving
// the sequence-number ordering guarantee across the surviving ops.
// Callers must hold b.mu.
func (b *Batcher) collectLookupErrorsByKey() map[string]error {
	var errs map[string]error
	for _, op := range b.ops {
		if op.err == nil {
			continue
		}
		if errs == nil {
			errs = make(map[string]error)
		}
		errs[string(op.partitionKey)] = op.err
	}
	return errs
}

func shardLess(a, b *kvpb.Shard) bool {
	return shardPtr(a) < shardPtr(b)
}

// shardPtr gives every *Shard a stable total order for sorting without
// caring about its contents, mirroring the teacher's use of raw
// RemoteTablet pointer identity.
func shardPtr(s *kvpb.Shard) uintptr {
	if s == nil {
		return 0
	}
	return reflect.ValueOf(s).Pointer()
}

// buildGroups partitions the sorted in-flight vector into maximal runs
// sharing the same (shard, kind). needMetadata is set on the first
// group seen for a given shard in this flush, since per-shard metadata
// only needs to accompany one RPC per shard per batch.
func buildGroups(ops []*inFlightOp) []group {
	if len(ops) == 0 {
		return nil
	}
	var groups []group
	seenShard := make(map[*kvpb.Shard]bool)
	start := 0
	for i := 1; i <= len(ops); i++ {
		if i < len(ops) && ops[i].shard == ops[start].shard && ops[i].op.Group() == ops[start].op.Group() {
			continue
		}
		shard := ops[start].shard
		groups = append(groups, group{begin: start, end: i, needMetadata: !seenShard[shard]})
		seenShard[shard] = true
		start = i
	}
	return groups
}
