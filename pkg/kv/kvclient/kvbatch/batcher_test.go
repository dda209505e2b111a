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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qvad/yugabyte-db/pkg/kv/kvpb"
)

// awaitCallback returns a Callback that delivers the batcher's status
// on the returned channel; requireStatus waits for it.
func awaitCallback(t *testing.T) (chan error, Callback) {
	t.Helper()
	ch := make(chan error, 1)
	return ch, func(err error) { ch <- err }
}

func requireStatus(t *testing.T, ch chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
		return nil
	}
}

func TestFlushAsync_SingleWriteSucceeds(t *testing.T) {
	table := newTable("accounts", false)
	shard := newShard("shard-1")
	op := &fakeOp{name: "row1", table: table, group: kvpb.Write, key: []byte("row1")}

	cache := newFakeShardCache()
	cache.shards["row1"] = shard
	factory := &fakeFactory{}
	session := &fakeSession{}
	client := &fakeClient{}

	b := NewBatcher(session, client, cache, factory)
	b.Add(context.Background(), op)

	ch, cb := awaitCallback(t)
	b.FlushAsync(context.Background(), cb, false)

	require.NoError(t, requireStatus(t, ch))
	require.Len(t, factory.built, 1)
	assert.Equal(t, shard, factory.built[0].Shard())
	assert.Equal(t, []string{b.BatcherID()}, session.started)
	assert.Equal(t, []string{b.BatcherID()}, session.finished)
}

func TestFlushAsync_EmptyBatchFinishesWithOkStatus(t *testing.T) {
	factory := &fakeFactory{}
	session := &fakeSession{}

	b := NewBatcher(session, &fakeClient{}, newFakeShardCache(), factory)

	ch, cb := awaitCallback(t)
	b.FlushAsync(context.Background(), cb, false)

	require.NoError(t, requireStatus(t, ch))
	assert.Empty(t, factory.built)
	assert.Empty(t, b.GetAndClearPendingErrors())
	assert.Equal(t, []string{b.BatcherID()}, session.finished)
}

func TestFlushAsync_SingleWriteAllowsLocalCall(t *testing.T) {
	table := newTable("accounts", false)
	shard := newShard("shard-1")
	op := &fakeOp{name: "row1", table: table, group: kvpb.Write, key: []byte("row1")}

	cache := newFakeShardCache()
	cache.shards["row1"] = shard
	factory := &fakeFactory{}

	b := NewBatcher(&fakeSession{}, &fakeClient{}, cache, factory, WithAllowLocalCalls())
	b.Add(context.Background(), op)

	ch, cb := awaitCallback(t)
	b.FlushAsync(context.Background(), cb, false)

	require.NoError(t, requireStatus(t, ch))
	require.Len(t, factory.built, 1)
	assert.True(t, factory.built[0].data.AllowLocalCall)
}

func TestFlushAsync_GroupsByShardAndKind(t *testing.T) {
	table := newTable("accounts", false)
	shardA := newShard("shard-a")
	shardB := newShard("shard-b")

	write1 := &fakeOp{name: "w1", table: table, group: kvpb.Write, key: []byte("a-key")}
	write2 := &fakeOp{name: "w2", table: table, group: kvpb.Write, key: []byte("a-key2")}
	read1 := &fakeOp{name: "r1", table: table, group: kvpb.LeaderRead, key: []byte("b-key"), readOnly: true}

	cache := newFakeShardCache()
	cache.shards["a-key"] = shardA
	cache.shards["a-key2"] = shardA
	cache.shards["b-key"] = shardB
	factory := &fakeFactory{}

	b := NewBatcher(&fakeSession{}, &fakeClient{}, cache, factory)
	b.Add(context.Background(), write1)
	b.Add(context.Background(), write2)
	b.Add(context.Background(), read1)

	ch, cb := awaitCallback(t)
	b.FlushAsync(context.Background(), cb, false)
	require.NoError(t, requireStatus(t, ch))

	// Two groups: one write RPC carrying both shard-a ops, one read RPC
	// for the shard-b op. Grouping never mixes OpGroup kinds or shards.
	require.Len(t, factory.built, 2)
	var writeGroup, readGroup *fakeRPC
	for _, rpc := range factory.built {
		if rpc.isWrite {
			writeGroup = rpc
		} else {
			readGroup = rpc
		}
	}
	require.NotNil(t, writeGroup)
	require.NotNil(t, readGroup)
	assert.Len(t, writeGroup.Ops(), 2)
	assert.Len(t, readGroup.Ops(), 1)
	assert.Equal(t, shardA, writeGroup.Shard())
	assert.Equal(t, shardB, readGroup.Shard())
}

func TestFlushAsync_LookupErrorAggregatesAsReachingTabletServers(t *testing.T) {
	table := newTable("accounts", false)
	op := &fakeOp{name: "row1", table: table, group: kvpb.Write, key: []byte("row1")}

	cache := newFakeShardCache()
	cache.failing["row1"] = kvpb.NewClientError(kvpb.CodeIOError, "lookup failed")
	factory := &fakeFactory{}

	b := NewBatcher(&fakeSession{}, &fakeClient{}, cache, factory)
	b.Add(context.Background(), op)

	ch, cb := awaitCallback(t)
	b.FlushAsync(context.Background(), cb, false)

	err := requireStatus(t, ch)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReachingTabletServers)
	assert.Empty(t, factory.built, "no RPC should be dispatched when every op failed lookup")

	collected := b.GetAndClearPendingErrors()
	require.Len(t, collected, 1)
	assert.Same(t, op, collected[0].Op)
}

func TestAbort_IsIdempotentAndFiresCallbackOnce(t *testing.T) {
	table := newTable("accounts", false)
	op := &fakeOp{name: "row1", table: table, group: kvpb.Write, key: []byte("row1")}

	factory := &fakeFactory{}

	b := NewBatcher(&fakeSession{}, &fakeClient{}, blockingShardCache{}, factory)
	b.Add(context.Background(), op)

	ch, cb := awaitCallback(t)
	b.FlushAsync(context.Background(), cb, false)

	abortErr := kvpb.NewClientError(kvpb.CodeInternalError, "shutting down")
	b.Abort(context.Background(), abortErr)
	b.Abort(context.Background(), kvpb.NewClientError(kvpb.CodeInternalError, "second abort, must be ignored"))

	err := requireStatus(t, ch)
	assert.ErrorIs(t, err, abortErr)
}

func TestAllLookupsDone_PartitionListVersionMismatchAborts(t *testing.T) {
	table := newTable("accounts", false)
	shard := newShard("shard-1")
	shard.PartitionListVersion = 5
	op := &fakeOp{name: "row1", table: table, group: kvpb.Write, key: []byte("row1"), version: 3, hasVer: true}

	cache := newFakeShardCache()
	cache.shards["row1"] = shard
	factory := &fakeFactory{}

	b := NewBatcher(&fakeSession{}, &fakeClient{}, cache, factory)
	b.Add(context.Background(), op)

	ch, cb := awaitCallback(t)
	b.FlushAsync(context.Background(), cb, false)

	err := requireStatus(t, ch)
	require.Error(t, err)
	code, ok := kvpb.ClientErrorCodeOf(err)
	require.True(t, ok)
	assert.Equal(t, kvpb.CodeTablePartitionListVersionDoesNotMatch, code)
	assert.Empty(t, factory.built)
}

func TestFlushAsync_HashPartitionEmptyKeyRejectedForWrites(t *testing.T) {
	table := newTable("accounts", true)
	op := &fakeOp{name: "row1", table: table, group: kvpb.Write, key: nil}

	b := NewBatcher(&fakeSession{}, &fakeClient{}, newFakeShardCache(), &fakeFactory{})
	b.Add(context.Background(), op)

	ch, cb := awaitCallback(t)
	b.FlushAsync(context.Background(), cb, false)

	require.Error(t, requireStatus(t, ch))
}

func TestFlushAsync_HashPartitionEmptyKeyAllowedForReads(t *testing.T) {
	table := newTable("accounts", true)
	shard := newShard("shard-1")
	op := &fakeOp{name: "row1", table: table, group: kvpb.ConsistentPrefixRead, key: nil, readOnly: true}

	cache := newFakeShardCache()
	cache.shards[""] = shard
	factory := &fakeFactory{}

	b := NewBatcher(&fakeSession{}, &fakeClient{}, cache, factory)
	b.Add(context.Background(), op)

	ch, cb := awaitCallback(t)
	b.FlushAsync(context.Background(), cb, false)

	require.NoError(t, requireStatus(t, ch))
	require.Len(t, factory.built, 1)
}

func TestCountBufferedOperations_OnlyCountsBeforeFlush(t *testing.T) {
	table := newTable("accounts", false)
	op := &fakeOp{name: "row1", table: table, group: kvpb.Write, key: []byte("row1")}

	b := NewBatcher(&fakeSession{}, &fakeClient{}, newFakeShardCache(), &fakeFactory{})
	assert.Equal(t, 0, b.CountBufferedOperations())
	b.Add(context.Background(), op)
	assert.Equal(t, 1, b.CountBufferedOperations())

	ch, cb := awaitCallback(t)
	b.FlushAsync(context.Background(), cb, false)
	require.NoError(t, requireStatus(t, ch))
	assert.Equal(t, 0, b.CountBufferedOperations())
}
