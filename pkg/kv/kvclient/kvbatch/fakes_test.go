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
	"fmt"
	"sync"
	"time"

	opentracing "github.com/opentracing/opentracing-go"

	"github.com/qvad/yugabyte-db/pkg/kv/kvclient/kvcoord"
	"github.com/qvad/yugabyte-db/pkg/kv/kvclient/kvsession"
	"github.com/qvad/yugabyte-db/pkg/kv/kvclient/kvtxn"
	"github.com/qvad/yugabyte-db/pkg/kv/kvpb"
	"github.com/qvad/yugabyte-db/pkg/util/hlc"
)

// fakeOp is a minimal kvpb.Operation for tests: its partition key is
// its key field, and it is never hash-partitioned unless the
// table attached to it says so.
type fakeOp struct {
	name     string
	table    *kvpb.Table
	group    kvpb.OpGroup
	key      []byte
	keyErr   error
	shard    *kvpb.Shard
	readOnly bool
	hashCode uint16
	version  uint32
	hasVer   bool
}

func (o *fakeOp) Group() kvpb.OpGroup       { return o.group }
func (o *fakeOp) Table() *kvpb.Table        { return o.table }
func (o *fakeOp) PartitionKey() ([]byte, error) { return o.key, o.keyErr }
func (o *fakeOp) SetHashCode(code uint16)   { o.hashCode = code }
func (o *fakeOp) PartitionListVersion() (uint32, bool) { return o.version, o.hasVer }
func (o *fakeOp) ReadOnly() bool            { return o.readOnly }
func (o *fakeOp) Shard() *kvpb.Shard        { return o.shard }
func (o *fakeOp) String() string            { return fmt.Sprintf("fakeOp(%s)", o.name) }

func newTable(name string, hashPartitioned bool) *kvpb.Table {
	return &kvpb.Table{Namespace: "ns", Name: name, Schema: kvpb.PartitionSchema{HashPartitioned: hashPartitioned}}
}

func newShard(id string) *kvpb.Shard {
	return &kvpb.Shard{ID: id, TablePartition: kvpb.Partition{}}
}

// fakeShardCache resolves every lookup from a static key -> shard
// map, optionally failing named keys, and always replies asynchronously
// on its own goroutine like the real coalescing cache does.
type fakeShardCache struct {
	mu      sync.Mutex
	shards  map[string]*kvpb.Shard
	failing map[string]error
	calls   int
}

func newFakeShardCache() *fakeShardCache {
	return &fakeShardCache{shards: map[string]*kvpb.Shard{}, failing: map[string]error{}}
}

func (c *fakeShardCache) LookupByKey(
	ctx context.Context, table *kvpb.Table, key []byte, deadline time.Time, fn kvcoord.LookupContinuation,
) {
	c.mu.Lock()
	c.calls++
	shard := c.shards[string(key)]
	err := c.failing[string(key)]
	c.mu.Unlock()
	go fn(ctx, shard, err)
}

// blockingShardCache never invokes its lookup continuation, modeling a
// shard lookup that is still outstanding when the test wants to race
// an explicit Abort against it.
type blockingShardCache struct{}

func (blockingShardCache) LookupByKey(
	ctx context.Context, table *kvpb.Table, key []byte, deadline time.Time, fn kvcoord.LookupContinuation,
) {
}

// fakeRPC records that it was sent and invokes the batcher's response
// callbacks synchronously with canned outcomes, standing in for the
// real wire transport.
type fakeRPC struct {
	shard       *kvpb.Shard
	ops         []kvcoord.OpHandle
	data        kvcoord.RPCData
	level       kvcoord.ConsistencyLevel
	isWrite     bool
	sent        bool
	statusFn    func(rpc *fakeRPC) error
	extraResult kvcoord.FlushExtraResult
}

func (r *fakeRPC) Ops() []kvcoord.OpHandle     { return r.ops }
func (r *fakeRPC) Shard() *kvpb.Shard          { return r.shard }
func (r *fakeRPC) Consistency() kvcoord.ConsistencyLevel { return r.level }

func (r *fakeRPC) Send(ctx context.Context) {
	r.sent = true
	var status error
	if r.statusFn != nil {
		status = r.statusFn(r)
	}
	if r.isWrite {
		r.data.Batcher.ProcessWriteResponse(ctx, r, status)
	} else {
		r.data.Batcher.ProcessReadResponse(ctx, r, status)
	}
	r.data.Batcher.Flushed(ctx, r.ops, status, r.extraResult)
}

// fakeFactory builds fakeRPCs and records every one it constructs so
// tests can inspect dispatch shape (group count, shard assignment,
// allowed local call).
type fakeFactory struct {
	mu       sync.Mutex
	built    []*fakeRPC
	statusFn func(rpc *fakeRPC) error
}

func (f *fakeFactory) NewWriteRPC(data kvcoord.RPCData) kvcoord.WriteRPC {
	rpc := &fakeRPC{shard: data.Shard, ops: data.Ops, data: data, isWrite: true, statusFn: f.statusFn}
	f.mu.Lock()
	f.built = append(f.built, rpc)
	f.mu.Unlock()
	return rpc
}

func (f *fakeFactory) NewReadRPC(data kvcoord.RPCData, level kvcoord.ConsistencyLevel) kvcoord.ReadRPC {
	rpc := &fakeRPC{shard: data.Shard, ops: data.Ops, data: data, level: level, statusFn: f.statusFn}
	f.mu.Lock()
	f.built = append(f.built, rpc)
	f.mu.Unlock()
	return rpc
}

// fakeTransaction is a synchronously ready Transaction by default;
// tests that need the asynchronous path set deferReady, and tests that
// need a gate that never resolves set neverReady.
type fakeTransaction struct {
	mu           sync.Mutex
	expected     int
	deferReady   bool
	neverReady   bool
	prepareCalls int
	flushedOps   []kvtxn.FlushedOp
	prepareErr   error
}

func (t *fakeTransaction) ExpectOperations(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expected = n
}

func (t *fakeTransaction) Prepare(
	ctx context.Context, groups []kvtxn.Group, forceConsistentRead bool,
	deadline time.Time, initial bool, fn kvtxn.PrepareFunc,
) bool {
	t.mu.Lock()
	t.prepareCalls++
	deferred := t.deferReady
	never := t.neverReady
	err := t.prepareErr
	t.mu.Unlock()
	if never {
		return false
	}
	if deferred {
		go fn(err)
		return false
	}
	return err == nil
}

func (t *fakeTransaction) Flushed(ctx context.Context, ops []kvtxn.FlushedOp, usedReadTime hlc.Timestamp, status error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushedOps = append(t.flushedOps, ops...)
}

func (t *fakeTransaction) Trace() opentracing.Span { return nil }

// fakeSession and fakeClient record the notifications a Batcher sends
// without exercising any real retry or callback-pool machinery.
type fakeSession struct {
	mu       sync.Mutex
	started  []string
	finished []string
}

func (s *fakeSession) FlushStarted(b kvsession.FlushObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, b.BatcherID())
}

func (s *fakeSession) FlushFinished(b kvsession.FlushObserver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = append(s.finished, b.BatcherID())
}

type fakeClient struct {
	mu         sync.Mutex
	observedHT hlc.Timestamp
}

func (c *fakeClient) CallbackPool() kvsession.CallbackPool { return nil }

func (c *fakeClient) NextRequestIDAndMinRunning(shardID string) (int64, int64) { return 1, 1 }

func (c *fakeClient) RequestFinished(shardID string, requestID int64) {}

func (c *fakeClient) UpdateLatestObservedHybridTime(ts hlc.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.observedHT.Less(ts) {
		c.observedHT = ts
	}
}
