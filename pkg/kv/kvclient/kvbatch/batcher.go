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

// Package kvbatch implements the client-side request batcher for a
// sharded SQL/KV database: it resolves each submitted row operation to
// its owning shard, groups operations by shard and kind, coordinates
// an optional distributed transaction, dispatches one RPC per group
// and merges the per-operation outcomes into a single flush result.
//
// A Batcher is created by a session on the first submitted op and is
// good for exactly one flush attempt; retries are the session's
// responsibility and happen by constructing a fresh Batcher with the
// failed subset of ops (see spec Non-goals: the Batcher never retries
// itself).
package kvbatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/logtags"
	"github.com/google/uuid"

	"github.com/qvad/yugabyte-db/pkg/kv/kvclient/kvcoord"
	"github.com/qvad/yugabyte-db/pkg/kv/kvclient/kvsession"
	"github.com/qvad/yugabyte-db/pkg/kv/kvclient/kvtxn"
	"github.com/qvad/yugabyte-db/pkg/kv/kvpb"
	"github.com/qvad/yugabyte-db/pkg/util/hlc"
	"github.com/qvad/yugabyte-db/pkg/util/log"
	"github.com/qvad/yugabyte-db/pkg/util/metric"
	"github.com/qvad/yugabyte-db/pkg/util/syncutil"
)

// Callback is invoked exactly once, with the aggregated flush status,
// when a Batcher reaches a terminal state.
type Callback func(err error)

// group is a half-open range [begin, end) over the sorted in-flight
// vector; every op in it shares the same shard and OpGroup kind.
type group struct {
	begin, end   int
	needMetadata bool
}

// Batcher is one flush attempt. It is created by a session on the
// first submitted op and destroyed only after its callback has fired
// and no RPCs remain outstanding; destroying it in any other state is
// a programmer error.
type Batcher struct {
	id string

	client     kvsession.Client
	session    kvsession.Session
	transaction kvtxn.Transaction
	shardCache kvcoord.ShardCache
	rpcFactory kvcoord.Factory
	readPoint  *hlc.ReadPoint

	forceConsistentRead bool
	allowLocalCalls     bool
	deadline            time.Time

	knobs                 TestingKnobs
	metrics               *metric.BatcherMetrics
	rejectionScoreSource  RejectionScoreSource

	mu syncutil.Mutex

	state       batcherState
	pendingOps  []kvpb.Operation
	ops         []*inFlightOp
	groups      []group
	callback    Callback
	flushStart  time.Time
	combinedErr error
	combinedErrCode kvpb.ClientErrorCode
	flushDone   bool

	outstandingLookups atomic.Int32
	outstandingRPCs    atomic.Int32

	errorCollector ErrorCollector
}

// Option configures a Batcher at construction.
type Option func(*Batcher)

// WithTransaction attaches a distributed transaction; dispatch will be
// gated on its Prepare handshake.
func WithTransaction(txn kvtxn.Transaction) Option {
	return func(b *Batcher) { b.transaction = txn }
}

// WithReadPoint attaches a consistent-read point that is advanced from
// every successful flush's propagated hybrid time.
func WithReadPoint(rp *hlc.ReadPoint) Option {
	return func(b *Batcher) { b.readPoint = rp }
}

// WithForceConsistentRead forces need_consistent_read even for a
// single-group batch.
func WithForceConsistentRead() Option {
	return func(b *Batcher) { b.forceConsistentRead = true }
}

// WithAllowLocalCalls permits the final dispatched group to run
// in-process instead of through the RPC transport.
func WithAllowLocalCalls() Option {
	return func(b *Batcher) { b.allowLocalCalls = true }
}

// WithTestingKnobs installs TestingKnobs.
func WithTestingKnobs(knobs TestingKnobs) Option {
	return func(b *Batcher) { b.knobs = knobs }
}

// WithMetrics attaches shared metrics; nil is valid and disables
// metric updates.
func WithMetrics(m *metric.BatcherMetrics) Option {
	return func(b *Batcher) { b.metrics = m }
}

// WithRejectionScoreSource attaches a load-shedding signal source.
func WithRejectionScoreSource(s RejectionScoreSource) Option {
	return func(b *Batcher) { b.rejectionScoreSource = s }
}

// NewBatcher constructs a Batcher in stateGatheringOps.
func NewBatcher(
	session kvsession.Session,
	client kvsession.Client,
	shardCache kvcoord.ShardCache,
	rpcFactory kvcoord.Factory,
	opts ...Option,
) *Batcher {
	b := &Batcher{
		id:         uuid.NewString(),
		session:    session,
		client:     client,
		shardCache: shardCache,
		rpcFactory: rpcFactory,
		state:      stateGatheringOps,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BatcherID implements kvsession.FlushObserver.
func (b *Batcher) BatcherID() string { return b.id }

func (b *Batcher) logTags() *logtags.Buffer {
	buf := &logtags.Buffer{}
	buf = buf.Add("batcher", b.id)
	return buf
}

// Add appends op to the pending list. It is ignored (and logged) if
// the batcher is not in stateGatheringOps, since ops may only be added
// before the first FlushAsync call.
func (b *Batcher) Add(ctx context.Context, op kvpb.Operation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != stateGatheringOps {
		log.Errorf(ctx, "adding op to batcher in wrong state: %s", b.state)
		return
	}
	b.pendingOps = append(b.pendingOps, op)
}

// Has is a linear-scan membership test against the pending op list.
func (b *Batcher) Has(op kvpb.Operation) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.pendingOps {
		if o == op {
			return true
		}
	}
	return false
}

// HasPendingOperations reports whether any op has been submitted to
// this batcher, regardless of state.
func (b *Batcher) HasPendingOperations() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pendingOps) > 0
}

// CountBufferedOperations returns the pending count while still
// gathering ops, and 0 once flushing has started (those ops are no
// longer "buffered").
func (b *Batcher) CountBufferedOperations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == stateGatheringOps {
		return len(b.pendingOps)
	}
	return 0
}

// SetDeadline records a monotonic deadline propagated to every shard
// lookup and RPC this batcher issues. No timer runs inside the
// Batcher itself; the deadline is advisory to collaborators.
func (b *Batcher) SetDeadline(deadline time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadline = deadline
}

// RejectionScore delegates to the attached RejectionScoreSource, or
// returns 0 if none is attached.
func (b *Batcher) RejectionScore(attempt int) float64 {
	if b.rejectionScoreSource == nil {
		return 0
	}
	return b.rejectionScoreSource.Get(attempt)
}

// GetAndClearPendingErrors drains the error collector.
func (b *Batcher) GetAndClearPendingErrors() CollectedErrors {
	return b.errorCollector.GetAndClearErrors()
}

// FlushAsync transitions GatheringOps -> ResolvingTablets, materializes
// every pending op into an in-flight op, and launches shard
// resolution. callback fires exactly once, when the batcher reaches a
// terminal state. isWithinTransactionRetry suppresses the
// ExpectOperations notification when the session is re-submitting ops
// already known to the transaction.
func (b *Batcher) FlushAsync(ctx context.Context, callback Callback, isWithinTransactionRetry bool) {
	ctx = log.WithTags(ctx, b.logTags())

	b.mu.Lock()
	if b.state != stateGatheringOps {
		b.mu.Unlock()
		log.Fatalf(ctx, "FlushAsync called in wrong state: %s", b.state)
		return
	}
	b.state = stateResolvingTablets
	b.callback = callback
	b.flushStart = time.Now()

	pending := b.pendingOps
	b.outstandingLookups.Store(int32(len(pending)))
	if b.metrics != nil {
		b.metrics.OutstandingLookups.Add(float64(len(pending)))
	}

	ops := make([]*inFlightOp, 0, len(pending))
	var materializeErr error
	for i, op := range pending {
		ifo := &inFlightOp{op: op, sequence: i}
		key, err := op.PartitionKey()
		if err == nil && op.Table() != nil && op.Table().IsHashPartitioning() {
			if len(key) == 0 {
				if !op.ReadOnly() {
					err = errors.Newf("hash partition key is empty for %s", op)
				}
			} else {
				op.SetHashCode(kvpb.DecodeHashCode(key))
			}
		}
		if err != nil {
			materializeErr = err
			break
		}
		ifo.partitionKey = key
		ops = append(ops, ifo)
	}

	if materializeErr != nil {
		if b.metrics != nil {
			b.metrics.OutstandingLookups.Sub(float64(len(pending)))
		}
		b.combinedErr = materializeErr
		b.mu.Unlock()
		b.flushFinished(ctx)
		return
	}
	b.ops = ops
	b.mu.Unlock()

	session := b.session
	if session != nil {
		session.FlushStarted(b)
	}
	if b.transaction != nil && !isWithinTransactionRetry {
		b.transaction.ExpectOperations(len(ops))
	}

	if len(ops) == 0 {
		// No lookups will ever be launched, so outstandingLookups will
		// never see a decrement to drive it to zero. Finish the
		// resolution step directly.
		b.allLookupsDone(ctx)
		return
	}

	for _, op := range ops {
		op := op
		if hint := op.op.Shard(); hint != nil {
			b.lookupDone(ctx, op, hint, nil)
			continue
		}
		b.shardCache.LookupByKey(ctx, op.op.Table(), op.partitionKey, b.deadline, func(ctx context.Context, shard *kvpb.Shard, err error) {
			b.lookupDone(ctx, op, shard, err)
		})
	}
}

// Abort records status against every in-flight op and transitions
// directly to stateAborted. It is idempotent: calling it after
// flushFinished has already run, or calling it twice, still invokes
// the callback exactly once with the first status.
func (b *Batcher) Abort(ctx context.Context, status error) {
	b.mu.Lock()
	if b.state.terminal() {
		b.mu.Unlock()
		return
	}
	for _, op := range b.ops {
		b.errorCollector.AddError(op.op, status)
	}
	b.combinedErr = status
	b.state = stateAborted
	b.mu.Unlock()

	b.flushFinished(ctx)
}

// flushFinished is the single path to running the user callback. On
// first entry, if not already Aborted it sets Complete, notifies the
// session, promotes a silent-but-present error collector to the
// generic aggregate status, and dispatches the callback. Subsequent
// calls (e.g. the last RPC completion arriving after an Abort already
// finished the flush) are no-ops.
func (b *Batcher) flushFinished(ctx context.Context) {
	b.mu.Lock()
	if b.flushDone {
		b.mu.Unlock()
		return
	}
	b.flushDone = true
	if b.state != stateAborted {
		b.state = stateComplete
	}
	combinedErr := b.combinedErr
	latency := time.Since(b.flushStart)
	hadCollectedErrors := b.errorCollector.CountErrors() != 0
	if combinedErr == nil && hadCollectedErrors {
		combinedErr = ErrReachingTabletServers
		b.combinedErr = combinedErr
	}
	cb := b.callback
	b.callback = nil
	outcome := "ok"
	if combinedErr != nil {
		outcome = "error"
	}
	b.mu.Unlock()

	if session := b.session; session != nil {
		session.FlushFinished(b)
	}
	if b.metrics != nil {
		b.metrics.FlushesTotal.WithLabelValues(outcome).Inc()
		b.metrics.FlushLatencySeconds.Observe(latency.Seconds())
	}

	b.runCallback(ctx, cb, combinedErr)
}

func (b *Batcher) runCallback(ctx context.Context, cb Callback, err error) {
	if cb == nil {
		return
	}
	run := func() { cb(err) }
	if b.client == nil {
		run()
		return
	}
	pool := b.client.CallbackPool()
	if pool == nil || pool.Submit(run) != nil {
		run()
	}
}
