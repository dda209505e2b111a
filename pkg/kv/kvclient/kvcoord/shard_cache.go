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

// Package kvcoord holds the batcher's external collaborators: the
// shard-location cache and the RPC transport. Both are thin facades;
// the real meta-cache and wire protocol are out of scope for this
// module (see spec Non-goals).
package kvcoord

import (
	"context"
	"time"

	"github.com/qvad/yugabyte-db/pkg/kv/kvpb"
	"golang.org/x/sync/singleflight"
)

// LookupContinuation is invoked exactly once with the outcome of a
// shard lookup, on an arbitrary goroutine.
type LookupContinuation func(ctx context.Context, shard *kvpb.Shard, err error)

// ShardCache resolves a partition key to the shard that owns it.
// LookupByKey returns immediately; the continuation fires later,
// possibly from a different goroutine than the caller's.
type ShardCache interface {
	LookupByKey(
		ctx context.Context, table *kvpb.Table, key []byte, deadline time.Time, fn LookupContinuation,
	)
}

// Fetcher performs the actual (uncached, uncoalesced) lookup, e.g. an
// RPC to a metadata/master service. It is synchronous; CachingShardCache
// runs it on a goroutine and coalesces concurrent callers.
type Fetcher func(ctx context.Context, table *kvpb.Table, key []byte, deadline time.Time) (*kvpb.Shard, error)

// CachingShardCache coalesces concurrent lookups for the same
// (table, key) into a single Fetcher call via singleflight, the same
// shape as the teacher's range descriptor cache coalescing concurrent
// RangeLookups for the same key.
type CachingShardCache struct {
	fetch Fetcher
	group singleflight.Group
}

// NewCachingShardCache wraps fetch with lookup coalescing.
func NewCachingShardCache(fetch Fetcher) *CachingShardCache {
	return &CachingShardCache{fetch: fetch}
}

// LookupByKey implements ShardCache.
func (c *CachingShardCache) LookupByKey(
	ctx context.Context, table *kvpb.Table, key []byte, deadline time.Time, fn LookupContinuation,
) {
	dedupeKey := table.String() + "\x00" + string(key)
	go func() {
		v, err, _ := c.group.Do(dedupeKey, func() (interface{}, error) {
			return c.fetch(ctx, table, key, deadline)
		})
		var shard *kvpb.Shard
		if err == nil {
			shard, _ = v.(*kvpb.Shard)
		}
		fn(ctx, shard, err)
	}()
}
