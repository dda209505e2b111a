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

package kvcoord

import (
	"context"
	"time"

	"github.com/qvad/yugabyte-db/pkg/kv/kvpb"
	"github.com/qvad/yugabyte-db/pkg/util/hlc"
)

// OpHandle is the narrow view of a batcher's in-flight op that an RPC
// implementation needs: enough to read/write the per-op error and
// identify the op for per-row error attribution, without exposing the
// batcher's internal bookkeeping.
type OpHandle interface {
	Op() kvpb.Operation
	Sequence() int
	Error() error
	SetError(err error)
}

// RowError attaches a decoded per-row error to the op at RowIndex
// within the RPC's op list.
type RowError struct {
	RowIndex int
	Err      error
}

// ConsistencyLevel selects how strongly a ReadRPC must be served.
type ConsistencyLevel int

const (
	// ConsistencyStrong requires the shard leader to serve the read.
	ConsistencyStrong ConsistencyLevel = iota
	// ConsistencyConsistentPrefix allows any up-to-date replica.
	ConsistencyConsistentPrefix
)

// RPCBatcher is the callback surface an RPC invokes on completion.
// It is implemented by the batcher; RPC implementations only see this
// narrow interface, not the full batcher.
type RPCBatcher interface {
	ProcessWriteResponse(ctx context.Context, rpc WriteRPC, status error)
	ProcessReadResponse(ctx context.Context, rpc ReadRPC, status error)
	Flushed(ctx context.Context, ops []OpHandle, status error, extra FlushExtraResult)
}

// FlushExtraResult carries the hybrid-time bookkeeping an RPC response
// contributes to the batcher's Flushed rendezvous.
type FlushExtraResult struct {
	PropagatedHybridTime hlc.Timestamp
	UsedReadTime         hlc.Timestamp
}

// RPCData bundles everything a factory needs to build one RPC for one
// group of in-flight ops bound for one shard.
type RPCData struct {
	Batcher            RPCBatcher
	Shard              *kvpb.Shard
	AllowLocalCall     bool
	NeedConsistentRead bool
	Ops                []OpHandle
	NeedMetadata       bool
	Deadline           time.Time
}

// RPC is the capability set common to WriteRPC and ReadRPC: send it,
// and recover which ops and shard it carries.
type RPC interface {
	Send(ctx context.Context)
	Ops() []OpHandle
	Shard() *kvpb.Shard
}

// WriteRPC carries a group of Write ops.
type WriteRPC interface {
	RPC
}

// ReadRPC carries a group of LeaderRead or ConsistentPrefixRead ops.
type ReadRPC interface {
	RPC
	Consistency() ConsistencyLevel
}

// Factory constructs the concrete RPC for a group, the Go analogue of
// the teacher's Batcher::CreateRpc switch over OpGroup.
type Factory interface {
	NewWriteRPC(data RPCData) WriteRPC
	NewReadRPC(data RPCData, level ConsistencyLevel) ReadRPC
}
