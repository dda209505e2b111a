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
	"fmt"

	"github.com/qvad/yugabyte-db/pkg/kv/kvpb"
)

// inFlightOp is the per-submitted-operation state tracked from the
// moment FlushAsync materializes it until it is folded into the error
// collector. sequence is the op's 0-based insertion index and is the
// tie-breaker that keeps two ops sharing a partition key in submission
// order all the way to the wire.
type inFlightOp struct {
	op           kvpb.Operation
	partitionKey []byte
	shard        *kvpb.Shard
	err          error
	sequence     int
}

func (o *inFlightOp) String() string {
	return fmt.Sprintf("{op: %s, shard: %s, seq: %d}", o.op, o.shard, o.sequence)
}

// Op implements kvcoord.OpHandle.
func (o *inFlightOp) Op() kvpb.Operation { return o.op }

// Sequence implements kvcoord.OpHandle.
func (o *inFlightOp) Sequence() int { return o.sequence }

// Error implements kvcoord.OpHandle.
func (o *inFlightOp) Error() error { return o.err }

// SetError implements kvcoord.OpHandle.
func (o *inFlightOp) SetError(err error) { o.err = err }
