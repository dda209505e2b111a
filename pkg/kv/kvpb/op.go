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

// Package kvpb defines the row-operation, partition and shard types
// shared by the batcher, the shard cache and the transaction gate.
// It intentionally stops short of a wire codec: encoding operations
// onto the network is out of scope for this module (see spec
// Non-goals), so Operation is a behavioral interface rather than a
// protobuf message.
package kvpb

import "fmt"

// OpGroup selects the RPC path and consistency level a submitted
// operation requires. Grouping never mixes two operations with
// different OpGroup values into the same RPC.
type OpGroup int

const (
	// Write is a row mutation; always dispatched via the write path.
	Write OpGroup = iota
	// LeaderRead is a strongly consistent read, served by the shard
	// leader only.
	LeaderRead
	// ConsistentPrefixRead is a relaxed-consistency read that may be
	// served by any up-to-date replica.
	ConsistentPrefixRead
)

func (g OpGroup) String() string {
	switch g {
	case Write:
		return "Write"
	case LeaderRead:
		return "LeaderRead"
	case ConsistentPrefixRead:
		return "ConsistentPrefixRead"
	default:
		return fmt.Sprintf("OpGroup(%d)", int(g))
	}
}

// PartitionSchema describes how a table's rows map to partition keys.
type PartitionSchema struct {
	// HashPartitioned is true when the table distributes rows across
	// shards by a hash of the partition key rather than by key range.
	HashPartitioned bool
}

// Table identifies the table an Operation addresses and the partition
// schema used to validate its resolved shard.
type Table struct {
	Namespace string
	Name      string
	Schema    PartitionSchema

	// StalePartitions is set by the batcher's combineError when an error
	// indicates the table's cached partition list is out of date, so
	// that the next submission against this table refetches it. It is
	// owned by whatever shard cache implementation backs the table;
	// the batcher only ever sets it, never reads it.
	StalePartitions bool
}

func (t *Table) String() string {
	return t.Namespace + "." + t.Name
}

// IsHashPartitioning reports whether t distributes rows by hash.
func (t *Table) IsHashPartitioning() bool {
	return t.Schema.HashPartitioned
}

// Partition is the contiguous key range a single shard owns.
type Partition struct {
	StartKey []byte // inclusive; nil means unbounded below
	EndKey   []byte // exclusive; nil means unbounded above
}

// ContainsKey reports whether key falls within [StartKey, EndKey).
func (p Partition) ContainsKey(key []byte) bool {
	if p.StartKey != nil && bytesLess(key, p.StartKey) {
		return false
	}
	if p.EndKey != nil && !bytesLess(key, p.EndKey) {
		return false
	}
	return true
}

func bytesLess(a, b []byte) bool {
	return string(a) < string(b)
}

// Shard is a resolved handle to the server group owning a partition.
// Two Shard values for the same physical shard are expected to be the
// same pointer (the grouping sort in the batcher orders by pointer
// identity, matching the teacher's use of RemoteTablet* equality).
type Shard struct {
	ID                   string
	TablePartition       Partition
	PartitionListVersion uint32
}

func (s *Shard) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.ID
}

// Operation is a single user-submitted row operation. Implementations
// are supplied by callers (e.g. a SQL executor); the batcher only
// reads from this interface and calls SetHashCode once, during
// FlushAsync, for every op on a hash-partitioned table whose partition
// key is non-empty.
type Operation interface {
	// Group selects the RPC path this op requires.
	Group() OpGroup
	// Table returns the table the op addresses.
	Table() *Table
	// PartitionKey returns the opaque partition key for this op's row,
	// or an error if one could not be computed (e.g. missing primary
	// key column).
	PartitionKey() ([]byte, error)
	// SetHashCode records the decoded hash-partitioning bucket for this
	// op once its partition key is known; a no-op for range-partitioned
	// tables.
	SetHashCode(code uint16)
	// PartitionListVersion returns the partition-list version this op
	// was planned against, if the caller pinned one.
	PartitionListVersion() (version uint32, ok bool)
	// ReadOnly reports whether this is a read (true) or a write.
	ReadOnly() bool
	// Shard returns a previously resolved shard hint attached to this
	// op (e.g. by a prior failed attempt), or nil to force a fresh
	// lookup.
	Shard() *Shard
	// String renders a short diagnostic description of the op.
	String() string
}

// DecodeHashCode derives the hash-partitioning bucket from an encoded
// partition key. Real hash-partition schemes vary; this module treats
// the first two bytes of the key as a big-endian bucket number, which
// is sufficient for a client library that only needs to forward the
// value it decodes, not recompute the partition scheme's own hash.
func DecodeHashCode(key []byte) uint16 {
	if len(key) < 2 {
		return 0
	}
	return uint16(key[0])<<8 | uint16(key[1])
}
