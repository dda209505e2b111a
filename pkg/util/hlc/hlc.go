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

// Package hlc implements a hybrid logical clock: a physical timestamp
// paired with a logical counter used to order causally related events
// across nodes without relying on synchronized wall clocks.
package hlc

import "sync/atomic"

// Timestamp is a hybrid logical timestamp. The zero value is the
// minimum timestamp and compares less than any timestamp with a
// nonzero WallTime.
type Timestamp struct {
	WallTime int64
	Logical  int32
}

// Less reports whether t is causally before o.
func (t Timestamp) Less(o Timestamp) bool {
	if t.WallTime != o.WallTime {
		return t.WallTime < o.WallTime
	}
	return t.Logical < o.Logical
}

// IsEmpty reports whether t is the zero timestamp.
func (t Timestamp) IsEmpty() bool {
	return t.WallTime == 0 && t.Logical == 0
}

// packed encodes a Timestamp into a single int64 for lock-free updates.
// Logical is small in practice (bounded by clock skew tolerance), so it
// fits in the low 20 bits below the shifted wall time; this is
// only used to compare-and-swap the high-water mark, never persisted.
func packed(t Timestamp) int64 {
	return t.WallTime<<20 | int64(t.Logical)&0xfffff
}

// HighWaterMark tracks the latest observed Timestamp across concurrent
// updaters, e.g. a client's observed-hybrid-time watermark that every
// flushed write or read response may advance.
type HighWaterMark struct {
	packed atomic.Int64
}

// Update advances the high-water mark to t if t is newer than the
// current value. Safe for concurrent use.
func (h *HighWaterMark) Update(t Timestamp) {
	if t.IsEmpty() {
		return
	}
	next := packed(t)
	for {
		cur := h.packed.Load()
		if next <= cur {
			return
		}
		if h.packed.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Get returns the current high-water mark.
func (h *HighWaterMark) Get() Timestamp {
	p := h.packed.Load()
	return Timestamp{WallTime: p >> 20, Logical: int32(p & 0xfffff)}
}

// ReadPoint is a client-side consistent-read high-water mark, advanced
// by every successful flush so that later reads in the same session
// observe their own prior writes.
type ReadPoint struct {
	mark HighWaterMark
}

// UpdateClock advances the read point from a propagated hybrid time
// observed on a flush response.
func (r *ReadPoint) UpdateClock(t Timestamp) {
	r.mark.Update(t)
}

// Now returns the read point's current timestamp.
func (r *ReadPoint) Now() Timestamp {
	return r.mark.Get()
}
