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

// Package syncutil wraps the standard sync primitives with held-lock
// assertion hooks, so call sites can document their own lock-ordering
// invariants. In this package the assertions perform no check.
package syncutil

import "sync"

// A Mutex is a mutual exclusion lock that additionally supports
// AssertHeld for documenting lock-ordering invariants at call sites.
type Mutex struct {
	sync.Mutex
}

// AssertHeld marks a point where the mutex is expected to be locked.
// It is a no-op: it does not check that the mutex is locked.
func (m *Mutex) AssertHeld() {
}

// An RWMutex is a reader/writer mutual exclusion lock with the same
// AssertHeld contract as Mutex.
type RWMutex struct {
	sync.RWMutex
}

// AssertHeld marks a point where the mutex is expected to be locked
// for writing. It is a no-op.
func (rw *RWMutex) AssertHeld() {
}

// AssertRHeld marks a point where the mutex is expected to be locked
// for reading (or writing). It is a no-op.
func (rw *RWMutex) AssertRHeld() {
}
