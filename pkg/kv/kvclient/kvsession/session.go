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

// Package kvsession defines the session/client surface a Batcher
// notifies and borrows services from. Session owns the Batcher's
// lifetime and its own retry policy; neither is this module's
// concern.
package kvsession

import (
	"github.com/qvad/yugabyte-db/pkg/util/hlc"
)

// FlushObserver is the narrow identity a Batcher exposes to its
// Session, avoiding an import cycle between kvsession and kvbatch (the
// session package cannot depend on the concrete Batcher type, since
// the batcher depends on Session to notify it).
type FlushObserver interface {
	BatcherID() string
}

// Session is notified when a batcher starts and finishes a flush. The
// real session additionally owns retry policy and the set of live
// batchers; this module only needs the notification surface.
type Session interface {
	FlushStarted(b FlushObserver)
	FlushFinished(b FlushObserver)
}

// CallbackPool runs a batcher's terminal user callback off the calling
// goroutine, e.g. a bounded worker pool, so a slow callback never
// blocks the goroutine that drove the last outstanding counter to
// zero.
type CallbackPool interface {
	// Submit enqueues fn for execution and returns an error if the
	// pool could not accept it (e.g. already shut down); the caller
	// falls back to running fn inline in that case.
	Submit(fn func()) error
}

// Client is the subset of the owning client object a Batcher and its
// RPCs need: request-ID bookkeeping for retryable requests, the
// callback pool, and the shared observed-hybrid-time watermark.
type Client interface {
	CallbackPool() CallbackPool
	NextRequestIDAndMinRunning(shardID string) (requestID, minRunningID int64)
	RequestFinished(shardID string, requestID int64)
	UpdateLatestObservedHybridTime(ts hlc.Timestamp)
}
