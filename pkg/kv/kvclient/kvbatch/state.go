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

// batcherState is the Batcher's lifecycle state. Transitions are
// one-way except that stateAborted is reachable from any non-terminal
// state. stateComplete and stateAborted are terminal.
type batcherState int32

const (
	stateGatheringOps batcherState = iota
	stateResolvingTablets
	stateTransactionPrepare
	stateTransactionReady
	stateComplete
	stateAborted
)

func (s batcherState) String() string {
	switch s {
	case stateGatheringOps:
		return "GatheringOps"
	case stateResolvingTablets:
		return "ResolvingTablets"
	case stateTransactionPrepare:
		return "TransactionPrepare"
	case stateTransactionReady:
		return "TransactionReady"
	case stateComplete:
		return "Complete"
	case stateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

func (s batcherState) terminal() bool {
	return s == stateComplete || s == stateAborted
}
