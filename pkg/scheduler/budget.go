// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

// DefaultLocalPerShared is the default number of local processes a worker
// runs before it takes a shared process of the same priority.
const DefaultLocalPerShared = 4

// Budget decides whether a worker runs a local or a shared process next.
//
// A shared process with a higher priority than the best local process is
// always taken first and vice versa. On equal priority, the worker runs
// LocalPerShared local processes between two shared ones.
type Budget struct {
	LocalPerShared int

	localRuns int
}

// NewBudget creates a Budget, localPerShared <= 0 uses the default.
func NewBudget(localPerShared int) *Budget {
	if localPerShared <= 0 {
		localPerShared = DefaultLocalPerShared
	}
	return &Budget{LocalPerShared: localPerShared}
}

// PickShared reports whether the shared process should run next and
// accounts the choice. ok values tell whether each queue has a ready
// process.
func (b *Budget) PickShared(local Priority, localOK bool, shared Priority, sharedOK bool) bool {
	var pickShared bool
	switch {
	case !sharedOK:
		pickShared = false
	case !localOK:
		pickShared = true
	case shared != local:
		pickShared = shared > local
	default:
		pickShared = b.localRuns >= b.LocalPerShared
	}
	if pickShared {
		b.localRuns = 0
	} else if localOK {
		b.localRuns++
	}
	return pickShared
}
