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

/*
Package inbox implements the bounded multi-producer single-consumer queue
every actor receives its messages from.

The inbox is a ring of slots. Each slot carries a state word holding both the
slot state and the lap (generation) of the ring it belongs to:

	word = generation<<2 | state

	           claim (CAS)          store
	  Empty ───────────────► Writing ─────► Filled
	    ▲                                     │
	    │      store (generation+1)           │ load
	    └──────────────────── Reading ◄───────┘

Senders race for the slot at the write position with a CAS on its state word,
so a sender never blocks another one for longer than a single value copy. The
only receiver walks the slots in position order, which gives FIFO order for
messages of the same sender. No order is guaranteed between senders.

The receiver registers a Waker before it suspends. The first sender that fills
a slot after the registration clears it and calls Wake, so the owning
computation is marked ready at most once per batch of messages.
*/
package inbox
