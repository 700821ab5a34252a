// Package engine implements the treesync client event loop.
//
// The engine owns a SyncTree and serializes every change to it: user
// writes, server data, listen answers and registration changes are
// validated on the caller's goroutine and then enqueued as tasks.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All tasks run in one goroutine (Run) for deterministic behavior. This
// ensures:
//   - Write ids are handed out in the order writes reach the tree
//   - Events of one operation are delivered as one batch
//   - Listener callbacks never run concurrently with tree mutation
//
// Event Processing Flow:
//  1. API call validates input and enqueues a task (FIFO)
//  2. Engine.Run() dequeues tasks one at a time
//  3. The task applies the operation to the SyncTree
//  4. Pending writes and complete server data go to the Store, if any
//  5. Resulting events are handed to the Dispatcher in one batch
//
// The Dispatcher runs callbacks on a DispatchQueue, by default a single
// goroutine owned by Run. Events for a registration removed after the
// events were queued are dropped at delivery time.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// Write ids come from an IDSource and strictly increase. Restored writes
// advance the clock so new ids sort after them.
//
// Server Answers:
// The engine never talks to the network. A Transport receives listens and
// writes; the caller feeds answers back through Ack, ServerOverwrite,
// ServerMerge and ListenComplete.
package engine
