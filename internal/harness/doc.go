// Package harness replays scripted sessions against the sync engine.
//
// A scenario plays both sides of the connection: user calls (listen,
// set, update) and server answers (server data, listen completions,
// write acks) are steps. Each step's events are compared with the step's
// expect clause, and the whole trace can be compared with a golden file.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: optimistic_write
//	description: "A local write is visible before the server acks it"
//	session: test-session-1
//	steps:
//	  - do: listen
//	    path: /x
//	    listener: main
//	  - do: server_set
//	    path: /x
//	    value: { a: 1 }
//	    expect:
//	      main: ["child_added a", "value"]
//	  - do: set
//	    path: /x/a
//	    value: 5
//	  - do: ack
//	    write: 1
//	    status: permission_denied
//	assertions:
//	  - type: write_result
//	    write: 1
//	    expect: permission_denied
//	  - type: value
//	    path: /x
//	    expect: { a: 1 }
//
// Filtered listens take a query:
//
//	query: { order_by: key, limit_to_first: 2, start_at: { value: "b" } }
//
// # Assertion Types
//
//   - value: the data at path, pending writes included
//   - events: every event a listener received
//   - write_result: "ok", "pending" or the rejection status of a write
//   - pending_writes: the number of writes in the store
//   - listens: the server listens currently active
//
// # Deterministic Testing
//
// Every scenario runs with a deterministic write id clock, a fixed
// session id, an in-memory SQLite store and synchronous event dispatch,
// so traces are identical across runs.
package harness
