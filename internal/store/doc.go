// Package store provides SQLite-backed persistence for the sync engine.
//
// The store keeps two tables:
//   - user_writes: pending optimistic writes, replayed into the write tree
//     after a restart and deleted once the server acknowledges them
//   - server_cache: complete server data per listened location, used to
//     seed new views before the server answers
//
// # Payloads
//
// Nodes are stored as canonical export JSON (sorted keys, NFC strings,
// priorities as ".priority"), so equal data always stores identical
// bytes and dumps can be compared in golden files. Merges are stored as
// an object keyed by relative path.
//
// # Deterministic Reads
//
//   - user_writes are always read ORDER BY id ASC, which is write order
//   - server_cache is read ORDER BY path COLLATE BINARY ASC
//
// # Schema version
//
// PRAGMA user_version records the table layout. Open stamps it on a new
// database and refuses one stamped by a newer build.
//
// The engine calls the store only from its run loop; Store itself is safe
// for concurrent use through database/sql.
package store
