// Package ledger defines the contract the escrow program requires from its
// host: keyed accounts holding lamports and data, atomic read-write
// transactions, and an append-only transaction log.
//
// # Guarantees
//
// Update runs its function as one all-or-nothing transaction. If the
// function returns an error, none of its account or log writes are visible
// afterwards. Updates are serialized: two updates never interleave, so a
// precondition observed inside an update holds until it commits.
//
// # Backends
//
//   - ledger/memory: in-process balance table for tests, scenarios and replay
//   - store: SQLite, durable across process restarts
package ledger
