// Package store provides a SQLite-backed ledger.Ledger.
//
// The store holds two tables:
//   - accounts: lamport balances and fixed-size record data, keyed by hex address
//   - entries: the append-only transaction log, one row per submitted operation
//
// # Atomicity and ordering
//
// Every ledger.Ledger Update runs inside one sql.Tx. The pool is limited to a
// single connection, so transactions are totally ordered: a status check made
// inside an update cannot be invalidated by a concurrent writer before commit.
//
// Entries are read back ORDER BY seq ASC, id ASC COLLATE BINARY so replays see
// the log in the order it was written.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//
// Lamports are stored as INTEGER. SQLite integers are signed, so balances
// above math.MaxInt64 are rejected with ledger.ErrOverflow.
package store
