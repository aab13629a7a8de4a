// Package host is the execution environment of the escrow program.
//
// It stands in for the runtime an on-chain program would rely on:
//
//   - callers submit ed25519-signed instructions; the signer is the only
//     identity the program ever sees
//   - every instruction runs inside one ledger transaction, so a rejected
//     operation leaves no partial effect
//   - committed and rejected instructions are journaled with a strictly
//     increasing sequence number from a logical clock
//   - Replay re-executes the journal against a fresh ledger and reports any
//     divergence
//
// Transactions are serialized by the ledger. When two instructions race for
// the same job, the one that commits first wins and the other observes the
// updated record.
package host
