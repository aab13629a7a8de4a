// Package escrow implements the job escrow state machine.
//
// A Job record lives at an address derived from its job id and holds the
// escrowed payment as the record's lamport balance. Five operations move it
// through its lifecycle:
//
//	Pending --start--> Started --mark_processing--> Processing
//	   |                  |                              |
//	   +---- complete (owner) ---------------------------+---> Done
//	   |                  |                              |
//	   +---- refund (owner, any non-Done status) --------+---> (status unchanged)
//
// Every operation runs inside a single ledger.Tx supplied by the host. A
// returned error aborts the host transaction, so a rejected operation leaves
// the record and all balances exactly as they were.
//
// Authorization is identity equality against the caller the host has
// already authenticated: the worker advances to Processing, the owner
// completes or refunds, and anyone may start a Pending job.
package escrow
