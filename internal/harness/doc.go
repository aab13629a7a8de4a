// Package harness runs escrow scenarios: YAML files describing funded
// parties, a sequence of signed operations and assertions on the final
// ledger.
//
// # Scenario Format
//
//	name: full_lifecycle
//	description: "owner pays the worker after processing"
//	config: |
//	  complete_policy: "sweep"
//	parties:
//	  owner: 10000
//	  worker: 0
//	steps:
//	  - op: initialize_job
//	    as: owner
//	    job_id: 1
//	    metadata: "build image"
//	    amount: 1000
//	    expect: { status: Pending }
//	  - op: mark_processing
//	    as: owner
//	    job_id: 1
//	    expect: { error: UNAUTHORIZED }
//	assertions:
//	  - type: balance
//	    party: worker
//	    equals: 1000
//	  - type: job
//	    job_id: 1
//	    status: Done
//	    worker: worker
//
// # Assertion Types
//
//   - balance: lamports held by a party ("none" is the zero identity)
//   - custody: lamports held at a job address
//   - job: subset match on status, owner, worker and amount
//   - job_absent: the job has no record
//   - trace_count: number of trace events for an op, optionally one outcome
//   - replay: re-executing the journal reproduces the ledger
//
// # Determinism
//
// Each run uses a fresh in-memory SQLite ledger, a testutil.DeterministicClock
// and sequential nonces, and party keys derived from names. The same
// scenario always yields the same trace, which is compared with a golden
// file by RunWithGolden.
package harness
