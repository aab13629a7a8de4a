// Package api serves the escrow runtime over HTTP.
//
// Routes, all under /v1:
//
//	GET  /health
//	POST /instructions          submit a signed instruction
//	GET  /jobs/{jobID}          job record and custody
//	GET  /accounts/{identity}   lamports held by an identity
//	GET  /history[?job_id=N]    instruction journal
//	POST /fund                  faucet, only when enabled
//
// Every response uses the envelope {"status", "data", "error"} of the CLI's
// JSON output. Rejected instructions are journaled before the error
// response is written.
package api
