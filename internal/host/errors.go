package host

import "errors"

var (
	// ErrBadSignature means the signature does not verify against the
	// claimed signer. Such instructions are dropped without a journal entry.
	ErrBadSignature = errors.New("signature verification failed")

	// ErrDuplicateTransaction means the nonce was already journaled.
	ErrDuplicateTransaction = errors.New("duplicate transaction")

	// ErrUnknownOp means the instruction names no escrow operation.
	ErrUnknownOp = errors.New("unknown operation")

	// ErrMissingNonce means the instruction carries no nonce.
	ErrMissingNonce = errors.New("instruction has no nonce")
)
