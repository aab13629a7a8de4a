package escrow

import (
	"errors"
	"fmt"
)

// ErrorCode identifies an escrow error category. Codes are stable and are
// written to the transaction log.
type ErrorCode string

const (
	// CodeMetadataTooLong: metadata exceeds MaxMetadataLen at creation.
	CodeMetadataTooLong ErrorCode = "METADATA_TOO_LONG"

	// CodeUnauthorized: the caller does not hold the role the operation needs.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeInvalidState: the job status does not permit the operation.
	CodeInvalidState ErrorCode = "INVALID_STATE"

	// CodeInsufficientEscrow: custody holds less than the committed amount.
	CodeInsufficientEscrow ErrorCode = "INSUFFICIENT_ESCROW"

	CodeJobNotFound        ErrorCode = "JOB_NOT_FOUND"
	CodeJobExists          ErrorCode = "JOB_EXISTS"
	CodeCorruptRecord      ErrorCode = "CORRUPT_RECORD"
	CodeArithmeticOverflow ErrorCode = "ARITHMETIC_OVERFLOW"
)

var messages = map[ErrorCode]string{
	CodeMetadataTooLong:    "metadata field is too long",
	CodeUnauthorized:       "caller is not authorized to perform this action",
	CodeInvalidState:       "invalid job state transition",
	CodeInsufficientEscrow: "escrow account no longer holds the expected amount",
	CodeJobNotFound:        "job not found",
	CodeJobExists:          "job already exists",
	CodeCorruptRecord:      "job record is corrupt",
	CodeArithmeticOverflow: "arithmetic overflow",
}

// Sentinels for errors.Is. Errors returned by Program carry more detail but
// match these by code.
var (
	ErrMetadataTooLong    = &Error{Code: CodeMetadataTooLong}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized}
	ErrInvalidState       = &Error{Code: CodeInvalidState}
	ErrInsufficientEscrow = &Error{Code: CodeInsufficientEscrow}
	ErrJobNotFound        = &Error{Code: CodeJobNotFound}
	ErrJobExists          = &Error{Code: CodeJobExists}
	ErrCorruptRecord      = &Error{Code: CodeCorruptRecord}
	ErrArithmeticOverflow = &Error{Code: CodeArithmeticOverflow}
)

// Error is a rejected escrow operation.
type Error struct {
	Code   ErrorCode
	JobID  uint64
	Op     string
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := messages[e.Code]
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Detail != "" {
		msg = msg + ": " + e.Detail
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (job=%d)", e.Op, msg, e.JobID)
	}
	return msg
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the escrow error code of err, or "" if err is not an
// escrow error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code ErrorCode, op string, jobID uint64, detail string) *Error {
	return &Error{Code: code, Op: op, JobID: jobID, Detail: detail}
}
