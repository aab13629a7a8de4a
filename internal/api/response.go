package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roach88/escrow/internal/escrow"
	"github.com/roach88/escrow/internal/host"
	"github.com/roach88/escrow/internal/ledger"
)

// Error codes for failures that carry no escrow rejection code.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeBadSignature     = "BAD_SIGNATURE"
	CodeDuplicate        = "DUPLICATE_TRANSACTION"
	CodeNotFound         = "NOT_FOUND"
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	CodeInternal         = "INTERNAL"
)

// Response is the envelope of every response.
type Response struct {
	Status string `json:"status"` // "ok" or "error"
	Data   any    `json:"data,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// Error describes a failed request. Receipt is set when a rejected
// instruction was journaled.
type Error struct {
	Code    string        `json:"code"`
	Message string        `json:"message"`
	Receipt *host.Receipt `json:"receipt,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Status: "ok", Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string, rcpt *host.Receipt) {
	writeJSON(w, status, Response{
		Status: "error",
		Error:  &Error{Code: code, Message: message, Receipt: rcpt},
	})
}

// rejectionStatus maps a journaled rejection code to an HTTP status.
func rejectionStatus(code string) int {
	switch escrow.ErrorCode(code) {
	case escrow.CodeUnauthorized:
		return http.StatusForbidden
	case escrow.CodeJobNotFound:
		return http.StatusNotFound
	case escrow.CodeInvalidState, escrow.CodeJobExists:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// submitError maps a Submit failure that was not journaled.
func submitError(err error) (int, string) {
	switch {
	case errors.Is(err, host.ErrBadSignature):
		return http.StatusUnauthorized, CodeBadSignature
	case errors.Is(err, host.ErrDuplicateTransaction):
		return http.StatusConflict, CodeDuplicate
	case errors.Is(err, host.ErrUnknownOp), errors.Is(err, host.ErrMissingNonce):
		return http.StatusBadRequest, CodeBadRequest
	case errors.Is(err, ledger.ErrOverflow):
		return http.StatusUnprocessableEntity, host.CodeOverflow
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
