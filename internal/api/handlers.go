package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/escrow/internal/escrow"
	"github.com/roach88/escrow/internal/host"
	"github.com/roach88/escrow/internal/pubkey"
)

// SubmitRequest is the body of POST /v1/instructions: the signed payload
// as JSON and the hex ed25519 signature over it.
type SubmitRequest struct {
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// NewSubmitRequest encodes s for POST /v1/instructions.
func NewSubmitRequest(s host.SignedInstruction) (SubmitRequest, error) {
	payload, err := s.Payload(s.Signer)
	if err != nil {
		return SubmitRequest{}, err
	}
	return SubmitRequest{Payload: payload, Signature: hex.EncodeToString(s.Signature)}, nil
}

// FundRequest is the body of POST /v1/fund.
type FundRequest struct {
	To       pubkey.Key `json:"to"`
	Lamports uint64     `json:"lamports"`
}

// AccountView is the body of GET /v1/accounts/{identity}.
type AccountView struct {
	Identity pubkey.Key `json:"identity"`
	Lamports uint64     `json:"lamports"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]string{"policy": string(s.runtime.Program().Policy())})
}

// POST /v1/instructions
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}
	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "signature is not hex", nil)
		return
	}
	signed, err := host.DecodeSigned(req.Payload, sig)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}

	rcpt, err := s.runtime.Submit(r.Context(), signed)
	if err == nil {
		writeData(w, rcpt)
		return
	}
	if rcpt.Error != "" {
		writeError(w, rejectionStatus(rcpt.Error), rcpt.Error, err.Error(), &rcpt)
		return
	}
	status, code := submitError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("submit failed", "op", string(signed.Op), "job_id", signed.JobID, "error", err)
	}
	writeError(w, status, code, err.Error(), nil)
}

// GET /v1/jobs/{jobID}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseUint(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "job id must be an unsigned integer", nil)
		return
	}

	view, err := s.runtime.Job(r.Context(), jobID)
	switch {
	case errors.Is(err, escrow.ErrJobNotFound):
		writeError(w, http.StatusNotFound, string(escrow.CodeJobNotFound), err.Error(), nil)
	case err != nil:
		s.logger.Error("load job failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error(), nil)
	default:
		writeData(w, view)
	}
}

// GET /v1/accounts/{identity}
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	key, err := pubkey.Parse(chi.URLParam(r, "identity"))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}

	bal, err := s.runtime.Balance(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error(), nil)
		return
	}
	writeData(w, AccountView{Identity: key, Lamports: bal})
}

// GET /v1/history[?job_id=N]
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var filter *uint64
	if raw := r.URL.Query().Get("job_id"); raw != "" {
		jobID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "job_id must be an unsigned integer", nil)
			return
		}
		filter = &jobID
	}

	entries, err := s.runtime.History(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeInternal, err.Error(), nil)
		return
	}
	writeData(w, host.NewHistoryEntries(entries))
}

// POST /v1/fund
func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return
	}

	rcpt, err := s.runtime.Fund(r.Context(), req.To, req.Lamports)
	if err != nil {
		status, code := submitError(err)
		writeError(w, status, code, err.Error(), nil)
		return
	}
	writeData(w, rcpt)
}
