package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/escrow/internal/canonical"
	"github.com/roach88/escrow/internal/escrow"
	"github.com/roach88/escrow/internal/ledger"
	"github.com/roach88/escrow/internal/pubkey"
)

// OpFund is the journal kind of a faucet credit. It is a host operation,
// not an escrow one, and cannot be submitted as an instruction.
const OpFund Op = "fund"

// Rejection codes for ledger failures that reject an instruction without an
// escrow error code.
const (
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"
	CodeOverflow          = "ARITHMETIC_OVERFLOW"
)

// Receipt describes a journaled instruction. Error holds the rejection code
// when the operation failed; Job is the record after a committed operation.
type Receipt struct {
	Seq    int64       `json:"seq"`
	ID     string      `json:"id"`
	Op     Op          `json:"op"`
	Signer pubkey.Key  `json:"signer"`
	JobID  uint64      `json:"job_id"`
	Error  string      `json:"error,omitempty"`
	Job    *escrow.Job `json:"job,omitempty"`
}

// JobView is a job record together with the lamports its address holds.
type JobView struct {
	escrow.Job
	Address pubkey.Key `json:"address"`
	Custody uint64     `json:"custody"`
}

// Runtime submits instructions to the escrow program.
type Runtime struct {
	ledger  ledger.Ledger
	program *escrow.Program
	clock   SeqClock
	nonces  NonceGenerator
	logger  *slog.Logger
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock overrides the sequence clock. By default the runtime resumes
// from the ledger's last journaled seq.
func WithClock(c SeqClock) Option {
	return func(r *Runtime) { r.clock = c }
}

// WithNonceGenerator overrides the UUIDv7 nonce generator.
func WithNonceGenerator(g NonceGenerator) Option {
	return func(r *Runtime) { r.nonces = g }
}

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// NewRuntime creates a runtime over l executing program.
func NewRuntime(ctx context.Context, l ledger.Ledger, program *escrow.Program, opts ...Option) (*Runtime, error) {
	r := &Runtime{
		ledger:  l,
		program: program,
		nonces:  UUIDv7Generator{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.clock == nil {
		var last int64
		err := l.View(ctx, func(rd ledger.Reader) error {
			var err error
			last, err = rd.LastSeq()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("resume clock: %w", err)
		}
		r.clock = NewClockAt(last)
	}
	return r, nil
}

// Ledger returns the underlying ledger.
func (r *Runtime) Ledger() ledger.Ledger {
	return r.ledger
}

// Program returns the executed program.
func (r *Runtime) Program() *escrow.Program {
	return r.program
}

// NewNonce returns a fresh nonce for an instruction.
func (r *Runtime) NewNonce() string {
	return r.nonces.Generate()
}

// Submit verifies and executes a signed instruction.
//
// Instructions with a bad signature, unknown op or reused nonce are not
// journaled. A rejected operation is journaled with its code and the
// receipt is returned alongside the error.
func (r *Runtime) Submit(ctx context.Context, s SignedInstruction) (Receipt, error) {
	payload, err := s.Verify()
	if err != nil {
		r.logger.Debug("instruction dropped", "op", string(s.Op), "signer", s.Signer.Short(), "error", err)
		return Receipt{}, err
	}
	return r.execute(ctx, r.clock.Next, s, payload)
}

func (r *Runtime) execute(ctx context.Context, nextSeq func() int64, s SignedInstruction, payload []byte) (Receipt, error) {
	rcpt := Receipt{ID: s.Nonce, Op: s.Op, Signer: s.Signer, JobID: s.JobID}
	entry := ledger.Entry{
		ID:        s.Nonce,
		Kind:      string(s.Op),
		Signer:    s.Signer,
		Subject:   escrow.JobAddress(s.JobID),
		Payload:   payload,
		Signature: s.Signature,
	}

	var job escrow.Job
	err := r.ledger.Update(ctx, func(tx ledger.Tx) error {
		var err error
		job, err = r.dispatch(tx, s)
		if err != nil {
			return err
		}
		entry.Seq = nextSeq()
		return tx.Append(entry)
	})
	if err == nil {
		rcpt.Seq = entry.Seq
		rcpt.Job = &job
		r.logger.Info("instruction committed",
			"seq", rcpt.Seq, "op", string(s.Op), "job_id", s.JobID, "status", job.Status.String())
		return rcpt, nil
	}
	if errors.Is(err, ledger.ErrDuplicateEntry) {
		return rcpt, fmt.Errorf("%w: nonce %s", ErrDuplicateTransaction, s.Nonce)
	}

	code := rejectionCode(err)
	if code == "" {
		return rcpt, err
	}

	entry.Error = code
	jerr := r.ledger.Update(ctx, func(tx ledger.Tx) error {
		entry.Seq = nextSeq()
		return tx.Append(entry)
	})
	if jerr != nil {
		if errors.Is(jerr, ledger.ErrDuplicateEntry) {
			return rcpt, fmt.Errorf("%w: nonce %s", ErrDuplicateTransaction, s.Nonce)
		}
		return rcpt, errors.Join(err, fmt.Errorf("journal rejection: %w", jerr))
	}

	rcpt.Seq = entry.Seq
	rcpt.Error = code
	r.logger.Debug("instruction rejected",
		"seq", rcpt.Seq, "op", string(s.Op), "job_id", s.JobID, "code", code, "error", err)
	return rcpt, err
}

func (r *Runtime) dispatch(tx ledger.Tx, s SignedInstruction) (escrow.Job, error) {
	switch s.Op {
	case OpInitializeJob:
		return r.program.Initialize(tx, s.Signer, s.JobID, s.Metadata, s.Amount)
	case OpStartJob:
		return r.program.Start(tx, s.Signer, s.JobID)
	case OpMarkProcessing:
		return r.program.MarkProcessing(tx, s.Signer, s.JobID)
	case OpCompleteJob:
		return r.program.Complete(tx, s.Signer, s.JobID)
	case OpRefundJob:
		return r.program.Refund(tx, s.Signer, s.JobID)
	default:
		return escrow.Job{}, fmt.Errorf("%w: %q", ErrUnknownOp, s.Op)
	}
}

// rejectionCode returns the journaled code of an operation failure, or ""
// for failures of the host itself.
func rejectionCode(err error) string {
	if code := escrow.CodeOf(err); code != "" {
		return string(code)
	}
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, ledger.ErrOverflow):
		return CodeOverflow
	}
	return ""
}

type fundPayload struct {
	To       pubkey.Key `json:"to"`
	Lamports uint64     `json:"lamports"`
}

// Fund credits lamports to an identity from the host faucet.
func (r *Runtime) Fund(ctx context.Context, to pubkey.Key, lamports uint64) (Receipt, error) {
	return r.fund(ctx, r.clock.Next, r.nonces.Generate(), to, lamports)
}

func (r *Runtime) fund(ctx context.Context, nextSeq func() int64, id string, to pubkey.Key, lamports uint64) (Receipt, error) {
	payload, err := canonical.Marshal(map[string]any{
		"to":       to.String(),
		"lamports": lamports,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("fund: %w", err)
	}

	entry := ledger.Entry{ID: id, Kind: string(OpFund), Subject: to, Payload: payload}
	err = r.ledger.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.Credit(to, lamports); err != nil {
			return err
		}
		entry.Seq = nextSeq()
		return tx.Append(entry)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			return Receipt{}, fmt.Errorf("%w: nonce %s", ErrDuplicateTransaction, id)
		}
		return Receipt{}, fmt.Errorf("fund %s: %w", to.Short(), err)
	}

	r.logger.Info("account funded", "seq", entry.Seq, "to", to.Short(), "lamports", lamports)
	return Receipt{Seq: entry.Seq, ID: id, Op: OpFund}, nil
}

func decodeFund(payload []byte) (fundPayload, error) {
	var p fundPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fundPayload{}, fmt.Errorf("decode fund: %w", err)
	}
	return p, nil
}

// Job returns job jobID and the lamports held at its address.
func (r *Runtime) Job(ctx context.Context, jobID uint64) (JobView, error) {
	var view JobView
	err := r.ledger.View(ctx, func(rd ledger.Reader) error {
		job, err := r.program.Load(rd, jobID)
		if err != nil {
			return err
		}
		addr := escrow.JobAddress(jobID)
		custody, err := rd.Balance(addr)
		if err != nil {
			return err
		}
		view = JobView{Job: job, Address: addr, Custody: custody}
		return nil
	})
	return view, err
}

// Balance returns the lamports held by key.
func (r *Runtime) Balance(ctx context.Context, key pubkey.Key) (uint64, error) {
	var bal uint64
	err := r.ledger.View(ctx, func(rd ledger.Reader) error {
		var err error
		bal, err = rd.Balance(key)
		return err
	})
	return bal, err
}

// subjectLister is implemented by ledgers with an index on entry subjects.
type subjectLister interface {
	SubjectEntries(ctx context.Context, subject pubkey.Key) ([]ledger.Entry, error)
}

// History returns the journal in seq order. With a non-nil jobID only the
// entries of that job are returned.
func (r *Runtime) History(ctx context.Context, jobID *uint64) ([]ledger.Entry, error) {
	if jobID == nil {
		return r.ledger.Entries(ctx, 0)
	}

	subject := escrow.JobAddress(*jobID)
	if sl, ok := r.ledger.(subjectLister); ok {
		return sl.SubjectEntries(ctx, subject)
	}

	all, err := r.ledger.Entries(ctx, 0)
	if err != nil {
		return nil, err
	}
	var out []ledger.Entry
	for _, e := range all {
		if e.Subject == subject {
			out = append(out, e)
		}
	}
	return out, nil
}

// HistoryEntry is a journal entry with its payload inlined as JSON.
type HistoryEntry struct {
	Seq     int64           `json:"seq"`
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Signer  pubkey.Key      `json:"signer"`
	Subject pubkey.Key      `json:"subject"`
	Payload json.RawMessage `json:"payload"`
	Error   string          `json:"error,omitempty"`
}

// NewHistoryEntries converts journal entries for display. Every journaled
// payload is canonical JSON.
func NewHistoryEntries(entries []ledger.Entry) []HistoryEntry {
	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntry{
			Seq:     e.Seq,
			ID:      e.ID,
			Kind:    e.Kind,
			Signer:  e.Signer,
			Subject: e.Subject,
			Payload: json.RawMessage(e.Payload),
			Error:   e.Error,
		}
	}
	return out
}
