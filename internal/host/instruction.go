package host

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/roach88/escrow/internal/canonical"
	"github.com/roach88/escrow/internal/pubkey"
)

// DomainInstruction separates instruction signatures from any other use of
// the same keys.
const DomainInstruction = "escrow/instruction/v1"

// Op names an escrow operation. The values are the journal entry kinds.
type Op string

const (
	OpInitializeJob  Op = "initialize_job"
	OpStartJob       Op = "start_job"
	OpMarkProcessing Op = "mark_processing"
	OpCompleteJob    Op = "complete_job"
	OpRefundJob      Op = "refund_job"
)

// Ops lists every operation in lifecycle order.
var Ops = []Op{OpInitializeJob, OpStartJob, OpMarkProcessing, OpCompleteJob, OpRefundJob}

// Valid reports whether o is a known operation.
func (o Op) Valid() bool {
	for _, op := range Ops {
		if o == op {
			return true
		}
	}
	return false
}

// Instruction is a request to run one escrow operation. Metadata and Amount
// are only meaningful for OpInitializeJob.
type Instruction struct {
	Op       Op
	JobID    uint64
	Metadata []byte
	Amount   uint64
	Nonce    string
}

// SignedInstruction is an instruction plus the identity that signed it.
type SignedInstruction struct {
	Instruction
	Signer    pubkey.Key
	Signature []byte
}

// Payload returns the canonical JSON of the instruction as signed by signer.
// Metadata is hex encoded so its bytes survive string normalization.
func (ins Instruction) Payload(signer pubkey.Key) ([]byte, error) {
	if !ins.Op.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, ins.Op)
	}
	if ins.Nonce == "" {
		return nil, ErrMissingNonce
	}
	return canonical.Marshal(map[string]any{
		"op":       string(ins.Op),
		"job_id":   ins.JobID,
		"metadata": hex.EncodeToString(ins.Metadata),
		"amount":   ins.Amount,
		"nonce":    ins.Nonce,
		"signer":   signer.String(),
	})
}

// SigningMessage returns the bytes covered by an instruction signature:
// DomainInstruction, a zero byte, then the payload.
func SigningMessage(payload []byte) []byte {
	msg := make([]byte, 0, len(DomainInstruction)+1+len(payload))
	msg = append(msg, DomainInstruction...)
	msg = append(msg, 0x00)
	return append(msg, payload...)
}

// Sign signs ins with kp.
func Sign(kp *pubkey.Keypair, ins Instruction) (SignedInstruction, error) {
	payload, err := ins.Payload(kp.Key())
	if err != nil {
		return SignedInstruction{}, fmt.Errorf("sign %s: %w", ins.Op, err)
	}
	return SignedInstruction{
		Instruction: ins,
		Signer:      kp.Key(),
		Signature:   kp.Sign(SigningMessage(payload)),
	}, nil
}

// Verify checks the signature and returns the signed payload.
func (s SignedInstruction) Verify() ([]byte, error) {
	payload, err := s.Payload(s.Signer)
	if err != nil {
		return nil, err
	}
	if !pubkey.Verify(s.Signer, SigningMessage(payload), s.Signature) {
		return nil, fmt.Errorf("%w: %s by %s", ErrBadSignature, s.Op, s.Signer.Short())
	}
	return payload, nil
}

type wireInstruction struct {
	Op       Op         `json:"op"`
	JobID    uint64     `json:"job_id"`
	Metadata string     `json:"metadata"`
	Amount   uint64     `json:"amount"`
	Nonce    string     `json:"nonce"`
	Signer   pubkey.Key `json:"signer"`
}

// DecodeSigned rebuilds a signed instruction from a journaled payload and
// signature. The result still has to pass Verify.
func DecodeSigned(payload, signature []byte) (SignedInstruction, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()

	var w wireInstruction
	if err := dec.Decode(&w); err != nil {
		return SignedInstruction{}, fmt.Errorf("decode instruction: %w", err)
	}
	metadata, err := hex.DecodeString(w.Metadata)
	if err != nil {
		return SignedInstruction{}, fmt.Errorf("decode instruction metadata: %w", err)
	}

	return SignedInstruction{
		Instruction: Instruction{
			Op:       w.Op,
			JobID:    w.JobID,
			Metadata: metadata,
			Amount:   w.Amount,
			Nonce:    w.Nonce,
		},
		Signer:    w.Signer,
		Signature: signature,
	}, nil
}
