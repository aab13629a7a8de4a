package host

import (
	"bytes"
	"context"
	"fmt"

	"github.com/roach88/escrow/internal/escrow"
	"github.com/roach88/escrow/internal/ledger"
	"github.com/roach88/escrow/internal/ledger/memory"
	"github.com/roach88/escrow/internal/pubkey"
)

// Outcome codes reported by Replay for entries it cannot re-execute.
const (
	OutcomeBadSignature = "BAD_SIGNATURE"
	OutcomeBadPayload   = "BAD_PAYLOAD"
)

// Mismatch is a journal entry whose re-execution disagreed with the
// recorded outcome. An empty outcome means committed.
type Mismatch struct {
	Seq      int64  `json:"seq"`
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Recorded string `json:"recorded"`
	Replayed string `json:"replayed"`
}

// AccountDiff is an address whose final state differs after replay.
type AccountDiff struct {
	Address  pubkey.Key `json:"address"`
	Recorded uint64     `json:"recorded_lamports"`
	Replayed uint64     `json:"replayed_lamports"`
	Data     bool       `json:"data_differs"`
}

// ReplayReport summarizes a replay.
type ReplayReport struct {
	Entries      int           `json:"entries"`
	Committed    int           `json:"committed"`
	Rejected     int           `json:"rejected"`
	Mismatches   []Mismatch    `json:"mismatches"`
	AccountDiffs []AccountDiff `json:"account_diffs"`
}

// OK reports whether replay reproduced the source exactly.
func (r ReplayReport) OK() bool {
	return len(r.Mismatches) == 0 && len(r.AccountDiffs) == 0
}

// Replay re-executes every journal entry of src, in seq order, against a
// fresh in-memory ledger running program. Each outcome is compared with
// the recorded one, then the final accounts are compared with src.
// Divergence is reported, not returned as an error.
func Replay(ctx context.Context, src ledger.Ledger, program *escrow.Program, opts ...Option) (ReplayReport, error) {
	report := ReplayReport{Mismatches: []Mismatch{}, AccountDiffs: []AccountDiff{}}

	entries, err := src.Entries(ctx, 0)
	if err != nil {
		return report, fmt.Errorf("replay: read journal: %w", err)
	}

	dst := memory.New()
	defer dst.Close()

	rt, err := NewRuntime(ctx, dst, program, append(opts, WithClock(NewClock()))...)
	if err != nil {
		return report, fmt.Errorf("replay: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Entries++
		if e.Error == "" {
			report.Committed++
		} else {
			report.Rejected++
		}

		got, err := rt.replayEntry(ctx, e)
		if err != nil {
			return report, fmt.Errorf("replay seq %d: %w", e.Seq, err)
		}
		if got != e.Error {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Seq: e.Seq, ID: e.ID, Kind: e.Kind, Recorded: e.Error, Replayed: got,
			})
			rt.logger.Warn("replay mismatch", "seq", e.Seq, "kind", e.Kind, "recorded", e.Error, "replayed", got)
		}
	}

	diffs, err := diffAccounts(ctx, src, dst)
	if err != nil {
		return report, fmt.Errorf("replay: %w", err)
	}
	report.AccountDiffs = diffs
	return report, nil
}

// replayEntry re-executes e with its recorded seq and returns the outcome
// code, "" when committed.
func (r *Runtime) replayEntry(ctx context.Context, e ledger.Entry) (string, error) {
	seq := func() int64 { return e.Seq }

	if Op(e.Kind) == OpFund {
		p, err := decodeFund(e.Payload)
		if err != nil {
			return OutcomeBadPayload, nil
		}
		_, err = r.fund(ctx, seq, e.ID, p.To, p.Lamports)
		if code := rejectionCode(err); code != "" {
			return code, nil
		}
		return "", err
	}

	s, err := DecodeSigned(e.Payload, e.Signature)
	if err != nil {
		return OutcomeBadPayload, nil
	}
	payload, err := s.Verify()
	if err != nil {
		return OutcomeBadSignature, nil
	}
	if !bytes.Equal(payload, e.Payload) {
		return OutcomeBadPayload, nil
	}

	rcpt, err := r.execute(ctx, seq, s, payload)
	if rcpt.Error != "" {
		return rcpt.Error, nil
	}
	return "", err
}

func diffAccounts(ctx context.Context, a, b ledger.Ledger) ([]AccountDiff, error) {
	recorded, err := a.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	replayed, err := b.Accounts(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[pubkey.Key]ledger.Account, len(replayed))
	for _, acct := range replayed {
		index[acct.Address] = acct
	}

	diffs := []AccountDiff{}
	for _, want := range recorded {
		got, ok := index[want.Address]
		delete(index, want.Address)
		if ok && got.Lamports == want.Lamports && got.Space == want.Space && bytes.Equal(got.Data, want.Data) {
			continue
		}
		diffs = append(diffs, AccountDiff{
			Address:  want.Address,
			Recorded: want.Lamports,
			Replayed: got.Lamports,
			Data:     !bytes.Equal(got.Data, want.Data),
		})
	}
	for _, acct := range replayed {
		if _, extra := index[acct.Address]; extra {
			diffs = append(diffs, AccountDiff{Address: acct.Address, Replayed: acct.Lamports, Data: len(acct.Data) > 0})
		}
	}
	return diffs, nil
}
