package host

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/escrow/internal/escrow"
	"github.com/roach88/escrow/internal/ledger"
	"github.com/roach88/escrow/internal/ledger/memory"
	"github.com/roach88/escrow/internal/pubkey"
	"github.com/roach88/escrow/internal/store"
)

func runWorkload(t *testing.T, f *runtimeFixture) {
	t.Helper()
	f.fund(alice, 10_000)

	steps := []struct {
		as      string
		ins     Instruction
		wantErr bool
	}{
		{"alice", Instruction{Op: OpInitializeJob, JobID: 1, Metadata: []byte("build image"), Amount: 1000}, false},
		{"bob", Instruction{Op: OpStartJob, JobID: 1}, false},
		{"carol", Instruction{Op: OpMarkProcessing, JobID: 1}, true},
		{"bob", Instruction{Op: OpMarkProcessing, JobID: 1}, false},
		{"alice", Instruction{Op: OpCompleteJob, JobID: 1}, false},
		{"alice", Instruction{Op: OpCompleteJob, JobID: 1}, true},
		{"alice", Instruction{Op: OpInitializeJob, JobID: 2, Amount: 500}, false},
		{"alice", Instruction{Op: OpRefundJob, JobID: 2}, false},
		{"alice", Instruction{Op: OpRefundJob, JobID: 2}, true},
	}
	parties := map[string]*pubkey.Keypair{"alice": alice, "bob": bob, "carol": carol}
	for _, step := range steps {
		_, err := f.submit(parties[step.as], step.ins)
		if step.wantErr {
			require.Error(t, err)
		} else {
			require.NoError(t, err)
		}
	}
}

func TestReplay_ReproducesMemoryLedger(t *testing.T) {
	l := memory.New()
	f := newRuntime(t, l)
	runWorkload(t, f)

	report, err := Replay(context.Background(), l, f.rt.Program())
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report)
	assert.Equal(t, 10, report.Entries)
	assert.Equal(t, 7, report.Committed)
	assert.Equal(t, 3, report.Rejected)
}

func TestReplay_ReproducesSQLiteLedger(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "escrow.db"))
	require.NoError(t, err)
	defer st.Close()

	f := newRuntime(t, st, escrow.WithCompletePolicy(escrow.PolicySweep))
	runWorkload(t, f)

	report, err := Replay(context.Background(), st, f.rt.Program())
	require.NoError(t, err)
	assert.True(t, report.OK(), "%+v", report)
}

func TestReplay_DetectsPolicyDivergence(t *testing.T) {
	l := memory.New()
	f := newRuntime(t, l, escrow.WithCompletePolicy(escrow.PolicySweep))
	runWorkload(t, f)

	// Under the transfer policy job 1 survives completion, so the second
	// complete is rejected with INVALID_STATE instead of JOB_NOT_FOUND.
	transfer := escrow.NewProgram(escrow.WithRent(ledger.Rent{}), escrow.WithCompletePolicy(escrow.PolicyTransfer))
	report, err := Replay(context.Background(), l, transfer)
	require.NoError(t, err)
	assert.False(t, report.OK())
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, "JOB_NOT_FOUND", report.Mismatches[0].Recorded)
	assert.Equal(t, "INVALID_STATE", report.Mismatches[0].Replayed)
	assert.NotEmpty(t, report.AccountDiffs)
}

func TestReplay_DetectsForgedEntry(t *testing.T) {
	l := memory.New()
	f := newRuntime(t, l)
	f.fund(alice, 1000)
	_, err := f.submit(alice, Instruction{Op: OpInitializeJob, JobID: 1, Amount: 100})
	require.NoError(t, err)

	// An entry written straight into the log, bypassing signature checks.
	require.NoError(t, l.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.Append(ledger.Entry{
			Seq:     3,
			ID:      "forged",
			Kind:    string(OpCompleteJob),
			Payload: []byte(`{"amount":0,"job_id":1,"metadata":"","nonce":"forged","op":"complete_job","signer":"` + alice.Key().String() + `"}`),
		})
	}))

	report, err := Replay(context.Background(), l, f.rt.Program())
	require.NoError(t, err)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, OutcomeBadSignature, report.Mismatches[0].Replayed)
	assert.Empty(t, report.AccountDiffs)
}
