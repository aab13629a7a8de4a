package host

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/escrow/internal/escrow"
	"github.com/roach88/escrow/internal/ledger"
	"github.com/roach88/escrow/internal/ledger/memory"
	"github.com/roach88/escrow/internal/pubkey"
	"github.com/roach88/escrow/internal/store"
)

var (
	alice = pubkey.FromSeed("alice")
	bob   = pubkey.FromSeed("bob")
	carol = pubkey.FromSeed("carol")
)

type counterNonces struct {
	mu sync.Mutex
	n  int
}

func (c *counterNonces) Generate() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return fmt.Sprintf("nonce-%04d", c.n)
}

type runtimeFixture struct {
	t  *testing.T
	rt *Runtime
}

func newRuntime(t *testing.T, l ledger.Ledger, opts ...escrow.Option) *runtimeFixture {
	t.Helper()
	program := escrow.NewProgram(append([]escrow.Option{escrow.WithRent(ledger.Rent{})}, opts...)...)
	rt, err := NewRuntime(context.Background(), l, program, WithNonceGenerator(&counterNonces{}))
	require.NoError(t, err)
	return &runtimeFixture{t: t, rt: rt}
}

func (f *runtimeFixture) submit(kp *pubkey.Keypair, ins Instruction) (Receipt, error) {
	f.t.Helper()
	if ins.Nonce == "" {
		ins.Nonce = f.rt.NewNonce()
	}
	s, err := Sign(kp, ins)
	require.NoError(f.t, err)
	return f.rt.Submit(context.Background(), s)
}

func (f *runtimeFixture) fund(kp *pubkey.Keypair, lamports uint64) {
	f.t.Helper()
	_, err := f.rt.Fund(context.Background(), kp.Key(), lamports)
	require.NoError(f.t, err)
}

func (f *runtimeFixture) balance(k pubkey.Key) uint64 {
	f.t.Helper()
	bal, err := f.rt.Balance(context.Background(), k)
	require.NoError(f.t, err)
	return bal
}

func TestSubmit_FullLifecycle(t *testing.T) {
	f := newRuntime(t, memory.New())
	f.fund(alice, 5000)

	rcpt, err := f.submit(alice, Instruction{Op: OpInitializeJob, JobID: 1, Metadata: []byte("build image"), Amount: 1000})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rcpt.Seq)
	assert.Equal(t, "nonce-0002", rcpt.ID)
	require.NotNil(t, rcpt.Job)
	assert.Equal(t, escrow.StatusPending, rcpt.Job.Status)

	_, err = f.submit(bob, Instruction{Op: OpStartJob, JobID: 1})
	require.NoError(t, err)
	_, err = f.submit(bob, Instruction{Op: OpMarkProcessing, JobID: 1})
	require.NoError(t, err)
	rcpt, err = f.submit(alice, Instruction{Op: OpCompleteJob, JobID: 1})
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDone, rcpt.Job.Status)
	assert.Equal(t, int64(5), rcpt.Seq)

	assert.Equal(t, uint64(4000), f.balance(alice.Key()))
	assert.Equal(t, uint64(1000), f.balance(bob.Key()))

	view, err := f.rt.Job(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDone, view.Status)
	assert.Equal(t, bob.Key(), view.Worker)
	assert.Equal(t, escrow.JobAddress(1), view.Address)
	assert.Zero(t, view.Custody)
}

func TestSubmit_RejectionIsJournaled(t *testing.T) {
	f := newRuntime(t, memory.New())
	f.fund(alice, 5000)
	_, err := f.submit(alice, Instruction{Op: OpInitializeJob, JobID: 1, Amount: 100})
	require.NoError(t, err)

	rcpt, err := f.submit(carol, Instruction{Op: OpCompleteJob, JobID: 1})
	assert.ErrorIs(t, err, escrow.ErrUnauthorized)
	assert.Equal(t, "UNAUTHORIZED", rcpt.Error)
	assert.Equal(t, int64(3), rcpt.Seq)
	assert.Nil(t, rcpt.Job)

	history, err := f.rt.History(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, string(OpFund), history[0].Kind)
	assert.Equal(t, "", history[1].Error)
	assert.Equal(t, "UNAUTHORIZED", history[2].Error)
	assert.Equal(t, carol.Key(), history[2].Signer)
}

func TestSubmit_InsufficientOwnerFunds(t *testing.T) {
	f := newRuntime(t, memory.New())
	f.fund(alice, 10)

	rcpt, err := f.submit(alice, Instruction{Op: OpInitializeJob, JobID: 1, Amount: 11})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, CodeInsufficientFunds, rcpt.Error)
	assert.Equal(t, uint64(10), f.balance(alice.Key()))

	_, err = f.rt.Job(context.Background(), 1)
	assert.ErrorIs(t, err, escrow.ErrJobNotFound)
}

func TestSubmit_BadSignatureNotJournaled(t *testing.T) {
	f := newRuntime(t, memory.New())

	s, err := Sign(alice, Instruction{Op: OpStartJob, JobID: 1, Nonce: "n-1"})
	require.NoError(t, err)
	s.Signer = bob.Key()

	_, err = f.rt.Submit(context.Background(), s)
	assert.ErrorIs(t, err, ErrBadSignature)

	history, err := f.rt.History(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSubmit_DuplicateNonce(t *testing.T) {
	f := newRuntime(t, memory.New())
	f.fund(alice, 5000)

	_, err := f.submit(alice, Instruction{Op: OpInitializeJob, JobID: 1, Amount: 100, Nonce: "same"})
	require.NoError(t, err)

	// Replaying the identical signed instruction must not execute twice.
	_, err = f.submit(alice, Instruction{Op: OpInitializeJob, JobID: 2, Amount: 100, Nonce: "same"})
	assert.ErrorIs(t, err, ErrDuplicateTransaction)
	_, err = f.rt.Job(context.Background(), 2)
	assert.ErrorIs(t, err, escrow.ErrJobNotFound)

	// A reused nonce on a failing instruction is also a duplicate.
	_, err = f.submit(carol, Instruction{Op: OpCompleteJob, JobID: 1, Nonce: "same"})
	assert.ErrorIs(t, err, ErrDuplicateTransaction)
	assert.Equal(t, uint64(4900), f.balance(alice.Key()))
}

func TestSubmit_ConcurrentStartSerializes(t *testing.T) {
	f := newRuntime(t, memory.New())
	f.fund(alice, 5000)
	_, err := f.submit(alice, Instruction{Op: OpInitializeJob, JobID: 1, Amount: 100})
	require.NoError(t, err)

	workers := []*pubkey.Keypair{bob, carol, pubkey.FromSeed("dave"), pubkey.FromSeed("erin")}
	errs := make([]error, len(workers))
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w *pubkey.Keypair) {
			defer wg.Done()
			s, err := Sign(w, Instruction{Op: OpStartJob, JobID: 1, Nonce: fmt.Sprintf("start-%d", i)})
			if err != nil {
				errs[i] = err
				return
			}
			_, errs[i] = f.rt.Submit(context.Background(), s)
		}(i, w)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, escrow.ErrInvalidState)
	}
	assert.Equal(t, 1, ok)

	history, err := f.rt.History(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, history, 2+len(workers))
	for i := 1; i < len(history); i++ {
		assert.Less(t, history[i-1].Seq, history[i].Seq)
	}
}

func TestHistory_FiltersByJob(t *testing.T) {
	f := newRuntime(t, memory.New())
	f.fund(alice, 5000)
	_, err := f.submit(alice, Instruction{Op: OpInitializeJob, JobID: 1, Amount: 100})
	require.NoError(t, err)
	_, err = f.submit(alice, Instruction{Op: OpInitializeJob, JobID: 2, Amount: 100})
	require.NoError(t, err)
	_, err = f.submit(bob, Instruction{Op: OpStartJob, JobID: 2})
	require.NoError(t, err)

	id := uint64(2)
	history, err := f.rt.History(context.Background(), &id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, string(OpInitializeJob), history[0].Kind)
	assert.Equal(t, string(OpStartJob), history[1].Kind)
}

func TestRuntime_SQLiteResumesClock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "escrow.db")

	st, err := store.Open(path)
	require.NoError(t, err)
	f := newRuntime(t, st)
	f.fund(alice, 5000)
	_, err = f.submit(alice, Instruction{Op: OpInitializeJob, JobID: 1, Amount: 100, Nonce: "first"})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	f = newRuntime(t, st)
	rcpt, err := f.submit(bob, Instruction{Op: OpStartJob, JobID: 1, Nonce: "second"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rcpt.Seq)

	id := uint64(1)
	history, err := f.rt.History(context.Background(), &id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "first", history[0].ID)
	assert.Equal(t, "second", history[1].ID)
}
