package escrow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/escrow/internal/ledger"
	"github.com/roach88/escrow/internal/ledger/memory"
	"github.com/roach88/escrow/internal/pubkey"
)

var (
	owner    = pubkey.FromSeed("owner").Key()
	worker   = pubkey.FromSeed("worker").Key()
	stranger = pubkey.FromSeed("stranger").Key()
)

// fixture is a Program over an in-memory ledger with funded parties.
type fixture struct {
	t       *testing.T
	ledger  *memory.Ledger
	program *Program
}

// newFixture uses zero rent unless opts override it, so balances in tests
// move by exactly the job amount.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		ledger:  memory.New(),
		program: NewProgram(append([]Option{WithRent(ledger.Rent{})}, opts...)...),
	}
	f.fund(owner, 1_000_000)
	return f
}

func (f *fixture) fund(k pubkey.Key, lamports uint64) {
	f.t.Helper()
	require.NoError(f.t, f.ledger.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.Credit(k, lamports)
	}))
}

func (f *fixture) balance(k pubkey.Key) uint64 {
	f.t.Helper()
	var bal uint64
	require.NoError(f.t, f.ledger.View(context.Background(), func(r ledger.Reader) error {
		var err error
		bal, err = r.Balance(k)
		return err
	}))
	return bal
}

func (f *fixture) custody(jobID uint64) uint64 {
	f.t.Helper()
	return f.balance(JobAddress(jobID))
}

// exec runs one operation in its own host transaction.
func (f *fixture) exec(fn func(tx ledger.Tx) (Job, error)) (Job, error) {
	var job Job
	err := f.ledger.Update(context.Background(), func(tx ledger.Tx) error {
		var err error
		job, err = fn(tx)
		return err
	})
	return job, err
}

func (f *fixture) initialize(caller pubkey.Key, jobID uint64, metadata string, amount uint64) (Job, error) {
	return f.exec(func(tx ledger.Tx) (Job, error) {
		return f.program.Initialize(tx, caller, jobID, []byte(metadata), amount)
	})
}

func (f *fixture) start(caller pubkey.Key, jobID uint64) (Job, error) {
	return f.exec(func(tx ledger.Tx) (Job, error) { return f.program.Start(tx, caller, jobID) })
}

func (f *fixture) markProcessing(caller pubkey.Key, jobID uint64) (Job, error) {
	return f.exec(func(tx ledger.Tx) (Job, error) { return f.program.MarkProcessing(tx, caller, jobID) })
}

func (f *fixture) complete(caller pubkey.Key, jobID uint64) (Job, error) {
	return f.exec(func(tx ledger.Tx) (Job, error) { return f.program.Complete(tx, caller, jobID) })
}

func (f *fixture) refund(caller pubkey.Key, jobID uint64) (Job, error) {
	return f.exec(func(tx ledger.Tx) (Job, error) { return f.program.Refund(tx, caller, jobID) })
}

// job loads the committed record.
func (f *fixture) job(jobID uint64) Job {
	f.t.Helper()
	var job Job
	require.NoError(f.t, f.ledger.View(context.Background(), func(r ledger.Reader) error {
		var err error
		job, err = f.program.Load(r, jobID)
		return err
	}))
	return job
}

func (f *fixture) mustInitialize(jobID uint64, metadata string, amount uint64) Job {
	f.t.Helper()
	job, err := f.initialize(owner, jobID, metadata, amount)
	require.NoError(f.t, err)
	return job
}
