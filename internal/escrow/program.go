package escrow

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/escrow/internal/ledger"
	"github.com/roach88/escrow/internal/pubkey"
)

// CompletePolicy selects how Complete releases custody.
type CompletePolicy string

const (
	// PolicyTransfer moves exactly Amount to the worker and keeps the record,
	// marked Done. Any custody above Amount (the rent deposit, or lamports
	// sent to the address by third parties) stays with the record.
	PolicyTransfer CompletePolicy = "transfer"

	// PolicySweep marks the job Done, then closes the record and pays its
	// entire balance, escrow plus deposit, to the worker. Later operations on
	// the job id see CodeJobNotFound.
	PolicySweep CompletePolicy = "sweep"
)

// Valid reports whether p is a known policy.
func (p CompletePolicy) Valid() bool {
	return p == PolicyTransfer || p == PolicySweep
}

// Program executes escrow operations against a host transaction.
// It holds no job state itself; every call reads and writes the record
// through the ledger.Tx it is given.
type Program struct {
	rent   ledger.Rent
	policy CompletePolicy
	logger *slog.Logger
}

// Option configures a Program.
type Option func(*Program)

// WithRent sets the storage rent used to price the record deposit.
func WithRent(r ledger.Rent) Option {
	return func(p *Program) { p.rent = r }
}

// WithCompletePolicy selects the Complete closing policy.
func WithCompletePolicy(policy CompletePolicy) Option {
	return func(p *Program) { p.policy = policy }
}

// WithLogger sets the logger. Defaults to discarding.
func WithLogger(l *slog.Logger) Option {
	return func(p *Program) { p.logger = l }
}

// NewProgram returns a Program using ledger.DefaultRent and PolicyTransfer
// unless overridden.
func NewProgram(opts ...Option) *Program {
	p := &Program{
		rent:   ledger.DefaultRent,
		policy: PolicyTransfer,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the configured Complete policy.
func (p *Program) Policy() CompletePolicy {
	return p.policy
}

// Deposit returns the rent deposit the owner pays for a job record.
func (p *Program) Deposit() (uint64, error) {
	return p.rent.MinimumBalance(AccountSpace)
}

// Initialize creates job jobID owned by caller and moves amount plus the
// record deposit from the caller into custody.
func (p *Program) Initialize(tx ledger.Tx, caller pubkey.Key, jobID uint64, metadata []byte, amount uint64) (Job, error) {
	const op = "initialize_job"

	if len(metadata) > MaxMetadataLen {
		return Job{}, newError(CodeMetadataTooLong, op, jobID,
			fmt.Sprintf("%d bytes, max %d", len(metadata), MaxMetadataLen))
	}

	deposit, err := p.Deposit()
	if err != nil {
		return Job{}, &Error{Code: CodeArithmeticOverflow, Op: op, JobID: jobID, Err: err}
	}
	total, err := ledger.AddLamports(amount, deposit)
	if err != nil {
		return Job{}, &Error{Code: CodeArithmeticOverflow, Op: op, JobID: jobID, Err: err}
	}

	addr := JobAddress(jobID)
	if err := tx.Create(addr, caller, AccountSpace, total); err != nil {
		if errors.Is(err, ledger.ErrAccountExists) {
			return Job{}, &Error{Code: CodeJobExists, Op: op, JobID: jobID, Err: err}
		}
		return Job{}, fmt.Errorf("%s: job %d: %w", op, jobID, err)
	}

	job := Job{
		JobID:    jobID,
		Metadata: append([]byte{}, metadata...),
		Owner:    caller,
		Worker:   pubkey.Zero,
		Amount:   amount,
		Status:   StatusPending,
	}
	if err := p.save(tx, job); err != nil {
		return Job{}, fmt.Errorf("%s: %w", op, err)
	}

	p.logger.Info("job initialized",
		"job_id", jobID,
		"owner", caller.Short(),
		"amount", amount,
		"deposit", deposit,
	)
	return job, nil
}

// Start assigns caller as the worker of a Pending job.
func (p *Program) Start(tx ledger.Tx, caller pubkey.Key, jobID uint64) (Job, error) {
	const op = "start_job"

	job, err := p.Load(tx, jobID)
	if err != nil {
		return Job{}, withOp(err, op, jobID)
	}
	if job.Status != StatusPending {
		return Job{}, newError(CodeInvalidState, op, jobID, "status is "+job.Status.String())
	}

	job.Worker = caller
	job.Status = StatusStarted
	if err := p.save(tx, job); err != nil {
		return Job{}, fmt.Errorf("%s: %w", op, err)
	}

	p.logger.Info("job started", "job_id", jobID, "worker", caller.Short())
	return job, nil
}

// MarkProcessing moves a Started job to Processing. Only the worker may.
func (p *Program) MarkProcessing(tx ledger.Tx, caller pubkey.Key, jobID uint64) (Job, error) {
	const op = "mark_processing"

	job, err := p.Load(tx, jobID)
	if err != nil {
		return Job{}, withOp(err, op, jobID)
	}
	if caller != job.Worker {
		return Job{}, newError(CodeUnauthorized, op, jobID, "caller is not the worker")
	}
	if job.Status != StatusStarted {
		return Job{}, newError(CodeInvalidState, op, jobID, "status is "+job.Status.String())
	}

	job.Status = StatusProcessing
	if err := p.save(tx, job); err != nil {
		return Job{}, fmt.Errorf("%s: %w", op, err)
	}

	p.logger.Info("job processing", "job_id", jobID)
	return job, nil
}

// Complete releases the escrow to the worker and marks the job Done.
// Only the owner may, from any status but Done.
func (p *Program) Complete(tx ledger.Tx, caller pubkey.Key, jobID uint64) (Job, error) {
	const op = "complete_job"

	job, custody, err := p.ownerCheck(tx, caller, jobID, op)
	if err != nil {
		return Job{}, err
	}
	if !job.HasWorker() {
		p.logger.Warn("completing job without a worker; payment goes to the none identity",
			"job_id", jobID, "status", job.Status.String())
	}

	job.Status = StatusDone
	switch p.policy {
	case PolicySweep:
		swept, err := tx.Close(JobAddress(jobID), job.Worker)
		if err != nil {
			return Job{}, fmt.Errorf("%s: job %d: %w", op, jobID, err)
		}
		p.logger.Info("job completed", "job_id", jobID, "policy", string(p.policy), "paid", swept)
	default:
		if err := tx.Transfer(JobAddress(jobID), job.Worker, job.Amount); err != nil {
			return Job{}, fmt.Errorf("%s: job %d: %w", op, jobID, err)
		}
		if err := p.save(tx, job); err != nil {
			return Job{}, fmt.Errorf("%s: %w", op, err)
		}
		p.logger.Info("job completed", "job_id", jobID, "policy", string(p.policy),
			"paid", job.Amount, "retained", custody-job.Amount)
	}
	return job, nil
}

// Refund returns the escrow to the owner. The status is left unchanged, so
// a refunded job may be refunded or completed again while custody still
// covers Amount.
func (p *Program) Refund(tx ledger.Tx, caller pubkey.Key, jobID uint64) (Job, error) {
	const op = "refund_job"

	job, _, err := p.ownerCheck(tx, caller, jobID, op)
	if err != nil {
		return Job{}, err
	}

	if err := tx.Transfer(JobAddress(jobID), job.Owner, job.Amount); err != nil {
		return Job{}, fmt.Errorf("%s: job %d: %w", op, jobID, err)
	}

	p.logger.Info("job refunded", "job_id", jobID, "amount", job.Amount, "status", job.Status.String())
	return job, nil
}

// ownerCheck loads the job and enforces the shared Complete/Refund
// preconditions in order: owner, not Done, custody covers Amount.
func (p *Program) ownerCheck(tx ledger.Tx, caller pubkey.Key, jobID uint64, op string) (Job, uint64, error) {
	job, err := p.Load(tx, jobID)
	if err != nil {
		return Job{}, 0, withOp(err, op, jobID)
	}
	if caller != job.Owner {
		return Job{}, 0, newError(CodeUnauthorized, op, jobID, "caller is not the owner")
	}
	if job.Status == StatusDone {
		return Job{}, 0, newError(CodeInvalidState, op, jobID, "job is already Done")
	}

	custody, err := tx.Balance(JobAddress(jobID))
	if err != nil {
		return Job{}, 0, fmt.Errorf("%s: job %d: %w", op, jobID, err)
	}
	if custody < job.Amount {
		return Job{}, 0, newError(CodeInsufficientEscrow, op, jobID,
			fmt.Sprintf("custody %d < amount %d", custody, job.Amount))
	}
	return job, custody, nil
}

// Load reads and decodes job jobID.
func (p *Program) Load(r ledger.Reader, jobID uint64) (Job, error) {
	acct, err := r.Get(JobAddress(jobID))
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return Job{}, &Error{Code: CodeJobNotFound, JobID: jobID, Err: err}
		}
		return Job{}, err
	}

	var job Job
	if err := job.UnmarshalBinary(acct.Data); err != nil {
		return Job{}, err
	}
	if job.JobID != jobID {
		return Job{}, corrupt("record at address of job %d holds job %d", jobID, job.JobID)
	}
	return job, nil
}

func (p *Program) save(tx ledger.Tx, job Job) error {
	data, err := job.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Write(JobAddress(job.JobID), data)
}

// withOp stamps an escrow error with the operation it came from.
func withOp(err error, op string, jobID uint64) error {
	var e *Error
	if errors.As(err, &e) {
		stamped := *e
		stamped.Op = op
		stamped.JobID = jobID
		return &stamped
	}
	return fmt.Errorf("%s: job %d: %w", op, jobID, err)
}
