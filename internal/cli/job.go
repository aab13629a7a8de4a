package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/escrow/internal/escrow"
	"github.com/roach88/escrow/internal/host"
	"github.com/roach88/escrow/internal/pubkey"
)

type opCommand struct {
	use   string
	short string
	long  string
}

var opCommands = map[host.Op]opCommand{
	host.OpInitializeJob: {
		use:   "init-job",
		short: "Post a job and lock its payment in escrow",
		long: `Create job --job-id owned by the signer of --key. The signer pays
--amount plus the record deposit into the job's escrow address.`,
	},
	host.OpStartJob: {
		use:   "start-job",
		short: "Accept a pending job as its worker",
	},
	host.OpMarkProcessing: {
		use:   "mark-processing",
		short: "Mark a started job as processing (worker only)",
	},
	host.OpCompleteJob: {
		use:   "complete-job",
		short: "Release the escrowed payment to the worker (owner only)",
	},
	host.OpRefundJob: {
		use:   "refund-job",
		short: "Return the escrowed payment to the owner (owner only)",
	},
}

// OpOptions holds flags for instruction commands.
type OpOptions struct {
	*RootOptions
	KeyPath  string
	JobID    uint64
	Metadata string
	Amount   uint64
}

// NewOpCommand creates the command submitting op.
func NewOpCommand(rootOpts *RootOptions, op host.Op) *cobra.Command {
	opts := &OpOptions{RootOptions: rootOpts}
	def := opCommands[op]

	long := def.long
	if long == "" {
		long = def.short + "."
	}
	long += fmt.Sprintf(`

Exit codes:
  0 - Instruction committed
  1 - Instruction rejected (the rejection is journaled)
  2 - Command error (bad key file, unreadable ledger)

Example:
  escrow %s --key owner.key --job-id 7`, def.use)

	cmd := &cobra.Command{
		Use:   def.use,
		Short: def.short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(opts, op, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.KeyPath, "key", "", "signer key file")
	cmd.Flags().Uint64Var(&opts.JobID, "job-id", 0, "job identifier")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("job-id")
	if op == host.OpInitializeJob {
		cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "job description (at most 256 bytes)")
		cmd.Flags().Uint64Var(&opts.Amount, "amount", 0, "payment in lamports")
		_ = cmd.MarkFlagRequired("amount")
	}
	return cmd
}

func runOp(opts *OpOptions, op host.Op, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	kp, err := pubkey.LoadKeypair(opts.KeyPath)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to load key", err, nil)
	}

	e, err := opts.openEnv(ctx, cmd)
	if err != nil {
		return f.Fail(GetExitCode(err), "failed to open ledger", err, nil)
	}
	defer e.Close()

	signed, err := host.Sign(kp, host.Instruction{
		Op:       op,
		JobID:    opts.JobID,
		Metadata: []byte(opts.Metadata),
		Amount:   opts.Amount,
		Nonce:    e.runtime.NewNonce(),
	})
	if err != nil {
		return f.Fail(ExitCommandError, "failed to sign instruction", err, nil)
	}
	f.VerboseLog("signer %s nonce %s", kp.Key(), signed.Nonce)

	rcpt, err := e.runtime.Submit(ctx, signed)
	if err != nil {
		if rcpt.Error == "" && !isRejection(err) {
			return f.Fail(ExitCommandError, string(op)+" failed", err, nil)
		}
		return f.Fail(ExitFailure, string(op)+" rejected", err, rcpt)
	}
	return f.Success(rcpt, formatReceipt(rcpt))
}

// isRejection reports whether err rejected an instruction without
// journaling it.
func isRejection(err error) bool {
	return errors.Is(err, host.ErrBadSignature) || errors.Is(err, host.ErrDuplicateTransaction)
}

func formatReceipt(r host.Receipt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "seq=%d %s job=%d", r.Seq, r.Op, r.JobID)
	if r.Job != nil {
		fmt.Fprintf(&b, " status=%s", r.Job.Status)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, " error=%s", r.Error)
	}
	return b.String()
}

// NewShowJobCommand creates the show-job command.
func NewShowJobCommand(rootOpts *RootOptions) *cobra.Command {
	var jobID uint64

	cmd := &cobra.Command{
		Use:   "show-job --job-id N",
		Short: "Print a job record and the lamports in escrow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			e, err := rootOpts.openEnv(cmd.Context(), cmd)
			if err != nil {
				return f.Fail(GetExitCode(err), "failed to open ledger", err, nil)
			}
			defer e.Close()

			view, err := e.runtime.Job(cmd.Context(), jobID)
			if err != nil {
				if errors.Is(err, escrow.ErrJobNotFound) {
					return f.Fail(ExitFailure, "show-job", err, nil)
				}
				return f.Fail(ExitCommandError, "failed to read job", err, nil)
			}
			return f.Success(view, formatJob(view))
		},
	}

	cmd.Flags().Uint64Var(&jobID, "job-id", 0, "job identifier")
	_ = cmd.MarkFlagRequired("job-id")
	return cmd
}

func formatJob(v host.JobView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "job %d\n", v.JobID)
	fmt.Fprintf(&b, "  address:  %s\n", v.Address)
	fmt.Fprintf(&b, "  status:   %s\n", v.Status)
	fmt.Fprintf(&b, "  owner:    %s\n", v.Owner)
	if v.HasWorker() {
		fmt.Fprintf(&b, "  worker:   %s\n", v.Worker)
	} else {
		fmt.Fprintf(&b, "  worker:   (none)\n")
	}
	fmt.Fprintf(&b, "  amount:   %d\n", v.Amount)
	fmt.Fprintf(&b, "  custody:  %d\n", v.Custody)
	fmt.Fprintf(&b, "  metadata: %q", v.Metadata)
	return b.String()
}
