package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/escrow/internal/host"
)

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Replay the journal and compare it with the ledger",
		Long: `Re-execute every journaled instruction against an empty in-memory ledger
under the current config, checking each recorded outcome and comparing the
final accounts with the database.

Exit codes:
  0 - Replay reproduced the ledger
  1 - Replay diverged
  2 - Command error`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			ctx := cmd.Context()

			e, err := rootOpts.openEnv(ctx, cmd)
			if err != nil {
				return f.Fail(GetExitCode(err), "failed to open ledger", err, nil)
			}
			defer e.Close()

			report, err := host.Replay(ctx, e.store, e.runtime.Program(), host.WithLogger(e.logger))
			if err != nil {
				return f.Fail(ExitCommandError, "replay failed", err, nil)
			}
			if !report.OK() {
				if ferr := f.Error("E_REPLAY_DIVERGED", formatDivergence(report), report); ferr != nil {
					return ferr
				}
				return NewExitError(ExitFailure, "replay diverged")
			}
			return f.Success(report, fmt.Sprintf("verified %d entries (%d committed, %d rejected)",
				report.Entries, report.Committed, report.Rejected))
		},
	}
}

func formatDivergence(r host.ReplayReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "replay diverged: %d outcome mismatches, %d account differences",
		len(r.Mismatches), len(r.AccountDiffs))
	for _, m := range r.Mismatches {
		fmt.Fprintf(&b, "\n  seq=%d %s recorded=%q replayed=%q", m.Seq, m.Kind, m.Recorded, m.Replayed)
	}
	for _, d := range r.AccountDiffs {
		fmt.Fprintf(&b, "\n  account %s recorded=%d replayed=%d", d.Address.Short(), d.Recorded, d.Replayed)
	}
	return b.String()
}
