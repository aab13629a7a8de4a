package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/escrow/internal/host"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	var jobID uint64

	cmd := &cobra.Command{
		Use:   "history [--job-id N]",
		Short: "Print the instruction journal",
		Long: `Print every journaled instruction in seq order, committed and rejected.
With --job-id only the instructions addressed to that job are printed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			e, err := rootOpts.openEnv(cmd.Context(), cmd)
			if err != nil {
				return f.Fail(GetExitCode(err), "failed to open ledger", err, nil)
			}
			defer e.Close()

			var filter *uint64
			if cmd.Flags().Changed("job-id") {
				filter = &jobID
			}
			entries, err := e.runtime.History(cmd.Context(), filter)
			if err != nil {
				return f.Fail(ExitCommandError, "failed to read journal", err, nil)
			}
			out := host.NewHistoryEntries(entries)
			return f.Success(out, formatHistory(out))
		},
	}

	cmd.Flags().Uint64Var(&jobID, "job-id", 0, "only show instructions for this job")
	return cmd
}

func formatHistory(entries []host.HistoryEntry) string {
	if len(entries) == 0 {
		return "No entries."
	}

	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tKIND\tSIGNER\tOUTCOME\tID")
	for _, e := range entries {
		outcome := "ok"
		if e.Error != "" {
			outcome = e.Error
		}
		signer := "-"
		if !e.Signer.IsZero() {
			signer = e.Signer.Short()
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", e.Seq, e.Kind, signer, outcome, e.ID)
	}
	w.Flush()
	return strings.TrimSuffix(b.String(), "\n")
}
