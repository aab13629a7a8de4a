package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/escrow/internal/pubkey"
)

// KeygenResult is the output of keygen.
type KeygenResult struct {
	Identity pubkey.Key `json:"identity"`
	Path     string     `json:"path"`
}

// NewKeygenCommand creates the keygen command.
func NewKeygenCommand(rootOpts *RootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "keygen --out FILE",
		Short: "Generate an ed25519 key file",
		Long: `Generate a new ed25519 keypair, write the private key to FILE as hex
and print the public identity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			kp, err := pubkey.Generate()
			if err != nil {
				return f.Fail(ExitCommandError, "failed to generate key", err, nil)
			}
			if err := kp.Save(out); err != nil {
				return f.Fail(ExitCommandError, "failed to write key", err, nil)
			}
			f.VerboseLog("wrote %s", out)
			return f.Success(KeygenResult{Identity: kp.Key(), Path: out}, kp.Key().String())
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "key file to write")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// BalanceResult is the output of fund and balance.
type BalanceResult struct {
	Identity pubkey.Key `json:"identity"`
	Seq      int64      `json:"seq,omitempty"`
	Lamports uint64     `json:"lamports"`
}

// NewFundCommand creates the fund command.
func NewFundCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fund IDENTITY|KEYFILE LAMPORTS",
		Short: "Credit lamports to an identity",
		Long: `Credit lamports to an identity from outside the ledger. The credit is
journaled and replayed by verify.

Examples:
  escrow fund owner.key 5000000
  escrow fund 3b6a27bcceb6a42d62a3a8d02a6f0d73653215771de243a63ac048a18b59da29 100`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			to, err := pubkey.Resolve(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, "invalid identity", err, nil)
			}
			lamports, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return f.Fail(ExitCommandError, "invalid lamports", err, nil)
			}

			e, err := rootOpts.openEnv(cmd.Context(), cmd)
			if err != nil {
				return f.Fail(GetExitCode(err), "failed to open ledger", err, nil)
			}
			defer e.Close()

			rcpt, err := e.runtime.Fund(cmd.Context(), to, lamports)
			if err != nil {
				return f.Fail(ExitFailure, "fund rejected", err, rcpt)
			}
			bal, err := e.runtime.Balance(cmd.Context(), to)
			if err != nil {
				return f.Fail(ExitCommandError, "failed to read balance", err, nil)
			}
			return f.Success(BalanceResult{Identity: to, Seq: rcpt.Seq, Lamports: bal},
				fmt.Sprintf("seq=%d funded %s, balance %d", rcpt.Seq, to.Short(), bal))
		},
	}
}

// NewBalanceCommand creates the balance command.
func NewBalanceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance IDENTITY|KEYFILE",
		Short: "Print the lamports held by an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)

			key, err := pubkey.Resolve(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, "invalid identity", err, nil)
			}

			e, err := rootOpts.openEnv(cmd.Context(), cmd)
			if err != nil {
				return f.Fail(GetExitCode(err), "failed to open ledger", err, nil)
			}
			defer e.Close()

			bal, err := e.runtime.Balance(cmd.Context(), key)
			if err != nil {
				return f.Fail(ExitCommandError, "failed to read balance", err, nil)
			}
			return f.Success(BalanceResult{Identity: key, Lamports: bal}, strconv.FormatUint(bal, 10))
		},
	}
}
