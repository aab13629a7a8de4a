package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/escrow/internal/config"
	"github.com/roach88/escrow/internal/escrow"
	"github.com/roach88/escrow/internal/host"
	"github.com/roach88/escrow/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides config database
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the escrow root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "escrow",
		Short: "Escrowed job marketplace on a local ledger",
		Long: `escrow runs the job escrow program against a local SQLite ledger.

Owners lock a payment in escrow when they post a job, a worker accepts and
processes it, and the owner either releases the payment to the worker or
takes it back. Every instruction is signed with an ed25519 key file and
journaled with its outcome.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to CUE config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (overrides config)")

	cmd.AddCommand(NewKeygenCommand(opts))
	cmd.AddCommand(NewFundCommand(opts))
	cmd.AddCommand(NewBalanceCommand(opts))
	for _, op := range host.Ops {
		cmd.AddCommand(NewOpCommand(opts, op))
	}
	cmd.AddCommand(NewShowJobCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// newLogger builds the slog logger for cfg, writing to w. --verbose forces
// debug level.
func newLogger(cfg config.Config, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// env is the opened ledger and runtime a command works against.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	runtime *host.Runtime
}

// openEnv loads the config, opens the ledger and builds the runtime.
// Failures are command errors.
func (o *RootOptions) openEnv(ctx context.Context, cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	logger := newLogger(cfg, o.Verbose, cmd.ErrOrStderr())

	logger.Debug("opening ledger", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	program := escrow.NewProgram(cfg.ProgramOptions(logger)...)
	rt, err := host.NewRuntime(ctx, st, program, host.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to start runtime", err)
	}

	return &env{cfg: cfg, logger: logger, store: st, runtime: rt}, nil
}

func (e *env) Close() error {
	return e.store.Close()
}
