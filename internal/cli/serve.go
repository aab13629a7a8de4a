package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/escrow/internal/api"
)

const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr        string
	Faucet      bool
	CORSOrigins []string

	// ready, when set, receives the bound address once listening.
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return newServeCommand(&ServeOptions{RootOptions: rootOpts})
}

func newServeCommand(opts *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ledger over HTTP",
		Long: `Serve the escrow runtime over HTTP until interrupted.

Clients submit signed instructions to POST /v1/instructions and read jobs,
balances and the journal under /v1. Flags override the serve section of the
config file.

Examples:
  escrow serve
  escrow serve --addr :8080 --faucet
  escrow serve --cors-origin http://localhost:5173`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.Faucet, "faucet", false, "enable POST /v1/fund")
	cmd.Flags().StringSliceVar(&opts.CORSOrigins, "cors-origin", nil, "allowed browser origin (repeatable)")
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	e, err := opts.openEnv(ctx, cmd)
	if err != nil {
		return f.Fail(GetExitCode(err), "failed to open ledger", err, nil)
	}
	defer e.Close()

	cfg := e.cfg.Serve
	if cmd.Flags().Changed("addr") {
		cfg.Addr = opts.Addr
	}
	if cmd.Flags().Changed("faucet") {
		cfg.Faucet = opts.Faucet
	}
	if cmd.Flags().Changed("cors-origin") {
		cfg.CORSOrigins = opts.CORSOrigins
	}

	srv := api.NewServer(e.runtime,
		api.WithLogger(e.logger),
		api.WithFaucet(cfg.Faucet),
		api.WithCORSOrigins(cfg.CORSOrigins),
	)
	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return f.Fail(ExitCommandError, "failed to listen", err, nil)
	}
	e.logger.Info("serving", "addr", ln.Addr().String(), "faucet", cfg.Faucet, "policy", string(e.runtime.Program().Policy()))
	if opts.ready != nil {
		opts.ready <- ln.Addr().String()
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		e.logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "serve", err)
	}
	return nil
}
