package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/escrow/internal/config"
	"github.com/roach88/escrow/internal/escrow"
	"github.com/roach88/escrow/internal/host"
	"github.com/roach88/escrow/internal/ledger"
	"github.com/roach88/escrow/internal/pubkey"
	"github.com/roach88/escrow/internal/store"
	"github.com/roach88/escrow/internal/testutil"
)

// scenarioDefaults is the config applied when a scenario sets none.
const scenarioDefaults = `rent: {lamports_per_byte: 0, overhead: 0}`

// Harness executes one scenario against a ledger.
type Harness struct {
	ledger  ledger.Ledger
	runtime *host.Runtime
	program *escrow.Program
	parties map[string]*pubkey.Keypair
	clock   *testutil.DeterministicClock
	logger  *slog.Logger
}

// Run executes a scenario on a fresh in-memory SQLite ledger.
//
// The clock and nonces are deterministic, so the same scenario always
// produces the same trace. The returned error is reserved for failures of
// the harness itself; unmet expectations are reported in Result.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	return RunOn(context.Background(), scenario, st)
}

// RunOn executes a scenario against l, which should be empty.
func RunOn(ctx context.Context, scenario *Scenario, l ledger.Ledger) (*Result, error) {
	h, err := newHarness(ctx, scenario, l)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	if err := h.fundParties(ctx, scenario, result); err != nil {
		return nil, fmt.Errorf("failed to fund parties: %w", err)
	}
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions, result) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario, l ledger.Ledger) (*Harness, error) {
	src := scenario.Config
	if src == "" {
		src = scenarioDefaults
	}
	cfg, err := config.Parse([]byte(src), scenario.Name+".config")
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	program := escrow.NewProgram(cfg.ProgramOptions(logger)...)
	clock := testutil.NewDeterministicClock()

	rt, err := host.NewRuntime(ctx, l, program,
		host.WithClock(clock),
		host.WithNonceGenerator(testutil.NewSequenceNonces(scenario.Name)),
		host.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &Harness{
		ledger:  l,
		runtime: rt,
		program: program,
		parties: testutil.Parties(scenario.PartyNames()...),
		clock:   clock,
		logger:  logger,
	}, nil
}

func (h *Harness) fundParties(ctx context.Context, scenario *Scenario, result *Result) error {
	for _, name := range scenario.PartyNames() {
		lamports := scenario.Parties[name]
		if lamports == 0 {
			continue
		}
		rcpt, err := h.runtime.Fund(ctx, h.parties[name].Key(), lamports)
		if err != nil {
			return err
		}
		result.AddTrace(TraceEvent{Seq: rcpt.Seq, Op: string(host.OpFund), As: name, Outcome: OutcomeOK})
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) error {
	ins := host.Instruction{
		Op:       step.Op,
		JobID:    step.JobID,
		Metadata: []byte(step.Metadata),
		Amount:   step.Amount,
		Nonce:    h.runtime.NewNonce(),
	}
	signed, err := host.Sign(h.parties[step.As], ins)
	if err != nil {
		return err
	}

	rcpt, err := h.runtime.Submit(ctx, signed)
	outcome := OutcomeOK
	if err != nil {
		if rcpt.Error == "" {
			return err
		}
		outcome = rcpt.Error
	}

	status, err := h.jobStatus(ctx, step.JobID)
	if err != nil {
		return err
	}

	result.AddTrace(TraceEvent{
		Seq:     rcpt.Seq,
		Op:      string(step.Op),
		As:      step.As,
		JobID:   step.JobID,
		Outcome: outcome,
		Status:  status,
	})

	if step.Expect == nil {
		return nil
	}
	want := step.Expect.Error
	if want == "" {
		want = OutcomeOK
	}
	if outcome != want {
		result.AddError(fmt.Sprintf("steps[%d] %s as %s: expected %s, got %s", index, step.Op, step.As, want, outcome))
	}
	if step.Expect.Status != "" && status != step.Expect.Status {
		result.AddError(fmt.Sprintf("steps[%d] %s as %s: expected status %s, got %q", index, step.Op, step.As, step.Expect.Status, status))
	}
	return nil
}

// jobStatus returns the current status name, or "" if the job is absent.
func (h *Harness) jobStatus(ctx context.Context, jobID uint64) (string, error) {
	view, err := h.runtime.Job(ctx, jobID)
	if errors.Is(err, escrow.ErrJobNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return view.Status.String(), nil
}

// key resolves a party name, including NoneParty.
func (h *Harness) key(name string) pubkey.Key {
	if name == NoneParty {
		return pubkey.Zero
	}
	return h.parties[name].Key()
}
