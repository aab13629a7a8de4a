package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/escrow/internal/escrow"
	"github.com/roach88/escrow/internal/host"
)

// AssertionError is a failed assertion with enough context to debug it.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s as %s job=%d -> %s %s\n", ev.Seq, ev.Op, ev.As, ev.JobID, ev.Outcome, ev.Status)
		}
	}
	return buf.String()
}

// evaluateAssertions runs every assertion and returns the failure messages.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion, result *Result) []string {
	var errs []string
	for i, a := range assertions {
		if err := h.evaluate(ctx, a, result.Trace); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func (h *Harness) evaluate(ctx context.Context, a Assertion, trace []TraceEvent) error {
	switch a.Type {
	case AssertBalance:
		return h.assertBalance(ctx, a)
	case AssertCustody:
		return h.assertCustody(ctx, a)
	case AssertJob:
		return h.assertJob(ctx, a)
	case AssertJobAbsent:
		return h.assertJobAbsent(ctx, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertReplay:
		return h.assertReplay(ctx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func (h *Harness) assertBalance(ctx context.Context, a Assertion) error {
	got, err := h.runtime.Balance(ctx, h.key(a.Party))
	if err != nil {
		return err
	}
	if got != *a.Equals {
		return &AssertionError{
			Type:     AssertBalance,
			Expected: fmt.Sprintf("%s holds %d", a.Party, *a.Equals),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

func (h *Harness) assertCustody(ctx context.Context, a Assertion) error {
	got, err := h.runtime.Balance(ctx, escrow.JobAddress(a.JobID))
	if err != nil {
		return err
	}
	if got != *a.Equals {
		return &AssertionError{
			Type:     AssertCustody,
			Expected: fmt.Sprintf("job %d custody %d", a.JobID, *a.Equals),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

func (h *Harness) assertJob(ctx context.Context, a Assertion) error {
	view, err := h.runtime.Job(ctx, a.JobID)
	if errors.Is(err, escrow.ErrJobNotFound) {
		return &AssertionError{
			Type:     AssertJob,
			Expected: fmt.Sprintf("job %d exists", a.JobID),
			Actual:   "job not found",
		}
	}
	if err != nil {
		return err
	}

	var mismatches []string
	if a.Status != "" && view.Status.String() != a.Status {
		mismatches = append(mismatches, fmt.Sprintf("status=%s (want %s)", view.Status, a.Status))
	}
	if a.Owner != "" && view.Owner != h.key(a.Owner) {
		mismatches = append(mismatches, fmt.Sprintf("owner=%s (want %s)", view.Owner.Short(), a.Owner))
	}
	if a.Worker != "" && view.Worker != h.key(a.Worker) {
		mismatches = append(mismatches, fmt.Sprintf("worker=%s (want %s)", view.Worker.Short(), a.Worker))
	}
	if a.Amount != nil && view.Amount != *a.Amount {
		mismatches = append(mismatches, fmt.Sprintf("amount=%d (want %d)", view.Amount, *a.Amount))
	}
	if len(mismatches) > 0 {
		return &AssertionError{
			Type:     AssertJob,
			Expected: fmt.Sprintf("job %d fields match", a.JobID),
			Actual:   strings.Join(mismatches, ", "),
		}
	}
	return nil
}

func (h *Harness) assertJobAbsent(ctx context.Context, a Assertion) error {
	_, err := h.runtime.Job(ctx, a.JobID)
	if errors.Is(err, escrow.ErrJobNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return &AssertionError{
		Type:     AssertJobAbsent,
		Expected: fmt.Sprintf("job %d absent", a.JobID),
		Actual:   "job exists",
	}
}

// assertTraceCount counts trace events of an op, optionally restricted to
// one outcome.
func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Op == a.Op && (a.Outcome == "" || ev.Outcome == a.Outcome) {
			count++
		}
	}
	if count != a.Count {
		what := a.Op
		if a.Outcome != "" {
			what += " -> " + a.Outcome
		}
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, what),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func (h *Harness) assertReplay(ctx context.Context) error {
	report, err := host.Replay(ctx, h.ledger, h.program)
	if err != nil {
		return err
	}
	if !report.OK() {
		return &AssertionError{
			Type:     AssertReplay,
			Expected: "replay reproduces the ledger",
			Actual:   fmt.Sprintf("%d outcome mismatches, %d account diffs", len(report.Mismatches), len(report.AccountDiffs)),
		}
	}
	return nil
}
