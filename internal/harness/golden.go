package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/escrow/internal/canonical"
)

// TraceSnapshot is the golden form of a scenario trace.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

// DomainTrace separates trace digests from other hashed data.
const DomainTrace = "escrow/trace/v1"

func (s TraceSnapshot) value() map[string]any {
	events := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":     ev.Seq,
			"op":      ev.Op,
			"as":      ev.As,
			"outcome": ev.Outcome,
		}
		if ev.Op != "fund" {
			m["job_id"] = ev.JobID
		}
		if ev.Status != "" {
			m["status"] = ev.Status
		}
		events[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         events,
	}
}

// Canonical returns the snapshot as canonical JSON.
func (s TraceSnapshot) Canonical() ([]byte, error) {
	return canonical.Marshal(s.value())
}

// Digest returns the hex SHA-256 of the canonical snapshot under
// DomainTrace. Equal traces have equal digests.
func (s TraceSnapshot) Digest() (string, error) {
	return canonical.Hash(DomainTrace, s.value())
}

// RunWithGolden runs a scenario, fails t on unmet expectations, and
// compares the trace with testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result's trace with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}.Canonical()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
