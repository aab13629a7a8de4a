package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/escrow/internal/ledger/memory"
)

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}

func TestRun_ScenarioFilesMatchGolden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/full_lifecycle.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRunOn_MemoryLedgerMatchesSQLite(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/refund_before_start.yaml")
	require.NoError(t, err)

	onSQLite, err := Run(s)
	require.NoError(t, err)

	l := memory.New()
	defer l.Close()
	onMemory, err := RunOn(context.Background(), s, l)
	require.NoError(t, err)

	assert.True(t, onMemory.Pass, onMemory.Errors)
	assert.Equal(t, onSQLite.Trace, onMemory.Trace)
}

func TestRun_ReportsUnmetExpectation(t *testing.T) {
	s := mustParse(t, `
name: wrong_expectation
description: "expects a start by a stranger to fail when it succeeds"
parties:
  owner: 100
  stranger: 0
steps:
  - op: initialize_job
    as: owner
    job_id: 1
    amount: 10
  - op: start_job
    as: stranger
    job_id: 1
    expect: { error: UNAUTHORIZED }
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected UNAUTHORIZED, got ok")
}

func TestRun_ReportsFailedAssertions(t *testing.T) {
	s := mustParse(t, `
name: failing_assertions
description: "every assertion is wrong"
parties:
  owner: 100
  worker: 0
steps:
  - op: initialize_job
    as: owner
    job_id: 1
    amount: 10
assertions:
  - type: balance
    party: owner
    equals: 100
  - type: custody
    job_id: 1
    equals: 0
  - type: job
    job_id: 1
    status: Done
    worker: worker
  - type: job_absent
    job_id: 1
  - type: trace_count
    op: start_job
    count: 1
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Contains(t, result.Errors[0], "owner holds 100")
	assert.Contains(t, result.Errors[2], "status=Pending (want Done)")
	assert.Contains(t, result.Errors[3], "job 1 absent")
	assert.Contains(t, result.Errors[4], "1 occurrences of start_job")
}

func TestRun_PendingCompletionPaysNone(t *testing.T) {
	s := mustParse(t, `
name: pending_completion
description: "completing an unstarted job pays the zero identity"
parties:
  owner: 100
steps:
  - op: initialize_job
    as: owner
    job_id: 1
    amount: 10
  - op: complete_job
    as: owner
    job_id: 1
    expect: { status: Done }
assertions:
  - type: balance
    party: none
    equals: 10
  - type: job
    job_id: 1
    worker: none
`)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
}

func TestRun_InvalidConfig(t *testing.T) {
	s := mustParse(t, minimalScenario)
	s.Config = `complete_policy: "burn"`

	_, err := Run(s)
	assert.Error(t, err)
}
