package harness

import (
	"bytes"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/escrow/internal/escrow"
	"github.com/roach88/escrow/internal/host"
)

// NoneParty names the zero identity, the worker of a job nobody started.
// It can appear in assertions but cannot sign.
const NoneParty = "none"

// Scenario is an escrow conformance scenario: funded parties, a sequence
// of signed operations with expected outcomes, and assertions on the final
// ledger.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Config is CUE source in the escrow config format. When empty the
	// scenario runs with zero rent and the transfer policy, so balances move
	// by exactly the job amounts.
	Config string `yaml:"config,omitempty"`

	// Parties maps party names to their initial faucet balance. Keys are
	// derived from the names.
	Parties map[string]uint64 `yaml:"parties"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Step submits one instruction signed by party As.
type Step struct {
	Op       host.Op `yaml:"op"`
	As       string  `yaml:"as"`
	JobID    uint64  `yaml:"job_id"`
	Metadata string  `yaml:"metadata,omitempty"`
	Amount   uint64  `yaml:"amount,omitempty"`

	// Expect, when present, checks the outcome. Without an error code the
	// step must commit.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Error is the expected rejection code, e.g. UNAUTHORIZED.
	Error string `yaml:"error,omitempty"`

	// Status is the expected job status after the step.
	Status string `yaml:"status,omitempty"`
}

// Assertion checks the final state or the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Party  string  `yaml:"party,omitempty"`
	JobID  uint64  `yaml:"job_id,omitempty"`
	Equals *uint64 `yaml:"equals,omitempty"`

	// job fields, subset match
	Status string  `yaml:"status,omitempty"`
	Owner  string  `yaml:"owner,omitempty"`
	Worker string  `yaml:"worker,omitempty"`
	Amount *uint64 `yaml:"amount,omitempty"`

	// trace_count
	Op      string `yaml:"op,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`
	Count   int    `yaml:"count,omitempty"`
}

// Assertion types.
const (
	AssertBalance    = "balance"
	AssertCustody    = "custody"
	AssertJob        = "job"
	AssertJobAbsent  = "job_absent"
	AssertTraceCount = "trace_count"
	AssertReplay     = "replay"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos do not silently disable a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// PartyNames returns the party names in sorted order.
func (s *Scenario) PartyNames() []string {
	names := make([]string, 0, len(s.Parties))
	for name := range s.Parties {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Parties) == 0 {
		return fmt.Errorf("parties map is required and must be non-empty")
	}
	if _, ok := s.Parties[NoneParty]; ok {
		return fmt.Errorf("party name %q is reserved", NoneParty)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if !step.Op.Valid() {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		if _, ok := s.Parties[step.As]; !ok {
			return fmt.Errorf("steps[%d]: unknown party %q", i, step.As)
		}
		if step.Op != host.OpInitializeJob && (step.Metadata != "" || step.Amount != 0) {
			return fmt.Errorf("steps[%d]: metadata and amount only apply to %s", i, host.OpInitializeJob)
		}
		if step.Expect != nil && step.Expect.Status != "" {
			if _, err := escrow.ParseStatus(step.Expect.Status); err != nil {
				return fmt.Errorf("steps[%d].expect: %w", i, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, s); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion, s *Scenario) error {
	knownParty := func(name string) bool {
		_, ok := s.Parties[name]
		return ok || name == NoneParty
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertBalance:
		if !knownParty(a.Party) {
			return fmt.Errorf("assertions[%d]: unknown party %q", index, a.Party)
		}
		if a.Equals == nil {
			return fmt.Errorf("assertions[%d]: equals is required for balance", index)
		}
	case AssertCustody:
		if a.Equals == nil {
			return fmt.Errorf("assertions[%d]: equals is required for custody", index)
		}
	case AssertJob:
		if a.Status == "" && a.Owner == "" && a.Worker == "" && a.Amount == nil {
			return fmt.Errorf("assertions[%d]: job assertion checks no field", index)
		}
		if a.Status != "" {
			if _, err := escrow.ParseStatus(a.Status); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
		for _, name := range []string{a.Owner, a.Worker} {
			if name != "" && !knownParty(name) {
				return fmt.Errorf("assertions[%d]: unknown party %q", index, name)
			}
		}
	case AssertJobAbsent, AssertReplay:
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
