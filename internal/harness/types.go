package harness

// OutcomeOK is the trace outcome of a committed step.
const OutcomeOK = "ok"

// TraceEvent is one journaled step of a scenario run.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Op      string `json:"op"`
	As      string `json:"as"`
	JobID   uint64 `json:"job_id,omitempty"`
	Outcome string `json:"outcome"`

	// Status is the job status after the step, empty when the job does not
	// exist.
	Status string `json:"status,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a trace event.
func (r *Result) AddTrace(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
