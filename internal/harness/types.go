package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Step int    `json:"step"`
	Op   string `json:"op"`

	// Submit steps.
	Event        string   `json:"event,omitempty"`
	SubmissionID string   `json:"submission_id,omitempty"`
	Seq          int64    `json:"seq,omitempty"`
	State        string   `json:"state,omitempty"`
	Received     []string `json:"received,omitempty"`
	Involved     []string `json:"involved,omitempty"`
	Data         []string `json:"data,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	Error        string   `json:"error,omitempty"`

	// Unregister steps.
	Target  string `json:"target,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace has one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Listeners are the names still registered after the last step, in
	// delivery order.
	Listeners []string `json:"listeners"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Listeners: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
