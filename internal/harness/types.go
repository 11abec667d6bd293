package harness

// TraceEvent records one executed step. Result holds the step output
// decoded from JSON so expect paths and assertions can inspect it; it is
// left out of golden snapshots, which only pin the outcome.
type TraceEvent struct {
	Seq    int64  `json:"seq"`
	Action string `json:"action"`
	Status string `json:"status,omitempty"`
	Count  *int   `json:"count,omitempty"`
	Result any    `json:"-"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors is empty when Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step outcome.
func (r *Result) AddTrace(event TraceEvent) {
	r.Trace = append(r.Trace, event)
}
