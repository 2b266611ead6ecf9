package harness

import "fmt"

// TraceEvent is one audit log row in scenario-relative form: record ids
// are replaced by the scenario's handles so traces stay readable and
// stable across runs.
type TraceEvent struct {
	Batch   string `json:"batch"`
	Seq     int64  `json:"seq"`
	Record  string `json:"record"`
	Field   string `json:"field"`
	Old     string `json:"old,omitempty"`
	New     string `json:"new,omitempty"`
	Changed bool   `json:"changed"`
	Failure string `json:"failure,omitempty"`
}

// Result is the outcome of one scenario run.
type Result struct {
	// Pass is true when every step behaved as declared and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace is the committed audit log, in sequence order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists assertion and step failures. Empty when Pass.
	Errors []string `json:"errors,omitempty"`

	// Aborted is true when the session rolled back instead of
	// committing (an expected batch failure, e.g. steps_exceeded).
	// The trace is empty in that case; nothing was durable.
	Aborted bool `json:"aborted,omitempty"`
}

// NewResult returns an empty passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}}
}

// AddError records a failure and flips the result to failing.
func (r *Result) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
	r.Pass = false
}
