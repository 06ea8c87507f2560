package harness

import (
	"github.com/roach88/driftdb/internal/raw"
	dbsync "github.com/roach88/driftdb/internal/sync"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq   int64  `json:"seq"`
	Op    string `json:"op"`
	Table string `json:"table,omitempty"`
	ID    string `json:"id,omitempty"`

	// Error is the error code the step failed with.
	Error string `json:"error,omitempty"`

	// Changes is what a fetch collected (with local metadata) or what a
	// push or sync sent to the remote (without it).
	Changes dbsync.DatabaseChangeSet `json:"changes,omitempty"`
}

// TableState is the stored content of one table after a scenario.
type TableState struct {
	Records []raw.Dirty `json:"records"`
	Deleted []string    `json:"deleted"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State maps table name to its final content.
	State map[string]TableState `json:"state,omitempty"`

	// Log is the text log written by the database during the run.
	Log string `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string]TableState),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event, numbering it.
func (r *Result) AddTrace(ev TraceEvent) {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
}
