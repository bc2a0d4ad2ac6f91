// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// TerminationReason explains why a record's refinement loop stopped.
type TerminationReason string

const (
	// ReasonConverged: the model signaled the current evidence window is
	// sufficient and no further change is needed.
	ReasonConverged TerminationReason = "converged"

	// ReasonPoolExhausted: no candidate PMIDs remained to replace evicted
	// window members.
	ReasonPoolExhausted TerminationReason = "pool_exhausted"

	// ReasonMaxIterations: the per-record iteration budget was reached.
	ReasonMaxIterations TerminationReason = "max_iterations"

	// ReasonError: an unrecoverable failure terminated the record's loop.
	ReasonError TerminationReason = "error"
)

// Record is one row of the input dataset: a subject/object pair together
// with the full universe of candidate PMIDs supporting the relationship.
type Record struct {
	// ID is a stable identifier for the record within the dataset.
	ID string `json:"id" yaml:"id"`

	// Subject is the source entity name (the original dataset's subj_name).
	Subject string `json:"subject" yaml:"subject"`

	// Object is the target entity name (the original dataset's obj_name).
	Object string `json:"object" yaml:"object"`

	// PMIDs is the full candidate universe for this record. Never mutated
	// by the engine; the working partition is tracked separately.
	PMIDs []string `json:"pmids" yaml:"pmids"`

	// Result holds the refinement outcome. Nil until the record has been
	// processed.
	Result *RefineResult `json:"result,omitempty" yaml:"result,omitempty"`
}

// RefineResult is written back onto a Record when its loop reaches a
// terminal state. It is populated even on error so partial results are
// always recoverable from the output dataset.
type RefineResult struct {
	// FinalContext is the last-known evidence window.
	FinalContext []string `json:"final_context" yaml:"final_context"`

	// Iterations counts completed iterations: queries whose responses
	// produced a usable decision. Unparseable responses are not counted.
	Iterations int `json:"iterations" yaml:"iterations"`

	// Reason explains why the loop terminated.
	Reason TerminationReason `json:"reason" yaml:"reason"`

	// Cause carries the failure detail when Reason is "error".
	Cause string `json:"cause,omitempty" yaml:"cause,omitempty"`
}

// IterationRecord is one append-only audit entry: everything the engine
// knew about a single model query. Immutable once written.
type IterationRecord struct {
	// RunID identifies the engine run that produced this entry.
	RunID string `json:"run_id"`

	// RecordID identifies the dataset record.
	RecordID string `json:"record_id"`

	// Iteration is the 0-based entry index, monotonically increasing per
	// record. Every appended entry advances it, including unparseable ones.
	Iteration int `json:"iteration"`

	// Window is the evidence window at query time, in presentation order.
	Window []string `json:"window"`

	// ShortFill is true when the window held fewer than k PMIDs because
	// the candidate pool could not fill it.
	ShortFill bool `json:"short_fill,omitempty"`

	// Prompt is the full rendered prompt sent to the model.
	Prompt string `json:"prompt"`

	// Response is the raw model response text.
	Response string `json:"response"`

	// Decision is the interpreted outcome for this query.
	Decision DecisionKind `json:"decision"`

	// Evicted lists PMIDs moved out of the window this iteration.
	Evicted []string `json:"evicted,omitempty"`

	// Admitted lists PMIDs drawn into the window this iteration.
	Admitted []string `json:"admitted,omitempty"`

	// ElapsedMS is the model call duration in milliseconds.
	ElapsedMS int64 `json:"elapsed_ms"`
}
