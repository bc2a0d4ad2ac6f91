// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "errors"

// Sentinel errors for the failure taxonomy. Callers match them with
// errors.Is; each layer wraps them with context via fmt.Errorf and %w.
var (
	// ErrInvalidEviction indicates an eviction named a PMID that is not in
	// the window. This is a logic defect, fatal to the record.
	ErrInvalidEviction = errors.New("eviction target not in window")

	// ErrMissingSentence indicates a PMID has no entry in the sentence
	// store. A data integrity gap, fatal to the record.
	ErrMissingSentence = errors.New("no sentence for pmid")

	// ErrModelUnavailable indicates a transport or endpoint failure while
	// querying the model. The current iteration is abandoned and the
	// record terminates.
	ErrModelUnavailable = errors.New("model endpoint unavailable")
)
