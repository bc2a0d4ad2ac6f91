// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// DecisionKind categorizes the interpreted outcome of one model response.
type DecisionKind string

const (
	// DecisionEvict: the response named window members to drop.
	DecisionEvict DecisionKind = "evict"

	// DecisionNoChange: the response declared the current window sufficient.
	DecisionNoChange DecisionKind = "no_change"

	// DecisionUnparseable: the response could not be mapped to a decision.
	DecisionUnparseable DecisionKind = "unparseable"
)

// Decision is the interpreted outcome of one model response against the
// window it was shown. Evict is populated only when Kind is DecisionEvict,
// and then only with PMIDs that were present in that window.
type Decision struct {
	Kind  DecisionKind
	Evict []string
}
