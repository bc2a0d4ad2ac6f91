// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package interpret maps raw model responses onto eviction decisions. It is
// a pure function of the response text and the window it was shown; pool
// bookkeeping lives elsewhere.
package interpret

import (
	"regexp"
	"strings"

	"github.com/pdiddy/refine-engine/pkg/types"
)

// verdictPattern matches a verdict line anywhere in the response. The prompt
// instructs the model to end with one, but models preface and repeat, so the
// last match wins.
var verdictPattern = regexp.MustCompile(`(?mi)^\s*VERDICT:\s*(.+?)\s*$`)

// pmidTokenPattern splits the payload of a REMOVE verdict into candidate
// PMID tokens. Commas, brackets, and whitespace are all seen in the wild.
var pmidTokenPattern = regexp.MustCompile(`[^\s,;\[\]()]+`)

// Interpret maps a model response onto a Decision against the given window.
//
// A "VERDICT: SUFFICIENT" line yields DecisionNoChange. A
// "VERDICT: REMOVE <pmid...>" line yields DecisionEvict with the named
// PMIDs, restricted to actual window members and ordered as the window was
// presented. A response with no verdict line, or a REMOVE verdict naming no
// window member, is DecisionUnparseable.
func Interpret(response string, window []string) types.Decision {
	matches := verdictPattern.FindAllStringSubmatch(response, -1)
	if len(matches) == 0 {
		return types.Decision{Kind: types.DecisionUnparseable}
	}
	verdict := matches[len(matches)-1][1]

	word, rest := splitVerdict(verdict)
	switch strings.ToUpper(word) {
	case "SUFFICIENT":
		return types.Decision{Kind: types.DecisionNoChange}
	case "REMOVE":
		evict := windowMembers(rest, window)
		if len(evict) == 0 {
			return types.Decision{Kind: types.DecisionUnparseable}
		}
		return types.Decision{Kind: types.DecisionEvict, Evict: evict}
	default:
		return types.Decision{Kind: types.DecisionUnparseable}
	}
}

// splitVerdict separates the verdict keyword from its payload.
func splitVerdict(verdict string) (word, rest string) {
	verdict = strings.TrimSpace(verdict)
	if i := strings.IndexAny(verdict, " \t"); i >= 0 {
		return verdict[:i], verdict[i+1:]
	}
	return verdict, ""
}

// windowMembers extracts PMID tokens from the payload and returns the ones
// present in the window, in window presentation order and without
// duplicates.
func windowMembers(payload string, window []string) []string {
	named := make(map[string]bool)
	for _, tok := range pmidTokenPattern.FindAllString(payload, -1) {
		named[tok] = true
	}

	var evict []string
	for _, pmid := range window {
		if named[pmid] {
			evict = append(evict, pmid)
		}
	}
	return evict
}
