// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package interpret

import (
	"testing"

	"github.com/pdiddy/refine-engine/pkg/types"
)

func TestInterpret(t *testing.T) {
	window := []string{"12345", "67890", "24680"}

	tests := []struct {
		name      string
		response  string
		wantKind  types.DecisionKind
		wantEvict []string
	}{
		{
			name:     "sufficient verdict",
			response: "The evidence connects the entities well.\n\nVERDICT: SUFFICIENT",
			wantKind: types.DecisionNoChange,
		},
		{
			name:     "sufficient lowercase",
			response: "verdict: sufficient",
			wantKind: types.DecisionNoChange,
		},
		{
			name:      "remove single pmid",
			response:  "Abstract 2 is about an unrelated pathway.\nVERDICT: REMOVE 67890",
			wantKind:  types.DecisionEvict,
			wantEvict: []string{"67890"},
		},
		{
			name:      "remove multiple comma separated",
			response:  "VERDICT: REMOVE 12345, 24680",
			wantKind:  types.DecisionEvict,
			wantEvict: []string{"12345", "24680"},
		},
		{
			name:      "remove with brackets",
			response:  "VERDICT: REMOVE [67890]",
			wantKind:  types.DecisionEvict,
			wantEvict: []string{"67890"},
		},
		{
			name:      "remove all shown",
			response:  "None of these support the link.\nVERDICT: REMOVE 12345 67890 24680",
			wantKind:  types.DecisionEvict,
			wantEvict: []string{"12345", "67890", "24680"},
		},
		{
			name:      "out-of-window pmids filtered",
			response:  "VERDICT: REMOVE 99999 67890",
			wantKind:  types.DecisionEvict,
			wantEvict: []string{"67890"},
		},
		{
			name:     "remove naming nothing in window",
			response: "VERDICT: REMOVE 99999",
			wantKind: types.DecisionUnparseable,
		},
		{
			name:     "remove with empty payload",
			response: "VERDICT: REMOVE",
			wantKind: types.DecisionUnparseable,
		},
		{
			name:     "no verdict line",
			response: "The abstracts describe an indirect relationship via protein X.",
			wantKind: types.DecisionUnparseable,
		},
		{
			name:     "unknown verdict keyword",
			response: "VERDICT: MAYBE",
			wantKind: types.DecisionUnparseable,
		},
		{
			name:     "empty response",
			response: "",
			wantKind: types.DecisionUnparseable,
		},
		{
			name:      "last verdict wins",
			response:  "VERDICT: SUFFICIENT\nOn reflection, abstract 1 is off topic.\nVERDICT: REMOVE 12345",
			wantKind:  types.DecisionEvict,
			wantEvict: []string{"12345"},
		},
		{
			name:      "duplicate pmids collapse",
			response:  "VERDICT: REMOVE 12345, 12345",
			wantKind:  types.DecisionEvict,
			wantEvict: []string{"12345"},
		},
		{
			name:      "evictions follow window order",
			response:  "VERDICT: REMOVE 24680 12345",
			wantKind:  types.DecisionEvict,
			wantEvict: []string{"12345", "24680"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Interpret(tt.response, window)
			if d.Kind != tt.wantKind {
				t.Fatalf("Kind = %q, want %q", d.Kind, tt.wantKind)
			}
			if len(d.Evict) != len(tt.wantEvict) {
				t.Fatalf("Evict = %v, want %v", d.Evict, tt.wantEvict)
			}
			for i, want := range tt.wantEvict {
				if d.Evict[i] != want {
					t.Errorf("Evict[%d] = %q, want %q", i, d.Evict[i], want)
				}
			}
		})
	}
}

func TestInterpretEmptyWindow(t *testing.T) {
	d := Interpret("VERDICT: REMOVE 12345", nil)
	if d.Kind != types.DecisionUnparseable {
		t.Errorf("Kind = %q, want unparseable against an empty window", d.Kind)
	}
}
