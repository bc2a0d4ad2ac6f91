// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package refine

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/pdiddy/refine-engine/internal/audit"
	"github.com/pdiddy/refine-engine/internal/dataset"
	"github.com/pdiddy/refine-engine/pkg/types"
)

// --- collaborator mocks ---

// scriptedBackend answers each query via respond, which receives the
// 0-based call number and the prompt.
type scriptedBackend struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, prompt string) (string, error)
}

func (b *scriptedBackend) Query(_ context.Context, prompt string) (string, error) {
	b.mu.Lock()
	call := b.calls
	b.calls++
	b.mu.Unlock()
	return b.respond(call, prompt)
}

// promptTag matches the PMID tags the prompt template renders, letting
// mocks see which window they were shown.
var promptTag = regexp.MustCompile(`\[PMID ([^\]]+)\]`)

func promptPMIDs(prompt string) []string {
	var pmids []string
	for _, m := range promptTag.FindAllStringSubmatch(prompt, -1) {
		pmids = append(pmids, m[1])
	}
	return pmids
}

// rejectAllBackend asks to remove every PMID it is shown.
func rejectAllBackend() *scriptedBackend {
	return &scriptedBackend{respond: func(_ int, prompt string) (string, error) {
		return "None of these link the entities.\nVERDICT: REMOVE " + strings.Join(promptPMIDs(prompt), " "), nil
	}}
}

// sufficientBackend always accepts the window as-is.
func sufficientBackend() *scriptedBackend {
	return &scriptedBackend{respond: func(_ int, _ string) (string, error) {
		return "The evidence is coherent.\nVERDICT: SUFFICIENT", nil
	}}
}

// mapSentences serves lookups from a map; absent PMIDs fail like the store.
type mapSentences map[string]string

func (m mapSentences) Lookup(_ context.Context, pmid string) (string, error) {
	text, ok := m[pmid]
	if !ok {
		return "", fmt.Errorf("pmid %s: %w", pmid, types.ErrMissingSentence)
	}
	return text, nil
}

func sentencesFor(pmids []string) mapSentences {
	m := make(mapSentences, len(pmids))
	for _, pmid := range pmids {
		m[pmid] = "Sentence for " + pmid + "."
	}
	return m
}

// captureSink records appended entries in memory.
type captureSink struct {
	mu      sync.Mutex
	entries []types.IterationRecord
}

func (c *captureSink) Append(entry types.IterationRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
	return nil
}

func (c *captureSink) RunID() string { return "test-run" }

func (c *captureSink) forRecord(id string) []types.IterationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.IterationRecord
	for _, e := range c.entries {
		if e.RecordID == id {
			out = append(out, e)
		}
	}
	return out
}

// failingSink rejects every append.
type failingSink struct{}

func (failingSink) Append(types.IterationRecord) error { return fmt.Errorf("sink unavailable") }
func (failingSink) RunID() string                      { return "test-run" }

func universe(n int) []string {
	pmids := make([]string, n)
	for i := range pmids {
		pmids[i] = fmt.Sprintf("1000%02d", i)
	}
	return pmids
}

func newRunner(backend *scriptedBackend, pmids []string, sink AuditSink, cfg types.RefineConfig) *Runner {
	return &Runner{
		Backend:   backend,
		Sentences: sentencesFor(pmids),
		Audit:     sink,
		Config:    cfg,
	}
}

// --- RunRecord ---

func TestRejectAllExhaustsPool(t *testing.T) {
	pmids := universe(5)
	rec := &types.Record{ID: "rec-1", Subject: "a", Object: "b", PMIDs: pmids}
	sink := &captureSink{}
	r := newRunner(rejectAllBackend(), pmids, sink, types.RefineConfig{K: 3, MaxIterations: 4, RandomSeed: 42})

	var buf strings.Builder
	result := r.RunRecord(context.Background(), rec, &buf)

	if result.Reason != types.ReasonPoolExhausted {
		t.Errorf("reason = %q, want pool_exhausted", result.Reason)
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Iterations)
	}
	if len(result.FinalContext) != 0 {
		t.Errorf("final context = %v, want empty (every pmid rejected)", result.FinalContext)
	}

	entries := sink.forRecord("rec-1")
	if len(entries) != 2 {
		t.Fatalf("got %d audit entries, want 2", len(entries))
	}

	// First round: full window of 3, all evicted, the remaining 2 admitted.
	if len(entries[0].Window) != 3 || len(entries[0].Evicted) != 3 || len(entries[0].Admitted) != 2 {
		t.Errorf("entry 0: window %d, evicted %d, admitted %d; want 3, 3, 2",
			len(entries[0].Window), len(entries[0].Evicted), len(entries[0].Admitted))
	}
	// Second round: under-filled window of 2, all evicted, nothing left.
	if len(entries[1].Window) != 2 || len(entries[1].Evicted) != 2 || len(entries[1].Admitted) != 0 {
		t.Errorf("entry 1: window %d, evicted %d, admitted %d; want 2, 2, 0",
			len(entries[1].Window), len(entries[1].Evicted), len(entries[1].Admitted))
	}
	if !entries[1].ShortFill {
		t.Error("entry 1 should be flagged as a short fill")
	}

	// All 5 pmids end up evicted exactly once.
	evicted := make(map[string]bool)
	for _, e := range entries {
		for _, pmid := range e.Evicted {
			if evicted[pmid] {
				t.Errorf("pmid %s evicted twice", pmid)
			}
			evicted[pmid] = true
		}
	}
	if len(evicted) != 5 {
		t.Errorf("evicted %d distinct pmids, want 5", len(evicted))
	}
}

func TestImmediateConvergence(t *testing.T) {
	pmids := universe(10)
	rec := &types.Record{ID: "rec-1", Subject: "a", Object: "b", PMIDs: pmids}
	sink := &captureSink{}
	r := newRunner(sufficientBackend(), pmids, sink, types.RefineConfig{K: 3, MaxIterations: 5, RandomSeed: 7})

	var buf strings.Builder
	result := r.RunRecord(context.Background(), rec, &buf)

	if result.Reason != types.ReasonConverged {
		t.Errorf("reason = %q, want converged", result.Reason)
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
	if len(result.FinalContext) != 3 {
		t.Errorf("final window = %d pmids, want 3", len(result.FinalContext))
	}

	entries := sink.forRecord("rec-1")
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(entries))
	}
	if entries[0].Decision != types.DecisionNoChange {
		t.Errorf("decision = %q, want no_change", entries[0].Decision)
	}
	if len(entries[0].Evicted) != 0 || len(entries[0].Admitted) != 0 {
		t.Error("convergence entry should move nothing")
	}
}

func TestSmallUniverseUnderFill(t *testing.T) {
	pmids := universe(2)
	rec := &types.Record{ID: "rec-1", Subject: "a", Object: "b", PMIDs: pmids}
	sink := &captureSink{}
	r := newRunner(rejectAllBackend(), pmids, sink, types.RefineConfig{K: 3, MaxIterations: 5, RandomSeed: 1})

	var buf strings.Builder
	result := r.RunRecord(context.Background(), rec, &buf)

	if result.Reason != types.ReasonPoolExhausted {
		t.Errorf("reason = %q, want pool_exhausted", result.Reason)
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}

	entries := sink.forRecord("rec-1")
	if len(entries) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(entries))
	}
	// The under-filled first window is queried anyway and flagged.
	if len(entries[0].Window) != 2 {
		t.Errorf("window = %d pmids, want 2", len(entries[0].Window))
	}
	if !entries[0].ShortFill {
		t.Error("under-filled window should be flagged as a short fill")
	}
}

func TestEmptyUniverse(t *testing.T) {
	rec := &types.Record{ID: "rec-1", Subject: "a", Object: "b"}
	sink := &captureSink{}
	backend := &scriptedBackend{respond: func(int, string) (string, error) {
		return "", fmt.Errorf("must not be called")
	}}
	r := newRunner(backend, nil, sink, types.RefineConfig{K: 3, MaxIterations: 5, RandomSeed: 1})

	var buf strings.Builder
	result := r.RunRecord(context.Background(), rec, &buf)

	if result.Reason != types.ReasonPoolExhausted {
		t.Errorf("reason = %q, want pool_exhausted", result.Reason)
	}
	if result.Iterations != 0 {
		t.Errorf("iterations = %d, want 0", result.Iterations)
	}
	if backend.calls != 0 {
		t.Errorf("backend called %d times for an empty universe", backend.calls)
	}
	if len(sink.forRecord("rec-1")) != 0 {
		t.Error("no audit entries expected without a query")
	}
}

func TestUnparseableResponseRetries(t *testing.T) {
	pmids := universe(6)
	rec := &types.Record{ID: "rec-1", Subject: "a", Object: "b", PMIDs: pmids}
	sink := &captureSink{}
	backend := &scriptedBackend{respond: func(call int, _ string) (string, error) {
		if call == 0 {
			return "I cannot decide.", nil
		}
		return "VERDICT: SUFFICIENT", nil
	}}
	r := newRunner(backend, pmids, sink, types.RefineConfig{K: 3, MaxIterations: 5, RandomSeed: 3})

	var buf strings.Builder
	result := r.RunRecord(context.Background(), rec, &buf)

	if result.Reason != types.ReasonConverged {
		t.Errorf("reason = %q, want converged", result.Reason)
	}
	// The unparseable query is logged but not counted as an iteration.
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}

	entries := sink.forRecord("rec-1")
	if len(entries) != 2 {
		t.Fatalf("got %d audit entries, want 2", len(entries))
	}
	if entries[0].Decision != types.DecisionUnparseable {
		t.Errorf("entry 0 decision = %q, want unparseable", entries[0].Decision)
	}
	if len(entries[0].Evicted) != 0 {
		t.Error("unparseable response must not evict")
	}
	// The window must be unchanged between the two queries.
	if strings.Join(entries[0].Window, ",") != strings.Join(entries[1].Window, ",") {
		t.Errorf("window changed across an unparseable step: %v vs %v", entries[0].Window, entries[1].Window)
	}
	if entries[0].Iteration != 0 || entries[1].Iteration != 1 {
		t.Errorf("entry indexes = %d, %d; want 0, 1", entries[0].Iteration, entries[1].Iteration)
	}
}

func TestUnparseableStormHitsBudget(t *testing.T) {
	pmids := universe(6)
	rec := &types.Record{ID: "rec-1", Subject: "a", Object: "b", PMIDs: pmids}
	sink := &captureSink{}
	backend := &scriptedBackend{respond: func(int, string) (string, error) {
		return "no verdict here", nil
	}}
	r := newRunner(backend, pmids, sink, types.RefineConfig{K: 3, MaxIterations: 3, RandomSeed: 3})

	var buf strings.Builder
	result := r.RunRecord(context.Background(), rec, &buf)

	if result.Reason != types.ReasonMaxIterations {
		t.Errorf("reason = %q, want max_iterations", result.Reason)
	}
	if result.Iterations != 0 {
		t.Errorf("iterations = %d, want 0 (no usable decision)", result.Iterations)
	}
	if backend.calls != 3 {
		t.Errorf("backend calls = %d, want 3", backend.calls)
	}
	if len(sink.forRecord("rec-1")) != 3 {
		t.Errorf("audit entries = %d, want 3", len(sink.forRecord("rec-1")))
	}
	if len(result.FinalContext) != 3 {
		t.Errorf("final window = %d pmids, want the untouched window of 3", len(result.FinalContext))
	}
}

func TestEvictionLoopHitsBudget(t *testing.T) {
	pmids := universe(20)
	rec := &types.Record{ID: "rec-1", Subject: "a", Object: "b", PMIDs: pmids}
	sink := &captureSink{}
	backend := &scriptedBackend{respond: func(_ int, prompt string) (string, error) {
		shown := promptPMIDs(prompt)
		return "VERDICT: REMOVE " + shown[0], nil
	}}
	r := newRunner(backend, pmids, sink, types.RefineConfig{K: 3, MaxIterations: 4, RandomSeed: 9})

	var buf strings.Builder
	result := r.RunRecord(context.Background(), rec, &buf)

	if result.Reason != types.ReasonMaxIterations {
		t.Errorf("reason = %q, want max_iterations", result.Reason)
	}
	if result.Iterations != 4 {
		t.Errorf("iterations = %d, want 4", result.Iterations)
	}
	if len(result.FinalContext) != 3 {
		t.Errorf("final window = %d pmids, want 3 (replenished each round)", len(result.FinalContext))
	}

	// Every round evicts one and admits one replacement.
	for i, e := range sink.forRecord("rec-1") {
		if len(e.Evicted) != 1 || len(e.Admitted) != 1 {
			t.Errorf("entry %d: evicted %d, admitted %d; want 1, 1", i, len(e.Evicted), len(e.Admitted))
		}
	}
}

func TestModelFailureTerminatesRecord(t *testing.T) {
	pmids := universe(5)
	rec := &types.Record{ID: "rec-1", Subject: "a", Object: "b", PMIDs: pmids}
	sink := &captureSink{}
	backend := &scriptedBackend{respond: func(int, string) (string, error) {
		return "", fmt.Errorf("dial tcp: %w", types.ErrModelUnavailable)
	}}
	r := newRunner(backend, pmids, sink, types.RefineConfig{K: 3, MaxIterations: 5, RandomSeed: 2})

	var buf strings.Builder
	result := r.RunRecord(context.Background(), rec, &buf)

	if result.Reason != types.ReasonError {
		t.Errorf("reason = %q, want error", result.Reason)
	}
	if !strings.Contains(result.Cause, "model endpoint unavailable") {
		t.Errorf("cause = %q, want the transport failure", result.Cause)
	}
	// The abandoned iteration is never partially applied.
	if len(result.FinalContext) != 3 {
		t.Errorf("final window = %d pmids, want the last-known 3", len(result.FinalContext))
	}
	if len(sink.forRecord("rec-1")) != 0 {
		t.Error("abandoned iteration should not be logged")
	}
}

func TestMissingSentenceTerminatesRecord(t *testing.T) {
	pmids := universe(3)
	rec := &types.Record{ID: "rec-1", Subject: "a", Object: "b", PMIDs: pmids}
	sink := &captureSink{}

	r := &Runner{
		Backend:   sufficientBackend(),
		Sentences: mapSentences{}, // nothing resolvable
		Audit:     sink,
		Config:    types.RefineConfig{K: 3, MaxIterations: 5, RandomSeed: 2},
	}

	var buf strings.Builder
	result := r.RunRecord(context.Background(), rec, &buf)

	if result.Reason != types.ReasonError {
		t.Errorf("reason = %q, want error", result.Reason)
	}
	if !strings.Contains(result.Cause, "no sentence for pmid") {
		t.Errorf("cause = %q, want a missing-sentence failure", result.Cause)
	}
	if len(result.FinalContext) != 3 {
		t.Errorf("final window should still carry the last-known window, got %v", result.FinalContext)
	}
}

func TestAuditFailureDoesNotAbortRecord(t *testing.T) {
	pmids := universe(5)
	rec := &types.Record{ID: "rec-1", Subject: "a", Object: "b", PMIDs: pmids}
	r := newRunner(sufficientBackend(), pmids, failingSink{}, types.RefineConfig{K: 3, MaxIterations: 5, RandomSeed: 2})

	var buf strings.Builder
	result := r.RunRecord(context.Background(), rec, &buf)

	if result.Reason != types.ReasonConverged {
		t.Errorf("reason = %q, want converged despite sink failure", result.Reason)
	}
	if !strings.Contains(buf.String(), "audit append failed") {
		t.Errorf("output should warn about the sink failure: %s", buf.String())
	}
}

func TestDeterministicUnderSeed(t *testing.T) {
	pmids := universe(12)
	cfg := types.RefineConfig{K: 3, MaxIterations: 4, RandomSeed: 99}

	run := func() []types.IterationRecord {
		rec := &types.Record{ID: "rec-1", Subject: "a", Object: "b", PMIDs: pmids}
		sink := &captureSink{}
		r := newRunner(rejectAllBackend(), pmids, sink, cfg)
		var buf strings.Builder
		r.RunRecord(context.Background(), rec, &buf)
		return sink.forRecord("rec-1")
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("entry counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if strings.Join(a[i].Window, ",") != strings.Join(b[i].Window, ",") {
			t.Errorf("entry %d windows differ: %v vs %v", i, a[i].Window, b[i].Window)
		}
		if strings.Join(a[i].Admitted, ",") != strings.Join(b[i].Admitted, ",") {
			t.Errorf("entry %d admissions differ: %v vs %v", i, a[i].Admitted, b[i].Admitted)
		}
	}
}

// Replaying the audit log alone reconstructs the final partition.
func TestReplayReconstructsFinalWindow(t *testing.T) {
	log, err := audit.NewLog(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	pmids := universe(9)
	rec := &types.Record{ID: "rec-1", Subject: "a", Object: "b", PMIDs: pmids}
	backend := &scriptedBackend{respond: func(call int, prompt string) (string, error) {
		if call >= 2 {
			return "VERDICT: SUFFICIENT", nil
		}
		shown := promptPMIDs(prompt)
		return "VERDICT: REMOVE " + shown[0] + " " + shown[1], nil
	}}
	r := &Runner{
		Backend:   backend,
		Sentences: sentencesFor(pmids),
		Audit:     log,
		Config:    types.RefineConfig{K: 3, MaxIterations: 5, RandomSeed: 1234},
	}

	var buf strings.Builder
	result := r.RunRecord(context.Background(), rec, &buf)
	if result.Reason != types.ReasonConverged {
		t.Fatalf("reason = %q, want converged", result.Reason)
	}

	part, err := audit.Replay(log.Path(), "rec-1", pmids)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if strings.Join(part.Window, ",") != strings.Join(result.FinalContext, ",") {
		t.Errorf("replayed window %v != final context %v", part.Window, result.FinalContext)
	}
	if len(part.Exhausted) != 4 {
		t.Errorf("replayed exhausted = %v, want 4 pmids (two rounds of two evictions)", part.Exhausted)
	}
	if len(part.Window)+len(part.Available)+len(part.Exhausted) != len(pmids) {
		t.Error("replayed partition does not cover the universe")
	}
}

// --- RunAll ---

func TestRunAll(t *testing.T) {
	good := universe(6)
	ds := &dataset.Dataset{Records: []types.Record{
		{ID: "rec-1", Subject: "a", Object: "b", PMIDs: good},
		{ID: "rec-2", Subject: "c", Object: "d", PMIDs: good},
		{ID: "rec-3", Subject: "e", Object: "f", PMIDs: []string{"absent-pmid"}},
	}}

	sink := &captureSink{}
	r := &Runner{
		Backend:   sufficientBackend(),
		Sentences: sentencesFor(good), // "absent-pmid" is unresolvable
		Audit:     sink,
		Config:    types.RefineConfig{K: 3, MaxIterations: 5, RandomSeed: 5, Workers: 2},
	}

	var buf strings.Builder
	summary := r.RunAll(context.Background(), ds, &buf)

	if summary.Converged != 2 {
		t.Errorf("Converged = %d, want 2", summary.Converged)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed = %d, want 1", summary.Failed)
	}
	if summary.Total() != 3 {
		t.Errorf("Total() = %d, want 3", summary.Total())
	}
	if !summary.HasFailures() {
		t.Error("HasFailures() should be true")
	}

	// Every record carries a result, including the failed one.
	for _, rec := range ds.Records {
		if rec.Result == nil {
			t.Errorf("record %s has no result", rec.ID)
		}
	}
	if ds.Records[2].Result.Reason != types.ReasonError {
		t.Errorf("rec-3 reason = %q, want error", ds.Records[2].Result.Reason)
	}

	out := buf.String()
	if !strings.Contains(out, "failed") {
		t.Errorf("output should report the failed record: %s", out)
	}
	if !strings.Contains(out, "converged: 2") {
		t.Errorf("output should include the summary line: %s", out)
	}
}

func TestRunAllSequentialByDefault(t *testing.T) {
	pmids := universe(4)
	ds := &dataset.Dataset{Records: []types.Record{
		{ID: "rec-1", Subject: "a", Object: "b", PMIDs: pmids},
		{ID: "rec-2", Subject: "c", Object: "d", PMIDs: pmids},
	}}

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	backend := &scriptedBackend{respond: func(int, string) (string, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()
		return "VERDICT: SUFFICIENT", nil
	}}

	r := &Runner{
		Backend:   backend,
		Sentences: sentencesFor(pmids),
		Audit:     &captureSink{},
		Config:    types.RefineConfig{K: 2, MaxIterations: 3, RandomSeed: 1}, // Workers unset
	}

	var buf strings.Builder
	summary := r.RunAll(context.Background(), ds, &buf)
	if summary.Converged != 2 {
		t.Fatalf("Converged = %d, want 2", summary.Converged)
	}
	if maxInFlight != 1 {
		t.Errorf("max concurrent queries = %d, want 1 with default workers", maxInFlight)
	}
}
