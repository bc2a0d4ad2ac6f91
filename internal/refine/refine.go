// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package refine drives the per-record context-refinement loop: build the
// evidence window, query the model, interpret the verdict, evict and
// replenish, and stop on convergence, pool exhaustion, the iteration
// budget, or an unrecoverable error.
package refine

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/refine-engine/internal/dataset"
	"github.com/pdiddy/refine-engine/internal/interpret"
	"github.com/pdiddy/refine-engine/internal/model"
	"github.com/pdiddy/refine-engine/internal/pool"
	"github.com/pdiddy/refine-engine/pkg/types"
)

const (
	defaultK             = 3
	defaultMaxIterations = 5
)

// SentenceLookup resolves a PMID to its display sentence.
type SentenceLookup interface {
	Lookup(ctx context.Context, pmid string) (string, error)
}

// AuditSink receives one entry per model query. Implementations must be
// safe for concurrent appenders; entries are self-contained and keyed by
// record ID and iteration index.
type AuditSink interface {
	Append(entry types.IterationRecord) error
	RunID() string
}

// Runner refines records against the model backend. All fields are
// required except Config values, which fall back to defaults.
type Runner struct {
	Backend   model.Backend
	Sentences SentenceLookup
	Audit     AuditSink
	Config    types.RefineConfig
}

func (r *Runner) k() int {
	if r.Config.K > 0 {
		return r.Config.K
	}
	return defaultK
}

func (r *Runner) maxIterations() int {
	if r.Config.MaxIterations > 0 {
		return r.Config.MaxIterations
	}
	return defaultMaxIterations
}

// recordSeed derives a per-record draw seed so records stay deterministic
// under one configured seed regardless of worker scheduling. A zero base
// keeps the time-seeded behavior.
func recordSeed(base int64, recordID string) int64 {
	if base == 0 {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(recordID))
	return base ^ int64(h.Sum64())
}

// RunRecord refines a single record to a terminal state and writes the
// outcome onto rec.Result. The result always carries the last-known window
// and iteration count, even on error. Progress and warnings go to w.
func (r *Runner) RunRecord(ctx context.Context, rec *types.Record, w io.Writer) *types.RefineResult {
	k := r.k()
	maxIterations := r.maxIterations()
	p := pool.New(rec.PMIDs, recordSeed(r.Config.RandomSeed, rec.ID))

	iterations := 0
	done := func(reason types.TerminationReason, cause string) *types.RefineResult {
		result := &types.RefineResult{
			FinalContext: p.Window(),
			Iterations:   iterations,
			Reason:       reason,
			Cause:        cause,
		}
		rec.Result = result
		return result
	}

	// First fill. An empty universe has nothing to show the model.
	if initial := p.Draw(k); len(initial) == 0 {
		return done(types.ReasonPoolExhausted, "")
	}

	// queries counts model calls and indexes audit entries. It advances on
	// every query, including unparseable ones, so a misbehaving model
	// cannot loop past the budget. iterations counts only queries whose
	// responses produced a usable decision.
	for queries := 0; ; {
		if queries >= maxIterations {
			return done(types.ReasonMaxIterations, "")
		}
		if err := ctx.Err(); err != nil {
			return done(types.ReasonError, fmt.Sprintf("cancelled: %v", err))
		}

		window := p.Window()

		evidence, err := r.renderWindow(ctx, window)
		if err != nil {
			return done(types.ReasonError, err.Error())
		}

		prompt, err := model.RenderPrompt(rec.Subject, rec.Object, evidence)
		if err != nil {
			return done(types.ReasonError, fmt.Sprintf("rendering prompt: %v", err))
		}

		start := time.Now()
		response, err := r.Backend.Query(ctx, prompt)
		if err != nil {
			return done(types.ReasonError, err.Error())
		}

		decision := interpret.Interpret(response, window)

		entry := types.IterationRecord{
			RunID:     r.Audit.RunID(),
			RecordID:  rec.ID,
			Iteration: queries,
			Window:    window,
			ShortFill: len(window) < k,
			Prompt:    prompt,
			Response:  response,
			Decision:  decision.Kind,
			ElapsedMS: time.Since(start).Milliseconds(),
		}
		queries++

		switch decision.Kind {
		case types.DecisionNoChange:
			r.append(entry, w)
			iterations++
			return done(types.ReasonConverged, "")

		case types.DecisionUnparseable:
			// Soft failure: log the step, touch nothing, try again.
			r.append(entry, w)

		case types.DecisionEvict:
			// The interpreter only names window members, so a failure here
			// is a logic defect and the record aborts with nothing applied.
			if err := p.Evict(decision.Evict); err != nil {
				return done(types.ReasonError, err.Error())
			}
			entry.Evicted = decision.Evict

			if p.IsExhausted() {
				// No replacements exist for the vacated slots.
				r.append(entry, w)
				iterations++
				return done(types.ReasonPoolExhausted, "")
			}

			entry.Admitted = p.Draw(k - len(p.Window()))
			r.append(entry, w)
			iterations++
		}
	}
}

// renderWindow maps the window PMIDs to display sentences. A missing
// sentence is a data integrity gap and surfaces as an error.
func (r *Runner) renderWindow(ctx context.Context, window []string) ([]model.Evidence, error) {
	evidence := make([]model.Evidence, 0, len(window))
	for _, pmid := range window {
		text, err := r.Sentences.Lookup(ctx, pmid)
		if err != nil {
			return nil, fmt.Errorf("rendering window: %w", err)
		}
		evidence = append(evidence, model.Evidence{PMID: pmid, Text: text})
	}
	return evidence, nil
}

// append writes an audit entry. A sink failure is reported but does not
// roll back the in-memory pool state.
func (r *Runner) append(entry types.IterationRecord, w io.Writer) {
	if err := r.Audit.Append(entry); err != nil {
		fmt.Fprintf(w, "warning: audit append failed for %s/%d: %v\n", entry.RecordID, entry.Iteration, err)
	}
}

// Summary holds terminal-state counts from one batch run.
type Summary struct {
	Converged     int
	PoolExhausted int
	MaxIterations int
	Failed        int
}

// Total returns the number of records processed.
func (s Summary) Total() int {
	return s.Converged + s.PoolExhausted + s.MaxIterations + s.Failed
}

// HasFailures reports whether any record terminated with an error.
func (s Summary) HasFailures() bool {
	return s.Failed > 0
}

// RunAll refines every record in the dataset, up to Config.Workers records
// concurrently. Each record's run state is owned by exactly one goroutine;
// the audit sink and progress writer are the only shared resources. A
// record-level failure never aborts the others.
func (r *Runner) RunAll(ctx context.Context, ds *dataset.Dataset, w io.Writer) Summary {
	workers := r.Config.Workers
	if workers < 1 {
		workers = 1
	}

	sw := &syncWriter{w: w}
	total := len(ds.Records)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range ds.Records {
		rec := &ds.Records[i]
		n := i + 1
		g.Go(func() error {
			result := r.RunRecord(ctx, rec, sw)
			if result.Reason == types.ReasonError {
				fmt.Fprintf(sw, "failed  %s (%d/%d): %s\n", rec.ID, n, total, result.Cause)
			} else {
				fmt.Fprintf(sw, "%-14s %s (%d/%d) after %d iteration(s)\n", result.Reason, rec.ID, n, total, result.Iterations)
			}
			return nil
		})
	}
	g.Wait()

	var summary Summary
	for i := range ds.Records {
		result := ds.Records[i].Result
		if result == nil {
			continue
		}
		switch result.Reason {
		case types.ReasonConverged:
			summary.Converged++
		case types.ReasonPoolExhausted:
			summary.PoolExhausted++
		case types.ReasonMaxIterations:
			summary.MaxIterations++
		case types.ReasonError:
			summary.Failed++
		}
	}

	fmt.Fprintf(sw, "\nconverged: %d, pool_exhausted: %d, max_iterations: %d, failed: %d\n",
		summary.Converged, summary.PoolExhausted, summary.MaxIterations, summary.Failed)

	return summary
}

// syncWriter serializes progress writes from concurrent workers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
