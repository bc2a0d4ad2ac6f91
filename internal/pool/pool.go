// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pool tracks the per-record partition of candidate PMIDs into the
// evidence window, the available pool, and the exhausted set. The three sets
// are disjoint and together always equal the record's full candidate
// universe.
package pool

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/pdiddy/refine-engine/pkg/types"
)

// Pool owns the candidate partition for one record. It is not safe for
// concurrent use; each record's pool belongs to exactly one worker.
type Pool struct {
	window    []string // presentation order, oldest admission first
	windowSet map[string]bool
	available []string
	exhausted []string
	rng       *rand.Rand
}

// New seeds a pool with the full candidate universe in the available set.
// Duplicate PMIDs in the universe are dropped.
//
// Draws are uniform without replacement. A non-zero seed makes the draw
// order reproducible; a zero seed derives one from the current time.
func New(pmids []string, seed int64) *Pool {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	seen := make(map[string]bool, len(pmids))
	available := make([]string, 0, len(pmids))
	for _, pmid := range pmids {
		if seen[pmid] {
			continue
		}
		seen[pmid] = true
		available = append(available, pmid)
	}

	return &Pool{
		windowSet: make(map[string]bool),
		available: available,
		rng:       rand.New(rand.NewSource(seed)),
	}
}

// Draw moves up to n PMIDs from the available set into the window and
// returns them in admission order. When fewer than n remain, all of them
// are moved and the short result is returned; the caller detects the
// under-fill by the slice length.
func (p *Pool) Draw(n int) []string {
	drawn := make([]string, 0, n)
	for len(drawn) < n && len(p.available) > 0 {
		i := p.rng.Intn(len(p.available))
		pmid := p.available[i]
		p.available[i] = p.available[len(p.available)-1]
		p.available = p.available[:len(p.available)-1]

		p.window = append(p.window, pmid)
		p.windowSet[pmid] = true
		drawn = append(drawn, pmid)
	}
	return drawn
}

// Evict moves the given PMIDs from the window into the exhausted set.
// Every PMID must currently be in the window; otherwise nothing is moved
// and the error wraps types.ErrInvalidEviction.
func (p *Pool) Evict(pmids []string) error {
	for _, pmid := range pmids {
		if !p.windowSet[pmid] {
			return fmt.Errorf("pmid %s: %w", pmid, types.ErrInvalidEviction)
		}
	}

	evict := make(map[string]bool, len(pmids))
	for _, pmid := range pmids {
		evict[pmid] = true
	}

	kept := p.window[:0]
	for _, pmid := range p.window {
		if evict[pmid] {
			delete(p.windowSet, pmid)
			p.exhausted = append(p.exhausted, pmid)
			continue
		}
		kept = append(kept, pmid)
	}
	p.window = kept
	return nil
}

// IsExhausted reports whether the available set is empty, meaning no
// replacements remain for future evictions.
func (p *Pool) IsExhausted() bool {
	return len(p.available) == 0
}

// Window returns a copy of the current evidence window in presentation order.
func (p *Pool) Window() []string {
	return append([]string(nil), p.window...)
}

// Available returns a copy of the PMIDs still available to draw.
func (p *Pool) Available() []string {
	return append([]string(nil), p.available...)
}

// Exhausted returns a copy of the PMIDs already tried and rejected.
func (p *Pool) Exhausted() []string {
	return append([]string(nil), p.exhausted...)
}

// Size returns the candidate universe size.
func (p *Pool) Size() int {
	return len(p.window) + len(p.available) + len(p.exhausted)
}
