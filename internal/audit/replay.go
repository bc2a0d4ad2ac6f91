// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package audit

import (
	"fmt"
	"sort"
)

// Partition is a reconstructed candidate partition for one record: the
// evidence window in presentation order, plus the available and exhausted
// sets sorted for stable comparison.
type Partition struct {
	Window    []string `json:"window" yaml:"window"`
	Available []string `json:"available" yaml:"available"`
	Exhausted []string `json:"exhausted" yaml:"exhausted"`
}

// Replay reconstructs the final candidate partition for one record by
// applying its audit entries, in iteration order, to the given candidate
// universe. Entries are self-describing (window at query time, evictions,
// admissions), so replay needs no random seed: it verifies that the log
// alone determines the final partition.
func Replay(path, recordID string, universe []string) (*Partition, error) {
	entries, err := ReadEntries(path, recordID)
	if err != nil {
		return nil, err
	}

	available := make(map[string]bool, len(universe))
	for _, pmid := range universe {
		available[pmid] = true
	}
	exhausted := make(map[string]bool)
	var window []string
	inWindow := make(map[string]bool)

	lastIteration := -1
	for _, entry := range entries {
		if entry.Iteration <= lastIteration {
			return nil, fmt.Errorf("record %s: iteration %d out of order (last %d)", recordID, entry.Iteration, lastIteration)
		}
		lastIteration = entry.Iteration

		// The logged window is authoritative for query time: admit any
		// member not yet seen (covers the initial fill).
		for _, pmid := range entry.Window {
			if inWindow[pmid] {
				continue
			}
			if !available[pmid] {
				return nil, fmt.Errorf("record %s iteration %d: window pmid %s not available", recordID, entry.Iteration, pmid)
			}
			delete(available, pmid)
			inWindow[pmid] = true
			window = append(window, pmid)
		}

		for _, pmid := range entry.Evicted {
			if !inWindow[pmid] {
				return nil, fmt.Errorf("record %s iteration %d: evicted pmid %s not in window", recordID, entry.Iteration, pmid)
			}
			delete(inWindow, pmid)
			exhausted[pmid] = true
			window = removePMID(window, pmid)
		}

		for _, pmid := range entry.Admitted {
			if inWindow[pmid] {
				continue
			}
			if !available[pmid] {
				return nil, fmt.Errorf("record %s iteration %d: admitted pmid %s not available", recordID, entry.Iteration, pmid)
			}
			delete(available, pmid)
			inWindow[pmid] = true
			window = append(window, pmid)
		}
	}

	return &Partition{
		Window:    window,
		Available: sortedKeys(available),
		Exhausted: sortedKeys(exhausted),
	}, nil
}

func removePMID(window []string, pmid string) []string {
	kept := window[:0]
	for _, w := range window {
		if w != pmid {
			kept = append(kept, w)
		}
	}
	return kept
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
