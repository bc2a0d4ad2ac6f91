// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package audit writes the append-only iteration log: one JSONL file per
// engine run, one self-contained entry per model query. Entries are keyed
// by record ID and iteration index, so ordering across records is
// irrelevant and concurrent workers can share one log.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/pdiddy/refine-engine/pkg/types"
)

// Log is an append-only JSONL audit sink. Safe for concurrent appenders.
type Log struct {
	mu    sync.Mutex
	f     *os.File
	enc   *json.Encoder
	path  string
	runID string
}

// NewLog creates a fresh audit file under dir, named after a new run ID.
func NewLog(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	runID := uuid.New().String()
	path := filepath.Join(dir, fmt.Sprintf("refine_audit_%s.jsonl", runID))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating audit file: %w", err)
	}

	return &Log{
		f:     f,
		enc:   json.NewEncoder(f),
		path:  path,
		runID: runID,
	}, nil
}

// Append writes one iteration entry. Entries are never rewritten; a write
// failure is surfaced to the caller but leaves prior entries intact.
func (l *Log) Append(entry types.IterationRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.enc.Encode(entry); err != nil {
		return fmt.Errorf("appending audit entry %s/%d: %w", entry.RecordID, entry.Iteration, err)
	}
	return nil
}

// RunID returns the run identifier stamped on every entry.
func (l *Log) RunID() string {
	return l.runID
}

// Path returns the audit file location.
func (l *Log) Path() string {
	return l.path
}

// Close flushes and closes the audit file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// ReadEntries loads all entries for one record from an audit file, in file
// order. An empty recordID loads every entry.
func ReadEntries(path, recordID string) ([]types.IterationRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading audit file: %w", err)
	}

	var entries []types.IterationRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var entry types.IterationRecord
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("parsing audit file %s: %w", path, err)
		}
		if recordID == "" || entry.RecordID == recordID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
