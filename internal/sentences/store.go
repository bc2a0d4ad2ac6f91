// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package sentences persists the PMID-to-sentence lookup table backing
// evidence window rendering.
package sentences

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/refine-engine/pkg/types"
)

// Store manages the sentence SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the sentence database at dbPath, creating parent
// directories and the schema as needed.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS sentences (
		pmid TEXT PRIMARY KEY,
		text TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("executing schema statement: %w", err)
	}
	return nil
}

// Lookup returns the display sentence for a PMID. A missing entry wraps
// types.ErrMissingSentence: the engine treats it as a data integrity gap,
// not an expected runtime condition.
func (s *Store) Lookup(ctx context.Context, pmid string) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT text FROM sentences WHERE pmid = ?`, pmid,
	).Scan(&text)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("pmid %s: %w", pmid, types.ErrMissingSentence)
	}
	if err != nil {
		return "", fmt.Errorf("querying pmid %s: %w", pmid, err)
	}
	return text, nil
}

// Count returns the number of stored sentences.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM sentences`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting sentences: %w", err)
	}
	return n, nil
}

// ImportSummary holds counts from one JSONL import run.
type ImportSummary struct {
	Imported int
	Skipped  int
}

// Total returns the number of lines processed.
func (s ImportSummary) Total() int {
	return s.Imported + s.Skipped
}

// sentenceLine is one JSONL import record.
type sentenceLine struct {
	PMID string `json:"pmid"`
	Text string `json:"text"`
}

// ImportJSONL ingests sentence records from r, one JSON object per line
// with "pmid" and "text" fields. Malformed lines and lines with empty
// fields are counted as skipped and reported on w; valid lines upsert.
// The whole import runs in one transaction.
func (s *Store) ImportJSONL(ctx context.Context, r io.Reader, w io.Writer) (ImportSummary, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO sentences (pmid, text) VALUES (?, ?)`)
	if err != nil {
		return ImportSummary{}, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	var summary ImportSummary
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec sentenceLine
		if err := json.Unmarshal(line, &rec); err != nil {
			fmt.Fprintf(w, "skipped line %d: parse error: %v\n", lineNo, err)
			summary.Skipped++
			continue
		}
		if rec.PMID == "" || rec.Text == "" {
			fmt.Fprintf(w, "skipped line %d: empty pmid or text\n", lineNo)
			summary.Skipped++
			continue
		}

		if _, err := stmt.ExecContext(ctx, rec.PMID, rec.Text); err != nil {
			return summary, fmt.Errorf("inserting pmid %s: %w", rec.PMID, err)
		}
		summary.Imported++
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("reading input: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return summary, fmt.Errorf("committing import: %w", err)
	}

	fmt.Fprintf(w, "\nimported: %d, skipped: %d\n", summary.Imported, summary.Skipped)
	return summary, nil
}
