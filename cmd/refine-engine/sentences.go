// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/refine-engine/internal/sentences"
)

var sentencesCmd = &cobra.Command{
	Use:   "sentences",
	Short: "Manage the PMID sentence store (import, lookup, count)",
	Long: `Sentences manages the local SQLite store mapping PMIDs to their display
sentences. The refinement loop resolves every window PMID through this
store, so import the sentence corpus before running.`,
}

// --- import subcommand ---

var sentencesImportCmd = &cobra.Command{
	Use:   "import [file.jsonl]",
	Short: "Ingest a JSONL sentence corpus into the store",
	Long: `Import reads JSON lines with "pmid" and "text" fields and upserts them
into the sentence store. Malformed or incomplete lines are skipped and
reported; re-importing a PMID replaces its sentence.`,
	Args: cobra.ExactArgs(1),
	RunE: runSentencesImport,
}

func runSentencesImport(cmd *cobra.Command, args []string) error {
	store, err := openSentenceStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening corpus: %w", err)
	}
	defer f.Close()

	summary, err := store.ImportJSONL(context.Background(), f, os.Stdout)
	if err != nil {
		return err
	}
	if summary.Imported == 0 {
		return fmt.Errorf("no sentences imported from %s", args[0])
	}
	return nil
}

// --- lookup subcommand ---

var sentencesLookupCmd = &cobra.Command{
	Use:   "lookup [pmid]",
	Short: "Print the stored sentence for a PMID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSentenceStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		text, err := store.Lookup(context.Background(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(text)
		return nil
	},
}

// --- count subcommand ---

var sentencesCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of stored sentences",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openSentenceStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Count(context.Background())
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	},
}

func openSentenceStore(cmd *cobra.Command) (*sentences.Store, error) {
	dbPath, _ := cmd.Flags().GetString("db")
	return sentences.Open(dbPath)
}

func init() {
	sentencesCmd.PersistentFlags().String("db", "data/sentences.db", "SQLite sentence store")

	sentencesCmd.AddCommand(sentencesImportCmd)
	sentencesCmd.AddCommand(sentencesLookupCmd)
	sentencesCmd.AddCommand(sentencesCountCmd)
	rootCmd.AddCommand(sentencesCmd)
}
