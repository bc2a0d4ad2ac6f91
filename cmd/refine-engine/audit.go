// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/refine-engine/internal/audit"
	"github.com/pdiddy/refine-engine/internal/dataset"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and replay per-run audit logs",
	Long: `Audit works with the JSONL logs written during refinement runs. Use
show to dump a record's model exchanges, or replay to reconstruct a
record's final window, remaining candidates, and rejected PMIDs from
the log alone.`,
}

// --- show subcommand ---

var auditShowCmd = &cobra.Command{
	Use:   "show [log.jsonl]",
	Short: "Print the logged model exchanges for a record",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditShow,
}

func runAuditShow(cmd *cobra.Command, args []string) error {
	recordID, _ := cmd.Flags().GetString("record")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	entries, err := audit.ReadEntries(args[0], recordID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no entries for record %q in %s", recordID, args[0])
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, e := range entries {
		fmt.Printf("%s iteration %d (%s, %dms)\n", e.RecordID, e.Iteration, e.Decision, e.ElapsedMS)
		fmt.Printf("  window:   %s\n", strings.Join(e.Window, " "))
		if len(e.Evicted) > 0 {
			fmt.Printf("  evicted:  %s\n", strings.Join(e.Evicted, " "))
		}
		if len(e.Admitted) > 0 {
			fmt.Printf("  admitted: %s\n", strings.Join(e.Admitted, " "))
		}
	}
	return nil
}

// --- replay subcommand ---

var auditReplayCmd = &cobra.Command{
	Use:   "replay [log.jsonl]",
	Short: "Reconstruct a record's final context from an audit log",
	Long: `Replay applies a record's logged evictions and admissions to its
candidate universe, taken from the dataset, and prints the resulting
window, remaining candidates, and rejected PMIDs. The reconstruction
uses only the log; the model is never contacted.`,
	Args: cobra.ExactArgs(1),
	RunE: runAuditReplay,
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	recordID, _ := cmd.Flags().GetString("record")
	datasetPath, _ := cmd.Flags().GetString("dataset")
	if recordID == "" {
		return fmt.Errorf("--record is required")
	}

	ds, err := dataset.Load(datasetPath)
	if err != nil {
		return err
	}

	var universe []string
	for _, rec := range ds.Records {
		if rec.ID == recordID {
			universe = rec.PMIDs
			break
		}
	}
	if universe == nil {
		return fmt.Errorf("record %q not found in %s", recordID, datasetPath)
	}

	part, err := audit.Replay(args[0], recordID, universe)
	if err != nil {
		return err
	}

	fmt.Printf("window:    %s\n", strings.Join(part.Window, " "))
	fmt.Printf("available: %s\n", strings.Join(part.Available, " "))
	fmt.Printf("rejected:  %s\n", strings.Join(part.Exhausted, " "))
	return nil
}

func init() {
	auditShowCmd.Flags().String("record", "", "record ID filter (default: all records)")
	auditShowCmd.Flags().Bool("json", false, "output entries as JSON")

	auditReplayCmd.Flags().String("record", "", "record ID to reconstruct")
	auditReplayCmd.Flags().String("dataset", "data/dataset.yaml", "dataset supplying the record's candidate universe")

	auditCmd.AddCommand(auditShowCmd)
	auditCmd.AddCommand(auditReplayCmd)
	rootCmd.AddCommand(auditCmd)
}
