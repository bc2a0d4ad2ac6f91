// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/refine-engine/internal/audit"
	"github.com/pdiddy/refine-engine/internal/dataset"
	"github.com/pdiddy/refine-engine/internal/model"
	"github.com/pdiddy/refine-engine/internal/refine"
	"github.com/pdiddy/refine-engine/internal/sentences"
	"github.com/pdiddy/refine-engine/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Refine every record in a dataset against the model endpoint",
	Long: `Run loads an entity-pair dataset, refines each record's evidence window
against the model endpoint, and writes the dataset back with per-record
results (final context, iteration count, termination reason).

Each model exchange is appended to a fresh audit log under the audit
directory. Records are independent; use --workers to refine several at
once against a batched endpoint.`,
	RunE: runRefine,
}

func runRefine(cmd *cobra.Command, args []string) error {
	datasetPath, _ := cmd.Flags().GetString("dataset")
	outputPath, _ := cmd.Flags().GetString("output")
	if outputPath == "" {
		outputPath = datasetPath
	}

	cfg := engineConfigFromFlags(cmd)

	ds, err := dataset.Load(datasetPath)
	if err != nil {
		return err
	}

	store, err := sentences.Open(cfg.Sentences.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	log, err := audit.NewLog(cfg.Audit.Dir)
	if err != nil {
		return err
	}
	defer log.Close()

	backend := &model.ChatBackend{
		BaseURL:    cfg.Model.BaseURL,
		Model:      cfg.Model.Model,
		APIKey:     cfg.Model.APIKey,
		MaxRetries: cfg.Model.MaxRetries,
		Client:     &http.Client{Timeout: cfg.Model.Timeout},
		UserAgent:  cfg.Model.UserAgent,
	}

	runner := &refine.Runner{
		Backend:   backend,
		Sentences: store,
		Audit:     log,
		Config:    cfg.Refine,
	}

	fmt.Fprintf(os.Stderr, "run %s: %d record(s), window %d, budget %d\n",
		log.RunID(), len(ds.Records), cfg.Refine.K, cfg.Refine.MaxIterations)
	fmt.Fprintf(os.Stderr, "audit log: %s\n\n", log.Path())

	summary := runner.RunAll(context.Background(), ds, os.Stdout)

	if err := dataset.Save(outputPath, ds); err != nil {
		return fmt.Errorf("saving results: %w", err)
	}
	fmt.Fprintf(os.Stderr, "results written to %s\n", outputPath)

	if summary.HasFailures() {
		return fmt.Errorf("%d record(s) failed", summary.Failed)
	}
	return nil
}

// engineConfigFromFlags assembles the run configuration from flags, with
// the model API key falling back to the loaded secrets.
func engineConfigFromFlags(cmd *cobra.Command) types.EngineConfig {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	modelURL, _ := cmd.Flags().GetString("model-url")
	modelName, _ := cmd.Flags().GetString("model")
	apiKey, _ := cmd.Flags().GetString("model-api-key")
	maxRetries, _ := cmd.Flags().GetInt("max-retries")
	k, _ := cmd.Flags().GetInt("k")
	maxIterations, _ := cmd.Flags().GetInt("max-iterations")
	seed, _ := cmd.Flags().GetInt64("seed")
	workers, _ := cmd.Flags().GetInt("workers")
	dbPath, _ := cmd.Flags().GetString("sentences-db")
	auditDir, _ := cmd.Flags().GetString("audit-dir")

	return types.EngineConfig{
		Model: types.ModelConfig{
			HTTPConfig: types.HTTPConfig{
				Timeout:   timeout,
				UserAgent: "refine-engine/" + version,
			},
			BaseURL:    modelURL,
			Model:      modelName,
			APIKey:     secretDefault("model-api-key", apiKey),
			MaxRetries: maxRetries,
		},
		Refine: types.RefineConfig{
			K:             k,
			MaxIterations: maxIterations,
			RandomSeed:    seed,
			Workers:       workers,
		},
		Sentences: types.SentencesConfig{DBPath: dbPath},
		Audit:     types.AuditConfig{Dir: auditDir},
	}
}

func init() {
	runCmd.Flags().String("dataset", "data/dataset.yaml", "entity-pair dataset to refine (YAML)")
	runCmd.Flags().String("output", "", "output path for the refined dataset (default: overwrite --dataset)")
	runCmd.Flags().Int("k", 3, "evidence window size per record")
	runCmd.Flags().Int("max-iterations", 5, "per-record model query budget")
	runCmd.Flags().Int64("seed", 0, "random seed for candidate draws (0: derive from time)")
	runCmd.Flags().Int("workers", 1, "records refined concurrently")
	runCmd.Flags().String("model-url", "http://localhost:8000", "OpenAI-compatible endpoint base URL")
	runCmd.Flags().String("model", "", "model identifier passed to the endpoint")
	runCmd.Flags().String("model-api-key", "", "bearer token for the endpoint (default: .secrets/model-api-key)")
	runCmd.Flags().Int("max-retries", 0, "transport retries on rate-limit and transient errors")
	runCmd.Flags().Duration("timeout", 120*time.Second, "HTTP request timeout per model query")
	runCmd.Flags().String("sentences-db", "data/sentences.db", "SQLite sentence store")
	runCmd.Flags().String("audit-dir", "audit", "directory receiving per-run audit logs")

	rootCmd.AddCommand(runCmd)
}
