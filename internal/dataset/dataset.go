// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package dataset loads and saves the tabular record files the engine
// refines. A dataset is a YAML file with a records list; results are
// written back onto the records and saved alongside the inputs.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/refine-engine/pkg/types"
)

// Dataset is the on-disk document: a list of records.
type Dataset struct {
	Records []types.Record `json:"records" yaml:"records"`
}

// Load reads a dataset YAML file and validates that every record carries
// an identifier and that identifiers are unique.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}

	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing dataset %s: %w", path, err)
	}

	seen := make(map[string]bool, len(ds.Records))
	for i, rec := range ds.Records {
		if rec.ID == "" {
			return nil, fmt.Errorf("dataset %s: record %d has no id", path, i)
		}
		if seen[rec.ID] {
			return nil, fmt.Errorf("dataset %s: duplicate record id %q", path, rec.ID)
		}
		seen[rec.ID] = true
	}

	return &ds, nil
}

// Save writes the dataset to path as YAML, creating parent directories
// as needed.
func Save(path string, ds *Dataset) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
	}

	data, err := yaml.Marshal(ds)
	if err != nil {
		return fmt.Errorf("marshaling dataset: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing dataset: %w", err)
	}
	return nil
}
