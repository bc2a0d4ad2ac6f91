// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// HTTPConfig holds shared HTTP settings for stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "refine-engine/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// ModelConfig holds settings for the model endpoint collaborator.
type ModelConfig struct {
	HTTPConfig `yaml:",inline"`

	// BaseURL is the OpenAI-compatible endpoint base (e.g. a vLLM server,
	// "http://localhost:8000"). The chat completions path is appended.
	BaseURL string `json:"base_url" yaml:"base_url"`

	// Model is the model identifier passed to the endpoint.
	Model string `json:"model" yaml:"model"`

	// APIKey is an optional bearer token for the endpoint.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// MaxRetries bounds transport-level retries on rate-limit and transient
	// server errors (default 3). The refinement loop itself never retries.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// RefineConfig holds settings for the iterative context-refinement engine.
type RefineConfig struct {
	// K is the evidence window size per record (default 3).
	K int `json:"k" yaml:"k"`

	// MaxIterations is the per-record model query budget (default 5).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// RandomSeed makes candidate draws reproducible. Zero means derive a
	// seed from the current time.
	RandomSeed int64 `json:"random_seed" yaml:"random_seed"`

	// Workers bounds how many records are refined concurrently (default 1).
	Workers int `json:"workers" yaml:"workers"`
}

// SentencesConfig holds settings for the sentence lookup store.
type SentencesConfig struct {
	// DBPath is the SQLite database file (default "data/sentences.db").
	DBPath string `json:"db_path" yaml:"db_path"`
}

// AuditConfig holds settings for the audit log sink.
type AuditConfig struct {
	// Dir is the directory receiving per-run audit files (default "audit").
	Dir string `json:"dir" yaml:"dir"`
}

// EngineConfig groups all stage configurations.
type EngineConfig struct {
	Model     ModelConfig     `json:"model" yaml:"model"`
	Refine    RefineConfig    `json:"refine" yaml:"refine"`
	Sentences SentencesConfig `json:"sentences" yaml:"sentences"`
	Audit     AuditConfig     `json:"audit" yaml:"audit"`
}
