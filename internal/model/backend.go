// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package model invokes the language-model endpoint that judges evidence
// windows. The engine consumes the Backend interface; ChatBackend talks to
// any OpenAI-compatible chat completions server (vLLM serves this surface).
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/pdiddy/refine-engine/internal/httputil"
	"github.com/pdiddy/refine-engine/pkg/types"
)

// Backend abstracts the model endpoint so tests can supply a mock. Query
// sends one rendered prompt and returns the raw response text.
type Backend interface {
	Query(ctx context.Context, prompt string) (string, error)
}

const chatCompletionsPath = "/v1/chat/completions"

// ChatBackend calls an OpenAI-compatible chat completions endpoint.
type ChatBackend struct {
	// BaseURL is the endpoint base; the chat completions path is appended.
	BaseURL string

	// Model is the model identifier sent with each request.
	Model string

	// APIKey, when non-empty, is sent as a bearer token.
	APIKey string

	// MaxRetries bounds transport-level retries (0 means the httputil default).
	MaxRetries int

	// Client is the HTTP client; http.DefaultClient when nil.
	Client *http.Client

	// UserAgent overrides the User-Agent header when non-empty.
	UserAgent string
}

// chatRequest is the request body for the chat completions API.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// chatMessage is a single message in the conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatResponse is the response body from the chat completions API.
type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

// chatChoice is one completion choice.
type chatChoice struct {
	Message chatMessage `json:"message"`
}

// Query sends the prompt as a single user message and returns the
// assistant's reply. Transport failures, non-200 statuses, and empty
// completions all wrap types.ErrModelUnavailable.
func (b *ChatBackend) Query(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model: b.Model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimSuffix(b.BaseURL, "/") + chatCompletionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if b.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.APIKey)
	}
	if b.UserAgent != "" {
		req.Header.Set("User-Agent", b.UserAgent)
	}

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, b.MaxRetries)
	if err != nil {
		return "", fmt.Errorf("calling %s: %w: %v", url, types.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%s returned %d: %s: %w", url, resp.StatusCode, strings.TrimSpace(string(body)), types.ErrModelUnavailable)
	}

	var cResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return "", fmt.Errorf("decoding response: %w: %v", types.ErrModelUnavailable, err)
	}

	if len(cResp.Choices) == 0 {
		return "", fmt.Errorf("endpoint returned no completion choices: %w", types.ErrModelUnavailable)
	}

	return cResp.Choices[0].Message.Content, nil
}
