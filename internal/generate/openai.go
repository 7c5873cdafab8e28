package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/passagehq/passage/internal/errdefs"
	"github.com/passagehq/passage/pkg/utils"
)

// OpenAIGenerator calls an OpenAI-compatible /v1/completions endpoint with
// temperature zero, so retrieval-grounded answers stay reproducible.
type OpenAIGenerator struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// OpenAIConfig configures the generation adapter. APIKeyEnv names the
// environment variable holding the key; empty means no auth header.
type OpenAIConfig struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

type completionRequest struct {
	Model       string   `json:"model"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIGenerator creates the adapter.
func NewOpenAIGenerator(cfg OpenAIConfig) *OpenAIGenerator {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &OpenAIGenerator{
		baseURL: cfg.BaseURL,
		apiKey:  apiKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}
}

// Generate returns the completion text for prompt, capped at maxTokens.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	payload, err := json.Marshal(completionRequest{
		Model:     g.model,
		Prompt:    prompt,
		MaxTokens: maxTokens,
		Stop:      []string{"\nQuestion:"},
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %v", errdefs.ErrGenerationFailure, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", errdefs.ErrGenerationFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return "", fmt.Errorf("%w: completion request: %v", errdefs.ErrTimeout, err)
		}
		return "", fmt.Errorf("%w: completion request: %v", errdefs.ErrGenerationFailure, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", errdefs.ErrGenerationFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: completion service returned status %d: %s",
			errdefs.ErrGenerationFailure, resp.StatusCode, utils.Truncate(string(body), 200))
	}
	var parsed completionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", errdefs.ErrGenerationFailure, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", errdefs.ErrGenerationFailure, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: completion service returned no choices", errdefs.ErrGenerationFailure)
	}
	return strings.TrimSpace(parsed.Choices[0].Text), nil
}

// Close is a no-op for the HTTP adapter.
func (g *OpenAIGenerator) Close() error {
	g.client.CloseIdleConnections()
	return nil
}
