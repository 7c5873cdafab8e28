package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/passagehq/passage/internal/errdefs"
	"github.com/passagehq/passage/pkg/utils"
)

// OpenAIEmbedder calls an OpenAI-compatible /v1/embeddings endpoint. Ollama,
// vLLM, and the hosted OpenAI API all speak this shape. Returned vectors are
// L2-normalized before being handed to callers.
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
}

// OpenAIConfig configures the embedding adapter. APIKeyEnv names the
// environment variable holding the key; empty means no auth header (local
// servers). Dimensions must match the index's configured dimensionality.
type OpenAIConfig struct {
	BaseURL    string
	APIKeyEnv  string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder creates the adapter. It does not probe the service;
// the first Embed call surfaces connectivity problems.
func NewOpenAIEmbedder(cfg OpenAIConfig) *OpenAIEmbedder {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &OpenAIEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     apiKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
	}
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. Any failure aborts the whole batch;
// callers never receive a partial result.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", errdefs.ErrEmbeddingFailure, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", errdefs.ErrEmbeddingFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: embedding request: %v", errdefs.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: embedding request: %v", errdefs.ErrEmbeddingFailure, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", errdefs.ErrEmbeddingFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: embedding service returned status %d: %s",
			errdefs.ErrEmbeddingFailure, resp.StatusCode, utils.Truncate(string(body), 200))
	}
	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", errdefs.ErrEmbeddingFailure, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("%w: %s", errdefs.ErrEmbeddingFailure, parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", errdefs.ErrEmbeddingFailure, len(parsed.Data), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", errdefs.ErrEmbeddingFailure, d.Index)
		}
		if e.dimensions > 0 && len(d.Embedding) != e.dimensions {
			return nil, fmt.Errorf("%w: service returned %d dimensions, configured for %d",
				errdefs.ErrEmbeddingFailure, len(d.Embedding), e.dimensions)
		}
		utils.NormalizeL2(d.Embedding)
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, fmt.Errorf("%w: missing embedding for input %d", errdefs.ErrEmbeddingFailure, i)
		}
	}
	return vecs, nil
}

// Dimensions returns the configured embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for the HTTP adapter.
func (e *OpenAIEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
