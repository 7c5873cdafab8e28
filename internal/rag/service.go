// Package rag implements the query side: retrieval over the vector index
// and grounded answer generation.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/passagehq/passage/internal/config"
	"github.com/passagehq/passage/internal/embedding"
	"github.com/passagehq/passage/internal/errdefs"
	"github.com/passagehq/passage/internal/generate"
	"github.com/passagehq/passage/internal/models"
	"github.com/passagehq/passage/internal/registry"
	"github.com/passagehq/passage/internal/vector"
)

// retryBaseDelay is the backoff unit between search retries.
const retryBaseDelay = 100 * time.Millisecond

// Service answers queries against the index. Retrieval embeds the query,
// searches the backend, and materializes hits; Answer additionally assembles
// a context-bounded prompt and calls the generator.
type Service struct {
	index     vector.Index
	embedder  embedding.Embedder
	generator generate.Generator
	registry  *registry.Registry
	retrieval config.RetrievalConfig
	genCfg    config.GeneratorConfig
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a query service. The generator may be nil when only
// retrieval is needed; Answer then always runs in retrieve-only mode.
func NewService(index vector.Index, embedder embedding.Embedder, generator generate.Generator, reg *registry.Registry, retrieval config.RetrievalConfig, genCfg config.GeneratorConfig, opts ...Option) *Service {
	s := &Service{
		index:     index,
		embedder:  embedder,
		generator: generator,
		registry:  reg,
		retrieval: retrieval,
		genCfg:    genCfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryOptions control a single Answer call. Zero values fall back to the
// configured defaults; Generate must be set explicitly.
type QueryOptions struct {
	// K is the number of passages to retrieve. Zero means the configured
	// default; values above the configured maximum are clamped.
	K int
	// Generate enables answer generation. When false only retrieval runs
	// and AnswerResult.Answer stays nil.
	Generate bool
	// MaxTokens overrides the configured generation token limit when positive.
	MaxTokens int
}

// Retrieve embeds the query and returns the top k passages. k <= 0 selects
// the configured default; k above the configured maximum is clamped. Search
// calls are retried a bounded number of times when the backend is
// unreachable or times out; other failures surface immediately.
func (s *Service) Retrieve(ctx context.Context, query string, k int) ([]models.SearchHit, error) {
	k = s.clampK(k)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", errdefs.ErrConfiguration)
	}
	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.searchWithRetry(ctx, queryVec, k)
	if err != nil {
		return nil, err
	}
	results := make([]models.SearchHit, len(hits))
	for i, h := range hits {
		results[i] = models.SearchHit{
			PointID:    h.PointID,
			Score:      h.Score,
			DocumentID: h.Payload.DocumentID,
			ChunkIndex: h.Payload.ChunkIndex,
			Text:       h.Payload.Text,
		}
	}
	return results, nil
}

func (s *Service) clampK(k int) int {
	if k <= 0 {
		k = s.retrieval.DefaultK
	}
	if s.retrieval.MaxK > 0 && k > s.retrieval.MaxK {
		k = s.retrieval.MaxK
	}
	return k
}

// searchWithRetry retries transient backend failures with linear backoff.
// Dimension mismatches and other permanent errors are not retried.
func (s *Service) searchWithRetry(ctx context.Context, queryVec []float32, k int) ([]vector.Hit, error) {
	var lastErr error
	attempts := 1 + s.retrieval.ReadRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if s.logger != nil {
				s.logger.Debug("retrying search",
					zap.Int("attempt", attempt+1),
					zap.Error(lastErr))
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryBaseDelay * time.Duration(attempt)):
			}
		}
		hits, err := s.index.Search(ctx, queryVec, k)
		if err == nil {
			return hits, nil
		}
		lastErr = err
		if !errors.Is(err, errdefs.ErrBackendUnavailable) && !errors.Is(err, errdefs.ErrTimeout) {
			return nil, err
		}
	}
	return nil, lastErr
}

// Answer retrieves passages for the query and, when opts.Generate is set,
// generates a grounded answer from them. Retrieval failures return a nil
// result. A generation failure still returns the retrieved sources together
// with the error, so callers can show what was found.
func (s *Service) Answer(ctx context.Context, query string, opts QueryOptions) (*models.AnswerResult, error) {
	start := time.Now()
	hits, err := s.Retrieve(ctx, query, opts.K)
	if err != nil {
		return nil, err
	}
	result := &models.AnswerResult{
		Sources:     hits,
		UsedSources: len(hits),
	}
	if !opts.Generate || s.generator == nil {
		result.QueryTimeMS = time.Since(start).Milliseconds()
		return result, nil
	}

	prompt, used := s.buildPrompt(query, hits)
	result.UsedSources = used
	result.ContextTruncated = used < len(hits)
	if s.logger != nil && result.ContextTruncated {
		s.logger.Debug("context truncated",
			zap.Int("retrieved", len(hits)),
			zap.Int("used", used))
	}

	maxTokens := s.genCfg.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	answer, err := s.generator.Generate(ctx, prompt, maxTokens)
	result.QueryTimeMS = time.Since(start).Milliseconds()
	if err != nil {
		return result, fmt.Errorf("generate answer: %w", err)
	}
	result.Answer = &answer
	return result, nil
}

// promptPreamble instructs the model to stay inside the retrieved context.
const promptPreamble = "You are a helpful assistant. Answer the question using ONLY the provided context. If the answer is not in the context, reply exactly: I don't know."

// buildPrompt assembles the generation prompt from the longest prefix of
// hits whose combined token estimate fits the context budget. Passages are
// dropped whole, never split; a first passage that alone exceeds the budget
// yields a zero-context prompt rather than an error, and the prompt still
// carries the question so the model can answer from it alone. Returns the
// prompt and how many passages were included.
func (s *Service) buildPrompt(query string, hits []models.SearchHit) (string, int) {
	budget := s.genCfg.ContextTokens
	var b strings.Builder
	b.WriteString(promptPreamble)
	b.WriteString("\n\nContext:\n")

	used := 0
	spent := 0
	for _, h := range hits {
		cost := estimateTokens(h.Text)
		if budget > 0 && spent+cost > budget {
			break
		}
		fmt.Fprintf(&b, "[%d] %s\n", used+1, h.Text)
		spent += cost
		used++
	}
	if used == 0 {
		b.WriteString("(no relevant context found)\n")
	}

	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	b.WriteString("\nAnswer:")
	return b.String(), used
}

// estimateTokens approximates the token count of text. Subword tokenizers
// average roughly 0.75 words per token for English prose.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
}

// Health probes the vector backend and reports its status with the probe
// latency.
func (s *Service) Health(ctx context.Context) *models.HealthStatus {
	start := time.Now()
	desc := s.index.Describe(ctx)
	return &models.HealthStatus{
		Backend:    desc.Backend,
		Alive:      desc.Alive,
		PointCount: desc.PointCount,
		Dimensions: desc.Dimensions,
		LatencyMS:  time.Since(start).Milliseconds(),
	}
}

// Clear removes every point from the index and every record from the
// document registry.
func (s *Service) Clear(ctx context.Context) (*models.ClearResult, error) {
	if err := s.index.Clear(ctx); err != nil {
		return nil, fmt.Errorf("clear index: %w", err)
	}
	if s.registry != nil {
		if err := s.registry.Clear(ctx); err != nil {
			return nil, fmt.Errorf("clear registry: %w", err)
		}
	}
	desc := s.index.Describe(ctx)
	if s.logger != nil {
		s.logger.Info("index cleared", zap.String("backend", desc.Backend))
	}
	return &models.ClearResult{OK: true, Backend: desc.Backend, Reset: true}, nil
}
