package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/vecsync/pkg/utils"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIEmbedder embeds text through an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      string
	dimensions int
	batchSize  int
	cache      *EmbeddingCache
	logger     *zap.Logger
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*OpenAIEmbedder)

// WithOpenAILogger sets the logger for request-level debug logs.
func WithOpenAILogger(l *zap.Logger) OpenAIOption {
	return func(e *OpenAIEmbedder) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewOpenAIEmbedder creates an embedder for model. An empty baseURL uses the OpenAI API.
// Every returned vector must have exactly dimensions components.
func NewOpenAIEmbedder(apiKey, baseURL, model string, dimensions, batchSize, cacheSize int, opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key not set")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dimensions)
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	e := &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      model,
		dimensions: dimensions,
		batchSize:  batchSize,
		cache:      NewEmbeddingCache(cacheSize),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed returns the embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		var embErr *EmbeddingError
		if errors.As(err, &embErr) {
			return nil, &EmbeddingError{Index: -1, Err: embErr.Err}
		}
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in order, sending at most batchSize inputs per request.
// Cached texts are not sent. The batch fails as a whole if any request fails.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var pending []int
	for i, text := range texts {
		if text == "" {
			return nil, &EmbeddingError{Index: i, Err: errEmptyText}
		}
		if cached, ok := e.cache.Get(text); ok {
			out[i] = cached
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += e.batchSize {
		end := start + e.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := e.request(ctx, texts, pending[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// request embeds texts[positions...] in one API call and stores results into out.
func (e *OpenAIEmbedder) request(ctx context.Context, texts []string, positions []int, out [][]float32) error {
	input := make([]string, len(positions))
	for j, p := range positions {
		input[j] = texts[p]
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: input,
	})
	if err != nil {
		return &EmbeddingError{Index: -1, Err: fmt.Errorf("openai api: %w", err)}
	}
	if len(resp.Data) != len(input) {
		return &EmbeddingError{Index: -1, Err: fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(input))}
	}
	e.logger.Debug("embeddings request",
		zap.String("model", e.model),
		zap.Int("inputs", len(input)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens))

	got := make([][]float32, len(input))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(input) || got[d.Index] != nil {
			return &EmbeddingError{Index: -1, Err: fmt.Errorf("invalid embedding index %d in response", d.Index)}
		}
		v := make([]float32, len(d.Embedding))
		for k := range d.Embedding {
			v[k] = float32(d.Embedding[k])
		}
		utils.NormalizeL2(v)
		got[d.Index] = v
	}
	if err := checkBatch(got, len(input), e.dimensions); err != nil {
		var embErr *EmbeddingError
		if errors.As(err, &embErr) && embErr.Index >= 0 {
			embErr.Index = positions[embErr.Index]
		}
		return err
	}
	for j, p := range positions {
		out[p] = got[j]
		e.cache.Set(texts[p], got[j])
	}
	return nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
