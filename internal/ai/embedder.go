package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrDimensionMismatch means the provider returned vectors of a different
// size than the vector store was created with. It is a configuration error.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

type EmbeddingConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
}

// Embedder calls an OpenAI-compatible embeddings endpoint through langchaingo.
type Embedder struct {
	embedder  embeddings.Embedder
	dimension int
}

func NewEmbedder(cfg EmbeddingConfig) (*Embedder, error) {
	token := cfg.APIKey
	if token == "" {
		// local OpenAI-compatible servers accept any token
		token = "none"
	}
	client, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("create embedding client failed: %w", err)
	}
	return newEmbedder(client, cfg.Dimension)
}

func newEmbedder(client embeddings.EmbedderClient, dimension int) (*Embedder, error) {
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create embedder failed: %w", err)
	}
	return &Embedder{embedder: embedder, dimension: dimension}, nil
}

func (e *Embedder) Dimension() int {
	return e.dimension
}

func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query failed: %w", err)
	}
	if err := e.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents failed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for _, vec := range vecs {
		if err := e.checkDimension(vec); err != nil {
			return nil, err
		}
	}
	return vecs, nil
}

func (e *Embedder) checkDimension(vec []float32) error {
	if e.dimension > 0 && len(vec) != e.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), e.dimension)
	}
	return nil
}
