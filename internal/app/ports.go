package app

import (
	"context"
	"time"

	"studymate/internal/ai"
	"studymate/internal/model"
	"studymate/internal/progress"
	"studymate/internal/vectorstore"
)

// Collaborators the services consume. bootstrap wires the real clients; tests
// use in-memory fakes.

type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorStore interface {
	Upsert(ctx context.Context, records []vectorstore.Record) error
	Query(ctx context.Context, vector []float32, filter vectorstore.Filter, topK int) ([]vectorstore.Match, error)
	Delete(ctx context.Context, filter vectorstore.Filter) error
}

type Completer interface {
	Complete(ctx context.Context, req ai.CompletionRequest) (string, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type ImageDescriber interface {
	Describe(ctx context.Context, image []byte) (string, error)
}

type ObjectStorage interface {
	Exists(ctx context.Context, key string) (bool, error)
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type ProgressPublisher interface {
	Publish(ownerID string, ev progress.Event)
}

type TurnPublisher interface {
	Publish(ctx context.Context, turn model.ChatTurn) error
}

type HistoryCache interface {
	Get(ctx context.Context, ownerID, documentID string) ([]model.ChatTurn, bool, error)
	Set(ctx context.Context, ownerID, documentID string, turns []model.ChatTurn) error
	Delete(ctx context.Context, ownerID, documentID string) error
	Invalidate(ctx context.Context, ownerID, documentID string) error
	IsDirty(ctx context.Context, ownerID, documentID string) (bool, error)
}
