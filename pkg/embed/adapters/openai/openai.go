package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/lexlapax/engram/pkg/log"
	"github.com/sashabaranov/go-openai"
)

var (
	// ErrEmptyAPIKey is returned when the API key is missing.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
)

// DefaultEmbeddingModel is used when Config.EmbeddingModel is empty.
const DefaultEmbeddingModel = "text-embedding-3-small"

// Config holds the configuration for the OpenAI adapter.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// EmbeddingModel is the model to use for embeddings.
	EmbeddingModel string
	// BaseURL is the base URL for the OpenAI API (for testing or proxies).
	BaseURL string
}

// OpenAIAdapter implements embed.Embedder using the OpenAI embeddings API.
type OpenAIAdapter struct {
	client         *openai.Client
	embeddingModel string
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(config Config) (*OpenAIAdapter, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = DefaultEmbeddingModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIAdapter{
		client:         openai.NewClientWithConfig(clientConfig),
		embeddingModel: config.EmbeddingModel,
	}, nil
}

// GenerateEmbeddings generates embeddings for the given texts using the OpenAI API.
func (a *OpenAIAdapter) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	log.DebugContext(ctx, "Generating embeddings", "count", len(texts), "model", a.embeddingModel)

	response, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(a.embeddingModel),
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to generate embeddings", "error", err)
		return nil, err
	}
	if len(response.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(response.Data), len(texts))
	}

	// Data carries its own index; do not rely on response order.
	embeddings := make([][]float32, len(texts))
	for _, data := range response.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("openai returned out-of-range embedding index %d", data.Index)
		}
		embeddings[data.Index] = data.Embedding
	}
	return embeddings, nil
}
