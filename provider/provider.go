package provider

import (
	"context"
	"errors"
	"os"
	"time"

	openai_provider "github.com/bookmind/bookmind/provider/openai"
)

// Client identifies an embedding provider backend
type Client string

const (
	OpenAI Client = "openai"
	Local  Client = "local"
)

// EmbeddingProvider is the interface every embedding backend must satisfy.
// Implementations must preserve input order in the returned vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// NewProvider creates an embedding provider based on the requested backend
func NewProvider(client Client, timeout time.Duration) (EmbeddingProvider, error) {
	switch client {
	case OpenAI:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, errors.New("OPENAI_API_KEY not set")
		}
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		return openai_provider.NewClient(apiKey, timeout), nil
	case Local:
		return nil, errors.New("local embedding provider not implemented yet")
	default:
		return nil, errors.New("unsupported embedding provider")
	}
}
