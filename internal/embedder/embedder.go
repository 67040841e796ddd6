package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Providers.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// ErrEmbedding marks any failure to compute an embedding.
var ErrEmbedding = errors.New("embedding failed")

// Error is returned by embedders when a request fails.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s embed: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrEmbedding }

// Embedder turns text into fixed-length vectors.
type Embedder interface {
	// Embed returns one vector per text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model returns the configured model name.
	Model() string
}

// Normalize collapses newlines to spaces. Only the text sent to the model is
// normalized; callers keep the original text.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	return strings.ReplaceAll(text, "\n", " ")
}

func normalizeAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = Normalize(t)
	}
	return out
}

// EmbedOne embeds a single text and returns its vector.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, &Error{Provider: e.Model(), Err: fmt.Errorf("expected 1 embedding, got %d", len(vecs))}
	}
	return vecs[0], nil
}

// Config selects and configures an embedder.
type Config struct {
	Provider string
	BaseURL  string
	Model    string
	APIKey   string
	Timeout  time.Duration
}

// New creates an embedder for the configured provider.
func New(cfg Config) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model, cfg.Timeout), nil
	case ProviderOpenAI:
		return NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}
