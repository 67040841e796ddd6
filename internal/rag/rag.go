package rag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"codeassist/internal/embedder"
	"codeassist/internal/store"
)

// TopK is the number of units retrieved per query.
const TopK = 5

const defaultCacheSize = 256

// Searcher is the read side of a vector collection.
type Searcher interface {
	Query(ctx context.Context, vec []float32, k int) ([]store.Match, error)
}

// Result is one retrieved code unit.
type Result struct {
	ID   string
	Body string
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the retriever's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) { r.log = l }
}

// WithCacheSize sets how many query embeddings are memoised. Zero disables the cache.
func WithCacheSize(n int) Option {
	return func(r *Retriever) { r.cacheSize = n }
}

// Retriever finds the code units most similar to a natural-language query.
type Retriever struct {
	index     Searcher
	embedder  embedder.Embedder
	cacheSize int
	cache     *lru.Cache[string, []float32]
	log       *slog.Logger
}

// NewRetriever creates a Retriever over idx.
func NewRetriever(idx Searcher, emb embedder.Embedder, opts ...Option) (*Retriever, error) {
	r := &Retriever{
		index:     idx,
		embedder:  emb,
		cacheSize: defaultCacheSize,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(r)
	}
	if r.cacheSize > 0 {
		c, err := lru.New[string, []float32](r.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create query cache: %w", err)
		}
		r.cache = c
	}
	return r, nil
}

// Retrieve returns up to TopK units nearest to query, nearest first. An
// empty index yields an empty result.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]Result, error) {
	return r.RetrieveK(ctx, query, TopK)
}

// RetrieveK is Retrieve with an explicit result count.
func (r *Retriever) RetrieveK(ctx context.Context, query string, k int) ([]Result, error) {
	vec, err := r.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := r.index.Query(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	r.log.Debug("retrieved", "query", query, "results", len(matches))

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{ID: m.ID, Body: m.Document}
	}
	return results, nil
}

func (r *Retriever) embed(ctx context.Context, query string) ([]float32, error) {
	key := embedder.Normalize(query)
	if r.cache != nil {
		if vec, ok := r.cache.Get(key); ok {
			return vec, nil
		}
	}
	vec, err := embedder.EmbedOne(ctx, r.embedder, key)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Add(key, vec)
	}
	return vec, nil
}

// FormatContext renders retrieved units as the grounding message handed to
// the model after a search.
func FormatContext(results []Result) string {
	if len(results) == 0 {
		return "The codebase search returned no results. Answer with what you already know, " +
			"and say so if you are missing the code needed to answer."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Here are %d relevant code pieces from the codebase, formatted by file_name + class_name + method_name, "+
		"when class name is available. Use these to construct your response to me, and make sure to list relevant code.\n", len(results))
	b.WriteString("Results:\n")
	for i, res := range results {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "In %s:\n %s", res.ID, res.Body)
	}
	return b.String()
}
