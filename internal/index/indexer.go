package index

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"codeassist/internal/chunker"
	"codeassist/internal/embedder"
	"codeassist/internal/store"
)

// Collision policies for units that share an identifier within one run.
const (
	CollisionOverwrite = "overwrite"
	CollisionReject    = "reject"
)

const defaultBatchSize = 32

// MetaModelKey is the collection meta key recording the embedding model of the last complete run.
const MetaModelKey = "embedding_model"

// Index is the part of a vector collection the indexer writes to.
type Index interface {
	Insert(ctx context.Context, entries []store.Entry) error
	Reset(ctx context.Context) error
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Config holds the indexer configuration.
type Config struct {
	// Rebuild clears the collection before every run. When false the
	// collection is cleared only if the embedding model changed.
	Rebuild    bool
	Collisions string
	BatchSize  int
}

// DefaultConfig returns the configuration used by the CLI.
func DefaultConfig() Config {
	return Config{Rebuild: true, Collisions: CollisionOverwrite, BatchSize: defaultBatchSize}
}

// ProgressFunc is called with the relative path of each file before it is processed.
type ProgressFunc func(path string)

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger used for skipped files and collisions.
func WithLogger(l *slog.Logger) Option {
	return func(idx *Indexer) { idx.log = l }
}

// WithProgress sets the per-file progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(idx *Indexer) { idx.progress = fn }
}

// Indexer builds a semantic index of the code units under a directory.
type Indexer struct {
	index    Index
	embedder embedder.Embedder
	chunker  *chunker.Chunker
	config   Config
	log      *slog.Logger
	progress ProgressFunc
}

// New creates an Indexer writing into idx.
func New(idx Index, emb embedder.Embedder, ch *chunker.Chunker, cfg Config, opts ...Option) (*Indexer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	switch strings.ToLower(cfg.Collisions) {
	case "", CollisionOverwrite:
		cfg.Collisions = CollisionOverwrite
	case CollisionReject:
		cfg.Collisions = CollisionReject
	default:
		return nil, fmt.Errorf("unknown collision policy %q", cfg.Collisions)
	}

	ix := &Indexer{
		index:    idx,
		embedder: emb,
		chunker:  ch,
		config:   cfg,
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(ix)
	}
	return ix, nil
}

// Index indexes the codebase at the given root path. On error the returned
// Result still carries the stats gathered so far.
func (idx *Indexer) Index(ctx context.Context, root string) (*Result, error) {
	model := idx.embedder.Model()
	lastModel, err := idx.index.GetMeta(ctx, MetaModelKey)
	if err != nil {
		return nil, fmt.Errorf("get meta: %w", err)
	}

	switch {
	case idx.config.Rebuild:
		err = idx.index.Reset(ctx)
	case lastModel != "" && lastModel != model:
		idx.log.Info("embedding model changed, re-indexing all files", "from", lastModel, "to", model)
		err = idx.index.Reset(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("reset index: %w", err)
	}

	res, err := idx.run(ctx, root)
	if err != nil {
		return res, err
	}

	if err := idx.index.SetMeta(ctx, MetaModelKey, model); err != nil {
		return res, fmt.Errorf("set meta: %w", err)
	}
	idx.log.Info("indexing complete",
		"files", res.Stats.FilesTotal,
		"indexed", res.Stats.FilesIndexed,
		"units", res.Stats.UnitsTotal,
		"collisions", res.Stats.Collisions,
	)
	return res, nil
}
